package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nebulaforge/nebulaforge/internal/api"
	"github.com/nebulaforge/nebulaforge/internal/config"
	"github.com/nebulaforge/nebulaforge/internal/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the generation API server",
	Long: `Start the NebulaForge API server.

The server exposes a REST API plus an SSE stream for generation
progress. Model chains and swarm mode are hot-reloaded when the config
file changes; new runs pick up the fresh settings.

Examples:
  # Start with defaults (0.0.0.0:8080)
  nebulaforge serve

  # Start on a custom host and port
  nebulaforge serve --host 127.0.0.1 --port 3000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host address to bind to")
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().Bool("swarm", false, "Broadcast every stage to all reachable models")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("workflow.swarm_mode", serveCmd.Flags().Lookup("swarm"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	deps, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	server := api.NewServer(api.Config{
		Store:         deps.store,
		Caller:        deps.runner,
		Chains:        cfg.ModelChains(),
		Archiver:      deps.archiver,
		Artifacts:     deps.artifacts,
		Limiter:       ratelimit.New(cfg.Server.RateLimitRPM),
		Logger:        logger,
		WebOrigin:     cfg.Server.WebOrigin,
		SwarmMode:     cfg.Workflow.SwarmMode,
		MaxIterations: cfg.Workflow.MaxIterations,
	})

	// Hot-reload generation settings when the config file changes.
	if path := viper.ConfigFileUsed(); path != "" {
		watcher, err := config.NewWatcher(path, func(fresh *config.Config) {
			server.ApplySettings(fresh.ModelChains(), fresh.Workflow.SwarmMode,
				fresh.Workflow.MaxIterations)
		}, logger)
		if err != nil {
			logger.Warn("config watcher unavailable", "error", err.Error())
		} else {
			defer watcher.Close()
			logger.Info("watching config file", "file", path)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := server.ListenAndServe(ctx, addr); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
