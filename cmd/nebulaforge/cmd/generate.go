package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nebulaforge/nebulaforge/internal/core"
	"github.com/nebulaforge/nebulaforge/internal/events"
	"github.com/nebulaforge/nebulaforge/internal/workflow"
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Generate a project from a prompt",
	Long: `Run the full generation pipeline once and write the packaged
project zip to disk.

Examples:
  # Generate a web app
  nebulaforge generate "a landing page for a coffee shop"

  # Generate an API project into a specific file
  nebulaforge generate --kind api -o service.zip "a REST API for bookmarks"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

var (
	generateKind   string
	generateTitle  string
	generateOutput string
	generateSwarm  bool
)

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVar(&generateKind, "kind", core.KindWebApp,
		"project kind (webapp, api)")
	generateCmd.Flags().StringVar(&generateTitle, "title", "",
		"project title")
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "",
		"output zip path (default: nebulaforge-<run-id>.zip)")
	generateCmd.Flags().BoolVar(&generateSwarm, "swarm", false,
		"broadcast every stage to all reachable models")
}

func runGenerate(cmd *cobra.Command, args []string) error {
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

	prompt := strings.Join(args, " ")
	run := core.NewRun(core.RunID(uuid.NewString()), prompt, generateKind, generateTitle)
	if err := run.Validate(); err != nil {
		return err
	}

	swarm := cfg.Workflow.SwarmMode
	if cmd.Flags().Changed("swarm") {
		swarm = generateSwarm
	}

	bus := events.New(100)
	eventCh := bus.Subscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		printProgress(eventCh)
	}()

	engine := workflow.NewEngine(workflow.Config{
		Caller:        deps.runner,
		Chains:        cfg.ModelChains(),
		Store:         deps.store,
		Bus:           bus,
		Archiver:      deps.archiver,
		Artifacts:     deps.artifacts,
		Logger:        logger,
		SwarmMode:     swarm,
		MaxIterations: cfg.Workflow.MaxIterations,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	execErr := engine.Execute(ctx, run)
	bus.Close()
	wg.Wait()

	if execErr != nil {
		return fmt.Errorf("generation failed: %w", execErr)
	}

	data, err := deps.artifacts.Open(run.ArtifactID)
	if err != nil {
		return fmt.Errorf("reading artifact: %w", err)
	}
	output := generateOutput
	if output == "" {
		output = fmt.Sprintf("nebulaforge-%s.zip", run.ID)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}

	fmt.Println()
	fmt.Printf("Run %s completed\n", run.ID)
	fmt.Printf("  files:  %d\n", len(run.State.CodeFiles))
	fmt.Printf("  review: %s\n", run.State.ReviewNotes)
	fmt.Printf("  output: %s\n", output)
	return nil
}

// printProgress renders bus events as console lines until the bus
// closes.
func printProgress(ch <-chan events.Event) {
	for event := range ch {
		switch e := event.(type) {
		case events.StatusEvent:
			fmt.Printf("== %s\n", e.Message)
		case events.NodeEvent:
			if e.Phase == "started" {
				fmt.Printf("-> %s\n", e.Stage)
			} else {
				fmt.Printf("   %s done (%s)\n", e.Stage, e.Duration.Round(time.Millisecond))
			}
		case events.ErrorEvent:
			fmt.Printf("!! %s\n", e.Message)
		case events.ArtifactEvent:
			fmt.Printf("== packaged %d files\n", e.FileCount)
		}
	}
}
