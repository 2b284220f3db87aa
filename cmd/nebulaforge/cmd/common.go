package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/nebulaforge/nebulaforge/internal/adapters/state"
	"github.com/nebulaforge/nebulaforge/internal/archive"
	"github.com/nebulaforge/nebulaforge/internal/config"
	"github.com/nebulaforge/nebulaforge/internal/core"
	"github.com/nebulaforge/nebulaforge/internal/logging"
	"github.com/nebulaforge/nebulaforge/internal/provider"
)

// loadConfig loads the effective configuration, honoring the --config
// flag and any flags bound into viper.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	return loader.Load()
}

// newLogger builds the process logger from config plus flag overrides.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
}

// stack bundles the wired service dependencies shared by serve and
// generate.
type stack struct {
	store     core.RunStore
	runner    *provider.Runner
	archiver  core.Archiver
	artifacts *archive.FSStore
}

// buildStack wires the provider client, run store and artifact storage
// from config.
func buildStack(cfg *config.Config, logger *logging.Logger) (*stack, error) {
	store, err := state.NewRunStore(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("creating run store: %w", err)
	}

	artifacts, err := archive.NewFSStore(cfg.Artifacts.Dir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating artifact store: %w", err)
	}

	creds := cfg.Credentials()
	client := provider.NewClient(creds,
		provider.WithEndpoints(cfg.Endpoints()),
		provider.WithLogger(logger),
	)

	return &stack{
		store:     store,
		runner:    provider.NewRunner(client, creds, logger),
		archiver:  archive.NewZipArchiver(),
		artifacts: artifacts,
	}, nil
}

func (s *stack) close(logger *logging.Logger) {
	if err := s.store.Close(); err != nil {
		logger.Warn("failed to close run store", "error", err.Error())
	}
}
