package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nebulaforge/nebulaforge/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Long: `Write a .nebulaforge.yaml with the default settings to the
current directory. Edit it to customize model chains, the state
backend, or the server settings.`,
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false,
		"overwrite an existing config file")
}

// starterConfig mirrors the config schema with yaml tags so the
// generated file round-trips through the loader.
type starterConfig struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Server struct {
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		WebOrigin    string `yaml:"web_origin"`
		RateLimitRPM int    `yaml:"rate_limit_rpm"`
	} `yaml:"server"`
	Chains struct {
		Research []string `yaml:"research"`
		Plan     []string `yaml:"plan"`
		Code     []string `yaml:"code"`
		Design   []string `yaml:"design"`
		Review   []string `yaml:"review"`
	} `yaml:"chains"`
	Workflow struct {
		MaxIterations int  `yaml:"max_iterations"`
		SwarmMode     bool `yaml:"swarm_mode"`
	} `yaml:"workflow"`
	State struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"state"`
	Artifacts struct {
		Dir string `yaml:"dir"`
	} `yaml:"artifacts"`
}

func runInit(_ *cobra.Command, _ []string) error {
	const path = ".nebulaforge.yaml"

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.LoadDefaults()

	var out starterConfig
	out.Log.Level = cfg.Log.Level
	out.Log.Format = cfg.Log.Format
	out.Server.Host = cfg.Server.Host
	out.Server.Port = cfg.Server.Port
	out.Server.WebOrigin = cfg.Server.WebOrigin
	out.Server.RateLimitRPM = cfg.Server.RateLimitRPM
	out.Chains.Research = cfg.Chains.Research
	out.Chains.Plan = cfg.Chains.Plan
	out.Chains.Code = cfg.Chains.Code
	out.Chains.Design = cfg.Chains.Design
	out.Chains.Review = cfg.Chains.Review
	out.Workflow.MaxIterations = cfg.Workflow.MaxIterations
	out.Workflow.SwarmMode = cfg.Workflow.SwarmMode
	out.State.Backend = cfg.State.Backend
	out.State.Path = cfg.State.Path
	out.Artifacts.Dir = cfg.Artifacts.Dir

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	header := []byte("# NebulaForge configuration. Provider API keys come from the\n# environment: GROQ_API_KEY, OPENROUTER_API_KEY, GOOGLE_API_KEY.\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	fmt.Printf("Wrote %s\n", path)
	return nil
}
