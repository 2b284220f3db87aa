// Package config loads service configuration from defaults, an optional
// .nebulaforge.yaml file, environment variables and CLI flags.
package config

import (
	"github.com/nebulaforge/nebulaforge/internal/provider"
)

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Chains    ChainsConfig    `mapstructure:"chains"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	State     StateConfig     `mapstructure:"state"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	WebOrigin    string `mapstructure:"web_origin"`
	RateLimitRPM int    `mapstructure:"rate_limit_rpm"`
}

// ProvidersConfig holds API keys and endpoints per provider family.
type ProvidersConfig struct {
	GroqAPIKey       string `mapstructure:"groq_api_key"`
	OpenRouterAPIKey string `mapstructure:"openrouter_api_key"`
	GoogleAPIKey     string `mapstructure:"google_api_key"`
	OllamaBaseURL    string `mapstructure:"ollama_base_url"`
}

// ChainsConfig holds the ordered model preference list per role.
type ChainsConfig struct {
	Research []string `mapstructure:"research"`
	Plan     []string `mapstructure:"plan"`
	Code     []string `mapstructure:"code"`
	Design   []string `mapstructure:"design"`
	Review   []string `mapstructure:"review"`
}

// WorkflowConfig configures workflow execution.
type WorkflowConfig struct {
	MaxIterations int  `mapstructure:"max_iterations"`
	SwarmMode     bool `mapstructure:"swarm_mode"`
}

// StateConfig configures run persistence.
type StateConfig struct {
	Backend string `mapstructure:"backend"` // sqlite or json
	Path    string `mapstructure:"path"`
}

// ArtifactsConfig configures archive storage.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

// Credentials derives the provider credential set.
func (c *Config) Credentials() provider.Credentials {
	return provider.Credentials{
		provider.KindGroq:       c.Providers.GroqAPIKey,
		provider.KindOpenRouter: c.Providers.OpenRouterAPIKey,
		provider.KindGemini:     c.Providers.GoogleAPIKey,
	}
}

// ModelChains derives the per-role chains.
func (c *Config) ModelChains() provider.Chains {
	return provider.Chains{
		provider.RoleResearch: c.Chains.Research,
		provider.RolePlan:     c.Chains.Plan,
		provider.RoleCode:     c.Chains.Code,
		provider.RoleDesign:   c.Chains.Design,
		provider.RoleReview:   c.Chains.Review,
	}
}

// Endpoints derives the provider endpoints, applying the Ollama
// override when set.
func (c *Config) Endpoints() provider.Endpoints {
	ep := provider.DefaultEndpoints()
	if c.Providers.OllamaBaseURL != "" {
		ep.Ollama = c.Providers.OllamaBaseURL
	}
	return ep
}
