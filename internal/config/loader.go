package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Default model IDs per provider family.
const (
	DefaultModelGroq             = "groq/llama3-70b-8192"
	DefaultModelOpenRouterClaude = "openrouter/anthropic/claude-3.5-sonnet"
	DefaultModelOpenRouterGPT4o  = "openrouter/openai/gpt-4o"
	DefaultModelGemini           = "gemini/gemini-1.5-pro"
	DefaultModelOllama           = "ollama/llama3:8b"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "NEBULA",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "NEBULA",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (NEBULA_* plus bare provider keys)
// 3. Project config (.nebulaforge.yaml in current directory)
// 4. User config (~/.config/nebulaforge/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	// Provider keys are commonly exported under their conventional
	// names, so those are honored alongside the prefixed forms.
	_ = l.v.BindEnv("providers.groq_api_key", "NEBULA_PROVIDERS_GROQ_API_KEY", "GROQ_API_KEY")
	_ = l.v.BindEnv("providers.openrouter_api_key", "NEBULA_PROVIDERS_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	_ = l.v.BindEnv("providers.google_api_key", "NEBULA_PROVIDERS_GOOGLE_API_KEY", "GOOGLE_API_KEY")
	_ = l.v.BindEnv("providers.ollama_base_url", "NEBULA_PROVIDERS_OLLAMA_BASE_URL", "OLLAMA_API_BASE")

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".nebulaforge")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "nebulaforge"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("server.host", "0.0.0.0")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.web_origin", "http://localhost:3000")
	l.v.SetDefault("server.rate_limit_rpm", 20)

	l.v.SetDefault("providers.ollama_base_url", "")

	// Per-role chains. Order encodes preference: the first reachable
	// model wins.
	l.v.SetDefault("chains.research", []string{
		DefaultModelGemini,
		DefaultModelOpenRouterGPT4o,
		DefaultModelGroq,
		DefaultModelOllama,
	})
	l.v.SetDefault("chains.plan", []string{
		DefaultModelOpenRouterClaude,
		DefaultModelGemini,
		DefaultModelGroq,
		DefaultModelOllama,
	})
	l.v.SetDefault("chains.code", []string{
		DefaultModelGroq,
		DefaultModelOpenRouterGPT4o,
		DefaultModelGemini,
		DefaultModelOllama,
	})
	l.v.SetDefault("chains.design", []string{
		DefaultModelOpenRouterGPT4o,
		DefaultModelGemini,
		DefaultModelGroq,
		DefaultModelOllama,
	})
	l.v.SetDefault("chains.review", []string{
		DefaultModelOpenRouterClaude,
		DefaultModelGroq,
		DefaultModelGemini,
		DefaultModelOllama,
	})

	l.v.SetDefault("workflow.max_iterations", 2)
	l.v.SetDefault("workflow.swarm_mode", false)

	l.v.SetDefault("state.backend", "sqlite")
	l.v.SetDefault("state.path", ".nebulaforge/state/runs.db")

	l.v.SetDefault("artifacts.dir", ".nebulaforge/artifacts")
}

// LoadDefaults returns the built-in defaults without consulting config
// files or the environment.
func LoadDefaults() *Config {
	l := NewLoader()
	l.setDefaults()
	var cfg Config
	_ = l.v.Unmarshal(&cfg)
	return &cfg
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
