// Package config provides configuration loading and validation for the service.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultFileName is looked up in the working directory when no --config
// flag is given.
const DefaultFileName = "interview-agent"

// AgentModel holds the model settings for one pipeline agent.
type AgentModel struct {
	ModelName   string  `mapstructure:"model-name"`
	MaxTokens   int32   `mapstructure:"max-tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

// Retry controls the model gateway retry loop.
type Retry struct {
	MaxAttempts   int     `mapstructure:"max-attempts"`
	BackoffFactor float64 `mapstructure:"backoff-factor"`
}

// Pricing is the per-million-token price table used for cost accounting.
type Pricing struct {
	InputCostPerMTok  float64 `mapstructure:"input-cost-per-mtok"`
	OutputCostPerMTok float64 `mapstructure:"output-cost-per-mtok"`
}

// Server holds HTTP server settings.
type Server struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
}

// Storage holds job store retention settings.
type Storage struct {
	TTL             time.Duration `mapstructure:"ttl"`
	JanitorInterval time.Duration `mapstructure:"janitor-interval"`
}

// Stream holds progress broadcaster settings.
type Stream struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat-interval"`
}

// Config is the full service configuration.
type Config struct {
	Server  Server  `mapstructure:"server"`
	Retry   Retry   `mapstructure:"retry"`
	Pricing Pricing `mapstructure:"pricing"`
	Storage Storage `mapstructure:"storage"`
	Stream  Stream  `mapstructure:"stream"`

	// CallTimeout is the hard ceiling on a single model call. Long
	// transcripts need minutes, not seconds.
	CallTimeout time.Duration `mapstructure:"call-timeout"`

	// PromptsDir is where versioned prompt files live.
	PromptsDir string `mapstructure:"prompts-dir"`

	// Models configures each pipeline agent. Keys: primary_agent,
	// challenge_agent, response_agent, decision_agent.
	Models map[string]AgentModel `mapstructure:"models"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown-timeout", 30*time.Second)
	v.SetDefault("retry.max-attempts", 3)
	v.SetDefault("retry.backoff-factor", 2.0)
	v.SetDefault("pricing.input-cost-per-mtok", 3.0)
	v.SetDefault("pricing.output-cost-per-mtok", 15.0)
	v.SetDefault("storage.ttl", 24*time.Hour)
	v.SetDefault("storage.janitor-interval", 15*time.Minute)
	v.SetDefault("stream.heartbeat-interval", 30*time.Second)
	v.SetDefault("call-timeout", 10*time.Minute)
	v.SetDefault("prompts-dir", "data/prompts")

	for _, agent := range []string{"primary_agent", "challenge_agent", "response_agent", "decision_agent"} {
		v.SetDefault("models."+agent+".model-name", "gemini-2.5-pro")
		v.SetDefault("models."+agent+".max-tokens", 8192)
		v.SetDefault("models."+agent+".temperature", 0.0)
	}
}

// Load reads configuration from the given file path. An empty path loads
// the default file from the working directory if present; a missing
// default file is not an error, defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration has usable values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config error: 'server.port' must be in 1..65535")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config error: 'retry.max-attempts' must be at least 1")
	}
	if c.Retry.BackoffFactor < 1 {
		return fmt.Errorf("config error: 'retry.backoff-factor' must be at least 1")
	}
	if c.Pricing.InputCostPerMTok < 0 || c.Pricing.OutputCostPerMTok < 0 {
		return fmt.Errorf("config error: pricing must be non-negative")
	}
	if c.Storage.TTL <= 0 {
		return fmt.Errorf("config error: 'storage.ttl' must be positive")
	}
	if c.Stream.HeartbeatInterval <= 0 {
		return fmt.Errorf("config error: 'stream.heartbeat-interval' must be positive")
	}
	for agent, m := range c.Models {
		if m.ModelName == "" {
			return fmt.Errorf("config error: 'models.%s.model-name' is empty", agent)
		}
		if m.MaxTokens <= 0 {
			return fmt.Errorf("config error: 'models.%s.max-tokens' must be positive", agent)
		}
	}
	return nil
}

// Agent returns the model settings for an agent, falling back to
// primary_agent when the agent has no entry of its own.
func (c *Config) Agent(name string) AgentModel {
	if m, ok := c.Models[name]; ok {
		return m
	}
	return c.Models["primary_agent"]
}

// APIKey loads the Gemini API key from the environment, reading a .env
// file first if one exists.
func APIKey() string {
	_ = godotenv.Load()
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}
	// Older deployments used the generic name.
	return os.Getenv("GOOGLE_API_KEY")
}
