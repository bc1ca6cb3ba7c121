package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama = "ollama"
	ProviderGemini = "google_genai"
	ProviderDummy  = "dummy"
)

// Config represents the application configuration
type Config struct {
	// Home is the application root; data lives under Home/data unless overridden.
	Home          string         `yaml:"home"`
	DefaultThread string         `yaml:"default_thread"`
	Database      DatabaseConfig `yaml:"database"`
	Personas      PersonaConfig  `yaml:"personas"`
	Model         ModelConfig    `yaml:"model"`
	Server        ServerConfig   `yaml:"server"`
	Client        ClientConfig   `yaml:"client"`
	Logging       LoggingConfig  `yaml:"logging"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PersonaConfig struct {
	Dir     string `yaml:"dir"`
	Default string `yaml:"default"`
	Watch   bool   `yaml:"watch"`
}

type ModelConfig struct {
	Provider      string        `yaml:"provider"`
	Name          string        `yaml:"name"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Temperature   float32       `yaml:"temperature"`
	ContextWindow int           `yaml:"context_window"`
	Timeout       time.Duration `yaml:"timeout"`
}

type ServerConfig struct {
	Addr      string  `yaml:"addr"`
	ChatRate  float64 `yaml:"chat_rate"` // turns per second per client IP, 0 disables
	ChatBurst int     `yaml:"chat_burst"`
}

type ClientConfig struct {
	ServerURL string        `yaml:"server_url"`
	Timeout   time.Duration `yaml:"timeout"`
	Transport string        `yaml:"transport"` // "sse" or "ws"
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DefaultThread: "master",
		Personas: PersonaConfig{
			Default: "neuromind",
			Watch:   true,
		},
		Model: ModelConfig{
			Provider:      ProviderOllama,
			Name:          "qwen3:8b",
			Temperature:   0.6,
			ContextWindow: 4096,
			Timeout:       120 * time.Second,
		},
		Server: ServerConfig{
			Addr:      ":8000",
			ChatBurst: 5,
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:8000",
			Timeout:   60 * time.Second,
			Transport: "sse",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a file. A missing file is not an error:
// defaults and environment overrides still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if cfg.Home == "" {
		home, err := defaultHome()
		if err != nil {
			return nil, fmt.Errorf("resolve home: %w", err)
		}
		cfg.Home = home
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Override with environment variables if present
func (c *Config) applyEnv() {
	if v := os.Getenv("APP_HOME"); v != "" {
		c.Home = v
	}
	if v := os.Getenv("NEUROMIND_PROVIDER"); v != "" {
		c.Model.Provider = v
	}
	if v := os.Getenv("NEUROMIND_MODEL"); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" && c.Model.Provider == ProviderOllama {
		if !strings.Contains(v, "://") {
			v = "http://" + v
		}
		c.Model.BaseURL = v
	}
	if c.Model.Provider == ProviderGemini && c.Model.APIKey == "" {
		for _, k := range []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"} {
			if v := os.Getenv(k); v != "" {
				c.Model.APIKey = v
				break
			}
		}
	}
	if v := os.Getenv("NEUROMIND_SERVER"); v != "" {
		c.Client.ServerURL = v
	}
	if v := os.Getenv("NEUROMIND_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderOllama, ProviderDummy:
	case ProviderGemini:
		if c.Model.APIKey == "" {
			return fmt.Errorf("model.api_key is required for provider %s", ProviderGemini)
		}
	default:
		return fmt.Errorf("model.provider must be one of %q, %q, %q", ProviderOllama, ProviderGemini, ProviderDummy)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("model.timeout must be positive")
	}
	if c.DefaultThread == "" {
		return fmt.Errorf("default_thread is required")
	}
	if c.Personas.Default == "" {
		return fmt.Errorf("personas.default is required")
	}
	if c.Server.ChatRate < 0 {
		return fmt.Errorf("server.chat_rate must not be negative")
	}
	if c.Client.Transport != "sse" && c.Client.Transport != "ws" {
		return fmt.Errorf("client.transport must be 'sse' or 'ws'")
	}
	return nil
}
