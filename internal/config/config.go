// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Desktop DesktopConfig `mapstructure:"desktop" yaml:"desktop"`
}

// LoggerConfig controls the zap logger. Note that stdout carries the event
// protocol, so console output always goes to stderr.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AgentConfig bounds the plan-execute-evaluate loop.
type AgentConfig struct {
	// MaxIterations is the safety bound on rounds per session. The controller
	// never executes a round that would push the counter past it.
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
	// RequestTimeout bounds each planning and evaluation call.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// EventBufferSize sizes the bounded channel between the session controller
	// and the transport.
	EventBufferSize int `mapstructure:"event_buffer_size" yaml:"event_buffer_size"`
}

// LLMProvider identifies a supported AI backend.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMConfig defines the configuration for the planning/evaluation model.
type LLMConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// DesktopConfig controls the action executor.
type DesktopConfig struct {
	// ScreenshotDir is where captures are persisted as PNG files.
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	// MaxWait clamps a single wait action. Longer requests are clamped, not
	// rejected, so one action can never stall the loop indefinitely.
	MaxWait time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "deskpilot")
	v.SetDefault("logger.log_file", "deskpilot.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.max_iterations", 10)
	v.SetDefault("agent.request_timeout", "60s")
	v.SetDefault("agent.event_buffer_size", 64)

	// -- LLM --
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.api_timeout", "90s")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.top_p", 0.8)
	v.SetDefault("llm.top_k", 40)
	v.SetDefault("llm.max_tokens", 4096)

	// -- Desktop --
	v.SetDefault("desktop.screenshot_dir", "screenshots")
	v.SetDefault("desktop.max_wait", "30s")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("llm.api_key", "DESKPILOT_LLM_API_KEY", "GEMINI_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Fall back to the raw environment if Unmarshal didn't pick the key up.
	if cfg.LLM.APIKey == "" {
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be a positive integer")
	}
	if c.Agent.EventBufferSize <= 0 {
		return fmt.Errorf("agent.event_buffer_size must be a positive integer")
	}
	if c.Agent.RequestTimeout <= 0 {
		return fmt.Errorf("agent.request_timeout must be a positive duration")
	}
	if c.LLM.Provider != ProviderGemini {
		return fmt.Errorf("unsupported llm.provider %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.Desktop.MaxWait <= 0 {
		return fmt.Errorf("desktop.max_wait must be a positive duration")
	}
	if c.Desktop.ScreenshotDir == "" {
		return fmt.Errorf("desktop.screenshot_dir is required")
	}
	return nil
}
