// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	MCP() MCPConfig
	Agent() AgentConfig
	LLM() LLMConfig
	OCR() OCRConfig
	Artifacts() ArtifactsConfig
	Database() DatabaseConfig

	// Agent setters (driven by CLI flags, not the config file).
	SetAgentMaxSteps(int)
	SetAgentMaxAttempts(int)
	SetAgentStepTimeout(time.Duration)

	// MCP setters
	SetMCPCommand(string)
	SetMCPArgs([]string)

	// OCR setters
	SetOCREnabled(bool)

	// Artifacts setters
	SetArtifactsDir(string)
}

// LoggerConfig controls the zap logger construction.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes, per lumberjack
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
}

// MCPConfig describes the external MCP server subprocess and protocol
// timeouts. Command and Args are configuration, not part of the protocol
// contract.
type MCPConfig struct {
	Command         string        `mapstructure:"command" yaml:"command"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	WorkDir         string        `mapstructure:"work_dir" yaml:"work_dir"`
	ProtocolVersion string        `mapstructure:"protocol_version" yaml:"protocol_version"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	InitTimeout     time.Duration `mapstructure:"init_timeout" yaml:"init_timeout"`
	ShutdownGrace   time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
}

// AgentConfig bounds the control loop.
type AgentConfig struct {
	// MaxSteps is the global ceiling on executed attempts across all plan
	// steps. The run aborts (not fails) when the budget runs out.
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`
	// MaxAttempts is the total number of tries per step, including the
	// first. 3 means one initial attempt plus two retries.
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	StepTimeout    time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	ObserveTimeout time.Duration `mapstructure:"observe_timeout" yaml:"observe_timeout"`
}

// LLMConfig selects and tunes the planner's text generation backend.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// OCRConfig controls the optional text extraction step of observation.
type OCRConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Binary    string        `mapstructure:"binary" yaml:"binary"`
	Languages []string      `mapstructure:"languages" yaml:"languages"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ArtifactsConfig locates the per-run artifact directory (screenshots,
// report.json).
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// DatabaseConfig holds the optional Postgres DSN for run persistence. An
// empty URL disables persistence entirely.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// Supported LLM provider names.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config holds the entire application configuration. It uses private fields
// to enforce access through the Interface's getter methods.
type Config struct {
	logger    LoggerConfig
	mcp       MCPConfig
	agent     AgentConfig
	llm       LLMConfig
	ocr       OCRConfig
	artifacts ArtifactsConfig
	database  DatabaseConfig
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.logger }
func (c *Config) MCP() MCPConfig             { return c.mcp }
func (c *Config) Agent() AgentConfig         { return c.agent }
func (c *Config) LLM() LLMConfig             { return c.llm }
func (c *Config) OCR() OCRConfig             { return c.ocr }
func (c *Config) Artifacts() ArtifactsConfig { return c.artifacts }
func (c *Config) Database() DatabaseConfig   { return c.database }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetAgentMaxSteps(n int)                 { c.agent.MaxSteps = n }
func (c *Config) SetAgentMaxAttempts(n int)              { c.agent.MaxAttempts = n }
func (c *Config) SetAgentStepTimeout(d time.Duration)    { c.agent.StepTimeout = d }
func (c *Config) SetMCPCommand(cmd string)               { c.mcp.Command = cmd }
func (c *Config) SetMCPArgs(args []string)               { c.mcp.Args = args }
func (c *Config) SetOCREnabled(b bool)                   { c.ocr.Enabled = b }
func (c *Config) SetArtifactsDir(dir string)             { c.artifacts.Dir = dir }

// SetDefaults registers the default value for every configuration key on the
// given viper instance. Defaults are chosen so that the agent can run against
// a stock chrome-devtools-mcp server with nothing but an LLM API key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.add_source", false)

	v.SetDefault("mcp.command", "npx")
	v.SetDefault("mcp.args", []string{"-y", "chrome-devtools-mcp@latest", "--isolated"})
	v.SetDefault("mcp.work_dir", "")
	v.SetDefault("mcp.protocol_version", "2025-06-18")
	v.SetDefault("mcp.call_timeout", 20*time.Second)
	v.SetDefault("mcp.init_timeout", 45*time.Second)
	v.SetDefault("mcp.shutdown_grace", 5*time.Second)

	v.SetDefault("agent.max_steps", 20)
	v.SetDefault("agent.max_attempts", 3)
	v.SetDefault("agent.step_timeout", 60*time.Second)
	v.SetDefault("agent.observe_timeout", 10*time.Second)

	v.SetDefault("llm.provider", ProviderGroq)
	v.SetDefault("llm.model", "llama-3.1-70b-versatile")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.api_timeout", 90*time.Second)
	v.SetDefault("llm.requests_per_minute", 30)

	v.SetDefault("ocr.enabled", false)
	v.SetDefault("ocr.binary", "tesseract")
	v.SetDefault("ocr.languages", []string{"eng"})
	v.SetDefault("ocr.timeout", 15*time.Second)

	v.SetDefault("artifacts.dir", "artifacts")

	v.SetDefault("database.url", "")
}

// rawConfig mirrors Config with exported fields so viper can decode into it.
type rawConfig struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Agent     AgentConfig     `mapstructure:"agent"`
	LLM       LLMConfig       `mapstructure:"llm"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// NewFromViper decodes, normalizes, and validates the configuration held by
// the given viper instance.
func NewFromViper(v *viper.Viper) (*Config, error) {
	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg := &Config{
		logger:    raw.Logger,
		mcp:       raw.MCP,
		agent:     raw.Agent,
		llm:       raw.LLM,
		ocr:       raw.OCR,
		artifacts: raw.Artifacts,
		database:  raw.Database,
	}

	// Expand "~" in user-supplied paths.
	if dir, err := homedir.Expand(cfg.artifacts.Dir); err == nil {
		cfg.artifacts.Dir = dir
	}
	if cfg.logger.LogFile != "" {
		if f, err := homedir.Expand(cfg.logger.LogFile); err == nil {
			cfg.logger.LogFile = f
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the components cannot operate under.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.mcp.Command) == "" {
		return fmt.Errorf("mcp.command must not be empty")
	}
	if c.mcp.CallTimeout <= 0 {
		return fmt.Errorf("mcp.call_timeout must be positive, got %s", c.mcp.CallTimeout)
	}
	if c.agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be positive, got %d", c.agent.MaxSteps)
	}
	if c.agent.MaxAttempts <= 0 {
		return fmt.Errorf("agent.max_attempts must be positive, got %d", c.agent.MaxAttempts)
	}
	switch c.llm.Provider {
	case ProviderGroq, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown llm.provider %q, supported: [%s %s %s]",
			c.llm.Provider, ProviderGroq, ProviderOpenAI, ProviderGemini)
	}
	if strings.TrimSpace(c.artifacts.Dir) == "" {
		return fmt.Errorf("artifacts.dir must not be empty")
	}
	return nil
}
