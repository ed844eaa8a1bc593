// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Server() ServerConfig
	Browserbase() BrowserbaseConfig
	Browser() BrowserConfig
	Agent() AgentConfig
	Store() StoreConfig
	Slack() SlackConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	ServerCfg      ServerConfig      `mapstructure:"server" yaml:"server"`
	BrowserbaseCfg BrowserbaseConfig `mapstructure:"browserbase" yaml:"browserbase"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	AgentCfg       AgentConfig       `mapstructure:"agent" yaml:"agent"`
	StoreCfg       StoreConfig       `mapstructure:"store" yaml:"store"`
	SlackCfg       SlackConfig       `mapstructure:"slack" yaml:"slack"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Server() ServerConfig           { return c.ServerCfg }
func (c *Config) Browserbase() BrowserbaseConfig { return c.BrowserbaseCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Agent() AgentConfig             { return c.AgentCfg }
func (c *Config) Store() StoreConfig             { return c.StoreCfg }
func (c *Config) Slack() SlackConfig             { return c.SlackCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig configures the HTTP transport adapters.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	MaxDuration       time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	SafetyMargin      time.Duration `mapstructure:"safety_margin" yaml:"safety_margin"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
}

// InvocationBudget is the wall-clock limit for a single loop invocation.
func (s ServerConfig) InvocationBudget() time.Duration {
	return s.MaxDuration - s.SafetyMargin
}

// BrowserbaseConfig holds credentials and settings for the remote session provider.
type BrowserbaseConfig struct {
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	ProjectID         string        `mapstructure:"project_id" yaml:"project_id"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	SessionTimeout    int           `mapstructure:"session_timeout" yaml:"session_timeout"` // seconds
	KeepAlive         bool          `mapstructure:"keep_alive" yaml:"keep_alive"`
	Proxies           bool          `mapstructure:"proxies" yaml:"proxies"`
	BlockAds          bool          `mapstructure:"block_ads" yaml:"block_ads"`
	DashboardURL      string        `mapstructure:"dashboard_url" yaml:"dashboard_url"`
}

// BrowserConfig holds settings for the CDP connection to the remote browser.
type BrowserConfig struct {
	ConnectTimeout time.Duration  `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ActionTimeout  time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
	DefaultURL     string         `mapstructure:"default_url" yaml:"default_url"`
	Viewport       ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
}

// ViewportConfig is the remote browser window size.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// AgentConfig holds settings related to the operator agent and its loop.
type AgentConfig struct {
	Model              string          `mapstructure:"model" yaml:"model"`
	Provider           LLMProvider     `mapstructure:"provider" yaml:"provider"`
	Instructions       string          `mapstructure:"instructions" yaml:"instructions"`
	MaxSteps           int             `mapstructure:"max_steps" yaml:"max_steps"`
	MaxTurns           int             `mapstructure:"max_turns" yaml:"max_turns"`
	PageTextLimit      int             `mapstructure:"page_text_limit" yaml:"page_text_limit"`
	StartingURLTimeout time.Duration   `mapstructure:"starting_url_timeout" yaml:"starting_url_timeout"`
	FallbackURL        string          `mapstructure:"fallback_url" yaml:"fallback_url"`
	LLM                LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini    LLMProvider = "gemini"
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderBedrock   LLMProvider = "bedrock"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	Region      string        `mapstructure:"region" yaml:"region"` // Bedrock only.
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// Supported state store backends.
const (
	StoreNone     = ""
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreS3       = "s3"
)

// StoreConfig selects and configures the session state blob backend.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend" yaml:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	S3       S3Config       `mapstructure:"s3" yaml:"s3"`
}

// PostgresConfig holds the connection string for a PostgreSQL database.
type PostgresConfig struct {
	URL string `mapstructure:"url" yaml:"-"`
}

// SQLiteConfig points at the SQLite database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// S3Config identifies the bucket used for state blobs.
type S3Config struct {
	Bucket   string `mapstructure:"bucket" yaml:"bucket"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	Region   string `mapstructure:"region" yaml:"region"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// SlackConfig configures the Slack observer and events endpoint.
type SlackConfig struct {
	BotToken      string `mapstructure:"bot_token" yaml:"-"`
	BotUserID     string `mapstructure:"bot_user_id" yaml:"bot_user_id"`
	// SigningSecret enables request signature verification when set.
	SigningSecret string `mapstructure:"signing_secret" yaml:"-"`
	MessagePrefix string `mapstructure:"message_prefix" yaml:"message_prefix"`
	StopKeyword   string `mapstructure:"stop_keyword" yaml:"stop_keyword"`
}

// Enabled reports whether enough is configured to talk to Slack.
func (s SlackConfig) Enabled() bool {
	return s.BotToken != "" && s.BotUserID != ""
}

// DefaultInstructions steer the operator agent when no instructions are configured.
const DefaultInstructions = `You are a helpful assistant that can use a web browser to complete tasks and answer questions.

Follow these guidelines:
1. Be concise and action-oriented in your approach.
2. Execute tasks systematically, showing your work.
3. When searching, use specific search terms.
4. Don't explain what you're about to do, just do it.
5. Don't ask for permission or confirmation before taking actions.
6. Extract requested information clearly and accurately.
7. Take screenshots only when specifically needed.
8. For follow-up questions, continue the conversation naturally using context from previous interactions.
9. Remember details from earlier in the conversation and use them to inform your responses.
10. Answer follow-up questions directly based on what you've already seen or found - don't restart the search unless needed.
11. If the user asks about something you've already found, reference that information directly.
12. Maintain continuity between interactions to create a seamless conversation experience.
13. If asked a follow-up question, use memory of previous actions to provide context-aware responses.
14. Use the web browser to look up any new information needed for follow-up questions.
15. Remember all previously viewed pages and information found when answering follow-up questions.`

// NewDefaultConfig creates a new configuration struct populated with default values.
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

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "browser-operator")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_duration", "800s")
	v.SetDefault("server.safety_margin", "5s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.read_header_timeout", "10s")

	// -- Browserbase --
	v.SetDefault("browserbase.base_url", "https://api.browserbase.com")
	v.SetDefault("browserbase.request_timeout", "30s")
	v.SetDefault("browserbase.requests_per_second", 5.0)
	v.SetDefault("browserbase.burst", 5)
	v.SetDefault("browserbase.session_timeout", 3600)
	v.SetDefault("browserbase.keep_alive", true)
	v.SetDefault("browserbase.proxies", false)
	v.SetDefault("browserbase.block_ads", true)
	v.SetDefault("browserbase.dashboard_url", "https://www.browserbase.com/sessions")

	// -- Browser --
	v.SetDefault("browser.connect_timeout", "60s")
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.default_url", "https://www.google.com")
	v.SetDefault("browser.viewport.width", 1024)
	v.SetDefault("browser.viewport.height", 768)

	// -- Agent --
	v.SetDefault("agent.model", "claude-3-7-sonnet-20250219")
	v.SetDefault("agent.provider", string(ProviderAnthropic))
	v.SetDefault("agent.instructions", "")
	v.SetDefault("agent.max_steps", 25)
	v.SetDefault("agent.max_turns", 0)
	v.SetDefault("agent.page_text_limit", 6000)
	v.SetDefault("agent.starting_url_timeout", "5s")
	v.SetDefault("agent.fallback_url", "https://www.google.com")
	v.SetDefault("agent.llm.default_fast_model", "gpt-4o")
	v.SetDefault("agent.llm.default_powerful_model", "claude-3-7-sonnet-20250219")
	v.SetDefault("agent.llm.models", map[string]any{
		"gpt-4o": map[string]any{
			"provider":    string(ProviderOpenAI),
			"model":       "gpt-4o",
			"api_timeout": "30s",
			"temperature": 0.0,
			"max_tokens":  1024,
		},
		"claude-3-7-sonnet-20250219": map[string]any{
			"provider":    string(ProviderAnthropic),
			"model":       "claude-3-7-sonnet-20250219",
			"api_timeout": "120s",
			"temperature": 0.2,
			"max_tokens":  4096,
		},
	})

	// -- Store --
	v.SetDefault("store.backend", StoreNone)
	v.SetDefault("store.sqlite.path", "operator-state.db")
	v.SetDefault("store.s3.prefix", "")

	// -- Slack --
	v.SetDefault("slack.message_prefix", "🤖 Browser Operator:")
	v.SetDefault("slack.stop_keyword", "stop")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data under their conventional names.
	v.BindEnv("browserbase.api_key", "BROWSERBASE_API_KEY")
	v.BindEnv("browserbase.project_id", "BROWSERBASE_PROJECT_ID")
	v.BindEnv("slack.bot_token", "SLACK_BOT_TOKEN")
	v.BindEnv("slack.bot_user_id", "SLACK_BOT_USER_ID")
	v.BindEnv("slack.signing_secret", "SLACK_SIGNING_SECRET")
	v.BindEnv("store.postgres.url", "DATABASE_URL")
	v.BindEnv("store.s3.bucket", "OPERATOR_STATE_BUCKET")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.resolveProviderKeys(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// providerKeyEnv maps each provider to the environment variable holding its API key.
var providerKeyEnv = map[LLMProvider]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
}

// APIKeyFromEnv returns the conventional environment API key for provider, if any.
func APIKeyFromEnv(p LLMProvider) string {
	if env, ok := providerKeyEnv[p]; ok {
		return os.Getenv(env)
	}
	return ""
}

// resolveProviderKeys fills missing model API keys from the provider's environment variable.
func (c *Config) resolveProviderKeys(getenv func(string) string) {
	for name, m := range c.AgentCfg.LLM.Models {
		if m.APIKey != "" {
			continue
		}
		if env, ok := providerKeyEnv[m.Provider]; ok {
			m.APIKey = getenv(env)
			c.AgentCfg.LLM.Models[name] = m
		}
	}
}

// Validate checks the configuration for sane values. Credentials are checked
// separately by RequireCredentials so that offline commands keep working.
func (c *Config) Validate() error {
	if c.ServerCfg.InvocationBudget() <= 0 {
		return fmt.Errorf("server.max_duration must exceed server.safety_margin")
	}
	if c.AgentCfg.StartingURLTimeout <= 0 {
		return fmt.Errorf("agent.starting_url_timeout must be a positive duration")
	}
	if c.AgentCfg.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.AgentCfg.MaxTurns < 0 {
		return fmt.Errorf("agent.max_turns must not be negative")
	}
	if c.BrowserCfg.Viewport.Width <= 0 || c.BrowserCfg.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport dimensions must be positive")
	}
	if err := c.StoreCfg.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if err := c.AgentCfg.LLM.Validate(); err != nil {
		return fmt.Errorf("agent.llm configuration invalid: %w", err)
	}
	return nil
}

// RequireCredentials reports missing credentials needed to drive remote sessions.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.BrowserbaseCfg.APIKey == "" {
		missing = append(missing, "BROWSERBASE_API_KEY")
	}
	if c.BrowserbaseCfg.ProjectID == "" {
		missing = append(missing, "BROWSERBASE_PROJECT_ID")
	}
	for _, name := range []string{c.AgentCfg.LLM.DefaultFastModel, c.AgentCfg.LLM.DefaultPowerfulModel} {
		m := c.AgentCfg.LLM.Models[name]
		if env, ok := providerKeyEnv[m.Provider]; ok && m.APIKey == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required credentials: %s", strings.Join(dedupe(missing), ", "))
	}
	return nil
}

// Validate checks the StoreConfig settings.
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case StoreNone, StoreMemory:
		return nil
	case StorePostgres:
		if s.Postgres.URL == "" {
			return fmt.Errorf("postgres backend requires store.postgres.url or DATABASE_URL")
		}
	case StoreSQLite:
		if s.SQLite.Path == "" {
			return fmt.Errorf("sqlite backend requires store.sqlite.path")
		}
	case StoreS3:
		if s.S3.Bucket == "" {
			return fmt.Errorf("s3 backend requires store.s3.bucket")
		}
	default:
		return fmt.Errorf("unknown store backend '%s'", s.Backend)
	}
	return nil
}

// Validate checks that the tier defaults refer to configured models.
func (r *LLMRouterConfig) Validate() error {
	for _, name := range []string{r.DefaultFastModel, r.DefaultPowerfulModel} {
		m, ok := r.Models[name]
		if !ok {
			return fmt.Errorf("model '%s' is not defined in agent.llm.models", name)
		}
		switch m.Provider {
		case ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderBedrock:
		default:
			return fmt.Errorf("model '%s' has unsupported provider '%s'", name, m.Provider)
		}
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
