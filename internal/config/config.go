package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every setting in the environment,
// e.g. EXPERT_DIALOGUE_SERVER_ADDR.
const EnvPrefix = "EXPERT_DIALOGUE"

// Config represents the complete expert-dialogue configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	OpenAI       BackendConfig      `mapstructure:"openai"`
	Claude       BackendConfig      `mapstructure:"claude"`
	Scholar      ScholarConfig      `mapstructure:"scholar"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls the HTTP/WebSocket listener. A non-empty ViewsDir
// loads templates from disk instead of the embedded views.
type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	ViewsDir  string `mapstructure:"views_dir"`
	AccessLog bool   `mapstructure:"access_log"`
}

// BackendConfig describes one chat-completion vendor
type BackendConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	MaxRetries  int     `mapstructure:"max_retries"`
}

// ScholarConfig controls the publication lookup
type ScholarConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ConversationConfig holds turn defaults and bounds
type ConversationConfig struct {
	// DefaultTurns is used when the form leaves the turn count blank (default: 10)
	DefaultTurns int `mapstructure:"default_turns"`
	// DefaultDelaySeconds is used when the form leaves the delay blank (default: 5)
	DefaultDelaySeconds int `mapstructure:"default_delay_seconds"`
	// MaxTurns caps the total-turn budget of a run (default: 50)
	MaxTurns int `mapstructure:"max_turns"`
	// MaxDelaySeconds caps the jump-in window (default: 300)
	MaxDelaySeconds int `mapstructure:"max_delay_seconds"`
	// TickInterval is one countdown step (default: 1s)
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// BackendTimeout bounds a single generation, 0 = no limit
	BackendTimeout time.Duration `mapstructure:"backend_timeout"`
}

// LoggingConfig controls zap output
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":3000",
			ViewsDir:  "",
			AccessLog: true,
		},
		OpenAI: BackendConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.4,
			MaxRetries:  2,
		},
		Claude: BackendConfig{
			Model:       "claude-3-5-sonnet-20241022",
			MaxTokens:   600,
			Temperature: 0.4,
			MaxRetries:  2,
		},
		Scholar: ScholarConfig{
			BaseURL: "https://api.semanticscholar.org",
			Timeout: 10 * time.Second,
		},
		Conversation: ConversationConfig{
			DefaultTurns:        10,
			DefaultDelaySeconds: 5,
			MaxTurns:            50,
			MaxDelaySeconds:     300,
			TickInterval:        time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers Default() on v
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.views_dir", d.Server.ViewsDir)
	v.SetDefault("server.access_log", d.Server.AccessLog)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", d.OpenAI.Model)
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.max_tokens", d.OpenAI.MaxTokens)
	v.SetDefault("openai.temperature", d.OpenAI.Temperature)
	v.SetDefault("openai.max_retries", d.OpenAI.MaxRetries)

	v.SetDefault("claude.api_key", "")
	v.SetDefault("claude.model", d.Claude.Model)
	v.SetDefault("claude.base_url", "")
	v.SetDefault("claude.max_tokens", d.Claude.MaxTokens)
	v.SetDefault("claude.temperature", d.Claude.Temperature)
	v.SetDefault("claude.max_retries", d.Claude.MaxRetries)

	v.SetDefault("scholar.base_url", d.Scholar.BaseURL)
	v.SetDefault("scholar.api_key", "")
	v.SetDefault("scholar.timeout", d.Scholar.Timeout)

	v.SetDefault("conversation.default_turns", d.Conversation.DefaultTurns)
	v.SetDefault("conversation.default_delay_seconds", d.Conversation.DefaultDelaySeconds)
	v.SetDefault("conversation.max_turns", d.Conversation.MaxTurns)
	v.SetDefault("conversation.max_delay_seconds", d.Conversation.MaxDelaySeconds)
	v.SetDefault("conversation.tick_interval", d.Conversation.TickInterval)
	v.SetDefault("conversation.backend_timeout", d.Conversation.BackendTimeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
}

// vendorEnv maps keys to the conventional variable names the vendors document.
var vendorEnv = map[string]string{
	"openai.api_key":  "OPENAI_API_KEY",
	"openai.base_url": "OPENAI_BASE_URL",
	"claude.api_key":  "ANTHROPIC_API_KEY",
	"scholar.api_key": "SEMANTIC_SCHOLAR_API_KEY",
}

// Load reads .env (if present), the optional config file and the
// environment into v and returns the decoded configuration.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range vendorEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
