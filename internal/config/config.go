// Package config loads ObatPing configuration from an optional YAML file with
// environment variable overrides.
//
// Precedence, lowest to highest: built-in defaults, the YAML file, then
// OBATPING_* (and provider-specific) environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RumahPulih/ObatPing/internal/util"
	"gopkg.in/yaml.v3"
)

// Messaging backends.
const (
	BackendWhatsmeow = "whatsmeow"
	BackendTwilio    = "twilio"
)

// Defaults.
const (
	DefaultStateDir     = "/var/lib/obatping"
	DefaultAddr         = ":8080"
	DefaultOpenAIModel  = "gpt-4o-mini"
	DefaultDedupWindow  = 10 * time.Minute
	DefaultPollInterval = 5 * time.Second
	DefaultSendRate     = 1.0
)

// Duration wraps time.Duration so YAML values like "10m" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	APIToken string `yaml:"api_token"`
}

// DatabaseConfig configures the application store. An empty DSN falls back to
// SQLite inside the state directory.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// TwilioConfig holds Twilio WhatsApp credentials.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	FromNumber string `yaml:"from_number"`
}

// MessagingConfig selects and configures the WhatsApp transport.
type MessagingConfig struct {
	Backend         string       `yaml:"backend"`
	WhatsmeowDBPath string       `yaml:"whatsmeow_db_path"`
	Twilio          TwilioConfig `yaml:"twilio"`
}

// OpenAIConfig configures the intent classification gateway. An empty API key
// disables classification; free-form messages then get the fallback reply.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// OutboxConfig configures outbound message delivery.
type OutboxConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	SendRate     float64  `yaml:"send_rate"`
}

// Config is the full ObatPing configuration.
type Config struct {
	StateDir    string          `yaml:"state_dir"`
	Debug       bool            `yaml:"debug"`
	DedupWindow Duration        `yaml:"dedup_window"`
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Messaging   MessagingConfig `yaml:"messaging"`
	OpenAI      OpenAIConfig    `yaml:"openai"`
	Outbox      OutboxConfig    `yaml:"outbox"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StateDir:    DefaultStateDir,
		DedupWindow: Duration(DefaultDedupWindow),
		Server:      ServerConfig{Addr: DefaultAddr},
		Messaging:   MessagingConfig{Backend: BackendWhatsmeow},
		OpenAI:      OpenAIConfig{Model: DefaultOpenAIModel},
		Outbox: OutboxConfig{
			PollInterval: Duration(DefaultPollInterval),
			SendRate:     DefaultSendRate,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), applies environment overrides, and fills in derived
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Running without a config file is fine.
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = filepath.Join(cfg.StateDir, "obatping.db")
	}
	if cfg.Messaging.WhatsmeowDBPath == "" {
		cfg.Messaging.WhatsmeowDBPath = filepath.Join(cfg.StateDir, "whatsmeow.db")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	overrideString(&c.StateDir, "OBATPING_STATE_DIR")
	c.Debug = util.ParseBoolEnv("OBATPING_DEBUG", c.Debug)
	c.DedupWindow = Duration(util.ParseDurationEnv("OBATPING_DEDUP_WINDOW", c.DedupWindow.Std()))

	overrideString(&c.Server.Addr, "OBATPING_ADDR")
	overrideString(&c.Server.APIToken, "OBATPING_API_TOKEN")

	overrideString(&c.Database.DSN, "OBATPING_DATABASE_DSN", "DATABASE_URL")

	overrideString(&c.Messaging.Backend, "OBATPING_MESSAGING_BACKEND")
	overrideString(&c.Messaging.WhatsmeowDBPath, "OBATPING_WHATSMEOW_DB")
	overrideString(&c.Messaging.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	overrideString(&c.Messaging.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	overrideString(&c.Messaging.Twilio.FromNumber, "TWILIO_FROM_NUMBER")

	overrideString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	overrideString(&c.OpenAI.Model, "OPENAI_MODEL")

	c.Outbox.PollInterval = Duration(util.ParseDurationEnv("OBATPING_OUTBOX_POLL_INTERVAL", c.Outbox.PollInterval.Std()))
	c.Outbox.SendRate = util.ParseFloatEnv("OBATPING_OUTBOX_SEND_RATE", c.Outbox.SendRate)
}

func (c *Config) validate() error {
	switch c.Messaging.Backend {
	case BackendWhatsmeow:
	case BackendTwilio:
		if c.Messaging.Twilio.AccountSID == "" || c.Messaging.Twilio.AuthToken == "" || c.Messaging.Twilio.FromNumber == "" {
			return fmt.Errorf("twilio backend requires account_sid, auth_token, and from_number")
		}
	default:
		return fmt.Errorf("unknown messaging backend %q (want %s or %s)", c.Messaging.Backend, BackendWhatsmeow, BackendTwilio)
	}
	if c.DedupWindow <= 0 {
		return fmt.Errorf("dedup_window must be positive, got %s", c.DedupWindow.Std())
	}
	return nil
}

// overrideString sets dst from the first non-empty environment variable.
func overrideString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}
