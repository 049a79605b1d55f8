// Package config loads the service configuration from a YAML file with
// environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration shared by both binaries.
type Config struct {
	LogLevel string `yaml:"log_level"` // debug|info|warn|error

	// SQLite database paths. Separate files so the channels watcher and
	// retention cleanup never contend with user-record writes.
	StorePath    string `yaml:"store_path"`
	ChannelsPath string `yaml:"channels_path"`
	EventsPath   string `yaml:"events_path"`

	Telegram  Telegram  `yaml:"telegram"`
	Gemini    Gemini    `yaml:"gemini"`
	Dashboard Dashboard `yaml:"dashboard"`
	Retention Retention `yaml:"retention"`
}

// Telegram configures the default Telegram channel seeded into the channels
// table at startup. Further channels are managed through the table directly.
type Telegram struct {
	// BotToken is overridden by TELEGRAM_BOT_TOKEN when set. Prefer the env
	// var; the YAML field exists for development setups only.
	BotToken    string `yaml:"bot_token"`
	PollTimeout int    `yaml:"poll_timeout"` // seconds
}

// Gemini configures the AI collaborator.
type Gemini struct {
	// APIKey is overridden by GEMINI_API_KEY when set.
	APIKey      string        `yaml:"api_key"`
	TextModel   string        `yaml:"text_model"`
	VisionModel string        `yaml:"vision_model"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// Dashboard configures the analytics HTTP server.
type Dashboard struct {
	ListenAddr string        `yaml:"listen_addr"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// Retention configures observability cleanup, in days. Zero disables.
type Retention struct {
	EventsDays     int `yaml:"events_days"`
	HeartbeatsDays int `yaml:"heartbeats_days"`
}

func (c *Config) defaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.StorePath == "" {
		c.StorePath = "data/convo.db"
	}
	if c.ChannelsPath == "" {
		c.ChannelsPath = "data/channels.db"
	}
	if c.EventsPath == "" {
		c.EventsPath = "data/events.db"
	}
	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = 30
	}
	if c.Gemini.TextModel == "" {
		c.Gemini.TextModel = "gemini-2.0-flash"
	}
	if c.Gemini.VisionModel == "" {
		c.Gemini.VisionModel = "gemini-2.0-flash"
	}
	if c.Gemini.Timeout <= 0 {
		c.Gemini.Timeout = 30 * time.Second
	}
	if c.Gemini.MaxRetries <= 0 {
		c.Gemini.MaxRetries = 2
	}
	if c.Dashboard.ListenAddr == "" {
		c.Dashboard.ListenAddr = ":8090"
	}
	if c.Dashboard.CacheTTL <= 0 {
		c.Dashboard.CacheTTL = 5 * time.Minute
	}
	if c.Retention.EventsDays == 0 {
		c.Retention.EventsDays = 90
	}
	if c.Retention.HeartbeatsDays == 0 {
		c.Retention.HeartbeatsDays = 7
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("CONVO_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Load reads the YAML file at path, applies env overrides and defaults.
// A missing file is not an error: env vars and defaults alone are a valid
// configuration.
func Load(path string) (*Config, error) {
	var c Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env + defaults
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c.applyEnv()
	c.defaults()
	return &c, nil
}
