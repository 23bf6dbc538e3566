// Package config loads and validates notifier configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Translate TranslateConfig `mapstructure:"translate"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// TelegramConfig holds Bot API credentials and behavior toggles.
type TelegramConfig struct {
	BotToken           string `mapstructure:"bot_token"`
	ChatID             string `mapstructure:"chat_id"`
	APIBaseURL         string `mapstructure:"api_base_url"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	MessagesPerMinute  int    `mapstructure:"messages_per_minute"`
	ServiceMessages    bool   `mapstructure:"service_messages"`
	CommandsEnabled    bool   `mapstructure:"commands_enabled"`
	CommandPollSeconds int    `mapstructure:"command_poll_seconds"`
}

// DatabaseConfig controls the delivery ledger backend.
type DatabaseConfig struct {
	Provider               string `mapstructure:"provider"`
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int    `mapstructure:"max_conns"`
	MinConns               int    `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// TranslateConfig governs the Gujarati-to-English translation chain. An empty
// APIKey disables the primary backend; the free fallback still runs.
type TranslateConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIKey         string `mapstructure:"api_key"`
	WebEndpoint    string `mapstructure:"web_endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Cache          string `mapstructure:"cache"`
	CacheSize      int    `mapstructure:"cache_size"`
	ShowOriginal   bool   `mapstructure:"show_original"`
}

// ScraperConfig governs circulars page fetching.
type ScraperConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	CircularsPath      string `mapstructure:"circulars_path"`
	UserAgent          string `mapstructure:"user_agent"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	MaxRetries         int    `mapstructure:"max_retries"`
	BackoffInitialMs   int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int    `mapstructure:"backoff_max_ms"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// PipelineConfig governs poll cycles and dispatch pacing.
type PipelineConfig struct {
	IntervalSeconds     int    `mapstructure:"interval_seconds"`
	CycleTimeoutSeconds int    `mapstructure:"cycle_timeout_seconds"`
	Concurrency         int    `mapstructure:"concurrency"`
	SendDelaySeconds    int    `mapstructure:"send_delay_seconds"`
	FromDate            string `mapstructure:"from_date"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BKNMU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)

	v.SetDefault("telegram.api_base_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout_seconds", 30)
	v.SetDefault("telegram.messages_per_minute", 20)
	v.SetDefault("telegram.service_messages", true)
	v.SetDefault("telegram.commands_enabled", false)
	v.SetDefault("telegram.command_poll_seconds", 2)

	v.SetDefault("database.provider", "postgres")
	v.SetDefault("database.max_conns", 5)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)

	v.SetDefault("translate.enabled", true)
	v.SetDefault("translate.web_endpoint", "https://translate.googleapis.com/translate_a/single")
	v.SetDefault("translate.timeout_seconds", 10)
	v.SetDefault("translate.cache", "memory")
	v.SetDefault("translate.cache_size", 1000)
	v.SetDefault("translate.show_original", true)

	v.SetDefault("scraper.base_url", "https://www.bknmu.edu.in")
	v.SetDefault("scraper.circulars_path", "/NewsEventViewAll.aspx?ContentTypeId=7")
	v.SetDefault("scraper.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("scraper.timeout_seconds", 30)
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.backoff_initial_ms", 1000)
	v.SetDefault("scraper.backoff_max_ms", 8000)
	v.SetDefault("scraper.insecure_skip_verify", true)

	v.SetDefault("pipeline.interval_seconds", 120)
	v.SetDefault("pipeline.cycle_timeout_seconds", 300)
	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.send_delay_seconds", 3)

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required")
	}
	switch c.Database.Provider {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres provider")
		}
	case "memory":
	default:
		return fmt.Errorf("database.provider %q is not supported", c.Database.Provider)
	}
	switch c.Translate.Cache {
	case "memory":
	case "postgres":
		if c.Database.Provider != "postgres" {
			return fmt.Errorf("translate.cache postgres requires database.provider postgres")
		}
	default:
		return fmt.Errorf("translate.cache %q is not supported", c.Translate.Cache)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.BaseURL == "" {
		return fmt.Errorf("scraper.base_url is required")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Pipeline.IntervalSeconds <= 0 {
		return fmt.Errorf("pipeline.interval_seconds must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if _, err := c.FromDate(); err != nil {
		return err
	}
	return nil
}

// CircularsURL joins the base URL and circulars path.
func (c Config) CircularsURL() string {
	return strings.TrimSuffix(c.Scraper.BaseURL, "/") + c.Scraper.CircularsPath
}

// Interval is the pause between cycle completions.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Pipeline.IntervalSeconds) * time.Second
}

// CycleTimeout bounds a single cycle end to end.
func (c Config) CycleTimeout() time.Duration {
	return time.Duration(c.Pipeline.CycleTimeoutSeconds) * time.Second
}

// SendDelay is the gap between consecutive successful dispatches.
func (c Config) SendDelay() time.Duration {
	return time.Duration(c.Pipeline.SendDelaySeconds) * time.Second
}

// ScrapeTimeout bounds a single page fetch attempt.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}

// ScrapeBackoff returns the fetch retry delays.
func (c Config) ScrapeBackoff() (initial, max time.Duration) {
	return time.Duration(c.Scraper.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Scraper.BackoffMaxMs) * time.Millisecond
}

// FromDate parses the optional pipeline cutoff (YYYY-MM-DD). Notices published
// before it are never dispatched.
func (c Config) FromDate() (*time.Time, error) {
	if c.Pipeline.FromDate == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", c.Pipeline.FromDate)
	if err != nil {
		return nil, fmt.Errorf("pipeline.from_date must be YYYY-MM-DD: %w", err)
	}
	return &parsed, nil
}

// MaxConnLifetime converts the pool lifetime knob.
func (c Config) MaxConnLifetime() time.Duration {
	return time.Duration(c.Database.MaxConnLifetimeMinutes) * time.Minute
}
