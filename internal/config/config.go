package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Summary   SummaryConfig   `mapstructure:"summary"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	DSN    string `mapstructure:"dsn"`    // Connection string
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

// CrawlerConfig holds the crawl HTTP client settings
type CrawlerConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	DefaultLimit      int           `mapstructure:"default_limit"`       // items per source per crawl
	RequestsPerSecond float64       `mapstructure:"requests_per_second"` // per source, 0 = unlimited
	Burst             int           `mapstructure:"burst"`
	SourceLimits      []SourceLimit `mapstructure:"source_limits"` // per-source overrides
}

// SourceLimit overrides the politeness rate for one source
type SourceLimit struct {
	Source            string  `mapstructure:"source"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// SourcesConfig holds all content source configurations
type SourcesConfig struct {
	HackerNews HackerNewsConfig `mapstructure:"hackernews"`
	RSS        RSSConfig        `mapstructure:"rss"`
}

// HackerNewsConfig holds Hacker News settings
type HackerNewsConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	BaseURL           string   `mapstructure:"base_url"`
	Listings          []string `mapstructure:"listings"` // top, ask, show
	DetailConcurrency int      `mapstructure:"detail_concurrency"`
}

// RSSConfig holds RSS feed settings
type RSSConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	MaxAge  time.Duration `mapstructure:"max_age"`
	Feeds   []RSSFeed     `mapstructure:"feeds"`
}

// RSSFeed represents a single RSS feed
type RSSFeed struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// SummaryConfig holds summary generation settings
type SummaryConfig struct {
	Provider       string          `mapstructure:"provider"` // gemini or anthropic
	Model          string          `mapstructure:"model"`
	Lang           string          `mapstructure:"lang"`
	MaxLength      int             `mapstructure:"max_length"`
	MaxRetries     int             `mapstructure:"max_retries"`
	Concurrency    int             `mapstructure:"concurrency"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig holds the summarizer quota settings
type RateLimitConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	PerMinute      int           `mapstructure:"per_minute"`
	PerDay         int           `mapstructure:"per_day"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`     // cooldown after a denied acquire
	AcquireRetries int           `mapstructure:"acquire_retries"` // re-acquire attempts after a denial
	PacingBuffer   time.Duration `mapstructure:"pacing_buffer"`
}

// GeminiConfig holds Google Gemini API settings
type GeminiConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"` // optional endpoint override
	Temperature    float64 `mapstructure:"temperature"`
	ThinkingBudget int     `mapstructure:"thinking_budget"` // -1 leaves the model default
}

// AnthropicConfig holds Claude API settings
type AnthropicConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// SchedulerConfig holds scheduler settings
type SchedulerConfig struct {
	CrawlEnabled    bool          `mapstructure:"crawl_enabled"`
	CrawlInterval   time.Duration `mapstructure:"crawl_interval"`
	CrawlFirstRun   time.Duration `mapstructure:"crawl_first_run"`
	SummaryEnabled  bool          `mapstructure:"summary_enabled"`
	SummaryInterval time.Duration `mapstructure:"summary_interval"`
	SummaryFirstRun time.Duration `mapstructure:"summary_first_run"`
	StaleTaskAfter  time.Duration `mapstructure:"stale_task_after"`
}

// ServerConfig holds the ops HTTP server settings
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if present (ignore errors if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".programmer-trending"))
		}
	}

	// Environment variables
	v.SetEnvPrefix("TRENDING")
	v.AutomaticEnv()

	// Explicit bindings for nested keys (Viper doesn't auto-bind underscored nested keys)
	_ = v.BindEnv("gemini.api_key", "TRENDING_GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("anthropic.api_key", "TRENDING_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("database.driver", "TRENDING_DATABASE_DRIVER")
	_ = v.BindEnv("database.dsn", "TRENDING_DATABASE_DSN")
	_ = v.BindEnv("logging.level", "TRENDING_LOGGING_LEVEL")
	_ = v.BindEnv("summary.provider", "TRENDING_SUMMARY_PROVIDER")
	_ = v.BindEnv("summary.model", "TRENDING_SUMMARY_MODEL")
	_ = v.BindEnv("summary.concurrency", "TRENDING_SUMMARY_CONCURRENCY")
	_ = v.BindEnv("summary.rate_limit.enabled", "TRENDING_SUMMARY_RATE_LIMIT_ENABLED")
	_ = v.BindEnv("summary.rate_limit.per_minute", "TRENDING_SUMMARY_RATE_LIMIT_PER_MINUTE")
	_ = v.BindEnv("summary.rate_limit.per_day", "TRENDING_SUMMARY_RATE_LIMIT_PER_DAY")
	_ = v.BindEnv("scheduler.crawl_enabled", "TRENDING_SCHEDULER_CRAWL_ENABLED")
	_ = v.BindEnv("scheduler.summary_enabled", "TRENDING_SCHEDULER_SUMMARY_ENABLED")
	_ = v.BindEnv("scheduler.crawl_interval", "TRENDING_SCHEDULER_CRAWL_INTERVAL")
	_ = v.BindEnv("server.addr", "TRENDING_SERVER_ADDR")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/trending.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")

	// Crawler defaults
	v.SetDefault("crawler.timeout", "30s")
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (compatible; ProgrammerTrending/1.0)")
	v.SetDefault("crawler.max_attempts", 5)
	v.SetDefault("crawler.backoff_base", "1s")
	v.SetDefault("crawler.retry_delay", "1s")
	v.SetDefault("crawler.default_limit", 30)
	v.SetDefault("crawler.requests_per_second", 5.0)
	v.SetDefault("crawler.burst", 5)

	// Sources defaults
	v.SetDefault("sources.hackernews.enabled", true)
	v.SetDefault("sources.hackernews.base_url", "https://hacker-news.firebaseio.com/v0")
	v.SetDefault("sources.hackernews.listings", []string{"top"})
	v.SetDefault("sources.hackernews.detail_concurrency", 4)

	v.SetDefault("sources.rss.enabled", false)
	v.SetDefault("sources.rss.max_age", "168h")

	// Summary defaults
	v.SetDefault("summary.provider", "gemini")
	v.SetDefault("summary.model", "gemini-2.5-flash")
	v.SetDefault("summary.lang", "zh-CN")
	v.SetDefault("summary.max_length", 200)
	v.SetDefault("summary.max_retries", 3)
	v.SetDefault("summary.concurrency", 1)
	v.SetDefault("summary.request_timeout", "30s")

	v.SetDefault("summary.rate_limit.enabled", true)
	v.SetDefault("summary.rate_limit.per_minute", 10)
	v.SetDefault("summary.rate_limit.per_day", 250)
	v.SetDefault("summary.rate_limit.retry_delay", "60s")
	v.SetDefault("summary.rate_limit.acquire_retries", 3)
	v.SetDefault("summary.rate_limit.pacing_buffer", "1s")

	// Provider defaults
	v.SetDefault("gemini.temperature", 0.3)
	v.SetDefault("gemini.thinking_budget", 0)
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.temperature", 0.3)

	// Scheduler defaults
	v.SetDefault("scheduler.crawl_enabled", true)
	v.SetDefault("scheduler.crawl_interval", "120m")
	v.SetDefault("scheduler.crawl_first_run", "30s")
	v.SetDefault("scheduler.summary_enabled", true)
	v.SetDefault("scheduler.summary_interval", "120m")
	v.SetDefault("scheduler.summary_first_run", "2m")
	v.SetDefault("scheduler.stale_task_after", "30m")

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Summary.Provider {
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("gemini.api_key is required when summary.provider is gemini")
		}
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("anthropic.api_key is required when summary.provider is anthropic")
		}
	default:
		return fmt.Errorf("unknown summary.provider %q", c.Summary.Provider)
	}

	if c.Summary.Concurrency < 1 {
		return fmt.Errorf("summary.concurrency must be at least 1")
	}
	if c.Summary.MaxRetries < 1 {
		return fmt.Errorf("summary.max_retries must be at least 1")
	}
	if c.Summary.RateLimit.Enabled && c.Summary.RateLimit.PerMinute < 1 {
		return fmt.Errorf("summary.rate_limit.per_minute must be positive when rate limiting is enabled")
	}
	if c.Scheduler.CrawlEnabled && c.Scheduler.CrawlInterval <= 0 {
		return fmt.Errorf("scheduler.crawl_interval must be positive")
	}
	if c.Scheduler.SummaryEnabled && c.Scheduler.SummaryInterval <= 0 {
		return fmt.Errorf("scheduler.summary_interval must be positive")
	}
	for _, limit := range c.Crawler.SourceLimits {
		if limit.Source == "" {
			return fmt.Errorf("crawler.source_limits entries need a source")
		}
	}
	for _, feed := range c.Sources.RSS.Feeds {
		if feed.ID == "" || feed.URL == "" {
			return fmt.Errorf("rss feeds need both id and url")
		}
	}
	return nil
}
