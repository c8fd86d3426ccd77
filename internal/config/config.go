// Package config loads the pipeline configuration from a YAML file overlaid
// with FINASSIST_-prefixed environment variables, and centralizes filesystem
// path resolution.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the complete application configuration.
type Config struct {
	Mongo    MongoConfig    `yaml:"mongo" envconfig:"MONGO"`
	Scrape   ScrapeConfig   `yaml:"scrape" envconfig:"SCRAPE"`
	Download DownloadConfig `yaml:"download" envconfig:"DOWNLOAD"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// MongoConfig contains document-store connection settings.
type MongoConfig struct {
	URI            string        `yaml:"uri" envconfig:"URI"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
	OpTimeout      time.Duration `yaml:"op_timeout" envconfig:"OP_TIMEOUT"`
}

// ScrapeConfig contains remote-source navigation settings.
type ScrapeConfig struct {
	ListingURL     string        `yaml:"listing_url" envconfig:"LISTING_URL"`
	BaseURL        string        `yaml:"base_url" envconfig:"BASE_URL"`
	UserAgent      string        `yaml:"user_agent" envconfig:"USER_AGENT"`
	Headless       bool          `yaml:"headless" envconfig:"HEADLESS"`
	RankFrom       int           `yaml:"rank_from" envconfig:"RANK_FROM"`
	RankTo         int           `yaml:"rank_to" envconfig:"RANK_TO"`
	Range          string        `yaml:"range" envconfig:"RANGE"`
	ElementTimeout time.Duration `yaml:"element_timeout" envconfig:"ELEMENT_TIMEOUT"`
	StageTimeout   time.Duration `yaml:"stage_timeout" envconfig:"STAGE_TIMEOUT"`
	SettleDelay    time.Duration `yaml:"settle_delay" envconfig:"SETTLE_DELAY"`
	ScrollMaxIters int           `yaml:"scroll_max_iters" envconfig:"SCROLL_MAX_ITERS"`
	ScrollTarget   int           `yaml:"scroll_target" envconfig:"SCROLL_TARGET"`
	ActionsPerSec  float64       `yaml:"actions_per_sec" envconfig:"ACTIONS_PER_SEC"`
	ExportCSV      bool          `yaml:"export_csv" envconfig:"EXPORT_CSV"`
}

// DownloadConfig contains export reconciliation settings.
type DownloadConfig struct {
	Dir                string        `yaml:"dir" envconfig:"DIR"`
	PollInterval       time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	Timeout            time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	HistoricalPrefixes []string      `yaml:"historical_prefixes" envconfig:"HISTORICAL_PREFIXES"`
	DisclosurePrefixes []string      `yaml:"disclosure_prefixes" envconfig:"DISCLOSURE_PREFIXES"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Format      string `yaml:"format" envconfig:"FORMAT"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// Load builds the configuration: defaults, then the config file if one
// exists, then environment variables on top.
func Load() (*Config, error) {
	cfg := Default()

	if path := configFilePath(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("FINASSIST", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks invariants and normalizes degenerate values.
func (c *Config) validate() error {
	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo URI must not be empty")
	}
	if c.Scrape.RankFrom < 1 || c.Scrape.RankTo < c.Scrape.RankFrom {
		return fmt.Errorf("invalid rank window [%d, %d]", c.Scrape.RankFrom, c.Scrape.RankTo)
	}
	if c.Scrape.Range != "6M" && c.Scrape.Range != "1Y" {
		return fmt.Errorf("unsupported historical range %q", c.Scrape.Range)
	}
	if c.Scrape.ScrollMaxIters <= 0 {
		c.Scrape.ScrollMaxIters = 15
	}
	if c.Download.PollInterval <= 0 {
		c.Download.PollInterval = 500 * time.Millisecond
	}
	if c.Logging.Format != "json" {
		// Structured output only; pretty formats drift between runs.
		c.Logging.Format = "json"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/scraper.log"
	}
	return nil
}

// configFilePath returns the first config file found in common locations.
func configFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			ConnectTimeout: 10 * time.Second,
			OpTimeout:      5 * time.Second,
		},
		Scrape: ScrapeConfig{
			ListingURL:     "https://www.nseindia.com/market-data/live-equity-market",
			BaseURL:        "https://www.nseindia.com",
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.6998.166 Safari/537.36",
			Headless:       true,
			RankFrom:       2,
			RankTo:         6,
			Range:          "6M",
			ElementTimeout: 20 * time.Second,
			StageTimeout:   2 * time.Minute,
			SettleDelay:    2 * time.Second,
			ScrollMaxIters: 15,
			ScrollTarget:   50,
			ActionsPerSec:  0.5,
			ExportCSV:      true,
		},
		Download: DownloadConfig{
			Dir:                "data/downloads",
			PollInterval:       500 * time.Millisecond,
			Timeout:            60 * time.Second,
			HistoricalPrefixes: []string{"Quote-Equity"},
			DisclosurePrefixes: []string{"CF-Announcement", "Announcements"},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: "logs/scraper.log",
		},
	}
}
