package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/challenger/market"
	"github.com/rustyeddy/challenger/risk"
)

// Config is the complete service configuration. Secrets are never stored
// here, only the names of the environment variables holding them.
type Config struct {
	Rules    risk.Rules     `json:"rules" yaml:"rules"`
	Prices   PricesConfig   `json:"prices" yaml:"prices"`
	Feeds    FeedsConfig    `json:"feeds" yaml:"feeds"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Log      LogConfig      `json:"log" yaml:"log"`
	Watchdog WatchdogConfig `json:"watchdog" yaml:"watchdog"`
}

// PricesConfig tunes the price cache. Durations are strings such as "30s".
type PricesConfig struct {
	Interval     string                       `json:"interval" yaml:"interval"`
	Timeout      string                       `json:"timeout" yaml:"timeout"`
	StaleAfter   string                       `json:"stale_after,omitempty" yaml:"stale_after,omitempty"` // default 3x interval
	SyntheticTTL string                       `json:"synthetic_ttl" yaml:"synthetic_ttl"`
	Watchlist    []string                     `json:"watchlist" yaml:"watchlist"`
	Instruments  map[string]market.Instrument `json:"instruments,omitempty" yaml:"instruments,omitempty"`
}

type FeedsConfig struct {
	Oanda   OandaConfig   `json:"oanda" yaml:"oanda"`
	Polygon PolygonConfig `json:"polygon" yaml:"polygon"`
}

type OandaConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Env       string `json:"env" yaml:"env"` // "practice" or "live"
	AccountID string `json:"account_id" yaml:"account_id"`
	TokenEnv  string `json:"token_env" yaml:"token_env"`
	Stream    bool   `json:"stream" yaml:"stream"` // push streamed prices into the cache
}

type PolygonConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`
	Timeout   string `json:"timeout" yaml:"timeout"`
}

type StoreConfig struct {
	Type   string `json:"type" yaml:"type"` // "memory", "sqlite" or "postgres"
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	DSNEnv string `json:"dsn_env,omitempty" yaml:"dsn_env,omitempty"`
}

type JournalConfig struct {
	Type        string `json:"type" yaml:"type"` // "none", "csv" or "sqlite"
	EquityFile  string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	ActionsFile string `json:"actions_file,omitempty" yaml:"actions_file,omitempty"`
	DBPath      string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type ServerConfig struct {
	Addr           string `json:"addr" yaml:"addr"`
	StreamInterval string `json:"stream_interval" yaml:"stream_interval"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
}

type WatchdogConfig struct {
	LockChallenges bool   `json:"lock_challenges" yaml:"lock_challenges"`
	Timezone       string `json:"timezone" yaml:"timezone"`
	SweepInterval  string `json:"sweep_interval" yaml:"sweep_interval"` // "0" disables the sweep
}

// LoadFromFile loads configuration from a file (YAML, or JSON as a fallback)
// over the defaults, so a partial file only overrides what it names.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}

	if _, err := positive("prices.interval", c.Prices.Interval); err != nil {
		return err
	}
	if _, err := positive("prices.timeout", c.Prices.Timeout); err != nil {
		return err
	}
	if c.Prices.StaleAfter != "" {
		if _, err := positive("prices.stale_after", c.Prices.StaleAfter); err != nil {
			return err
		}
	}
	if _, err := duration("prices.synthetic_ttl", c.Prices.SyntheticTTL); err != nil {
		return err
	}
	if len(c.Prices.Watchlist) == 0 {
		return fmt.Errorf("prices.watchlist must name at least one symbol")
	}
	for sym, in := range c.Prices.Instruments {
		if in.BasePrice < 0 {
			return fmt.Errorf("prices.instruments.%s.base_price must not be negative", sym)
		}
		switch in.Feed {
		case market.FeedNone, market.FeedOanda, market.FeedPolygon:
		default:
			return fmt.Errorf("prices.instruments.%s.feed %q unknown", sym, in.Feed)
		}
	}

	if c.Feeds.Oanda.Enabled {
		if c.Feeds.Oanda.Env != "practice" && c.Feeds.Oanda.Env != "live" {
			return fmt.Errorf("feeds.oanda.env must be 'practice' or 'live'")
		}
		if c.Feeds.Oanda.AccountID == "" || c.Feeds.Oanda.TokenEnv == "" {
			return fmt.Errorf("feeds.oanda account_id and token_env required when enabled")
		}
	}
	if c.Feeds.Polygon.Enabled {
		if c.Feeds.Polygon.APIKeyEnv == "" {
			return fmt.Errorf("feeds.polygon.api_key_env required when enabled")
		}
		if _, err := duration("feeds.polygon.timeout", c.Feeds.Polygon.Timeout); err != nil {
			return err
		}
	}

	switch c.Store.Type {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path required for sqlite")
		}
	case "postgres":
		if c.Store.DSNEnv == "" {
			return fmt.Errorf("store.dsn_env required for postgres")
		}
	default:
		return fmt.Errorf("store.type must be 'memory', 'sqlite' or 'postgres'")
	}

	switch c.Journal.Type {
	case "none", "":
	case "csv":
		if c.Journal.EquityFile == "" || c.Journal.ActionsFile == "" {
			return fmt.Errorf("journal equity_file and actions_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'none', 'csv' or 'sqlite'")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if _, err := positive("server.stream_interval", c.Server.StreamInterval); err != nil {
		return err
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}

	if _, err := time.LoadLocation(c.Watchdog.Timezone); err != nil {
		return fmt.Errorf("watchdog.timezone: %w", err)
	}
	if _, err := duration("watchdog.sweep_interval", c.Watchdog.SweepInterval); err != nil {
		return err
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Rules: risk.DefaultRules(),
		Prices: PricesConfig{
			Interval:     "30s",
			Timeout:      "10s",
			SyntheticTTL: "5s",
			Watchlist:    append([]string(nil), market.DefaultWatchlist...),
		},
		Feeds: FeedsConfig{
			Oanda: OandaConfig{
				Env:      "practice",
				TokenEnv: "OANDA_TOKEN",
			},
			Polygon: PolygonConfig{
				APIKeyEnv: "POLYGON_API_KEY",
				Timeout:   "5s",
			},
		},
		Store: StoreConfig{
			Type:   "sqlite",
			Path:   "./challenger.db",
			DSNEnv: "DATABASE_URL",
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./challenger.db",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			StreamInterval: "2s",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Watchdog: WatchdogConfig{
			Timezone:      "UTC",
			SweepInterval: "30s",
		},
	}
}

// Durations, parsed. Call only on a validated Config.

func (p PricesConfig) IntervalDuration() time.Duration { return mustDuration(p.Interval) }
func (p PricesConfig) TimeoutDuration() time.Duration  { return mustDuration(p.Timeout) }

// StaleAfterDuration defaults to three refresh intervals.
func (p PricesConfig) StaleAfterDuration() time.Duration {
	if p.StaleAfter == "" {
		return 3 * p.IntervalDuration()
	}
	return mustDuration(p.StaleAfter)
}

func (p PricesConfig) SyntheticTTLDuration() time.Duration   { return mustDuration(p.SyntheticTTL) }
func (p PolygonConfig) TimeoutDuration() time.Duration       { return mustDuration(p.Timeout) }
func (s ServerConfig) StreamIntervalDuration() time.Duration { return mustDuration(s.StreamInterval) }
func (w WatchdogConfig) SweepIntervalDuration() time.Duration {
	return mustDuration(w.SweepInterval)
}

// Location is the zone that bounds the daily-loss day.
func (w WatchdogConfig) Location() *time.Location {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// duration parses s, treating "" and "0" as zero.
func duration(field, s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

func positive(field, s string) (time.Duration, error) {
	d, err := duration(field, s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

func mustDuration(s string) time.Duration {
	d, _ := duration("", s)
	return d
}
