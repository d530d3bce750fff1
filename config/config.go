package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"tradechart/internal/feed"
	"tradechart/internal/indicator"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr   string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	DefaultSymbol string `env:"DEFAULT_SYMBOL" envDefault:"EURUSD"`

	// SeedFile is a YAML file of sample bars. Empty means the built-in set.
	SeedFile string `env:"SEED_FILE"`

	SQLite     SQLiteConfig `envPrefix:"SQLITE_"`
	Redis      RedisConfig  `envPrefix:"REDIS_"`
	Feed       FeedConfig   `envPrefix:"FEED_"`
	Indicators IndicatorConfig
}

// SQLiteConfig configures bar persistence.
type SQLiteConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"`
	Path    string `env:"PATH" envDefault:"data/bars.db"`
}

// RedisConfig configures bar publication and its circuit breaker.
type RedisConfig struct {
	Enabled        bool          `env:"ENABLED" envDefault:"false"`
	Addr           string        `env:"ADDR" envDefault:"localhost:6379"`
	Password       string        `env:"PASSWORD"`
	CBMaxFailures  int           `env:"CB_MAX_FAILURES" envDefault:"5"`
	CBResetTimeout time.Duration `env:"CB_RESET_TIMEOUT" envDefault:"10s"`
	BufferSize     int           `env:"BUFFER_SIZE" envDefault:"10000"`
}

// FeedConfig configures the live kline feed.
type FeedConfig struct {
	Enabled  bool     `env:"ENABLED" envDefault:"false"`
	BaseURL  string   `env:"BASE_URL" envDefault:"wss://stream.binance.com:9443"`
	URL      string   `env:"URL"` // overrides BaseURL/Symbols/Interval
	Symbols  []string `env:"SYMBOLS" envSeparator:"," envDefault:"btcusdt"`
	Interval string   `env:"INTERVAL" envDefault:"1m"`
}

// IndicatorConfig holds indicator periods.
type IndicatorConfig struct {
	SMA        int `env:"SMA_PERIOD" envDefault:"14"`
	EMA        int `env:"EMA_PERIOD" envDefault:"14"`
	RSI        int `env:"RSI_PERIOD" envDefault:"14"`
	MACDShort  int `env:"MACD_SHORT" envDefault:"12"`
	MACDLong   int `env:"MACD_LONG" envDefault:"26"`
	MACDSignal int `env:"MACD_SIGNAL" envDefault:"9"`
}

// Load reads a .env file if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse environment")
	}
	return cfg, nil
}

// LoadFrom parses configuration from vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, errors.Wrap(err, "config: parse environment")
	}
	return cfg, nil
}

// Periods returns the indicator periods.
func (c *Config) Periods() indicator.Periods {
	return indicator.Periods{
		SMA:        c.Indicators.SMA,
		EMA:        c.Indicators.EMA,
		RSI:        c.Indicators.RSI,
		MACDShort:  c.Indicators.MACDShort,
		MACDLong:   c.Indicators.MACDLong,
		MACDSignal: c.Indicators.MACDSignal,
	}
}

// FeedURL returns the kline stream URL.
func (c *Config) FeedURL() string {
	if c.Feed.URL != "" {
		return c.Feed.URL
	}
	return feed.StreamURL(c.Feed.BaseURL, c.Feed.Interval, c.Feed.Symbols...)
}

// Validate checks the values Load cannot.
func (c *Config) Validate() error {
	if err := c.Periods().Validate(); err != nil {
		return errors.Wrap(err, "config")
	}
	if c.SQLite.Enabled && c.SQLite.Path == "" {
		return errors.New("config: SQLITE_PATH is required when SQLite is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("config: REDIS_ADDR is required when Redis is enabled")
	}
	if c.Feed.Enabled && c.Feed.URL == "" && len(c.Feed.Symbols) == 0 {
		return errors.New("config: FEED_SYMBOLS or FEED_URL is required when the feed is enabled")
	}
	return nil
}
