package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/kayi2215/bot/internal/logging"
	"github.com/kayi2215/bot/internal/metrics"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Binance    BinanceConfig    `mapstructure:"binance"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Updater    UpdaterConfig    `mapstructure:"updater"`
	Trading    TradingConfig    `mapstructure:"trading"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig enables the optional latest-snapshot cache.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// BinanceConfig covers exchange API access.
type BinanceConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	BaseURL        string        `mapstructure:"base_url"`
	Testnet        bool          `mapstructure:"testnet"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ThresholdsConfig defines the alerting limits.
type ThresholdsConfig struct {
	LatencyMsMax           float64 `mapstructure:"latency_ms_max"`
	ErrorRateMax           float64 `mapstructure:"error_rate_max"`
	ConsecutiveFailuresMax int     `mapstructure:"consecutive_failures_max"`
	RateLimitUsageMax      float64 `mapstructure:"rate_limit_usage_max"`
}

// Thresholds converts the config section to the metrics type.
func (t ThresholdsConfig) Thresholds() metrics.Thresholds {
	return metrics.Thresholds{
		LatencyMsMax:           t.LatencyMsMax,
		ErrorRateMax:           t.ErrorRateMax,
		ConsecutiveFailuresMax: t.ConsecutiveFailuresMax,
		RateLimitUsageMax:      t.RateLimitUsageMax,
	}
}

// EndpointConfig binds one monitored endpoint to an exchange call.
type EndpointConfig struct {
	ID            string        `mapstructure:"id"`
	Method        string        `mapstructure:"method"`
	Symbol        string        `mapstructure:"symbol"`
	Limit         int           `mapstructure:"limit"`
	KlineInterval string        `mapstructure:"kline_interval"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// MonitoringConfig governs the health-check service.
type MonitoringConfig struct {
	CheckInterval     time.Duration    `mapstructure:"check_interval"`
	SummaryInterval   time.Duration    `mapstructure:"summary_interval"`
	RateLimitInterval time.Duration    `mapstructure:"rate_limit_interval"`
	Tick              time.Duration    `mapstructure:"tick"`
	StopTimeout       time.Duration    `mapstructure:"stop_timeout"`
	SnapshotPath      string           `mapstructure:"snapshot_path"`
	SnapshotInterval  time.Duration    `mapstructure:"snapshot_interval"`
	HistorySize       int              `mapstructure:"history_size"`
	Thresholds        ThresholdsConfig `mapstructure:"thresholds"`
	Endpoints         []EndpointConfig `mapstructure:"endpoints"`
}

// UpdaterConfig governs the market-data refresh loop.
type UpdaterConfig struct {
	Symbols     []string      `mapstructure:"symbols"`
	Interval    time.Duration `mapstructure:"interval"`
	MaxRetries  int           `mapstructure:"max_retries"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// TradingConfig governs the trading decision loop.
type TradingConfig struct {
	Interval             time.Duration `mapstructure:"interval"`
	UnhealthyPause       time.Duration `mapstructure:"unhealthy_pause"`
	ErrorBackoff         time.Duration `mapstructure:"error_backoff"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	StopTimeout          time.Duration `mapstructure:"stop_timeout"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tradingbot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "5m")

	v.SetDefault("binance.testnet", false)
	v.SetDefault("binance.request_timeout", "10s")
	v.SetDefault("binance.user_agent", "tradingbot/1.0")

	v.SetDefault("monitoring.check_interval", "60s")
	v.SetDefault("monitoring.summary_interval", "300s")
	v.SetDefault("monitoring.rate_limit_interval", "60s")
	v.SetDefault("monitoring.tick", "1s")
	v.SetDefault("monitoring.stop_timeout", "5s")
	v.SetDefault("monitoring.snapshot_path", "logs/metrics.json")
	v.SetDefault("monitoring.snapshot_interval", "30s")
	v.SetDefault("monitoring.history_size", 4096)
	v.SetDefault("monitoring.thresholds.latency_ms_max", 1000.0)
	v.SetDefault("monitoring.thresholds.error_rate_max", 0.1)
	v.SetDefault("monitoring.thresholds.consecutive_failures_max", 3)
	v.SetDefault("monitoring.thresholds.rate_limit_usage_max", 0.8)
	v.SetDefault("monitoring.endpoints", []map[string]any{
		{"id": "/api/v3/ticker/24hr", "method": "get_ticker", "symbol": "BTCUSDT"},
		{"id": "/api/v3/depth", "method": "get_order_book", "symbol": "BTCUSDT", "limit": 50},
		{"id": "/api/v3/klines", "method": "get_klines", "symbol": "BTCUSDT", "kline_interval": "1m", "limit": 100},
	})

	v.SetDefault("updater.symbols", []string{"BTCUSDT"})
	v.SetDefault("updater.interval", "10s")
	v.SetDefault("updater.max_retries", 3)
	v.SetDefault("updater.stop_timeout", "5s")

	v.SetDefault("trading.interval", "10s")
	v.SetDefault("trading.unhealthy_pause", "60s")
	v.SetDefault("trading.error_backoff", "30s")
	v.SetDefault("trading.max_consecutive_errors", 3)
	v.SetDefault("trading.stop_timeout", "5s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// knownMethods are the endpoint bindings the monitoring service can drive.
var knownMethods = map[string]bool{
	"get_ticker":        true,
	"get_order_book":    true,
	"get_klines":        true,
	"get_recent_trades": true,
	"ping":              true,
}

// Validate performs construction-time sanity checks; failures here are fatal.
func (c *Config) Validate() error {
	if err := c.Monitoring.Thresholds.Thresholds().Validate(); err != nil {
		return fmt.Errorf("monitoring.thresholds: %w", err)
	}
	if c.Monitoring.CheckInterval <= 0 {
		return fmt.Errorf("monitoring.check_interval must be greater than zero")
	}
	if c.Monitoring.Tick <= 0 {
		return fmt.Errorf("monitoring.tick must be greater than zero")
	}
	if len(c.Monitoring.Endpoints) == 0 {
		return fmt.Errorf("monitoring.endpoints must not be empty")
	}
	for _, ep := range c.Monitoring.Endpoints {
		if ep.ID == "" {
			return fmt.Errorf("monitoring.endpoints entry missing id")
		}
		if !knownMethods[ep.Method] {
			return fmt.Errorf("monitoring endpoint %s: unknown method %q", ep.ID, ep.Method)
		}
	}
	if len(c.Updater.Symbols) == 0 {
		return fmt.Errorf("updater.symbols must not be empty")
	}
	if c.Updater.Interval <= 0 {
		return fmt.Errorf("updater.interval must be greater than zero")
	}
	if c.Updater.MaxRetries <= 0 {
		return fmt.Errorf("updater.max_retries must be greater than zero")
	}
	if c.Trading.Interval <= 0 {
		return fmt.Errorf("trading.interval must be greater than zero")
	}
	if c.Trading.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("trading.max_consecutive_errors must be greater than zero")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis.enabled is true")
	}
	return nil
}

// EndpointInterval resolves an endpoint's check interval against the default.
func (c *Config) EndpointInterval(ep EndpointConfig) time.Duration {
	if ep.CheckInterval > 0 {
		return ep.CheckInterval
	}
	return c.Monitoring.CheckInterval
}
