package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"perpscope/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Exchanges ExchangesConfig `mapstructure:"exchanges"`
	Filter    FilterConfig    `mapstructure:"filter"`
	CVD       CVDConfig       `mapstructure:"cvd"`
	Arbitrage ArbitrageConfig `mapstructure:"arbitrage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	AI        AIConfig        `mapstructure:"ai"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig governs the HTTP API listener.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExchangeConfig covers one venue adapter.
type ExchangeConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ExchangesConfig lists every supported venue.
type ExchangesConfig struct {
	Binance     ExchangeConfig `mapstructure:"binance"`
	Bybit       ExchangeConfig `mapstructure:"bybit"`
	Hyperliquid ExchangeConfig `mapstructure:"hyperliquid"`
	EdgeX       ExchangeConfig `mapstructure:"edgex"`
	Lighter     LighterConfig  `mapstructure:"lighter"`
	UserAgent   string         `mapstructure:"user_agent"`
}

// LighterConfig extends the venue config with the websocket endpoint used for
// open interest.
type LighterConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	WSURL          string        `mapstructure:"ws_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// FilterConfig bounds the symbol universe.
type FilterConfig struct {
	MinOpenInterestUSD float64 `mapstructure:"min_open_interest_usd"`
	TopSymbols         int     `mapstructure:"top_symbols"`
}

// CVDConfig tunes the candle-derived volume delta estimator.
type CVDConfig struct {
	Interval string        `mapstructure:"interval"`
	Limit    int           `mapstructure:"limit"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// ArbitrageConfig filters cross-venue funding pairs.
type ArbitrageConfig struct {
	MinCombinedAPY float64 `mapstructure:"min_combined_apy"`
}

// SchedulerConfig governs monitor cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines signal alert thresholds and routing.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	MinStrength float64        `mapstructure:"min_strength"`
	Cooldown    time.Duration  `mapstructure:"cooldown"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the bot delivery channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// AIConfig covers the commentary relay.
type AIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the optional cycle
// archive. Empty DSN disables persistence entirely.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// Retention bounds how long archived signal events are kept; zero
	// disables pruning.
	Retention time.Duration `mapstructure:"retention"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int    `mapstructure:"max_data_points"`
	OutputDir     string `mapstructure:"output_dir"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PERPSCOPE")
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
	v.SetDefault("app.name", "perpscope")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("exchanges.user_agent", "perpscope/1.0")
	v.SetDefault("exchanges.binance.enabled", true)
	v.SetDefault("exchanges.binance.base_url", "https://fapi.binance.com")
	v.SetDefault("exchanges.binance.request_timeout", "20s")
	v.SetDefault("exchanges.bybit.enabled", true)
	v.SetDefault("exchanges.bybit.base_url", "https://api.bybit.com")
	v.SetDefault("exchanges.bybit.request_timeout", "20s")
	v.SetDefault("exchanges.hyperliquid.enabled", true)
	v.SetDefault("exchanges.hyperliquid.base_url", "https://api.hyperliquid.xyz")
	v.SetDefault("exchanges.hyperliquid.request_timeout", "20s")
	v.SetDefault("exchanges.edgex.enabled", true)
	v.SetDefault("exchanges.edgex.base_url", "https://pro.edgex.exchange")
	v.SetDefault("exchanges.edgex.request_timeout", "20s")
	v.SetDefault("exchanges.lighter.enabled", true)
	v.SetDefault("exchanges.lighter.base_url", "https://mainnet.zklighter.elliot.ai")
	v.SetDefault("exchanges.lighter.ws_url", "wss://mainnet.zklighter.elliot.ai/stream")
	v.SetDefault("exchanges.lighter.request_timeout", "20s")

	v.SetDefault("filter.min_open_interest_usd", 0.0)
	v.SetDefault("filter.top_symbols", 100)

	v.SetDefault("cvd.interval", "15")
	v.SetDefault("cvd.limit", 100)
	v.SetDefault("cvd.cache_ttl", "1m")

	v.SetDefault("arbitrage.min_combined_apy", 5.0)

	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.run_immediately", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70657270))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_strength", 5.0)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.request_timeout", "60s")
	v.SetDefault("ai.max_output_tokens", 900)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.retention", "720h")

	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.output_dir", ".")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Filter.TopSymbols <= 0 {
		return fmt.Errorf("filter.top_symbols must be greater than zero")
	}
	if c.Filter.MinOpenInterestUSD < 0 {
		return fmt.Errorf("filter.min_open_interest_usd cannot be negative")
	}
	if c.CVD.Limit <= 0 {
		return fmt.Errorf("cvd.limit must be greater than zero")
	}
	if c.Arbitrage.MinCombinedAPY < 0 {
		return fmt.Errorf("arbitrage.min_combined_apy cannot be negative")
	}
	if c.Alerting.MinStrength < 0 {
		return fmt.Errorf("alerting.min_strength cannot be negative")
	}
	if c.Database.Retention < 0 {
		return fmt.Errorf("database.retention cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required when ai.enabled")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
