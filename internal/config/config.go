package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"smart-harvester/internal/logging"
)

// Comparison modes accepted for harvest.comparison.
const (
	ModeAtOrAbove = "at_or_above"
	ModeAtOrBelow = "at_or_below"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Harvest   HarvestConfig   `mapstructure:"harvest"`
	Keystore  KeystoreConfig  `mapstructure:"keystore"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Export    ExportConfig    `mapstructure:"export"`
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

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// ChainConfig covers ledger access and the harvest contract.
type ChainConfig struct {
	Network         string        `mapstructure:"network"`
	RPCURL          string        `mapstructure:"rpc_url"`
	ChainID         int64         `mapstructure:"chain_id"`
	ContractAddress string        `mapstructure:"contract_address"`
	GasLimit        uint64        `mapstructure:"gas_limit"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	FaucetURL       string        `mapstructure:"faucet_url"`
}

// OracleConfig captures price feed connectivity.
type OracleConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	BaseAsset       string        `mapstructure:"base_asset"`
	QuoteAsset      string        `mapstructure:"quote_asset"`
	StalenessWindow time.Duration `mapstructure:"staleness_window"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// HarvestConfig defines the trigger condition and retry policy.
type HarvestConfig struct {
	ThresholdPrice float64       `mapstructure:"threshold_price"`
	Comparison     string        `mapstructure:"comparison"`
	MinBalance     float64       `mapstructure:"min_balance"`
	RetryCeiling   int           `mapstructure:"retry_ceiling"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffCap     time.Duration `mapstructure:"backoff_cap"`
}

// KeystoreConfig locates the encrypted signing identity.
type KeystoreConfig struct {
	Path   string `mapstructure:"path"`
	KeyEnv string `mapstructure:"key_env"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// DashboardConfig controls the status HTTP surface.
type DashboardConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTD")
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
	v.SetDefault("app.name", "harvestd")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("chain.network", "testnet")
	v.SetDefault("chain.chain_id", int64(11155111))
	v.SetDefault("chain.gas_limit", uint64(300000))
	v.SetDefault("chain.request_timeout", "10s")

	v.SetDefault("oracle.base_asset", "KALE")
	v.SetDefault("oracle.quote_asset", "USD")
	v.SetDefault("oracle.staleness_window", "90s")
	v.SetDefault("oracle.request_timeout", "10s")
	v.SetDefault("oracle.user_agent", "harvestd/1.0")

	v.SetDefault("harvest.threshold_price", 1.05)
	v.SetDefault("harvest.comparison", ModeAtOrAbove)
	v.SetDefault("harvest.min_balance", 2.0)
	v.SetDefault("harvest.retry_ceiling", 5)
	v.SetDefault("harvest.backoff_base", "2s")
	v.SetDefault("harvest.backoff_cap", "60s")

	v.SetDefault("keystore.path", "secret.key")
	v.SetDefault("keystore.key_env", "HARVESTD_KEYSTORE_KEY")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("dashboard.enabled", true)
	v.SetDefault("dashboard.listen_addr", ":5000")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Harvest.ThresholdPrice <= 0 {
		return fmt.Errorf("harvest.threshold_price must be greater than zero")
	}
	if c.Harvest.Comparison != ModeAtOrAbove && c.Harvest.Comparison != ModeAtOrBelow {
		return fmt.Errorf("harvest.comparison must be %q or %q", ModeAtOrAbove, ModeAtOrBelow)
	}
	if c.Harvest.MinBalance < 0 {
		return fmt.Errorf("harvest.min_balance cannot be negative")
	}
	if c.Harvest.RetryCeiling <= 0 {
		return fmt.Errorf("harvest.retry_ceiling must be greater than zero")
	}
	if c.Harvest.BackoffBase <= 0 {
		return fmt.Errorf("harvest.backoff_base must be greater than zero")
	}
	if c.Harvest.BackoffCap < c.Harvest.BackoffBase {
		return fmt.Errorf("harvest.backoff_cap cannot be below harvest.backoff_base")
	}
	if c.Oracle.StalenessWindow <= 0 {
		return fmt.Errorf("oracle.staleness_window must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// ThresholdDecimal returns the configured trigger threshold as a decimal.
func (c *Config) ThresholdDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Harvest.ThresholdPrice)
}

// MinBalanceDecimal returns the configured minimum balance as a decimal.
func (c *Config) MinBalanceDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Harvest.MinBalance)
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
