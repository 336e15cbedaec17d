package config

import (
	"fmt"
	"os"
	"strings"

	"stock-datahub/src/helpers"
	"stock-datahub/src/models"
	"stock-datahub/src/utils"

	"gopkg.in/yaml.v3"
)

// DefaultWatchlist is the tracked stock pool used when the config names none.
var DefaultWatchlist = []string{
	"600519.SH", "300750.SZ", "002594.SZ", "601318.SH",
	"000858.SZ", "601888.SH", "000333.SZ", "002769.SZ",
	"002759.SZ", "002856.SZ", "000659.SZ", "002347.SZ",
	"603660.SH", "000523.SZ", "002136.SZ", "301117.SZ",
}

// Environment variables that override the YAML file.
const (
	EnvTushareToken       = "TUSHARE_TOKEN"
	EnvDataSource         = "DATA_SOURCE"
	EnvDBPath             = "DB_PATH"
	EnvDBType             = "DB_TYPE"
	EnvDBConnectionString = "DB_CONNECTION_STRING"
	EnvLogLevel           = "LOG_LEVEL"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig loads the YAML file (optional when configPath is empty), fills
// defaults, applies environment overrides and validates the result.
func NewConfig(configPath string) (*Config, error) {
	return NewConfigWith(configPath, nil)
}

// NewConfigWith is NewConfig with command line overrides applied after the
// environment and before validation.
func NewConfigWith(configPath string, override func(*Config)) (*Config, error) {
	modelConfig := Defaults()

	// 1. Read the YAML file content
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, helpers.NewConfigurationError(fmt.Sprintf("failed to read config file '%s'", configPath), err)
		}

		// 2. Unmarshal data over the defaults
		if err := yaml.Unmarshal(data, &modelConfig); err != nil {
			return nil, helpers.NewConfigurationError("failed to parse config from YAML", err)
		}
	}

	config := &Config{MConfig: &modelConfig}
	config.ApplyEnv(os.LookupEnv)
	if override != nil {
		override(config)
	}
	config.fillDefaults()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// Defaults returns a configuration that only lacks the primary credential.
func Defaults() models.MConfig {
	return models.MConfig{
		Name:     "stock-datahub",
		Host:     "127.0.0.1",
		Port:     8000,
		LogLevel: "INFO",
		GrpcHost: "127.0.0.1",
		GrpcPort: 50051,
		Storage: models.MStorageConfig{
			DBType: "sqlite",
			DBPath: "data/stock_data.db",
			Schema: "stock_datahub",
		},
		Network: models.MNetworkConfig{
			RequestTimeout:     15,
			MaxRetries:         2,
			ConcurrentRequests: 2,
		},
		DataSource: models.MDataSourceConfig{
			Mode:            models.ModePrimaryWithFallback,
			Watchlist:       append([]string(nil), DefaultWatchlist...),
			PriceWindowDays: 90,
			NewsWindowDays:  30,
			Primary: models.MSourceConfig{
				Name:                    "tushare",
				RequestsPerMinute:       200,
				RateLimitBackoffSeconds: 60,
			},
			Secondary: models.MSourceConfig{
				Name:                    "eastmoney",
				RequestsPerMinute:       60,
				RateLimitBackoffSeconds: 30,
			},
		},
		Updater: models.MUpdaterConfig{PauseMillis: 500},
	}
}

// -----------------------------------------------------------------------------

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvTushareToken); ok && v != "" {
		c.DataSource.Primary.APIKey = v
	}
	if v, ok := lookup(EnvDataSource); ok && v != "" {
		c.DataSource.Mode = v
	}
	if v, ok := lookup(EnvDBPath); ok && v != "" {
		c.Storage.DBPath = v
	}
	if v, ok := lookup(EnvDBType); ok && v != "" {
		c.Storage.DBType = v
	}
	if v, ok := lookup(EnvDBConnectionString); ok && v != "" {
		c.Storage.DBConnectionString = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
}

// -----------------------------------------------------------------------------

func (c *Config) fillDefaults() {
	c.DataSource.Mode = NormalizeMode(c.DataSource.Mode)
	for i, s := range c.DataSource.Watchlist {
		c.DataSource.Watchlist[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if c.DataSource.Primary.Name == "" {
		c.DataSource.Primary.Name = "tushare"
	}
	if c.DataSource.Secondary.Name == "" {
		c.DataSource.Secondary.Name = "eastmoney"
	}
}

// NormalizeMode maps accepted aliases onto the canonical mode names.
func NormalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "tushare", "fallback":
		return models.ModePrimaryWithFallback
	case "tushare_only", "primary_only":
		return models.ModePrimaryOnly
	case "akshare", "eastmoney", "secondary_only":
		return models.ModeSecondaryOnly
	}
	return mode
}

// UsesPrimary reports whether the primary provider is configured.
func (c *Config) UsesPrimary() bool {
	return c.DataSource.Mode != models.ModeSecondaryOnly
}

// UsesSecondary reports whether the secondary provider may be called.
func (c *Config) UsesSecondary() bool {
	return c.DataSource.Mode != models.ModePrimaryOnly
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return helpers.NewConfigurationError(fmt.Sprintf(format, args...), nil)
	}

	// Validate App configuration (Flattened)
	if c.Name == "" {
		return invalid("application name cannot be empty")
	}

	// Validate Server configuration (Flattened)
	if c.Host == "" {
		return invalid("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return invalid("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && (c.GrpcPort <= 1024 || c.GrpcPort > 65535) {
		return invalid("invalid grpc port number: %d", c.GrpcPort)
	}

	// Validate Storage configuration
	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return invalid("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return invalid("database connection string cannot be empty for postgres")
		}
		if c.Storage.Schema == "" {
			return invalid("database schema cannot be empty for postgres")
		}
	default:
		return invalid("unsupported database type: %q", c.Storage.DBType)
	}

	// Validate Network configuration
	if c.Network.RequestTimeout <= 0 {
		return invalid("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return invalid("max retries cannot be negative")
	}
	if c.Network.ConcurrentRequests <= 0 {
		return invalid("concurrent requests must be greater than 0")
	}

	// Validate DataSource configuration
	switch c.DataSource.Mode {
	case models.ModePrimaryWithFallback, models.ModePrimaryOnly, models.ModeSecondaryOnly:
	default:
		return invalid("unsupported data source mode: %q", c.DataSource.Mode)
	}
	if c.UsesPrimary() && c.DataSource.Primary.APIKey == "" {
		return invalid("primary provider %q requires a token (set %s)", c.DataSource.Primary.Name, EnvTushareToken)
	}
	if c.DataSource.PriceWindowDays <= 0 {
		return invalid("price window days must be greater than 0")
	}
	if c.DataSource.NewsWindowDays <= 0 {
		return invalid("news window days must be greater than 0")
	}
	if len(c.DataSource.Watchlist) == 0 {
		return invalid("watchlist must contain at least one symbol")
	}
	for i, sym := range c.DataSource.Watchlist {
		if !utils.IsValidSymbol(sym) {
			return invalid("watchlist entry %d (%q) is not an exchange-qualified symbol", i, sym)
		}
	}
	if c.Updater.PauseMillis < 0 {
		return invalid("updater pause cannot be negative")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0600: the file may carry the provider token)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
