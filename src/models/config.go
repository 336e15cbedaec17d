package models

// MConfig Structure
type MConfig struct {
	Name       string            `yaml:"name"`
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port"`
	LogLevel   string            `yaml:"log_level"`
	GrpcHost   string            `yaml:"grpc_host"`
	GrpcPort   int               `yaml:"grpc_port"`
	Storage    MStorageConfig    `yaml:"storage"`
	Network    MNetworkConfig    `yaml:"network"`
	DataSource MDataSourceConfig `yaml:"data_source"`
	Updater    MUpdaterConfig    `yaml:"updater"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	Schema             string `yaml:"schema"` // postgres only
}

type MNetworkConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Proxies            []string `yaml:"proxies"`
	RequestTimeout     int      `yaml:"timeout"`
	MaxRetries         int      `yaml:"retries"`
	ConcurrentRequests int      `yaml:"concurrent_requests"`
	UserAgent          string   `yaml:"user_agent"`
}

// Data source modes.
const (
	ModePrimaryWithFallback = "tushare"
	ModePrimaryOnly         = "tushare_only"
	ModeSecondaryOnly       = "akshare"
)

type MDataSourceConfig struct {
	Mode            string        `yaml:"mode"`
	Watchlist       []string      `yaml:"watchlist"`
	PriceWindowDays int           `yaml:"price_window_days"`
	NewsWindowDays  int           `yaml:"news_window_days"`
	Primary         MSourceConfig `yaml:"primary"`
	Secondary       MSourceConfig `yaml:"secondary"`
}

type MSourceConfig struct {
	Name                    string `yaml:"name"`
	Endpoint                string `yaml:"endpoint"` // Optional, adapter default otherwise
	APIKey                  string `yaml:"api_key"`
	RequestsPerMinute       int    `yaml:"requests_per_minute"`
	RateLimitBackoffSeconds int    `yaml:"rate_limit_backoff_seconds"`
}

type MUpdaterConfig struct {
	PauseMillis int `yaml:"pause_millis"` // between symbols of one worker
}
