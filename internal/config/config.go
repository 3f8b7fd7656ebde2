// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported store backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	DBBackend string `mapstructure:"DB_BACKEND"`
	DBURL     string `mapstructure:"DB_URL"`
	HTTPAddr  string `mapstructure:"HTTP_ADDR"`

	GithubToken      string   `mapstructure:"GITHUB_TOKEN"`
	GithubBaseURL    string   `mapstructure:"GITHUB_BASE_URL"`
	BitbucketToken   string   `mapstructure:"BITBUCKET_TOKEN"`
	BitbucketBaseURL string   `mapstructure:"BITBUCKET_BASE_URL"`
	ReposToSync      []string `mapstructure:"REPOS_TO_SYNC"`

	Sync     SyncConfig     `mapstructure:",squash"`
	Provider ProviderConfig `mapstructure:",squash"`
	Metrics  MetricsConfig  `mapstructure:",squash"`
}

// SyncConfig controls the sync engine.
type SyncConfig struct {
	Interval    time.Duration `mapstructure:"SYNC_INTERVAL"`
	Concurrency int           `mapstructure:"SYNC_CONCURRENCY"`
	PageSize    int           `mapstructure:"SYNC_PAGE_SIZE"`
	MaxCommits  int           `mapstructure:"SYNC_MAX_COMMITS"`
	Lookback    time.Duration `mapstructure:"SYNC_LOOKBACK"`
}

// ProviderConfig controls provider HTTP behaviour.
type ProviderConfig struct {
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RetryMaxAttempts     int           `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryInitialInterval time.Duration `mapstructure:"RETRY_INITIAL_INTERVAL"`
	RetryMaxInterval     time.Duration `mapstructure:"RETRY_MAX_INTERVAL"`
	RateLimitMaxWait     time.Duration `mapstructure:"RATE_LIMIT_MAX_WAIT"`
}

// MetricsConfig holds the policy thresholds of the metrics engine.
type MetricsConfig struct {
	BusFactorMajority     float64 `mapstructure:"BUS_FACTOR_MAJORITY"`
	SingleOwnerThreshold  float64 `mapstructure:"SINGLE_OWNER_THRESHOLD"`
	RoleCoreShare         float64 `mapstructure:"ROLE_CORE_SHARE"`
	RoleRegularShare      float64 `mapstructure:"ROLE_REGULAR_SHARE"`
	RoleCoreTenureDays    int     `mapstructure:"ROLE_CORE_TENURE_DAYS"`
	HighRiskFileLimit     int     `mapstructure:"HIGH_RISK_FILE_LIMIT"`
	HotspotLimit          int     `mapstructure:"HOTSPOT_LIMIT"`
	TopContributorLimit   int     `mapstructure:"TOP_CONTRIBUTOR_LIMIT"`
	ChurnContributorLimit int     `mapstructure:"CHURN_CONTRIBUTOR_LIMIT"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_BACKEND", BackendPostgres)
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("REPOS_TO_SYNC", []string{})
	// Env-only keys need a registered default so Unmarshal sees them.
	for _, key := range []string{"DB_URL", "GITHUB_TOKEN", "GITHUB_BASE_URL", "BITBUCKET_TOKEN", "BITBUCKET_BASE_URL"} {
		v.SetDefault(key, "")
	}

	v.SetDefault("SYNC_INTERVAL", "1h")
	v.SetDefault("SYNC_CONCURRENCY", 5)
	v.SetDefault("SYNC_PAGE_SIZE", 50)
	v.SetDefault("SYNC_MAX_COMMITS", 0)
	v.SetDefault("SYNC_LOOKBACK", "168h")

	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RETRY_MAX_ATTEMPTS", 5)
	v.SetDefault("RETRY_INITIAL_INTERVAL", "1s")
	v.SetDefault("RETRY_MAX_INTERVAL", "30s")
	v.SetDefault("RATE_LIMIT_MAX_WAIT", "2m")

	v.SetDefault("BUS_FACTOR_MAJORITY", 0.5)
	v.SetDefault("SINGLE_OWNER_THRESHOLD", 0.8)
	v.SetDefault("ROLE_CORE_SHARE", 30.0)
	v.SetDefault("ROLE_REGULAR_SHARE", 10.0)
	v.SetDefault("ROLE_CORE_TENURE_DAYS", 365)
	v.SetDefault("HIGH_RISK_FILE_LIMIT", 0)
	v.SetDefault("HOTSPOT_LIMIT", 20)
	v.SetDefault("TOP_CONTRIBUTOR_LIMIT", 10)
	v.SetDefault("CHURN_CONTRIBUTOR_LIMIT", 30)
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	return Load(viper.New())
}

// Load reads configuration through v, which may already carry bound CLI flags.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	switch c.DBBackend {
	case BackendPostgres, BackendSQLite, BackendMySQL:
	default:
		return fmt.Errorf("DB_BACKEND must be one of %s, %s, %s (got %q)", BackendPostgres, BackendSQLite, BackendMySQL, c.DBBackend)
	}
	if c.DBURL == "" {
		return errors.New("DB_URL is a required configuration field")
	}
	if c.Sync.Concurrency < 1 {
		return errors.New("SYNC_CONCURRENCY must be at least 1")
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 100 {
		return errors.New("SYNC_PAGE_SIZE must be between 1 and 100")
	}
	if c.Sync.MaxCommits < 0 {
		return errors.New("SYNC_MAX_COMMITS must not be negative")
	}
	if c.Sync.Lookback < 0 {
		return errors.New("SYNC_LOOKBACK must not be negative")
	}
	if c.Provider.RetryMaxAttempts < 1 {
		return errors.New("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Metrics.BusFactorMajority <= 0 || c.Metrics.BusFactorMajority >= 1 {
		return errors.New("BUS_FACTOR_MAJORITY must be between 0 and 1 (exclusive)")
	}
	if c.Metrics.SingleOwnerThreshold <= 0 || c.Metrics.SingleOwnerThreshold > 1 {
		return errors.New("SINGLE_OWNER_THRESHOLD must be in (0, 1]")
	}
	if c.Metrics.RoleRegularShare > c.Metrics.RoleCoreShare {
		return errors.New("ROLE_REGULAR_SHARE must not exceed ROLE_CORE_SHARE")
	}
	return nil
}
