package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the gateway service.
type Config struct {
	Server        ServerConfig          `mapstructure:"server"`
	Database      DatabaseConfig        `mapstructure:"database"`
	Redis         RedisConfig           `mapstructure:"redis"`
	Auth          AuthConfig            `mapstructure:"auth"`
	RateLimits    RateLimitConfig       `mapstructure:"rate_limits"`
	Quotas        map[string]TierConfig `mapstructure:"quotas"`
	Sync          SyncConfig            `mapstructure:"sync"`
	Reporting     ReportingConfig       `mapstructure:"reporting"`
	Providers     ProviderConfig        `mapstructure:"providers"`
	Observability ObservabilityConfig   `mapstructure:"observability"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ProviderTimeout       time.Duration `mapstructure:"provider_timeout"`
	StreamIdleTimeout     time.Duration `mapstructure:"stream_idle_timeout"`
	ReadHeaderTimeout     time.Duration `mapstructure:"read_header_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type RateLimitConfig struct {
	DefaultRequestsPerMinute int `mapstructure:"default_requests_per_minute"`
	DefaultParallelRequests  int `mapstructure:"default_parallel_requests"`
}

// TierConfig holds the per-tier usage ceilings. A zero value means
// that dimension is not enforced for the tier.
type TierConfig struct {
	DailyTokens    int64   `mapstructure:"daily_tokens"`
	MonthlyTokens  int64   `mapstructure:"monthly_tokens"`
	DailyCostUSD   float64 `mapstructure:"daily_cost_usd"`
	MonthlyCostUSD float64 `mapstructure:"monthly_cost_usd"`
}

type SyncConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	OnStartup bool          `mapstructure:"on_startup"`
}

type ReportingConfig struct {
	Timezone string `mapstructure:"timezone"`
}

type ProviderConfig struct {
	BedrockDefaultMaxTokens int32  `mapstructure:"bedrock_default_max_tokens"`
	AnthropicVersion        string `mapstructure:"anthropic_version"`
	AWSRegion               string `mapstructure:"aws_region"`
	AWSProfile              string `mapstructure:"aws_profile"`
}

type ObservabilityConfig struct {
	EnableMetrics bool   `mapstructure:"enable_metrics"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("RELAY_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		// Allow standard lookup locations when no explicit file is provided.
		v.SetConfigName("gateway")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set.
func (c *Config) Validate() error {
	var missing []string

	if c.Database.URL == "" {
		missing = append(missing, "RELAY_DATABASE_URL")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "RELAY_REDIS_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "RELAY_AUTH_JWT_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}
	if c.Server.StreamIdleTimeout <= 0 {
		return fmt.Errorf("server.stream_idle_timeout must be > 0")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be > 0")
	}
	if c.RateLimits.DefaultRequestsPerMinute < 0 {
		return fmt.Errorf("rate_limits.default_requests_per_minute must be >= 0")
	}
	if c.RateLimits.DefaultParallelRequests < 0 {
		return fmt.Errorf("rate_limits.default_parallel_requests must be >= 0")
	}

	for name, tier := range c.Quotas {
		if tier.DailyTokens < 0 || tier.MonthlyTokens < 0 {
			return fmt.Errorf("quotas.%s token limits must be >= 0", name)
		}
		if tier.DailyCostUSD < 0 || tier.MonthlyCostUSD < 0 {
			return fmt.Errorf("quotas.%s cost limits must be >= 0", name)
		}
	}

	reportingTZ := strings.TrimSpace(c.Reporting.Timezone)
	if reportingTZ == "" {
		reportingTZ = "UTC"
	}
	if _, err := time.LoadLocation(reportingTZ); err != nil {
		return fmt.Errorf("invalid reporting.timezone: %w", err)
	}
	c.Reporting.Timezone = reportingTZ

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 20)
	v.SetDefault("server.provider_timeout", "280s")
	v.SetDefault("server.stream_idle_timeout", "60s")
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("auth.access_token_ttl", "24h")

	v.SetDefault("rate_limits.default_requests_per_minute", 600)
	v.SetDefault("rate_limits.default_parallel_requests", 20)

	v.SetDefault("quotas.default.daily_tokens", 1_000_000)
	v.SetDefault("quotas.default.monthly_tokens", 20_000_000)
	v.SetDefault("quotas.default.daily_cost_usd", 10.0)
	v.SetDefault("quotas.default.monthly_cost_usd", 100.0)

	v.SetDefault("sync.interval", "24h")
	v.SetDefault("sync.on_startup", true)

	v.SetDefault("reporting.timezone", "UTC")

	v.SetDefault("providers.bedrock_default_max_tokens", 4096)
	v.SetDefault("providers.anthropic_version", "bedrock-2023-05-31")

	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
