package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/rail-service/payment_listener/internal/infrastructure/explorer"
)

// Config holds all configuration for the application
type Config struct {
	Environment    string               `mapstructure:"environment" validate:"required,oneof=development test staging production"`
	LogLevel       string               `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Payment        PaymentConfig        `mapstructure:"payment"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Tron           ChainConfig          `mapstructure:"tron"`
	BSC            ChainConfig          `mapstructure:"bsc"`
	Notification   NotificationConfig   `mapstructure:"notification"`
	Email          EmailConfig          `mapstructure:"email"`
	Security       SecurityConfig       `mapstructure:"security"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port" validate:"min=1,max=65535"`
	Host            string `mapstructure:"host"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min" validate:"min=0"`
	AdminToken      string `mapstructure:"admin_token"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	// QueryTimeout bounds every datastore call, in seconds
	QueryTimeout   int    `mapstructure:"query_timeout" validate:"min=1"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	// ProcessedTTL is how long a processed transaction hash stays cached
	ProcessedTTL time.Duration `mapstructure:"processed_ttl"`
}

// PaymentConfig describes the purchasable tiers and the amount offset
type PaymentConfig struct {
	Tiers               []string `mapstructure:"tiers" validate:"min=1,dive,required"`
	OffsetWidth         string   `mapstructure:"offset_width" validate:"required"`
	Precision           int32    `mapstructure:"precision" validate:"min=1,max=18"`
	MaxCollisionRetries int      `mapstructure:"max_collision_retries" validate:"min=1"`
}

// ReconciliationConfig controls the matching engine and its schedule
type ReconciliationConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Interval     time.Duration `mapstructure:"interval" validate:"min=1s"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout"`
	// CallTimeout is one chain's budget per cycle, split across its endpoints
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"min=1s"`
	// RequestTimeout bounds one explorer HTTP attempt
	RequestTimeout   time.Duration `mapstructure:"request_timeout" validate:"min=100ms,ltefield=CallTimeout"`
	Tolerance        string        `mapstructure:"tolerance" validate:"required"`
	TimestampMargin  time.Duration `mapstructure:"timestamp_margin"`
	ExpirationWindow time.Duration `mapstructure:"expiration_window" validate:"min=1m"`
}

// ChainConfig is one chain's treasury, token and explorer fallback chain
type ChainConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	Treasury      string           `mapstructure:"treasury"`
	TokenContract string           `mapstructure:"token_contract"`
	TokenDecimals int32            `mapstructure:"token_decimals" validate:"min=0,max=36"`
	Endpoints     []EndpointConfig `mapstructure:"endpoints" validate:"dive"`
}

type EndpointConfig struct {
	Name              string  `mapstructure:"name" validate:"required"`
	Shape             string  `mapstructure:"shape" validate:"required,oneof=trongrid_trc20 tronscan_transfers trongrid_raw etherscan_tokentx"`
	BaseURL           string  `mapstructure:"base_url" validate:"required,url"`
	APIKey            string  `mapstructure:"api_key"`
	ChainID           int     `mapstructure:"chain_id"`
	Limit             int     `mapstructure:"limit"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// NotificationConfig selects the sinks that receive completion and alert events
type NotificationConfig struct {
	Sinks         []string      `mapstructure:"sinks" validate:"dive,oneof=log webhook sns email"`
	Timeout       time.Duration `mapstructure:"timeout"`
	WebhookURL    string        `mapstructure:"webhook_url"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Region        string        `mapstructure:"region"`
	TopicARN      string        `mapstructure:"topic_arn"`
}

type EmailConfig struct {
	Provider        string   `mapstructure:"provider"`
	APIKey          string   `mapstructure:"api_key"`
	FromEmail       string   `mapstructure:"from_email"`
	FromName        string   `mapstructure:"from_name"`
	AlertRecipients []string `mapstructure:"alert_recipients" validate:"dive,email"`
}

type SecurityConfig struct {
	SecretsProvider  string        `mapstructure:"secrets_provider" validate:"oneof=env aws_secrets_manager"`
	AWSSecretsRegion string        `mapstructure:"aws_secrets_region"`
	AWSSecretsPrefix string        `mapstructure:"aws_secrets_prefix"`
	SecretsCacheTTL  time.Duration `mapstructure:"secrets_cache_ttl"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
	Insecure     bool    `mapstructure:"insecure"`
}

// ToleranceDecimal returns the parsed match tolerance
func (c ReconciliationConfig) ToleranceDecimal() decimal.Decimal {
	return decimal.RequireFromString(c.Tolerance)
}

// TierAmounts returns the parsed tier prices
func (c PaymentConfig) TierAmounts() []decimal.Decimal {
	tiers := make([]decimal.Decimal, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		tiers = append(tiers, decimal.RequireFromString(t))
	}
	return tiers
}

// QueryTimeoutDuration converts the configured seconds
func (c DatabaseConfig) QueryTimeoutDuration() time.Duration {
	return time.Duration(c.QueryTimeout) * time.Second
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	applyAPIKeysFromEnv(&config)
	if err := resolveSecrets(&config); err != nil {
		return nil, err
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.rate_limit_per_min", 120)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "payment_listener")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.query_timeout", 10)
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.processed_ttl", "168h")

	v.SetDefault("payment.tiers", []string{"15.00"})
	v.SetDefault("payment.offset_width", "0.01")
	v.SetDefault("payment.precision", 6)
	v.SetDefault("payment.max_collision_retries", 5)

	v.SetDefault("reconciliation.enabled", true)
	v.SetDefault("reconciliation.initial_delay", "3s")
	v.SetDefault("reconciliation.interval", "15s")
	v.SetDefault("reconciliation.cycle_timeout", "60s")
	v.SetDefault("reconciliation.call_timeout", "15s")
	v.SetDefault("reconciliation.request_timeout", "4s")
	v.SetDefault("reconciliation.tolerance", "0.01")
	v.SetDefault("reconciliation.timestamp_margin", "5m")
	v.SetDefault("reconciliation.expiration_window", "24h")

	v.SetDefault("tron.enabled", true)
	v.SetDefault("tron.token_contract", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t")
	v.SetDefault("tron.token_decimals", 6)
	v.SetDefault("tron.endpoints", []map[string]interface{}{
		{"name": "trongrid", "shape": "trongrid_trc20", "base_url": "https://api.trongrid.io", "limit": 50, "requests_per_second": 5},
		{"name": "tronscan", "shape": "tronscan_transfers", "base_url": "https://apilist.tronscanapi.com", "limit": 50, "requests_per_second": 5},
		{"name": "trongrid-raw", "shape": "trongrid_raw", "base_url": "https://api.trongrid.io", "limit": 50, "requests_per_second": 5},
	})

	v.SetDefault("bsc.enabled", true)
	v.SetDefault("bsc.token_contract", "0x55d398326f99059fF775485246999027B3197955")
	v.SetDefault("bsc.token_decimals", 18)
	v.SetDefault("bsc.endpoints", []map[string]interface{}{
		{"name": "bscscan", "shape": "etherscan_tokentx", "base_url": "https://api.bscscan.com/api", "limit": 50, "requests_per_second": 5},
		{"name": "etherscan-v2", "shape": "etherscan_tokentx", "base_url": "https://api.etherscan.io/v2/api", "chain_id": 56, "limit": 50, "requests_per_second": 5},
	})

	v.SetDefault("notification.sinks", []string{"log"})
	v.SetDefault("notification.timeout", "10s")
	v.SetDefault("notification.region", "us-east-1")

	v.SetDefault("email.provider", "sendgrid")
	v.SetDefault("email.from_name", "Payment Listener")

	v.SetDefault("security.secrets_provider", "env")
	v.SetDefault("security.aws_secrets_region", "us-east-1")
	v.SetDefault("security.aws_secrets_prefix", "payment-listener/")
	v.SetDefault("security.secrets_cache_ttl", "5m")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.collector_url", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
}

func overrideFromEnv(v *viper.Viper) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("server.port", p)
		}
	}

	if token := os.Getenv("ADMIN_TOKEN"); token != "" {
		v.Set("server.admin_token", token)
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		v.Set("database.url", dbURL)
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		v.Set("redis.host", host)
		v.Set("redis.enabled", true)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		v.Set("redis.password", password)
	}

	if treasury := os.Getenv("TRON_TREASURY_ADDRESS"); treasury != "" {
		v.Set("tron.treasury", treasury)
	}
	if treasury := os.Getenv("BSC_TREASURY_ADDRESS"); treasury != "" {
		v.Set("bsc.treasury", treasury)
	}

	if webhookURL := os.Getenv("NOTIFICATION_WEBHOOK_URL"); webhookURL != "" {
		v.Set("notification.webhook_url", webhookURL)
	}
	if webhookSecret := os.Getenv("NOTIFICATION_WEBHOOK_SECRET"); webhookSecret != "" {
		v.Set("notification.webhook_secret", webhookSecret)
	}
	if topicARN := os.Getenv("NOTIFICATION_TOPIC_ARN"); topicARN != "" {
		v.Set("notification.topic_arn", topicARN)
	}
	if sinks := os.Getenv("NOTIFICATION_SINKS"); sinks != "" {
		v.Set("notification.sinks", splitList(sinks))
	}

	if sendgridKey := os.Getenv("SENDGRID_API_KEY"); sendgridKey != "" {
		v.Set("email.api_key", sendgridKey)
	}
	if recipients := os.Getenv("ALERT_EMAIL_RECIPIENTS"); recipients != "" {
		v.Set("email.alert_recipients", splitList(recipients))
	}
}

// applyAPIKeysFromEnv fills explorer keys from the environment; viper cannot address slice elements by env name
func applyAPIKeysFromEnv(c *Config) {
	for _, chain := range []*ChainConfig{&c.Tron, &c.BSC} {
		for i := range chain.Endpoints {
			ep := &chain.Endpoints[i]
			if ep.APIKey == "" {
				ep.APIKey = os.Getenv(apiKeySecretNames[explorer.Shape(ep.Shape)])
			}
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
