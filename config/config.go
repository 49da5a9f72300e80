package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	APIKey    APIKeyConfig    `mapstructure:"apikey"`
	Paystack  PaystackConfig  `mapstructure:"paystack"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	DBName           string        `mapstructure:"dbname"`
	SSLMode          string        `mapstructure:"sslmode"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectRetries   int           `mapstructure:"connect_retries"` // extra pings before NewPool gives up
	ConnectBackoff   time.Duration `mapstructure:"connect_backoff"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"` // per-transaction wait on row locks
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// APIKeyConfig controls service key issuance and validation caching.
type APIKeyConfig struct {
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	MaxActive     int           `mapstructure:"max_active"`
	DefaultExpiry string        `mapstructure:"default_expiry"` // duration spec, e.g. "1Y"
}

// PaystackConfig configures the payment gateway client.
type PaystackConfig struct {
	SecretKey        string        `mapstructure:"secret_key"`
	BaseURL          string        `mapstructure:"base_url"`
	CallbackURL      string        `mapstructure:"callback_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

type OAuthConfig struct {
	GoogleClientID     string `mapstructure:"google_client_id"`
	GoogleClientSecret string `mapstructure:"google_client_secret"`
	GoogleRedirectURL  string `mapstructure:"google_redirect_url"`
}

// Enabled reports whether Google sign-in is configured.
func (o OAuthConfig) Enabled() bool {
	return o.GoogleClientID != "" && o.GoogleClientSecret != ""
}

type AuthConfig struct {
	ResetTokenTTL           time.Duration `mapstructure:"reset_token_ttl"`
	ExposeResetToken        bool          `mapstructure:"expose_reset_token"`
	RevocationPurgeInterval time.Duration `mapstructure:"revocation_purge_interval"`
	Argon2                  Argon2Config  `mapstructure:"argon2"`
}

// Argon2Config tunes password hashing. Existing hashes keep verifying after
// a change because each one records its own parameters.
type Argon2Config struct {
	Time     uint32 `mapstructure:"time"`
	MemoryKB uint32 `mapstructure:"memory_kb"`
	Threads  uint8  `mapstructure:"threads"`
}

type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: WLT_.
// Nested keys use underscore: WLT_DATABASE_HOST, WLT_PAYSTACK_SECRET_KEY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "wallet_service")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.connect_retries", 5)
	v.SetDefault("database.connect_backoff", "500ms")
	v.SetDefault("database.statement_timeout", "30s")
	v.SetDefault("database.lock_timeout", "5s")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "30m")
	v.SetDefault("jwt.issuer", "wallet-service")
	v.SetDefault("apikey.cache_ttl", "5m")
	v.SetDefault("apikey.max_active", 5)
	v.SetDefault("apikey.default_expiry", "1Y")
	v.SetDefault("paystack.secret_key", "")
	v.SetDefault("paystack.base_url", "https://api.paystack.co")
	v.SetDefault("paystack.callback_url", "")
	v.SetDefault("paystack.timeout", "30s")
	v.SetDefault("paystack.breaker_threshold", 5)
	v.SetDefault("paystack.breaker_timeout", "30s")
	v.SetDefault("oauth.google_client_id", "")
	v.SetDefault("oauth.google_client_secret", "")
	v.SetDefault("oauth.google_redirect_url", "http://localhost:8080/api/v1/auth/google/callback")
	v.SetDefault("auth.reset_token_ttl", "15m")
	v.SetDefault("auth.expose_reset_token", false)
	v.SetDefault("auth.revocation_purge_interval", "1h")
	v.SetDefault("auth.argon2.time", 1)
	v.SetDefault("auth.argon2.memory_kb", 64*1024)
	v.SetDefault("auth.argon2.threads", 4)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// WLT_DATABASE_HOST -> database.host
	v.SetEnvPrefix("WLT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// env vars alone are enough to run
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
