// Package config reads service settings from the environment and optional env files.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config groups every setting the service reads.
type Config struct {
	App        AppConfig
	DB         DBConfig
	JWT        JWTConfig
	HTTP       HTTPConfig
	Extraction ExtractionConfig
	Kafka      KafkaConfig
	Redis      RedisConfig
	Seed       SeedConfig
}

// AppConfig holds general settings.
type AppConfig struct {
	Env      string // development, staging, production
	Name     string
	LogLevel string
}

// DBConfig holds PostgreSQL settings. DatabaseURL, when set, wins over the discrete fields.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
}

// ConnectionString returns DatabaseURL if set, otherwise the DSN built from the fields.
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DSN()
}

// DSN builds a postgres URL, escaping credentials.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// JWTConfig holds token settings.
type JWTConfig struct {
	Secret           string
	ExpirationMinute int
	RefreshDays      int
}

// AccessTTL is the lifetime of an access token.
func (c JWTConfig) AccessTTL() time.Duration {
	return time.Duration(c.ExpirationMinute) * time.Minute
}

// RefreshTTL is the lifetime of a refresh token.
func (c JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshDays) * 24 * time.Hour
}

// HTTPConfig holds listener settings.
type HTTPConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

// Addr returns host:port.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ExtractionConfig configures the photo extraction client. An empty APIKey disables it.
type ExtractionConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// KafkaConfig configures the optional event stream. No brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether events should be written to Kafka.
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// RedisConfig configures the optional permission cache. An empty Addr keeps the cache in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// Enabled reports whether Redis should back the permission cache.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// SeedConfig holds the first administrator created by the seed command.
type SeedConfig struct {
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// Load reads the configuration. configs/.env is loaded into the process environment first;
// real environment variables take precedence over it and over .env/config.env files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Env:      getString(v, "APP_ENV", "development"),
			Name:     getString(v, "APP_NAME", "snapclaim"),
			LogLevel: getString(v, "LOG_LEVEL", "info"),
		},
		DB: DBConfig{
			DatabaseURL: getString(v, "DATABASE_URL", ""),
			Host:        getString(v, "DB_HOST", "localhost"),
			Port:        getInt(v, "DB_PORT", 5432),
			User:        getString(v, "DB_USER", "postgres"),
			Password:    getString(v, "DB_PASSWORD", "postgres"),
			DBName:      getString(v, "DB_NAME", "snapclaim"),
			SSLMode:     getString(v, "DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:           getString(v, "JWT_SECRET", ""),
			ExpirationMinute: getInt(v, "JWT_EXPIRATION_MINUTES", 15),
			RefreshDays:      getInt(v, "REFRESH_TOKEN_DAYS", 7),
		},
		HTTP: HTTPConfig{
			Host:        getString(v, "HTTP_HOST", "0.0.0.0"),
			Port:        getInt(v, "HTTP_PORT", 8080),
			CORSOrigins: splitList(getString(v, "CORS_ORIGINS", "http://localhost:5173")),
		},
		Extraction: ExtractionConfig{
			APIKey:  getString(v, "ANTHROPIC_API_KEY", ""),
			BaseURL: getString(v, "ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			Model:   getString(v, "ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			Timeout: time.Duration(getInt(v, "EXTRACTION_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getString(v, "KAFKA_BROKERS", "")),
			Topic:   getString(v, "KAFKA_TOPIC", "snapclaim.events"),
		},
		Redis: RedisConfig{
			Addr:     getString(v, "REDIS_ADDR", ""),
			Password: getString(v, "REDIS_PASSWORD", ""),
			DB:       getInt(v, "REDIS_DB", 0),
			CacheTTL: time.Duration(getInt(v, "PERMISSION_CACHE_TTL_SECONDS", 300)) * time.Second,
		},
		Seed: SeedConfig{
			AdminUsername: getString(v, "SEED_ADMIN_USERNAME", "admin"),
			AdminEmail:    getString(v, "SEED_ADMIN_EMAIL", "admin@snapclaim.local"),
			AdminPassword: getString(v, "SEED_ADMIN_PASSWORD", ""),
		},
	}

	if cfg.JWT.Secret == "" {
		if cfg.App.Env == "production" {
			return nil, fmt.Errorf("JWT_SECRET must be set in production")
		}
		cfg.JWT.Secret = "snapclaim-dev-secret"
	}
	if cfg.HTTP.Port <= 0 {
		return nil, fmt.Errorf("invalid HTTP_PORT %d", cfg.HTTP.Port)
	}
	return cfg, nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if !v.IsSet(key) {
		return def
	}
	if s, ok := v.Get(key).(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return def
		}
		return n
	}
	return v.GetInt(key)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
