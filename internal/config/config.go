package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/db"
)

const MinSigningKeyLength = 16

type Config struct {
	Port          int
	StoreURI      string
	SigningKey    string
	CredentialTTL time.Duration
	ClientOrigins []string
	AppEnv        string
	LogLevel      string
	RedisURL      string
	EventsChannel string
	AlertSchedule string
	WriteTimeout  time.Duration
	ReadTimeout   time.Duration
	Metrics       bool
	Pool          db.PoolOptions
}

func (c Config) MemoryStore() bool {
	return strings.HasPrefix(c.StoreURI, "memory://")
}

func (c Config) Development() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}

// Load reads .env from the working directory when present, then the
// environment. Real environment variables win over .env entries.
func Load() (Config, error) {
	envPath := filepath.Join(".", ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envPath, err)
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("CREDENTIAL_TTL", "12h")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("EVENTS_CHANNEL", "stockflow:events")
	v.SetDefault("ALERT_SCHEDULE", "@every 5m")
	v.SetDefault("WRITE_TIMEOUT", "10s")
	v.SetDefault("READ_TIMEOUT", "30s")
	v.SetDefault("METRICS_ENABLED", true)
	pool := db.DefaultPoolOptions()
	v.SetDefault("DB_MAX_CONNS", pool.MaxConns)
	v.SetDefault("DB_MIN_CONNS", pool.MinConns)
	v.SetDefault("DB_MAX_CONN_IDLE", pool.MaxConnIdleTime.String())
	v.SetDefault("DB_HEALTH_CHECK_PERIOD", pool.HealthCheckPeriod.String())
	return v
}

// FromViper validates the recognised keys of v.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:          v.GetInt("SERVER_PORT"),
		StoreURI:      strings.TrimSpace(v.GetString("STORE_CONNECTION_URI")),
		SigningKey:    v.GetString("CREDENTIAL_SIGNING_KEY"),
		CredentialTTL: v.GetDuration("CREDENTIAL_TTL"),
		ClientOrigins: splitList(v.GetString("CLIENT_ORIGIN")),
		AppEnv:        strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		LogLevel:      strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		RedisURL:      strings.TrimSpace(v.GetString("REDIS_URL")),
		EventsChannel: v.GetString("EVENTS_CHANNEL"),
		AlertSchedule: strings.TrimSpace(v.GetString("ALERT_SCHEDULE")),
		WriteTimeout:  v.GetDuration("WRITE_TIMEOUT"),
		ReadTimeout:   v.GetDuration("READ_TIMEOUT"),
		Metrics:       v.GetBool("METRICS_ENABLED"),
		Pool: db.PoolOptions{
			MaxConns:          v.GetInt32("DB_MAX_CONNS"),
			MinConns:          v.GetInt32("DB_MIN_CONNS"),
			MaxConnIdleTime:   v.GetDuration("DB_MAX_CONN_IDLE"),
			HealthCheckPeriod: v.GetDuration("DB_HEALTH_CHECK_PERIOD"),
		},
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid SERVER_PORT: %d", cfg.Port)
	}
	if cfg.StoreURI == "" {
		return Config{}, errors.New("STORE_CONNECTION_URI is required (environment variable or .env)")
	}
	if !cfg.MemoryStore() && !strings.HasPrefix(cfg.StoreURI, "postgres://") && !strings.HasPrefix(cfg.StoreURI, "postgresql://") {
		return Config{}, fmt.Errorf("unsupported STORE_CONNECTION_URI scheme: %q", schemeOf(cfg.StoreURI))
	}
	if len(cfg.SigningKey) < MinSigningKeyLength {
		return Config{}, fmt.Errorf("CREDENTIAL_SIGNING_KEY is required and must be at least %d bytes", MinSigningKeyLength)
	}
	if cfg.CredentialTTL <= 0 {
		return Config{}, errors.New("CREDENTIAL_TTL must be a positive duration")
	}
	if cfg.WriteTimeout <= 0 || cfg.ReadTimeout <= 0 {
		return Config{}, errors.New("WRITE_TIMEOUT and READ_TIMEOUT must be positive durations")
	}
	if cfg.Pool.MaxConns <= 0 || cfg.Pool.MinConns < 0 || cfg.Pool.MinConns > cfg.Pool.MaxConns {
		return Config{}, fmt.Errorf("invalid pool size: DB_MIN_CONNS=%d DB_MAX_CONNS=%d", cfg.Pool.MinConns, cfg.Pool.MaxConns)
	}
	if cfg.Pool.MaxConnIdleTime <= 0 || cfg.Pool.HealthCheckPeriod <= 0 {
		return Config{}, errors.New("DB_MAX_CONN_IDLE and DB_HEALTH_CHECK_PERIOD must be positive durations")
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func schemeOf(uri string) string {
	if i := strings.Index(uri, "://"); i > 0 {
		return uri[:i]
	}
	return uri
}
