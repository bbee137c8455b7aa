// Package config centralizes all application configuration into typed structs.
//
// Go Learning Note — Configuration Management:
// Defaults live in NewDefaultConfig as struct literals. Load() layers the
// process environment on top, after reading an optional .env file with
// "github.com/joho/godotenv". Nothing outside this package calls os.Getenv
// for application settings.
//
// Using typed structs (not raw strings/maps) gives you compile-time safety
// and IDE autocompletion. This is strongly preferred in Go over untyped config.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DevJWTSecret is the signing key used when JWT_SECRET is unset. Validate
// refuses it in production.
const DevJWTSecret = "dev-secret-change-me"

// Config is the top-level configuration container. Grouping related settings
// into sub-structs keeps the config organized as the application grows.
type Config struct {
	Env          string
	Server       ServerConfig
	Database     DatabaseConfig
	Geo          GeoConfig
	Ingest       IngestConfig
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Redis        RedisConfig
	Telemetry    TelemetryConfig
	Log          LogConfig
	Achievements AchievementsConfig
}

// ServerConfig holds HTTP server settings.
//
// Go Learning Note — time.Duration:
// Go uses time.Duration (an int64 of nanoseconds) instead of raw integers for
// timeouts and intervals. Environment values are parsed with
// time.ParseDuration, so "15s" or "2m" both work.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// DatabaseConfig selects the gorm dialector. Driver is "postgres" or "sqlite".
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// GeoConfig controls reverse geocoding. GeocoderMode is "memory" (polygon
// index loaded from the catalog), "postgis" or "none". CatalogRefresh
// reloads the in-memory index on that interval; zero loads it once.
type GeoConfig struct {
	GeocoderMode       string
	GeocodeParallelism int
	CatalogRefresh     time.Duration
}

type IngestConfig struct {
	MaxBatchSize int
}

type AuthConfig struct {
	JWTSecret string
}

// RateLimitConfig holds per-user request limits per Window.
type RateLimitConfig struct {
	Enabled         bool
	SinglePerWindow int
	BatchPerWindow  int
	Window          time.Duration
}

// RedisConfig is optional. With an empty Addr rate limiting is kept in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TelemetryConfig enables OpenTelemetry tracing. With an empty
// OTLPEndpoint spans are printed to stdout.
type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Version      string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type LogConfig struct {
	Mode string
}

// AchievementsConfig points at an optional YAML catalog overriding the
// embedded one.
type AchievementsConfig struct {
	CatalogFile string
}

// NewDefaultConfig returns a Config populated with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Port:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			DSN:             "host=localhost user=trekkr password=trekkr dbname=trekkr port=5432 sslmode=disable",
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
		},
		Geo: GeoConfig{
			GeocoderMode:       "memory",
			GeocodeParallelism: 8,
		},
		Ingest: IngestConfig{
			MaxBatchSize: 100,
		},
		Auth: AuthConfig{
			JWTSecret: DevJWTSecret,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			SinglePerWindow: 120,
			BatchPerWindow:  30,
			Window:          time.Minute,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "trekkr",
			Version:     "dev",
			SampleRatio: 0.1,
		},
		Log: LogConfig{
			Mode: "development",
		},
	}
}

// Load returns the defaults overridden by the environment. A missing .env
// file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := NewDefaultConfig()
	var errs []error

	cfg.Env = envString("APP_ENV", cfg.Env)

	cfg.Server.Port = envString("PORT", cfg.Server.Port)
	if !strings.HasPrefix(cfg.Server.Port, ":") && !strings.Contains(cfg.Server.Port, ":") {
		cfg.Server.Port = ":" + cfg.Server.Port
	}
	cfg.Server.ReadTimeout = envDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout, &errs)
	cfg.Server.WriteTimeout = envDuration("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout, &errs)
	cfg.Server.ShutdownTimeout = envDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout, &errs)
	if v := envString("CORS_ORIGINS", ""); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}

	cfg.Database.Driver = strings.ToLower(envString("DATABASE_DRIVER", cfg.Database.Driver))
	cfg.Database.DSN = envString("DATABASE_URL", cfg.Database.DSN)
	cfg.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns, &errs)
	cfg.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns, &errs)
	cfg.Database.ConnMaxLifetime = envDuration("DATABASE_CONN_MAX_LIFETIME", cfg.Database.ConnMaxLifetime, &errs)
	cfg.Database.AutoMigrate = envBool("DATABASE_AUTO_MIGRATE", cfg.Database.AutoMigrate, &errs)

	cfg.Geo.GeocoderMode = strings.ToLower(envString("GEOCODER_MODE", cfg.Geo.GeocoderMode))
	cfg.Geo.GeocodeParallelism = envInt("GEOCODE_PARALLELISM", cfg.Geo.GeocodeParallelism, &errs)
	cfg.Geo.CatalogRefresh = envDuration("GEO_CATALOG_REFRESH", cfg.Geo.CatalogRefresh, &errs)

	cfg.Auth.JWTSecret = envString("JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.RateLimit.Enabled = envBool("RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled, &errs)
	cfg.RateLimit.SinglePerWindow = envInt("RATE_LIMIT_INGEST", cfg.RateLimit.SinglePerWindow, &errs)
	cfg.RateLimit.BatchPerWindow = envInt("RATE_LIMIT_INGEST_BATCH", cfg.RateLimit.BatchPerWindow, &errs)
	cfg.RateLimit.Window = envDuration("RATE_LIMIT_WINDOW", cfg.RateLimit.Window, &errs)

	cfg.Redis.Addr = envString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envInt("REDIS_DB", cfg.Redis.DB, &errs)

	cfg.Telemetry.Enabled = envBool("OTEL_ENABLED", cfg.Telemetry.Enabled, &errs)
	cfg.Telemetry.ServiceName = envString("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
	cfg.Telemetry.Version = envString("APP_VERSION", cfg.Telemetry.Version)
	cfg.Telemetry.OTLPEndpoint = envString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.OTLPInsecure = envBool("OTEL_EXPORTER_OTLP_INSECURE", cfg.Telemetry.OTLPInsecure, &errs)
	cfg.Telemetry.SampleRatio = envFloat("OTEL_SAMPLER_RATIO", cfg.Telemetry.SampleRatio, &errs)

	cfg.Log.Mode = envString("LOG_MODE", cfg.Log.Mode)
	cfg.Achievements.CatalogFile = envString("ACHIEVEMENTS_FILE", cfg.Achievements.CatalogFile)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.Env) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER: unsupported driver %q", c.Database.Driver))
	}
	switch c.Geo.GeocoderMode {
	case "memory", "postgis", "none":
	default:
		errs = append(errs, fmt.Errorf("GEOCODER_MODE: unsupported mode %q", c.Geo.GeocoderMode))
	}
	if c.Geo.GeocodeParallelism < 1 {
		errs = append(errs, errors.New("GEOCODE_PARALLELISM must be at least 1"))
	}
	if c.Geo.CatalogRefresh < 0 {
		errs = append(errs, errors.New("GEO_CATALOG_REFRESH must not be negative"))
	}
	if c.Ingest.MaxBatchSize < 1 {
		errs = append(errs, errors.New("max batch size must be at least 1"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}
	if c.IsProduction() && c.Auth.JWTSecret == DevJWTSecret {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLER_RATIO must be within [0, 1]"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.SinglePerWindow < 1 || c.RateLimit.BatchPerWindow < 1 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate limits must be positive when enabled"))
	}
	return errors.Join(errs...)
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	raw := envString(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func envFloat(key string, def float64, errs *[]error) float64 {
	raw := envString(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func envBool(key string, def bool, errs *[]error) bool {
	raw := envString(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	raw := envString(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
