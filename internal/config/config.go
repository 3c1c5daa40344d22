package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultDatasetSource = "https://raw.githubusercontent.com/coteli/intereactive-dash/main/ilceler.csv"
	defaultGeoSource     = "https://raw.githubusercontent.com/cihadturhan/tr-geojson/master/geo/tr-cities-utf8.json"
)

type Config struct {
	Server    ServerConfig
	Dataset   DatasetConfig
	Geo       GeoConfig
	Dashboard DashboardConfig
	Sessions  SessionConfig
	Logger    LoggerConfig
	Tracing   TracingConfig
	Security  SecurityConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatasetConfig locates the sales CSV. Source may be a path, an http(s)
// URL or an s3://bucket/key URL.
type DatasetConfig struct {
	Source      string
	CacheDir    string
	CacheTTL    time.Duration
	LoadTimeout time.Duration
	S3Region    string
	S3Endpoint  string
}

type GeoConfig struct {
	Source       string
	FetchTimeout time.Duration
	RetryAfter   time.Duration
}

// DashboardConfig holds the initial selections. A zero DefaultYear means
// the latest year in the dataset.
type DashboardConfig struct {
	DefaultYear   int
	DefaultRegion string
}

type SessionConfig struct {
	MaxSessions int
	TTL         time.Duration
}

type LoggerConfig struct {
	Level  string
	Format string
}

type TracingConfig struct {
	Exporter    string
	ServiceName string
}

type SecurityConfig struct {
	EnableRateLimit bool
	RateLimitRPS    int
	RateLimitBurst  int
	SecureCookies   bool
	AllowedOrigins  []string
	TrustedProxies  []string
}

// envFiles are read in order; a variable set by an earlier file wins.
var envFiles = []string{".env.local", ".env"}

// Load reads .env.local and .env (when present) and then the process
// environment. Variables already set in the environment win.
func Load() (*Config, error) {
	for _, name := range envFiles {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "localhost"),
			Port:            getEnvInt("SERVER_PORT", 8050),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Dataset: DatasetConfig{
			Source:      getEnvString("DATASET_SOURCE", defaultDatasetSource),
			CacheDir:    getEnvString("DATASET_CACHE_DIR", ".cache"),
			CacheTTL:    getEnvDuration("DATASET_CACHE_TTL", 24*time.Hour),
			LoadTimeout: getEnvDuration("DATASET_LOAD_TIMEOUT", 30*time.Second),
			S3Region:    getEnvString("DATASET_S3_REGION", "eu-central-1"),
			S3Endpoint:  getEnvString("DATASET_S3_ENDPOINT", ""),
		},
		Geo: GeoConfig{
			Source:       getEnvString("GEO_SOURCE", defaultGeoSource),
			FetchTimeout: getEnvDuration("GEO_FETCH_TIMEOUT", 10*time.Second),
			RetryAfter:   getEnvDuration("GEO_RETRY_AFTER", time.Minute),
		},
		Dashboard: DashboardConfig{
			DefaultYear:   getEnvInt("DASHBOARD_DEFAULT_YEAR", 0),
			DefaultRegion: getEnvString("DASHBOARD_DEFAULT_REGION", "Ankara"),
		},
		Sessions: SessionConfig{
			MaxSessions: getEnvInt("SESSION_MAX", 1000),
			TTL:         getEnvDuration("SESSION_TTL", 30*time.Minute),
		},
		Logger: LoggerConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Exporter:    getEnvString("TRACING_EXPORTER", "none"),
			ServiceName: getEnvString("TRACING_SERVICE_NAME", "konut-dashboard"),
		},
		Security: SecurityConfig{
			EnableRateLimit: getEnvBool("SECURITY_RATE_LIMIT_ENABLED", true),
			RateLimitRPS:    getEnvInt("SECURITY_RATE_LIMIT_RPS", 50),
			RateLimitBurst:  getEnvInt("SECURITY_RATE_LIMIT_BURST", 20),
			SecureCookies:   getEnvBool("SECURITY_SECURE_COOKIES", false),
			AllowedOrigins:  getEnvStringSlice("SECURITY_ALLOWED_ORIGINS", []string{"http://localhost:8050"}),
			TrustedProxies:  getEnvStringSlice("SECURITY_TRUSTED_PROXIES", []string{"127.0.0.1"}),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Dataset.Source == "" {
		return fmt.Errorf("dataset source cannot be empty")
	}

	if c.Dataset.LoadTimeout <= 0 {
		return fmt.Errorf("dataset load timeout must be positive")
	}

	if c.Geo.Source == "" {
		return fmt.Errorf("geo source cannot be empty")
	}

	if c.Geo.FetchTimeout <= 0 {
		return fmt.Errorf("geo fetch timeout must be positive")
	}

	if c.Dashboard.DefaultYear < 0 {
		return fmt.Errorf("default year cannot be negative, got %d", c.Dashboard.DefaultYear)
	}

	if c.Sessions.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be positive")
	}

	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.Logger.Level) {
		return fmt.Errorf("invalid log level %q, must be one of: %s", c.Logger.Level, strings.Join(validLogLevels, ", "))
	}

	validLogFormats := []string{"json", "text"}
	if !slices.Contains(validLogFormats, c.Logger.Format) {
		return fmt.Errorf("invalid log format %q, must be one of: %s", c.Logger.Format, strings.Join(validLogFormats, ", "))
	}

	validExporters := []string{"none", "stdout"}
	if !slices.Contains(validExporters, c.Tracing.Exporter) {
		return fmt.Errorf("invalid tracing exporter %q, must be one of: %s", c.Tracing.Exporter, strings.Join(validExporters, ", "))
	}

	if c.Security.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit RPS must be positive")
	}

	if c.Security.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit burst must be positive")
	}

	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
