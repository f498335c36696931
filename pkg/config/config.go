package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	ServiceName string

	DBDriver         string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresUser     string
	PostgresPassword string
	SQLitePath       string
	DBMaxOpenConns   int
	DBMaxIdleConns   int

	RedisURL    string
	RabbitMQURL string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioBucket    string

	AllowedOrigins []string
	RequestTimeout time.Duration
	// Resources limits which /api groups a serve instance mounts, so the
	// three resources can run as separate services behind the gateway.
	Resources []string

	SystemsServiceURL string
	MetricsServiceURL string
	LogsServiceURL    string
	RateLimitWindow   time.Duration
	RateLimitMax      int
	// TrustedProxies lists the proxy addresses or CIDRs whose
	// X-Forwarded-For is believed when resolving the client IP. Empty means
	// the peer address is the client.
	TrustedProxies []string

	APIBaseURL          string
	SystemsPollInterval time.Duration
	MetricsPollInterval time.Duration
	LogsPollInterval    time.Duration

	MetricsRetention    time.Duration
	LogsRetention       time.Duration
	StaleAfter          time.Duration
	MaintenanceInterval time.Duration
	SeedDemoData        bool

	AgentName     string
	AgentType     string
	AgentVersion  string
	AgentInterval time.Duration

	invalid []string
}

// Load reads the environment, after merging an optional .env file
// (ENV_FILE, default ".env") that never overrides variables already set.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "5110"),
		Environment: getEnv("GO_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", ""),
		ServiceName: getEnv("SERVICE_NAME", "infra-monitor"),

		DBDriver:         getEnv("DB_DRIVER", DriverPostgres),
		PostgresHost:     getEnv("POSTGRESQL_HOST", "postgres"),
		PostgresPort:     getEnv("POSTGRESQL_PORT", "5432"),
		PostgresDatabase: getEnv("POSTGRESQL_DATABASE", "infra_monitor"),
		PostgresUser:     getEnv("POSTGRESQL_USER", "monitor"),
		PostgresPassword: getEnv("POSTGRESQL_PASSWORD", ""),
		SQLitePath:       getEnv("SQLITE_PATH", "infra-monitor.db"),

		RedisURL:    getEnv("REDIS_URL", ""),
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioUseSSL:    getEnv("MINIO_USE_SSL", "false") == "true",
		MinioBucket:    getEnv("MINIO_BUCKET", "infra-monitor-logs"),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		Resources:      splitList(getEnv("RESOURCES", "systems,metrics,logs")),
		TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),

		SystemsServiceURL: getEnv("SYSTEMS_SERVICE_URL", "http://localhost:5110"),
		MetricsServiceURL: getEnv("METRICS_SERVICE_URL", "http://localhost:5110"),
		LogsServiceURL:    getEnv("LOGS_SERVICE_URL", "http://localhost:5110"),

		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:5110"),

		AgentName:    getEnv("AGENT_NAME", ""),
		AgentType:    getEnv("AGENT_TYPE", ""),
		AgentVersion: getEnv("AGENT_VERSION", ""),
	}

	cfg.DBMaxOpenConns = cfg.getInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = cfg.getInt("DB_MAX_IDLE_CONNS", 5)
	cfg.RequestTimeout = cfg.getDuration("REQUEST_TIMEOUT", 30*time.Second)
	cfg.RateLimitWindow = cfg.getDuration("RATE_LIMIT_WINDOW", 15*time.Minute)
	cfg.RateLimitMax = cfg.getInt("RATE_LIMIT_MAX", 1000)
	cfg.SystemsPollInterval = cfg.getDuration("SYSTEMS_POLL_INTERVAL", 30*time.Second)
	cfg.MetricsPollInterval = cfg.getDuration("METRICS_POLL_INTERVAL", 10*time.Second)
	cfg.LogsPollInterval = cfg.getDuration("LOGS_POLL_INTERVAL", 5*time.Second)
	cfg.MetricsRetention = cfg.getDuration("METRICS_RETENTION", 30*24*time.Hour)
	cfg.LogsRetention = cfg.getDuration("LOGS_RETENTION", 90*24*time.Hour)
	cfg.StaleAfter = cfg.getDuration("STALE_AFTER", 10*time.Minute)
	cfg.MaintenanceInterval = cfg.getDuration("MAINTENANCE_INTERVAL", time.Hour)
	cfg.AgentInterval = cfg.getDuration("AGENT_INTERVAL", 30*time.Second)
	cfg.SeedDemoData = cfg.getBool("SEED_DEMO_DATA", false)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.invalid) > 0 {
		return fmt.Errorf("invalid environment variables: %v", c.invalid)
	}

	var missingVars []string

	if c.Port == "" {
		missingVars = append(missingVars, "PORT")
	}

	switch c.DBDriver {
	case DriverPostgres:
		if c.PostgresHost == "" {
			missingVars = append(missingVars, "POSTGRESQL_HOST")
		}
		if c.PostgresPort == "" {
			missingVars = append(missingVars, "POSTGRESQL_PORT")
		}
		if c.PostgresDatabase == "" {
			missingVars = append(missingVars, "POSTGRESQL_DATABASE")
		}
		if c.PostgresUser == "" {
			missingVars = append(missingVars, "POSTGRESQL_USER")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			missingVars = append(missingVars, "SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want %s or %s)", c.DBDriver, DriverPostgres, DriverSQLite)
	}

	if c.MinioEndpoint != "" {
		if c.MinioAccessKey == "" {
			missingVars = append(missingVars, "MINIO_ACCESS_KEY")
		}
		if c.MinioSecretKey == "" {
			missingVars = append(missingVars, "MINIO_SECRET_KEY")
		}
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	if c.RedisURL != "" {
		if _, err := url.Parse(c.RedisURL); err != nil {
			return fmt.Errorf("invalid REDIS_URL format: %w", err)
		}
	}
	for key, raw := range map[string]string{
		"API_BASE_URL":        c.APIBaseURL,
		"SYSTEMS_SERVICE_URL": c.SystemsServiceURL,
		"METRICS_SERVICE_URL": c.MetricsServiceURL,
		"LOGS_SERVICE_URL":    c.LogsServiceURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s: %q", key, raw)
		}
	}

	if c.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX must be positive")
	}

	return nil
}

// HasResource reports whether the named /api resource group is enabled.
func (c *Config) HasResource(name string) bool {
	for _, r := range c.Resources {
		if r == name {
			return true
		}
	}
	return false
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) GetPostgresConnString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDatabase,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		c.invalid = append(c.invalid, key)
		return defaultValue
	}
	return d
}

func (c *Config) getInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.invalid = append(c.invalid, key)
		return defaultValue
	}
	return n
}

func (c *Config) getBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		c.invalid = append(c.invalid, key)
		return defaultValue
	}
	return b
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
