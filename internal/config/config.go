package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the process configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(ProvideRuntimeHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	InstanceID  string
	LogLevel    string

	HTTPHost  string
	HTTPPort  string
	APIPrefix string

	OTLPEndpoint string
	OTLPProtocol string

	// TraceSampleRatio is the head sampling ratio for locally started
	// traces; parented spans follow their parent's decision. Everything is
	// sampled by default so worker jobs keep their upload's trace.
	TraceSampleRatio float64

	Cloud CloudConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// RedisAddr empty means no redis: the queue and progress mirror degrade
	// to in-process execution and store reads.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	UploadDir      string
	UploadMaxBytes int64

	WorkerConcurrency    int
	WorkerLockSeconds    int
	WorkerMaxAttempts    int
	WorkerBackoffSeconds int

	RateLimitWindowSeconds int
	RateLimitMax           int

	CORSOrigins []string

	// RuntimeConfigPath points at an optional YAML overlay for operational
	// overrides; empty disables the overlay and its hot reload.
	RuntimeConfigPath string
}

type CloudConfig struct {
	OrganizationID   string
	OrganizationName string
	Metrics          CloudMetricsConfig
}

type CloudMetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "tally"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		InstanceID:  getenv("INSTANCE_ID", uuid.NewString()),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		HTTPHost:  getenv("HTTP_HOST", ""),
		HTTPPort:  getenv("HTTP_PORT", "8080"),
		APIPrefix: getenv("API_PREFIX", "/api/v1"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", ""),
		OTLPProtocol: strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),

		TraceSampleRatio: getenvFloat("OTEL_SAMPLING_RATIO", 1),

		Cloud: CloudConfig{
			OrganizationID:   strings.TrimSpace(getenv("CLOUD_ORGANIZATION_ID", "")),
			OrganizationName: getenv("CLOUD_ORGANIZATION_NAME", ""),
			Metrics: CloudMetricsConfig{
				Enabled:   getenvBool("CLOUD_METRICS_ENABLED", false),
				Exporter:  strings.ToLower(getenv("CLOUD_METRICS_EXPORTER", "")),
				Endpoint:  strings.TrimSpace(getenv("CLOUD_METRICS_ENDPOINT", "")),
				AuthToken: strings.TrimSpace(getenv("CLOUD_METRICS_AUTH_TOKEN", "")),
			},
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "tally"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		UploadDir:      getenv("UPLOAD_DIR", "uploads"),
		UploadMaxBytes: getenvInt64("UPLOAD_MAX_BYTES", 50<<20),

		WorkerConcurrency:    getenvInt("WORKER_CONCURRENCY", 2),
		WorkerLockSeconds:    getenvInt("WORKER_LOCK_SECONDS", 60),
		WorkerMaxAttempts:    getenvInt("WORKER_MAX_ATTEMPTS", 3),
		WorkerBackoffSeconds: getenvInt("WORKER_BACKOFF_SECONDS", 1),

		RateLimitWindowSeconds: getenvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitMax:           getenvInt("RATE_LIMIT_MAX", 30),

		CORSOrigins: splitList(getenv("CORS_ORIGINS", "*")),

		RuntimeConfigPath: strings.TrimSpace(getenv("RUNTIME_CONFIG_PATH", "")),
	}

	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.WorkerLockSeconds < 60 {
		cfg.WorkerLockSeconds = 60
	}
	if cfg.TraceSampleRatio <= 0 || cfg.TraceSampleRatio > 1 {
		cfg.TraceSampleRatio = 1
	}
	return cfg
}

func (c Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
