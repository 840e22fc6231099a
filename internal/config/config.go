package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MinJWTSecretLength is the shortest JWT_SECRET accepted. The secret also keys
// ticket tokens, so it must carry enough entropy for HKDF.
const MinJWTSecretLength = 32

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Auth           AuthConfig
	RateLimit      RateLimitConfig
	AdminBootstrap AdminBootstrapConfig
	Jobs           JobsConfig
	Logging        LoggingConfig
	CORS           CORSConfig
	Redis          RedisConfig
	Email          EmailConfig
	Tracing        TracingConfig
	Audit          AuditConfig
	Environment    string
}

type ServerConfig struct {
	Host    string
	Port    int
	BaseURL string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
}

type AuthConfig struct {
	JWTSecret string
	JWTExpiry time.Duration
}

type RateLimitConfig struct {
	LoginPer15Minutes int
	TrustedProxyCIDRs []string
}

type AdminBootstrapConfig struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type JobsConfig struct {
	Enabled            bool
	EventSweepInterval time.Duration
	NotificationRetry  int
}

type LoggingConfig struct {
	Level  string
	Format string
}

type CORSConfig struct {
	AllowAllOrigins bool
	AllowedOrigins  []string
}

// RedisConfig points at the optional idempotency store. An empty URL disables it.
type RedisConfig struct {
	URL string
	TTL time.Duration
}

type EmailConfig struct {
	Enabled      bool
	From         string
	ResendAPIKey string
}

type TracingConfig struct {
	Enabled      bool
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	SampleRate   float64
}

type AuditConfig struct {
	BufferSize int
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (Config, error) {
	return LoadWithFile("")
}

// LoadWithFile reads configuration from the environment, using the YAML file at
// path (when non-empty) as a source of defaults. The file is a flat mapping of
// environment variable names to values; real environment variables win.
func LoadWithFile(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	src := source{}
	if path != "" {
		values, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = values
	}

	env := src.get("ENVIRONMENT", "development")

	cfg := Config{
		Server: ServerConfig{
			Host:    src.get("SERVER_HOST", "0.0.0.0"),
			Port:    src.getInt("SERVER_PORT", 8080),
			BaseURL: src.get("SERVER_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:            src.get("DATABASE_URL", ""),
			MaxConnections: src.getInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Auth: AuthConfig{
			JWTSecret: src.get("JWT_SECRET", ""),
			JWTExpiry: time.Duration(src.getInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
		},
		RateLimit: RateLimitConfig{
			LoginPer15Minutes: src.getInt("RATE_LIMIT_LOGIN_PER_15_MINUTES", 10),
			TrustedProxyCIDRs: splitList(src.get("TRUSTED_PROXY_CIDRS", "")),
		},
		AdminBootstrap: AdminBootstrapConfig{
			Email:     src.get("ADMIN_EMAIL", ""),
			Password:  src.get("ADMIN_PASSWORD", ""),
			FirstName: src.get("ADMIN_FIRST_NAME", "Admin"),
			LastName:  src.get("ADMIN_LAST_NAME", ""),
		},
		Jobs: JobsConfig{
			Enabled:            src.getBool("JOBS_ENABLED", true),
			EventSweepInterval: src.getDuration("JOBS_EVENT_SWEEP_INTERVAL", 15*time.Minute),
			NotificationRetry:  src.getInt("JOB_RETRY_NOTIFICATION", 5),
		},
		Logging: LoggingConfig{
			Level:  src.get("LOG_LEVEL", "info"),
			Format: src.get("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL: src.get("REDIS_URL", ""),
			TTL: src.getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Email: EmailConfig{
			Enabled:      src.getBool("EMAIL_ENABLED", false),
			From:         src.get("EMAIL_FROM", "tickets@eventbook.dev"),
			ResendAPIKey: src.get("RESEND_API_KEY", ""),
		},
		Tracing: TracingConfig{
			Enabled:      src.getBool("TRACING_ENABLED", false),
			ServiceName:  src.get("OTEL_SERVICE_NAME", "eventbook"),
			Exporter:     src.get("TRACING_EXPORTER", "stdout"),
			OTLPEndpoint: src.get("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   src.getFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Audit: AuditConfig{
			BufferSize: src.getInt("AUDIT_BUFFER_SIZE", 1024),
		},
		Environment: env,
	}

	origins := splitList(src.get("CORS_ALLOWED_ORIGINS", ""))
	if env == "production" {
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("CORS_ALLOWED_ORIGINS is required in production")
		}
		cfg.CORS = CORSConfig{AllowedOrigins: origins}
	} else {
		cfg.CORS = CORSConfig{AllowAllOrigins: len(origins) == 0, AllowedOrigins: origins}
	}

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.Auth.JWTSecret) < MinJWTSecretLength {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least %d characters", MinJWTSecretLength)
	}
	if cfg.Email.Enabled && cfg.Email.ResendAPIKey == "" {
		return Config{}, fmt.Errorf("RESEND_API_KEY is required when EMAIL_ENABLED is true")
	}
	return cfg, nil
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	values := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			values[strings.ToUpper(key)] = strings.Join(parts, ",")
		default:
			values[strings.ToUpper(key)] = fmt.Sprint(v)
		}
	}
	return values, nil
}

type source struct {
	file map[string]string
}

func (s source) get(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value, ok := s.file[key]; ok && value != "" {
		return value
	}
	return fallback
}

func (s source) getInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(s.get(key, ""))
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) getFloat(key string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(s.get(key, ""), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) getBool(key string, fallback bool) bool {
	parsed, err := strconv.ParseBool(s.get(key, ""))
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) getDuration(key string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(s.get(key, ""))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
