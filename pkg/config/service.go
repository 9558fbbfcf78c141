package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/BoardAI/catalysst/pkg/telemetry"
)

// ServiceConfig is the process-level configuration of the webhook service.
type ServiceConfig struct {
	AppID          int64  `yaml:"appId" validate:"gt=0"`
	PrivateKey     string `yaml:"privateKey" validate:"required"`
	PrivateKeyPath string `yaml:"privateKeyPath"`
	WebhookSecret  string `yaml:"webhookSecret" validate:"required"`

	ListenAddr      string        `yaml:"listenAddr" validate:"required"`
	WebhookPath     string        `yaml:"webhookPath" validate:"required,startswith=/"`
	ReadTimeout     time.Duration `yaml:"readTimeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gte=0"`

	// GitHubAPIURL points at a GitHub Enterprise API root. Empty means github.com.
	GitHubAPIURL string `yaml:"githubApiUrl" validate:"omitempty,url"`

	// DefaultsPath is an optional server defaults file, hot-reloaded.
	DefaultsPath string `yaml:"defaultsPath"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// RateLimitConfig throttles clients that keep sending deliveries with bad
// signatures. Signed deliveries are never counted. A Redis address switches
// from the in-process limiter to a shared one.
type RateLimitConfig struct {
	RejectedPerMinute int    `yaml:"rejectedPerMinute" validate:"gte=0"`
	RedisAddr         string `yaml:"redisAddr" validate:"omitempty,hostname_port"`
	RedisPassword     string `yaml:"redisPassword"`
	RedisDB           int    `yaml:"redisDb" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// ListenAddr serves metrics on a dedicated port. Empty mounts them on the main server.
	ListenAddr string `yaml:"listenAddr"`
}

type TracingConfig struct {
	Exporter     string  `yaml:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `yaml:"samplingRate" validate:"gte=0,lte=1"`
}

// DefaultServiceConfig returns the configuration used when nothing is set.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		ListenAddr:      ":3000",
		WebhookPath:     "/",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimit: RateLimitConfig{
			RejectedPerMinute: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			SamplingRate: 1.0,
		},
	}
}

// LoadService builds the service configuration from an optional YAML file
// (with ${VAR} expansion) followed by environment overrides. It does not
// validate; call Validate before serving.
func LoadService(path string) (*ServiceConfig, error) {
	cfg := DefaultServiceConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read service config: %w", err)
		}

		expanded := os.ExpandEnv(string(raw))
		expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse service config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.PrivateKey == "" && cfg.PrivateKeyPath != "" {
		key, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		cfg.PrivateKey = string(key)
	}
	cfg.PrivateKey = normalizePEM(cfg.PrivateKey)

	return cfg, nil
}

func (c *ServiceConfig) applyEnv() error {
	envString("PRIVATE_KEY", &c.PrivateKey)
	envString("PRIVATE_KEY_PATH", &c.PrivateKeyPath)
	envString("WEBHOOK_SECRET", &c.WebhookSecret)
	envString("LISTEN_ADDR", &c.ListenAddr)
	envString("WEBHOOK_PATH", &c.WebhookPath)
	envString("GITHUB_API_URL", &c.GitHubAPIURL)
	envString("CATALYSST_DEFAULTS_PATH", &c.DefaultsPath)
	envString("RATE_LIMIT_REDIS_ADDR", &c.RateLimit.RedisAddr)
	envString("RATE_LIMIT_REDIS_PASSWORD", &c.RateLimit.RedisPassword)
	envString("LOG_LEVEL", &c.Logging.Level)
	envString("LOG_FORMAT", &c.Logging.Format)
	envString("TRACING_EXPORTER", &c.Tracing.Exporter)
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.Endpoint)

	if v, ok := os.LookupEnv("APP_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid APP_ID %q: %w", v, err)
		}
		c.AppID = id
	}
	if err := envInt("RATE_LIMIT_REDIS_DB", &c.RateLimit.RedisDB); err != nil {
		return err
	}
	if err := envInt("RATE_LIMIT_REJECTED_PER_MINUTE", &c.RateLimit.RejectedPerMinute); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("METRICS_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid METRICS_ENABLED %q: %w", v, err)
		}
		c.Metrics.Enabled = b
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

// normalizePEM turns escaped newlines from single-line env values into real ones.
func normalizePEM(key string) string {
	if key == "" || strings.Contains(key, "\n") {
		return key
	}
	return strings.ReplaceAll(key, `\n`, "\n")
}

// Validate checks the configuration required to serve webhooks.
func (c *ServiceConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid service config: %w", err)
	}
	return nil
}

// TelemetryConfig derives the telemetry configuration for this service.
func (c *ServiceConfig) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if c.Logging.Format == "json" {
		tc = telemetry.ProductionConfig()
	}
	tc.ServiceVersion = version
	tc.Logging.Level = c.Logging.Level
	tc.Logging.Format = c.Logging.Format
	tc.Logging.Output = "stderr"

	tc.Metrics.Enabled = c.Metrics.Enabled
	tc.Metrics.ListenAddress = c.Metrics.ListenAddr

	tc.Tracing.Enabled = c.Tracing.Exporter != "" && c.Tracing.Exporter != "none"
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Tracing.SamplingRate

	return tc
}
