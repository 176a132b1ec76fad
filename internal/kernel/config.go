package kernel

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kernel-route/routekernel/internal/feedback"
	"github.com/kernel-route/routekernel/internal/maintenance"
	"github.com/kernel-route/routekernel/internal/patterns"
)

// Config holds every tunable the kernel needs at construction time,
// mirroring the teacher's app.Config shape: one struct, one LoadConfig
// that reads environment variables with KERNEL_-prefixed names, an
// optional YAML file overlay, and a Validate pass.
type Config struct {
	ListenAddr string
	LogLevel   string

	BaselineDir  string
	TelemetryDSN string

	RoutingCeiling time.Duration
	GracePeriod    feedback.GracePeriod
	PatternsConfig patterns.Config

	RateLimitRPS          int
	RateLimitBurst        int
	IdempotencyTTL        time.Duration
	IdempotencyMaxEntries int

	MaintenanceInterval time.Duration
	TemporalEnabled     bool
	TemporalConfig      maintenance.Config

	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string

	CORSOrigins []string
}

// LoadConfig reads Config from KERNEL_-prefixed environment variables. If
// path is non-empty, that YAML file is read first and env vars override
// it — the same precedence order the teacher documents for its own
// config layering.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("kernel: read config file: %w", err)
		}
		var fileCfg yamlConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("kernel: parse config file: %w", err)
		}
		fileCfg.applyTo(&cfg)
	}

	cfg.ListenAddr = getEnv("KERNEL_LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = getEnv("KERNEL_LOG_LEVEL", cfg.LogLevel)
	cfg.BaselineDir = getEnv("KERNEL_BASELINE_DIR", cfg.BaselineDir)
	cfg.TelemetryDSN = getEnv("KERNEL_TELEMETRY_DSN", cfg.TelemetryDSN)
	cfg.RoutingCeiling = getEnvDuration("KERNEL_ROUTING_CEILING", cfg.RoutingCeiling)
	cfg.GracePeriod = feedback.NewGracePeriod(getEnvDuration("KERNEL_GRACE_PERIOD", cfg.GracePeriod.Duration()))
	cfg.RateLimitRPS = getEnvInt("KERNEL_RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = getEnvInt("KERNEL_RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.IdempotencyTTL = getEnvDuration("KERNEL_IDEMPOTENCY_TTL", cfg.IdempotencyTTL)
	cfg.IdempotencyMaxEntries = getEnvInt("KERNEL_IDEMPOTENCY_MAX_ENTRIES", cfg.IdempotencyMaxEntries)
	cfg.MaintenanceInterval = getEnvDuration("KERNEL_MAINTENANCE_INTERVAL", cfg.MaintenanceInterval)
	cfg.TemporalEnabled = getEnvBool("KERNEL_TEMPORAL_ENABLED", cfg.TemporalEnabled)
	cfg.TemporalConfig.HostPort = getEnv("KERNEL_TEMPORAL_HOST", cfg.TemporalConfig.HostPort)
	cfg.TemporalConfig.Namespace = getEnv("KERNEL_TEMPORAL_NAMESPACE", cfg.TemporalConfig.Namespace)
	cfg.TemporalConfig.TaskQueue = getEnv("KERNEL_TEMPORAL_TASK_QUEUE", cfg.TemporalConfig.TaskQueue)
	cfg.OTelEnabled = getEnvBool("KERNEL_OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelEndpoint = getEnv("KERNEL_OTEL_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelServiceName = getEnv("KERNEL_OTEL_SERVICE_NAME", cfg.OTelServiceName)
	cfg.CORSOrigins = getEnvStringSlice("KERNEL_CORS_ORIGINS", cfg.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig returns the kernel's out-of-the-box settings.
func DefaultConfig() Config {
	return Config{
		ListenAddr:            ":8090",
		LogLevel:              "info",
		BaselineDir:           "/data/routekernel/baselines",
		TelemetryDSN:          "file:/data/routekernel/telemetry.sqlite",
		RoutingCeiling:        200 * time.Millisecond,
		GracePeriod:           feedback.DefaultGracePeriod,
		PatternsConfig:        patterns.DefaultConfig(),
		RateLimitRPS:          20,
		RateLimitBurst:        40,
		IdempotencyTTL:        10 * time.Minute,
		IdempotencyMaxEntries: 10000,
		MaintenanceInterval:   5 * time.Minute,
		TemporalEnabled:       false,
		TemporalConfig:        maintenance.DefaultConfig(),
		OTelEnabled:           false,
		OTelEndpoint:          "localhost:4318",
		OTelServiceName:       "routekernel",
	}
}

// withDefaults fills any zero-valued duration/count fields left by a
// caller that built Config by hand instead of via LoadConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.BaselineDir == "" {
		c.BaselineDir = d.BaselineDir
	}
	if c.TelemetryDSN == "" {
		c.TelemetryDSN = d.TelemetryDSN
	}
	if c.RoutingCeiling <= 0 {
		c.RoutingCeiling = d.RoutingCeiling
	}
	if c.GracePeriod.Duration() <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = d.RateLimitRPS
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = d.RateLimitBurst
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = d.IdempotencyTTL
	}
	if c.IdempotencyMaxEntries <= 0 {
		c.IdempotencyMaxEntries = d.IdempotencyMaxEntries
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = d.MaintenanceInterval
	}
	if c.TemporalConfig.TaskQueue == "" {
		c.TemporalConfig = d.TemporalConfig
	}
	return c
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("KERNEL_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("KERNEL_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.RoutingCeiling <= 0 {
		return fmt.Errorf("KERNEL_ROUTING_CEILING must be > 0, got %s", c.RoutingCeiling)
	}
	if c.BaselineDir == "" {
		return fmt.Errorf("KERNEL_BASELINE_DIR must be set")
	}
	if c.TelemetryDSN == "" {
		return fmt.Errorf("KERNEL_TELEMETRY_DSN must be set")
	}
	return nil
}

// yamlConfig is the optional on-disk overlay; only the fields listed here
// can be set from the file (including the baseline and telemetry paths);
// every other setting comes from the environment alone.
type yamlConfig struct {
	LogLevel            string  `yaml:"log_level"`
	BaselineDir         string  `yaml:"baseline_dir"`
	TelemetryDSN        string  `yaml:"telemetry_dsn"`
	RoutingCeilingMs    int     `yaml:"routing_ceiling_ms"`
	GracePeriodHours    float64 `yaml:"grace_period_hours"`
	MaintenanceInterval string  `yaml:"maintenance_interval"`
	TemporalHost        string  `yaml:"temporal_host"`
	TemporalNamespace   string  `yaml:"temporal_namespace"`
}

func (y yamlConfig) applyTo(cfg *Config) {
	if y.LogLevel != "" {
		cfg.LogLevel = y.LogLevel
	}
	if y.BaselineDir != "" {
		cfg.BaselineDir = y.BaselineDir
	}
	if y.TelemetryDSN != "" {
		cfg.TelemetryDSN = y.TelemetryDSN
	}
	if y.RoutingCeilingMs > 0 {
		cfg.RoutingCeiling = time.Duration(y.RoutingCeilingMs) * time.Millisecond
	}
	if y.GracePeriodHours > 0 {
		cfg.GracePeriod = feedback.NewGracePeriod(time.Duration(y.GracePeriodHours * float64(time.Hour)))
	}
	if y.MaintenanceInterval != "" {
		if d, err := time.ParseDuration(y.MaintenanceInterval); err == nil {
			cfg.MaintenanceInterval = d
		}
	}
	if y.TemporalHost != "" {
		cfg.TemporalConfig.HostPort = y.TemporalHost
	}
	if y.TemporalNamespace != "" {
		cfg.TemporalConfig.Namespace = y.TemporalNamespace
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var result []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	if len(result) == 0 {
		return def
	}
	return result
}
