// =============================================================================
// Inference gateway configuration loader
// =============================================================================
// Unified config loading: YAML file + environment variable overrides.
//
// Usage:
//
//	cfg, err := gwconfig.NewLoader().
//	    WithConfigPath("gateway.yaml").
//	    WithEnvPrefix("GATEWAY").
//	    Load()
//
// Priority: defaults -> YAML file -> environment variables.
// =============================================================================
package gwconfig

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Core configuration shape
// =============================================================================

// Config is the gateway's full configuration tree. Its Providers/Models/
// Aliases section is consumed at startup to build a gateway/catalog.Catalog.
type Config struct {
	Server    ServerConfig              `yaml:"server" env:"SERVER"`
	Routing   RoutingConfig             `yaml:"routing" env:"ROUTING"`
	Resilience ResilienceConfig         `yaml:"resilience" env:"RESILIENCE"`
	Redis     RedisConfig               `yaml:"redis" env:"REDIS"`
	Log       LogConfig                 `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig           `yaml:"telemetry" env:"TELEMETRY"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Models    []ModelConfig             `yaml:"canonical_models"`
	Aliases   map[string][]string       `yaml:"aliases"`
}

// ServerConfig controls the reference HTTP adapter.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// RoutingConfig exposes Router's scoring weights as configuration rather
// than hardcoding them.
type RoutingConfig struct {
	WeightCost        float64           `yaml:"weight_cost" env:"WEIGHT_COST"`
	WeightLatency     float64           `yaml:"weight_latency" env:"WEIGHT_LATENCY"`
	WeightReliability float64           `yaml:"weight_reliability" env:"WEIGHT_RELIABILITY"`
	LatencyEstimatesMS map[string]int   `yaml:"latency_estimates_ms"`
}

// ResilienceConfig controls per-attempt timeouts.
type ResilienceConfig struct {
	CallTimeout            time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	StreamFirstByteTimeout time.Duration `yaml:"stream_first_byte_timeout" env:"STREAM_FIRST_BYTE_TIMEOUT"`
	BreakerThreshold       int           `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerResetTimeout    time.Duration `yaml:"breaker_reset_timeout" env:"BREAKER_RESET_TIMEOUT"`
}

// RedisConfig configures the optional shared HealthStore/QuotaTracker
// backend. Addr empty means run with the in-process implementations.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LogConfig controls zap's construction.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"` // json, console
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig controls the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// ProviderConfig is one entry of the providers map.
type ProviderConfig struct {
	Enabled       bool              `yaml:"enabled"`
	Kind          string            `yaml:"kind"`
	DisplayName   string            `yaml:"display_name"`
	Endpoint      string            `yaml:"endpoint"`
	CredentialRef string            `yaml:"credential_ref"`
	Tier          int               `yaml:"tier"`
	Free          bool              `yaml:"free"`
	RPMLimit      int               `yaml:"rpm_limit"`
	TPMLimit      int               `yaml:"tpm_limit"`
	Models        []string          `yaml:"models"`
	DriverConfig  map[string]string `yaml:"driver_config"`
}

// CapabilitiesConfig mirrors gwtypes/catalog Capabilities for YAML.
type CapabilitiesConfig struct {
	Streaming        bool `yaml:"streaming"`
	Tools            bool `yaml:"tools"`
	Vision           bool `yaml:"vision"`
	StructuredOutput bool `yaml:"structured_output"`
	LogProbs         bool `yaml:"log_probs"`
}

// ModelConfig is one entry of canonical_models.
type ModelConfig struct {
	ID             string             `yaml:"id"`
	ProviderID     string             `yaml:"provider_id"`
	ModelPath      string             `yaml:"model_path"`
	Capabilities   CapabilitiesConfig `yaml:"capabilities"`
	ContextWindow  int                `yaml:"context_window"`
	PriceInputUSD  float64            `yaml:"price_input_usd"`
	PriceOutputUSD float64            `yaml:"price_output_usd"`
}

// DefaultConfig returns the configuration a freshly-started gateway runs
// with before any YAML file or environment overlay is applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Routing: RoutingConfig{
			WeightCost:        0.4,
			WeightLatency:     0.3,
			WeightReliability: 0.3,
		},
		Resilience: ResilienceConfig{
			CallTimeout:            30 * time.Second,
			StreamFirstByteTimeout: 10 * time.Second,
			BreakerThreshold:       5,
			BreakerResetTimeout:    60 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			ServiceName: "inference-gateway",
			SampleRate:  1.0,
		},
		Providers: map[string]ProviderConfig{},
		Aliases:   map[string][]string{},
	}
}

// =============================================================================
// Loader
// =============================================================================

// Loader is a builder for loading Config from defaults, an optional YAML
// file, and environment variable overrides, in that priority order.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

func NewLoader() *Loader {
	return &Loader{envPrefix: "GATEWAY", validators: make([]func(*Config) error, 0)}
}

func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config from file: %w", err)
		}
	}
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks struct fields recursively, applying GATEWAY_* (or
// a custom prefix) env overrides per the "env" tag. Maps and struct slices
// (providers, canonical_models, aliases) are only ever set from the YAML
// file; env overrides reach scalar leaves and []string fields, the latter
// read as a comma-separated list.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// MustLoad loads config from path, panicking on failure, for startup code
// where a bad config is unrecoverable anyway. cmd/gateway does not call it;
// it uses NewLoader().Load() and reports the error itself.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks invariants Load's validators should enforce: valid ports,
// sane weight ranges, and a non-empty provider set.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid http_port")
	}
	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider must be configured")
	}
	if c.Routing.WeightCost < 0 || c.Routing.WeightLatency < 0 || c.Routing.WeightReliability < 0 {
		errs = append(errs, "routing weights must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
