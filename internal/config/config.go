package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/user/rowwatch/pkg/record"
	"github.com/user/rowwatch/pkg/sqlutil"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store    StoreConfig    `json:"store" yaml:"store"`
	Poller   PollerConfig   `json:"poller" yaml:"poller"`
	Delivery DeliveryConfig `json:"delivery" yaml:"delivery"`
	Sinks    []SinkConfig   `json:"sinks" yaml:"sinks"`
	API      APIConfig      `json:"api" yaml:"api"`
	Watch    WatchConfig    `json:"watch" yaml:"watch"`
	Report   ReportConfig   `json:"report" yaml:"report"`
	OTLP     OTLPConfig     `json:"otlp" yaml:"otlp"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

type StoreConfig struct {
	Driver         string              `json:"driver" yaml:"driver"`
	DSN            string              `json:"dsn" yaml:"dsn"`
	Table          string              `json:"table" yaml:"table"`
	IdentityColumn string              `json:"identity_column" yaml:"identity_column"`
	SerialColumn   string              `json:"serial_column" yaml:"serial_column"`
	Fields         []record.Descriptor `json:"fields,omitempty" yaml:"fields,omitempty"`
}

type PollerConfig struct {
	IntervalMS     int    `json:"interval_ms" yaml:"interval_ms"`
	MaxRetries     int    `json:"max_retries" yaml:"max_retries"`
	BatchSize      int    `json:"batch_size" yaml:"batch_size"`
	CycleTimeoutMS int    `json:"cycle_timeout_ms" yaml:"cycle_timeout_ms"`
	HeartbeatEvery uint64 `json:"heartbeat_every" yaml:"heartbeat_every"`
}

// Interval returns the polling interval.
func (p PollerConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// CycleTimeout returns the per-cycle deadline; negative values disable it.
func (p PollerConfig) CycleTimeout() time.Duration {
	if p.CycleTimeoutMS < 0 {
		return 0
	}
	return time.Duration(p.CycleTimeoutMS) * time.Millisecond
}

type DeliveryConfig struct {
	MaxAttempts     int `json:"max_attempts" yaml:"max_attempts"`
	RetryIntervalMS int `json:"retry_interval_ms" yaml:"retry_interval_ms"`
}

// SinkConfig describes one event destination. Which fields apply depends on Type.
type SinkConfig struct {
	Type    string            `json:"type" yaml:"type"`
	Name    string            `json:"name,omitempty" yaml:"name,omitempty"`
	Kinds   []string          `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	Format  string            `json:"format,omitempty" yaml:"format,omitempty"`
	Path    string            `json:"path,omitempty" yaml:"path,omitempty"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	Addr     string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
	Stream   string `json:"stream,omitempty" yaml:"stream,omitempty"`
	MaxLen   int64  `json:"max_len,omitempty" yaml:"max_len,omitempty"`

	Subject   string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	Token     string `json:"token,omitempty" yaml:"token,omitempty"`
	JetStream bool   `json:"jetstream,omitempty" yaml:"jetstream,omitempty"`
	PerKind   bool   `json:"per_kind,omitempty" yaml:"per_kind,omitempty"`
}

// DisplayName returns Name, or Type when Name is empty.
func (s SinkConfig) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Type
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type WatchConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path,omitempty" yaml:"path,omitempty"`
	DebounceMS int    `json:"debounce_ms" yaml:"debounce_ms"`
}

type ReportConfig struct {
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

type OTLPConfig struct {
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	ServiceName string            `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Insecure    bool              `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

var sinkTypes = map[string]bool{
	"stdout": true, "file": true, "http": true, "redis": true, "nats": true, "sse": true,
}

// Default returns a configuration with every default applied and no store target.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = sqlutil.DriverSQLite
	}
	if c.Store.IdentityColumn == "" {
		c.Store.IdentityColumn = "ID"
	}
	if c.Store.SerialColumn == "" {
		c.Store.SerialColumn = "SerialNumber"
	}
	if c.Poller.IntervalMS == 0 {
		c.Poller.IntervalMS = 1000
	}
	if c.Poller.MaxRetries == 0 {
		c.Poller.MaxRetries = 5
	}
	if c.Poller.BatchSize == 0 {
		c.Poller.BatchSize = 50
	}
	if c.Poller.CycleTimeoutMS == 0 {
		c.Poller.CycleTimeoutMS = 30000
	}
	if c.Poller.HeartbeatEvery == 0 {
		c.Poller.HeartbeatEvery = 30
	}
	if c.Delivery.MaxAttempts == 0 {
		c.Delivery.MaxAttempts = 3
	}
	if c.Delivery.RetryIntervalMS == 0 {
		c.Delivery.RetryIntervalMS = 100
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8090"
	}
	if c.Watch.DebounceMS == 0 {
		c.Watch.DebounceMS = 250
	}
	if c.OTLP.ServiceName == "" {
		c.OTLP.ServiceName = "rowwatch"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if c.Store.Table == "" {
		errs = append(errs, errors.New("store.table is required"))
	}
	if sqlutil.Normalize(c.Store.Driver) == "" {
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	for _, f := range c.Store.Fields {
		if err := f.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("store.fields: %w", err))
		}
	}
	if c.Poller.IntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("poller.interval_ms must be positive, got %d", c.Poller.IntervalMS))
	}
	if c.Poller.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("poller.max_retries must not be negative, got %d", c.Poller.MaxRetries))
	}
	if c.Poller.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("poller.batch_size must not be negative, got %d", c.Poller.BatchSize))
	}
	for i, s := range c.Sinks {
		if err := s.validate(); err != nil {
			errs = append(errs, fmt.Errorf("sinks[%d]: %w", i, err))
		}
	}
	if c.Watch.Enabled && c.Watch.Path == "" && sqlutil.Normalize(c.Store.Driver) != sqlutil.DriverSQLite {
		errs = append(errs, errors.New("watch.path is required unless the store is a sqlite file"))
	}
	if p := strings.ToLower(c.OTLP.Protocol); p != "" && p != "http" && p != "grpc" {
		errs = append(errs, fmt.Errorf("otlp.protocol %q must be http or grpc", c.OTLP.Protocol))
	}
	return errors.Join(errs...)
}

func (s SinkConfig) validate() error {
	if !sinkTypes[s.Type] {
		return fmt.Errorf("unknown sink type %q", s.Type)
	}
	switch s.Type {
	case "file":
		if s.Path == "" {
			return errors.New("file sink requires path")
		}
	case "http":
		if s.URL == "" {
			return errors.New("http sink requires url")
		}
	case "redis":
		if s.Addr == "" {
			return errors.New("redis sink requires addr")
		}
	case "nats":
		if s.Subject == "" {
			return errors.New("nats sink requires subject")
		}
	}
	for _, k := range s.Kinds {
		switch k {
		case "baseline", "updated", "warning", "fatal":
		default:
			return fmt.Errorf("unknown event kind %q", k)
		}
	}
	return nil
}

// LoadConfig reads a YAML (or JSON) file, expands ${VAR} references, applies
// ROWWATCH_* environment overrides and then defaults. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		content := []byte(SubstituteEnvVars(string(data)))
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			// Try JSON if YAML fails
			cfg = Config{}
			if jerr := json.Unmarshal(content, &cfg); jerr != nil {
				return nil, fmt.Errorf("failed to decode config file (tried YAML and JSON): %w", errors.Join(err, jerr))
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// applyEnv applies environment variable overrides (highest precedence after flags).
func (c *Config) applyEnv() error {
	str := map[string]*string{
		"ROWWATCH_DRIVER":          &c.Store.Driver,
		"ROWWATCH_DSN":             &c.Store.DSN,
		"ROWWATCH_TABLE":           &c.Store.Table,
		"ROWWATCH_IDENTITY_COLUMN": &c.Store.IdentityColumn,
		"ROWWATCH_SERIAL_COLUMN":   &c.Store.SerialColumn,
		"ROWWATCH_API_ADDR":        &c.API.Addr,
		"ROWWATCH_LOG_LEVEL":       &c.Log.Level,
		"ROWWATCH_OTLP_ENDPOINT":   &c.OTLP.Endpoint,
		"ROWWATCH_REPORT_SCHEDULE": &c.Report.Schedule,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"ROWWATCH_INTERVAL_MS": &c.Poller.IntervalMS,
		"ROWWATCH_MAX_RETRIES": &c.Poller.MaxRetries,
		"ROWWATCH_BATCH_SIZE":  &c.Poller.BatchSize,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} and ${VAR:-default} with values from the
// environment. Unset variables without a default become empty.
func SubstituteEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := envPattern.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(sub[1]); ok && v != "" {
			return v
		}
		return sub[3]
	})
}
