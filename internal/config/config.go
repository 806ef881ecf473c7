package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // named zones resolve without a system zoneinfo

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Prometheus    PrometheusConfig    `yaml:"prometheus"`
	Collection    CollectionConfig    `yaml:"collection"`
	Storage       StorageConfig       `yaml:"storage"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// ServerConfig represents the admin HTTP server configuration
type ServerConfig struct {
	Addr                string `yaml:"addr"`
	ManualRunsPerMinute int    `yaml:"manual_runs_per_minute"`
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// PrometheusConfig represents the metrics backend configuration
type PrometheusConfig struct {
	URL          string  `yaml:"url"`
	Timeout      string  `yaml:"timeout"`
	MaxRetries   int     `yaml:"max_retries"`
	RetryBackoff string  `yaml:"retry_backoff"`
	QPS          float64 `yaml:"qps"`
}

// CollectionConfig represents the collection schedule and sampling configuration
type CollectionConfig struct {
	Interval           string       `yaml:"interval"`
	DailyAt            string       `yaml:"daily_at"`
	RunOnStart         bool         `yaml:"run_on_start"`
	RunTimeout         string       `yaml:"run_timeout"`
	Window             string       `yaml:"window"`
	Bucket             string       `yaml:"bucket"`
	TimeZone           string       `yaml:"time_zone"`
	CPUCores           int          `yaml:"cpu_cores"`
	CPUAggregation     string       `yaml:"cpu_aggregation"`
	ErrorPolicy        string       `yaml:"error_policy"`
	MaxConflictRetries int          `yaml:"max_conflict_retries"`
	DefaultProjectID   string       `yaml:"default_project_id"`
	Hosts              []HostConfig `yaml:"hosts"`
}

// HostConfig names a monitored host and the entities its series link to
type HostConfig struct {
	Address      string `yaml:"address"`
	InstanceID   string `yaml:"instance_id"`
	ProjectID    string `yaml:"project_id"`
	HypervisorID string `yaml:"hypervisor_id"`
}

// StorageConfig represents the document store configuration
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
}

// NotificationsConfig represents outbound notification configuration
type NotificationsConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig represents the MQTT publisher configuration
type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Topic     string `yaml:"topic"`
	QoS       int    `yaml:"qos"`
}

var defaultHostAddresses = []string{
	"192.168.0.36:9100", "192.168.0.28:9100", "192.168.0.87:9100", "192.168.0.96:9100",
}

// Load loads the configuration from environment variables and defaults
func Load() (*Config, error) {
	return loadWithDefaults("")
}

// LoadFromFile loads configuration from a YAML file, with environment variable overrides
func LoadFromFile(configPath string) (*Config, error) {
	return loadWithDefaults(configPath)
}

// Default returns the built-in configuration
func Default() *Config {
	hosts := make([]HostConfig, 0, len(defaultHostAddresses))
	for i, addr := range defaultHostAddresses {
		hosts = append(hosts, HostConfig{
			Address:      addr,
			InstanceID:   fmt.Sprintf("Instance %d", i+1),
			HypervisorID: fmt.Sprintf("Hypervisor %d", i+1),
		})
	}

	return &Config{
		Server: ServerConfig{
			Addr:                "0.0.0.0:8080",
			ManualRunsPerMinute: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Prometheus: PrometheusConfig{
			URL:          "http://localhost:9090",
			Timeout:      "5s",
			MaxRetries:   0,
			RetryBackoff: "500ms",
		},
		Collection: CollectionConfig{
			Interval:           "1h",
			DailyAt:            "00:00",
			RunOnStart:         false,
			RunTimeout:         "50m",
			Window:             "24h",
			Bucket:             "1h",
			TimeZone:           "Asia/Seoul",
			CPUCores:           8,
			CPUAggregation:     "sum",
			ErrorPolicy:        "substitute_zero",
			MaxConflictRetries: 10,
			DefaultProjectID:   "CloudProject 1",
			Hosts:              hosts,
		},
		Storage: StorageConfig{
			Driver: "memory",
			Path:   "./data/store",
		},
		Notifications: NotificationsConfig{
			MQTT: MQTTConfig{
				ClientID: "eco-stack-collector",
				Topic:    "eco-stack/metrics",
				QoS:      1,
			},
		},
	}
}

// loadWithDefaults layers defaults, an optional YAML file and environment overrides
func loadWithDefaults(configPath string) (*Config, error) {
	cfg := Default()

	// Fields missing from the file keep their defaults
	if configPath != "" {
		if err := loadFromYAMLFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", configPath, err)
		}
	}

	applyEnv(cfg)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		var result []string
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

// loadFromYAMLFile decodes a YAML file over cfg
func loadFromYAMLFile(configPath string, cfg *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return nil
}

// applyEnv overrides cfg with the ECO_* environment variables that are set
func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnv("ECO_SERVER_ADDR", cfg.Server.Addr)
	if port := getEnv("PORT", ""); port != "" {
		cfg.Server.Addr = "0.0.0.0:" + port
	}
	cfg.Server.ManualRunsPerMinute = getEnvInt("ECO_MANUAL_RUNS_PER_MINUTE", cfg.Server.ManualRunsPerMinute)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("ECO_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getEnv("ECO_LOG_FILE", cfg.Logging.File)

	cfg.Prometheus.URL = getEnv("ECO_PROMETHEUS_URL", cfg.Prometheus.URL)
	cfg.Prometheus.Timeout = getEnv("ECO_PROMETHEUS_TIMEOUT", cfg.Prometheus.Timeout)
	cfg.Prometheus.MaxRetries = getEnvInt("ECO_PROMETHEUS_MAX_RETRIES", cfg.Prometheus.MaxRetries)
	cfg.Prometheus.RetryBackoff = getEnv("ECO_PROMETHEUS_RETRY_BACKOFF", cfg.Prometheus.RetryBackoff)
	cfg.Prometheus.QPS = getEnvFloat("ECO_PROMETHEUS_QPS", cfg.Prometheus.QPS)

	c := &cfg.Collection
	c.Interval = getEnv("ECO_COLLECTION_INTERVAL", c.Interval)
	c.DailyAt = getEnv("ECO_COLLECTION_DAILY_AT", c.DailyAt)
	c.RunOnStart = getEnvBool("ECO_RUN_ON_START", c.RunOnStart)
	c.RunTimeout = getEnv("ECO_RUN_TIMEOUT", c.RunTimeout)
	c.Window = getEnv("ECO_COLLECTION_WINDOW", c.Window)
	c.Bucket = getEnv("ECO_COLLECTION_BUCKET", c.Bucket)
	c.TimeZone = getEnv("ECO_TIME_ZONE", c.TimeZone)
	c.CPUCores = getEnvInt("ECO_CPU_CORES", c.CPUCores)
	c.CPUAggregation = getEnv("ECO_CPU_AGGREGATION", c.CPUAggregation)
	c.ErrorPolicy = getEnv("ECO_ERROR_POLICY", c.ErrorPolicy)
	c.MaxConflictRetries = getEnvInt("ECO_MAX_CONFLICT_RETRIES", c.MaxConflictRetries)
	c.DefaultProjectID = getEnv("ECO_DEFAULT_PROJECT_ID", c.DefaultProjectID)

	// ECO_HOSTS replaces the host list; each address doubles as its instance and hypervisor id
	if addrs := getEnvStringSlice("ECO_HOSTS", nil); len(addrs) > 0 {
		hosts := make([]HostConfig, 0, len(addrs))
		for _, addr := range addrs {
			hosts = append(hosts, HostConfig{Address: addr})
		}
		c.Hosts = hosts
	}

	cfg.Storage.Driver = getEnv("ECO_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Path = getEnv("ECO_STORAGE_PATH", cfg.Storage.Path)
	cfg.Storage.DatabaseURL = getEnv("ECO_DATABASE_URL", cfg.Storage.DatabaseURL)

	m := &cfg.Notifications.MQTT
	m.Enabled = getEnvBool("ECO_MQTT_ENABLED", m.Enabled)
	m.BrokerURL = getEnv("ECO_MQTT_BROKER_URL", m.BrokerURL)
	m.ClientID = getEnv("ECO_MQTT_CLIENT_ID", m.ClientID)
	m.Username = getEnv("ECO_MQTT_USERNAME", m.Username)
	m.Password = getEnv("ECO_MQTT_PASSWORD", m.Password)
	m.Topic = getEnv("ECO_MQTT_TOPIC", m.Topic)
	m.QoS = getEnvInt("ECO_MQTT_QOS", m.QoS)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.Server.ManualRunsPerMinute < 0 {
		return fmt.Errorf("manual runs per minute cannot be negative")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	if err := c.Prometheus.validate(); err != nil {
		return err
	}
	if err := c.Collection.validate(); err != nil {
		return err
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}

	m := c.Notifications.MQTT
	if m.Enabled {
		if m.BrokerURL == "" {
			return fmt.Errorf("MQTT broker URL is required when MQTT is enabled")
		}
		if m.Topic == "" {
			return fmt.Errorf("MQTT topic is required when MQTT is enabled")
		}
		if m.QoS < 0 || m.QoS > 2 {
			return fmt.Errorf("MQTT QoS must be 0, 1 or 2")
		}
	}

	return nil
}

func (p PrometheusConfig) validate() error {
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("prometheus URL must be an absolute http(s) URL, got %q", p.URL)
	}
	if _, err := parsePositiveDuration("prometheus timeout", p.Timeout); err != nil {
		return err
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("prometheus max retries cannot be negative")
	}
	if p.RetryBackoff != "" {
		if _, err := time.ParseDuration(p.RetryBackoff); err != nil {
			return fmt.Errorf("invalid prometheus retry backoff: %w", err)
		}
	}
	if p.QPS < 0 {
		return fmt.Errorf("prometheus qps cannot be negative")
	}
	return nil
}

func (c CollectionConfig) validate() error {
	interval, err := time.ParseDuration(c.Interval)
	if err != nil || interval < 0 {
		return fmt.Errorf("invalid collection interval %q", c.Interval)
	}
	if c.DailyAt != "" {
		if _, _, err := c.DailyTime(); err != nil {
			return err
		}
	}
	if interval == 0 && c.DailyAt == "" {
		return fmt.Errorf("at least one of collection interval or daily_at must be set")
	}

	if _, err := parsePositiveDuration("run timeout", c.RunTimeout); err != nil {
		return err
	}
	window, err := parsePositiveDuration("collection window", c.Window)
	if err != nil {
		return err
	}
	bucket, err := parsePositiveDuration("collection bucket", c.Bucket)
	if err != nil {
		return err
	}
	if bucket > window {
		return fmt.Errorf("collection bucket %s cannot exceed window %s", c.Bucket, c.Window)
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid time zone %q: %w", c.TimeZone, err)
	}

	if c.CPUCores <= 0 {
		return fmt.Errorf("cpu cores must be positive")
	}
	switch strings.ToLower(c.CPUAggregation) {
	case "", "sum", "mean":
	default:
		return fmt.Errorf("cpu aggregation must be 'sum' or 'mean'")
	}
	switch strings.ToLower(c.ErrorPolicy) {
	case "", "substitute_zero", "skip_bucket", "abort":
	default:
		return fmt.Errorf("error policy must be 'substitute_zero', 'skip_bucket' or 'abort'")
	}
	if c.MaxConflictRetries < 0 {
		return fmt.Errorf("max conflict retries cannot be negative")
	}

	if len(c.Hosts) == 0 {
		return fmt.Errorf("at least one host must be configured")
	}
	seen := make(map[string]bool, len(c.Hosts))
	for _, h := range c.Hosts {
		if strings.TrimSpace(h.Address) == "" {
			return fmt.Errorf("host address cannot be empty")
		}
		if seen[h.Address] {
			return fmt.Errorf("duplicate host address %s", h.Address)
		}
		seen[h.Address] = true
	}
	if c.DefaultProjectID == "" {
		for _, h := range c.Hosts {
			if h.ProjectID == "" {
				return fmt.Errorf("host %s has no project id and no default project is set", h.Address)
			}
		}
	}

	return nil
}

func (s StorageConfig) validate() error {
	switch s.Driver {
	case "memory":
	case "file":
		if s.Path == "" {
			return fmt.Errorf("storage path is required for the file driver")
		}
	case "postgres":
		if s.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage driver must be 'memory', 'file' or 'postgres'")
	}
	return nil
}

func parsePositiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return d, nil
}

// Durations are validated by Validate; the getters below fall back to zero on malformed input.

// GetInterval returns the fixed-interval trigger period; zero disables it
func (c CollectionConfig) GetInterval() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	return d
}

// GetRunTimeout returns the overall run deadline
func (c CollectionConfig) GetRunTimeout() time.Duration {
	d, _ := time.ParseDuration(c.RunTimeout)
	return d
}

// GetWindow returns the trailing window length
func (c CollectionConfig) GetWindow() time.Duration {
	d, _ := time.ParseDuration(c.Window)
	return d
}

// GetBucket returns the bucket size
func (c CollectionConfig) GetBucket() time.Duration {
	d, _ := time.ParseDuration(c.Bucket)
	return d
}

// Location loads the configured reference zone
func (c CollectionConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

// DailyTime parses DailyAt ("HH:MM")
func (c CollectionConfig) DailyTime() (hour, minute int, err error) {
	t, err := time.Parse("15:04", c.DailyAt)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid daily_at %q, expected HH:MM: %w", c.DailyAt, err)
	}
	return t.Hour(), t.Minute(), nil
}

// ResolvedHosts returns the hosts with missing ids filled in.
// Instance and hypervisor ids default to the address, the project to DefaultProjectID.
func (c CollectionConfig) ResolvedHosts() []HostConfig {
	hosts := make([]HostConfig, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		if h.InstanceID == "" {
			h.InstanceID = h.Address
		}
		if h.HypervisorID == "" {
			h.HypervisorID = h.Address
		}
		if h.ProjectID == "" {
			h.ProjectID = c.DefaultProjectID
		}
		hosts = append(hosts, h)
	}
	return hosts
}
