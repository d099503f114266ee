package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Store      StoreConfig      `mapstructure:"store"`
	Scylla     ScyllaConfig     `mapstructure:"scylla"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Carrier    CarrierConfig    `mapstructure:"carrier"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Notifier   NotifierConfig   `mapstructure:"notifier"`
	Recovery   RecoveryConfig   `mapstructure:"recovery"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Env         string `mapstructure:"env"`
	Version     string `mapstructure:"version"`
	PublicURL   string `mapstructure:"public_url"`
	RoutePrefix string `mapstructure:"route_prefix"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// StoreConfig configures the single embedded relational database.
type StoreConfig struct {
	Path            string        `mapstructure:"path"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ScyllaConfig configures the secondary call-history archive.
type ScyllaConfig struct {
	Hosts             []string      `mapstructure:"hosts"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Enabled           bool          `mapstructure:"enabled"`
	DisableInitSchema bool          `mapstructure:"disable_init_schema"`
}

// KafkaConfig configures the ambient observability event bus.
type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	ClientID       string        `mapstructure:"client_id"`
	EventsTopic    string        `mapstructure:"events_topic"`
	Enabled        bool          `mapstructure:"enabled"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
}

// RedisConfig configures the active-call-count cache and optimistic slot
// counter.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Enabled      bool          `mapstructure:"enabled"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	ActiveCallsTTL time.Duration `mapstructure:"active_calls_ttl"`
}

type TelemetryConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	ServiceName       string        `mapstructure:"service_name"`
	SampleRatio       float64       `mapstructure:"sample_ratio"`
	MetricsEnabled    bool          `mapstructure:"metrics_enabled"`
	TracingEnabled    bool          `mapstructure:"tracing_enabled"`
	Propagators       []string      `mapstructure:"propagators"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type SchedulerConfig struct {
	TickInterval           time.Duration `mapstructure:"tick_interval"`
	MaxActiveCalls         int           `mapstructure:"max_active_calls"`
	RecoverySweepOnStartup bool          `mapstructure:"recovery_sweep_on_startup"`
}

type RetryConfig struct {
	MaxAttempts   int    `mapstructure:"max_attempts"`
	CivilTimezone string `mapstructure:"civil_timezone"`
}

// CarrierConfig configures the telephony control-API client.
type CarrierConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AccountSID     string        `mapstructure:"account_sid"`
	AuthToken      string        `mapstructure:"auth_token"`
	SourcePhone    string        `mapstructure:"source_phone"`
	RingTimeout    time.Duration `mapstructure:"ring_timeout"`
	CallTimeLimit  time.Duration `mapstructure:"call_time_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	CircuitMaxFailures uint32    `mapstructure:"circuit_max_failures"`
}

// AgentConfig configures the AI voice agent provider.
type AgentConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AgentID        string        `mapstructure:"agent_id"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
}

// NotifierConfig configures the fire-and-forget chat webhook sink.
type NotifierConfig struct {
	WebhookURL    string        `mapstructure:"webhook_url"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RecoveryConfig configures the startup/periodic in-flight recovery sweep.
type RecoveryConfig struct {
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("OUTBOUND")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Scheduler.TickInterval < 5*time.Second {
		cfg.Scheduler.TickInterval = 10 * time.Second
	}
	if cfg.Scheduler.MaxActiveCalls <= 0 {
		cfg.Scheduler.MaxActiveCalls = 3
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 10
	}
	if cfg.Retry.CivilTimezone == "" {
		cfg.Retry.CivilTimezone = "Europe/Rome"
	}
	if cfg.Recovery.StaleThreshold <= 0 {
		cfg.Recovery.StaleThreshold = 5 * time.Minute
	}
	if cfg.Recovery.SweepInterval <= 0 {
		cfg.Recovery.SweepInterval = time.Minute
	}
	if cfg.Redis.ActiveCallsTTL <= 0 {
		cfg.Redis.ActiveCallsTTL = 3 * time.Second
	}
	if cfg.Carrier.CircuitMaxFailures <= 0 {
		cfg.Carrier.CircuitMaxFailures = 5
	}
	if cfg.Carrier.BaseDelay <= 0 {
		cfg.Carrier.BaseDelay = 2 * time.Second
	}
	if cfg.Carrier.MaxDelay <= 0 {
		cfg.Carrier.MaxDelay = 15 * time.Second
	}
	if cfg.Agent.BaseDelay <= 0 {
		cfg.Agent.BaseDelay = 2 * time.Second
	}
	if cfg.Agent.MaxDelay <= 0 {
		cfg.Agent.MaxDelay = 15 * time.Second
	}
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
