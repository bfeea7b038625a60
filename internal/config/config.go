package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Sms       SmsConfig       `mapstructure:"sms"`
	Quota     QuotaConfig     `mapstructure:"quota"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthQuery     string        `mapstructure:"health_query"`
}

type ScyllaConfig struct {
	Hosts             []string      `mapstructure:"hosts"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers              []string      `mapstructure:"brokers"`
	ClientID             string        `mapstructure:"client_id"`
	DispatchTopic        string        `mapstructure:"dispatch_topic"`
	OutcomeTopic         string        `mapstructure:"outcome_topic"`
	RetryTopics          []string      `mapstructure:"retry_topics"`
	DeadLetterTopic      string        `mapstructure:"dead_letter_topic"`
	ConsumerGroupID      string        `mapstructure:"consumer_group_id"`
	RetryConsumerGroupID string        `mapstructure:"retry_consumer_group_id"`
	CommitInterval       time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	ServiceName       string        `mapstructure:"service_name"`
	SampleRatio       float64       `mapstructure:"sample_ratio"`
	MetricsInterval   time.Duration `mapstructure:"metrics_interval"`
	MetricsEnabled    bool          `mapstructure:"metrics_enabled"`
	TracingEnabled    bool          `mapstructure:"tracing_enabled"`
	Propagators       []string      `mapstructure:"propagators"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	CollectorProtocol string        `mapstructure:"collector_protocol"`
}

type SchedulerConfig struct {
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	MaxBatchSize  int           `mapstructure:"max_batch_size"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	LockKeyPrefix string        `mapstructure:"lock_key_prefix"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

type DispatchConfig struct {
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	BatchSize    int           `mapstructure:"batch_size"`
	MessageLimit int           `mapstructure:"message_limit"`
}

type SmsConfig struct {
	Provider       string        `mapstructure:"provider"`
	FromNumber     string        `mapstructure:"from_number"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Twilio         TwilioConfig  `mapstructure:"twilio"`
	Mock           MockConfig    `mapstructure:"mock"`
}

type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	BaseURL    string `mapstructure:"base_url"`
}

type MockConfig struct {
	SuccessRate float64       `mapstructure:"success_rate"`
	Latency     time.Duration `mapstructure:"latency"`
}

type QuotaConfig struct {
	DefaultSmsLimit      int64 `mapstructure:"default_sms_limit"`
	DefaultCampaignLimit int64 `mapstructure:"default_campaign_limit"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("SMSCAMPAIGN")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
