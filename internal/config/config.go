package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"merchant-guard/internal/logging"
)

// Alert notification channels understood by the service.
const (
	ChannelSlack = "slack"
	ChannelNATS  = "nats"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects the in-memory repository.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the periodic rule sweep and rule review.
type SchedulerConfig struct {
	EvaluationInterval time.Duration `mapstructure:"evaluation_interval"`
	ReviewInterval     time.Duration `mapstructure:"review_interval"`
	AlignToBucket      bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey    int64         `mapstructure:"advisory_lock_key"`
	StartupDelay       time.Duration `mapstructure:"startup_delay"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// WorkersConfig sizes the action execution pool.
type WorkersConfig struct {
	Count            int           `mapstructure:"count"`
	QueueSize        int           `mapstructure:"queue_size"`
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
}

// AlertingConfig defines alert policy and routing.
type AlertingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Channels      []string      `mapstructure:"channels"`
	DedupeActive  bool          `mapstructure:"dedupe_active"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
	Slack         SlackConfig   `mapstructure:"slack"`
}

// SlackConfig tunes webhook delivery. The webhook URL is per store.
type SlackConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// NATSConfig describes the alert fan-out subject.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// KafkaConfig configures the optional upstream event consumer.
type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	GroupID  string   `mapstructure:"group_id"`
	MinBytes int      `mapstructure:"min_bytes"`
	MaxBytes int      `mapstructure:"max_bytes"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MERCHANTGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "merchantguard")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("scheduler.evaluation_interval", "15m")
	v.SetDefault("scheduler.review_interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6d677264))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.queue_size", 256)
	v.SetDefault("workers.execution_timeout", "30s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.channels", []string{ChannelSlack})
	v.SetDefault("alerting.dedupe_active", true)
	v.SetDefault("alerting.notify_timeout", "10s")
	v.SetDefault("alerting.slack.timeout", "5s")
	v.SetDefault("alerting.slack.user_agent", "merchantguard/1.0")

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "merchantguard.alerts")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "merchant-events")
	v.SetDefault("kafka.group_id", "merchantguard")
	v.SetDefault("kafka.min_bytes", 1)
	v.SetDefault("kafka.max_bytes", 10<<20)

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.EvaluationInterval <= 0 {
		return fmt.Errorf("scheduler.evaluation_interval must be greater than zero")
	}
	if c.Scheduler.ReviewInterval <= 0 {
		return fmt.Errorf("scheduler.review_interval must be greater than zero")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be greater than zero")
	}
	if c.Workers.QueueSize < 0 {
		return fmt.Errorf("workers.queue_size cannot be negative")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	for _, ch := range c.Alerting.Channels {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case ChannelSlack:
		case ChannelNATS:
			if c.NATS.URL == "" || c.NATS.Subject == "" {
				return fmt.Errorf("nats.url and nats.subject are required for the nats channel")
			}
		default:
			return fmt.Errorf("alerting.channels: unsupported channel %q", ch)
		}
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}
	return nil
}

// ChannelEnabled reports whether alert notifications should be routed to the channel.
func (c *Config) ChannelEnabled(name string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	for _, ch := range c.Alerting.Channels {
		if strings.EqualFold(strings.TrimSpace(ch), name) {
			return true
		}
	}
	return false
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
