package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/sellerpulse/automation-hub/internal/model"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Workflow    WorkflowConfig    `mapstructure:"workflow"`
	Channels    ChannelsConfig    `mapstructure:"channels"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Resilience  ResilienceConfig  `mapstructure:"resilience"`
	Automations AutomationsConfig `mapstructure:"automations"`
	Context     ContextConfig     `mapstructure:"context"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type WorkflowConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	WebhookURL string        `mapstructure:"webhook_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ChannelsConfig struct {
	WhatsApp  WhatsAppConfig  `mapstructure:"whatsapp"`
	Instagram InstagramConfig `mapstructure:"instagram"`
	Email     EmailConfig     `mapstructure:"email"`
}

type WhatsAppConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Instance string `mapstructure:"instance"`
}

type InstagramConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	AccessToken string `mapstructure:"access_token"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type SchedulerConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

type ResilienceConfig struct {
	Limiter LimiterConfig `mapstructure:"limiter"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	Retry   RetryConfig   `mapstructure:"retry"`
}

type LimiterConfig struct {
	Capacity   float64 `mapstructure:"capacity"`
	RefillRate float64 `mapstructure:"refill_rate"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

type AutomationsConfig struct {
	Disabled  []string                      `mapstructure:"disabled"`
	Overrides map[string]AutomationOverride `mapstructure:"overrides"`
}

// AutomationOverride adjusts a built-in automation config. Zero-value
// fields keep the default; quiet hours use pointers so 0 (midnight) is
// distinguishable from unset.
type AutomationOverride struct {
	WorkflowID        string        `mapstructure:"workflow_id"`
	Channel           string        `mapstructure:"channel"`
	Priority          string        `mapstructure:"priority"`
	SuppressionWindow time.Duration `mapstructure:"suppression_window"`
	MaxPerUserPerDay  int           `mapstructure:"max_per_user_per_day"`
	QuietHoursStart   *int          `mapstructure:"quiet_hours_start"`
	QuietHoursEnd     *int          `mapstructure:"quiet_hours_end"`
}

// Table builds the effective automation table: built-in defaults with
// file overrides merged on top, then the disabled list applied.
func (a AutomationsConfig) Table() (*model.ConfigTable, error) {
	table := model.NewConfigTable()

	for name, ov := range a.Overrides {
		typ := model.AutomationType(name)
		cfg, ok := model.DefaultConfig(typ)
		if !ok {
			return nil, fmt.Errorf("unknown automation type %q in overrides", name)
		}
		if ov.WorkflowID != "" {
			cfg.WorkflowID = ov.WorkflowID
		}
		if ov.Channel != "" {
			ch := model.Channel(ov.Channel)
			if !ch.Valid() {
				return nil, fmt.Errorf("automation %q: invalid channel %q", name, ov.Channel)
			}
			cfg.DefaultChannel = ch
		}
		if ov.Priority != "" {
			p, err := model.ParsePriority(ov.Priority)
			if err != nil {
				return nil, fmt.Errorf("automation %q: %w", name, err)
			}
			cfg.Priority = p
		}
		if ov.SuppressionWindow > 0 {
			cfg.SuppressionWindow = ov.SuppressionWindow
		}
		if ov.MaxPerUserPerDay > 0 {
			cfg.MaxPerUserPerDay = ov.MaxPerUserPerDay
		}
		if ov.QuietHoursStart != nil {
			cfg.QuietHoursStart = *ov.QuietHoursStart
		}
		if ov.QuietHoursEnd != nil {
			cfg.QuietHoursEnd = *ov.QuietHoursEnd
		}
		table.Override(cfg)
	}

	for _, name := range a.Disabled {
		typ := model.AutomationType(name)
		if _, ok := model.DefaultConfig(typ); !ok {
			return nil, fmt.Errorf("unknown automation type %q in disabled list", name)
		}
		table.SetEnabled(typ, false)
	}

	return table, nil
}

type ContextConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `mapstructure:"prometheus_enabled"`
	MetricsPath       string `mapstructure:"metrics_path"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/app/config")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("workflow.timeout", "30s")
	viper.SetDefault("scheduler.batch_size", 50)
	viper.SetDefault("scheduler.poll_interval", "30s")
	viper.SetDefault("scheduler.max_attempts", 3)
	viper.SetDefault("scheduler.retry_delay", "60s")
	viper.SetDefault("resilience.limiter.capacity", 10)
	viper.SetDefault("resilience.limiter.refill_rate", 1)
	viper.SetDefault("resilience.breaker.failure_threshold", 5)
	viper.SetDefault("resilience.breaker.success_threshold", 3)
	viper.SetDefault("resilience.breaker.recovery_timeout", "30s")
	viper.SetDefault("resilience.breaker.half_open_max_calls", 3)
	viper.SetDefault("resilience.retry.max_attempts", 3)
	viper.SetDefault("resilience.retry.base_delay", "1s")
	viper.SetDefault("resilience.retry.max_delay", "60s")
	viper.SetDefault("resilience.retry.jitter", 0.5)
	viper.SetDefault("context.ttl", "30m")
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.requests_per_second", 50)
	viper.SetDefault("rate_limit.burst", 100)
	viper.SetDefault("monitoring.prometheus_enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.console", false)
}

// WorkerEnv carries the deployment-environment overrides the scheduler
// worker accepts on top of the config file.
type WorkerEnv struct {
	DatabaseURL  string        `envconfig:"DATABASE_URL"`
	RedisURL     string        `envconfig:"REDIS_URL"`
	BatchSize    int           `envconfig:"SCHEDULER_BATCH_SIZE"`
	PollInterval time.Duration `envconfig:"SCHEDULER_POLL_INTERVAL"`
	HealthPort   int           `envconfig:"HEALTH_PORT" default:"8081"`
}

func LoadWorkerEnv() (*WorkerEnv, error) {
	var env WorkerEnv
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	return &env, nil
}

// Apply merges non-zero env overrides into the file config.
func (e *WorkerEnv) Apply(cfg *Config) {
	if e.RedisURL != "" {
		cfg.Redis.URL = e.RedisURL
	}
	if e.BatchSize > 0 {
		cfg.Scheduler.BatchSize = e.BatchSize
	}
	if e.PollInterval > 0 {
		cfg.Scheduler.PollInterval = e.PollInterval
	}
}
