package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Connector  ConnectorConfig
	Sinks      SinksConfig
	Sync       SyncConfig
	Alerting   AlertingConfig
	Outbox     OutboxConfig
	Classifier ClassifierConfig
	Auth       AuthConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	HTTPPort    int           `mapstructure:"http_port"`
	MetricsPort int           `mapstructure:"metrics_port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Password    string   `mapstructure:"password"`
	DB          int      `mapstructure:"db"`
	PoolSize    int      `mapstructure:"pool_size"`
	ClusterMode bool     `mapstructure:"cluster_mode"`
}

type ConnectorConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AdminUserID    string        `mapstructure:"admin_user_id"`
	AdminPassword  string        `mapstructure:"admin_password"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TokenSkew      time.Duration `mapstructure:"token_skew"`
	RetryOn401     bool          `mapstructure:"retry_on_401"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

type SinkConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type SinksConfig struct {
	Sheet     SinkConfig `mapstructure:"sheet"`
	Messenger SinkConfig `mapstructure:"messenger"`
}

type SyncConfig struct {
	JobName           string        `mapstructure:"job_name"`
	DefaultCategoryID int           `mapstructure:"default_category_id"`
	MaxCategories     int           `mapstructure:"max_categories"`
	MaxUsersPerCourse int           `mapstructure:"max_users_per_course"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
}

type AlertingConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
}

type OutboxConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BaseBackoff     time.Duration `mapstructure:"base_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	MaxRetries      int           `mapstructure:"max_retries"` // 0 means unbounded
	StuckThreshold  time.Duration `mapstructure:"stuck_threshold"`
	DispatchLockTTL time.Duration `mapstructure:"dispatch_lock_ttl"`
}

// ClassifierConfig externalizes the status-transition table so new upstream
// status codes can be mapped without a redeploy. Transition keys are
// "PREV->NEXT" pairs.
type ClassifierConfig struct {
	Transitions    map[string]string `mapstructure:"transitions"`
	ReviewRequired []string          `mapstructure:"review_required"`
	RollbackTier   string            `mapstructure:"rollback_tier"`
	DefaultNewTier string            `mapstructure:"default_new_tier"`
}

type AuthConfig struct {
	APIToken string `mapstructure:"api_token"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/enrolsync/")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("ENROLSYNC")
	viper.AutomaticEnv()

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.metrics_port", 9091)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("redis.pool_size", 100)
	viper.SetDefault("connector.base_url", "https://edu.kvca.or.kr")
	viper.SetDefault("connector.request_timeout", "15s")
	viper.SetDefault("connector.token_skew", "60s")
	viper.SetDefault("connector.retry_on_401", true)
	viper.SetDefault("connector.max_attempts", 3)
	viper.SetDefault("connector.retry_backoff", "500ms")
	viper.SetDefault("sinks.sheet.request_timeout", "15s")
	viper.SetDefault("sinks.messenger.request_timeout", "15s")
	viper.SetDefault("sync.job_name", "enrolment_sync")
	viper.SetDefault("sync.max_categories", 1)
	viper.SetDefault("sync.lock_ttl", "15m")
	viper.SetDefault("alerting.cooldown", "30m")
	viper.SetDefault("outbox.batch_size", 100)
	viper.SetDefault("outbox.poll_interval", "5s")
	viper.SetDefault("outbox.base_backoff", "30s")
	viper.SetDefault("outbox.max_backoff", "30m")
	viper.SetDefault("outbox.max_retries", 0)
	viper.SetDefault("outbox.stuck_threshold", "10m")
	viper.SetDefault("outbox.dispatch_lock_ttl", "5m")
	viper.SetDefault("classifier.rollback_tier", "AMBIGUOUS")
	viper.SetDefault("classifier.default_new_tier", "AUTO")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
