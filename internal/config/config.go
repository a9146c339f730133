// Package config loads OCCAM's configuration the way the teacher's
// internal/config/config.go does: one struct per concern, viper defaults,
// environment override, optional YAML file.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every option enumerated in spec.md section 6.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	S3           S3Config
	Elasticsearch ElasticsearchConfig
	Auth         AuthConfig
	Logging      LoggingConfig
	Tracing      TracingConfig
	Vault        VaultConfig
	Governance   GovernanceConfig
	Orchestrator OrchestratorConfig
	Compliance   ComplianceConfig
	Alerting     AlertingConfig
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the Postgres connection string, following the teacher's
// DatabaseConfig.DSN pattern.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	FactBoxTTL   time.Duration `mapstructure:"factbox_ttl"`
}

func (c RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

type KafkaConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	ConsumerGroup    string   `mapstructure:"consumer_group"`
	SubmissionTopic  string   `mapstructure:"submission_topic"`
	EnableIdempotent bool     `mapstructure:"enable_idempotent"`
}

type S3Config struct {
	Region        string `mapstructure:"region"`
	ArchiveBucket string `mapstructure:"archive_bucket"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type AuthConfig struct {
	JWTPublicKeyPath string `mapstructure:"jwt_public_key_path"`
	JWTIssuer        string `mapstructure:"jwt_issuer"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	EnablePIIMask bool   `mapstructure:"enable_pii_mask"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// VaultConfig covers the Secure Vault knobs of spec.md section 6.
type VaultConfig struct {
	MasterKeyBase64     string        `mapstructure:"master_key"`
	PasswordMinLength   int           `mapstructure:"password_min_length"`
	RequireUpper        bool          `mapstructure:"password_require_upper"`
	RequireLower        bool          `mapstructure:"password_require_lower"`
	RequireDigit        bool          `mapstructure:"password_require_digit"`
	RequireSpecial      bool          `mapstructure:"password_require_special"`
	RejectCommon        bool          `mapstructure:"password_reject_common"`
	RotationDefaultDays int           `mapstructure:"rotation_default_days"`
	RotationWarningDays int           `mapstructure:"rotation_warning_days"`
	RotationMaxDays     int           `mapstructure:"rotation_max_days"`
}

// GovernanceConfig covers spend/rate limits from spec.md section 6.
type GovernanceConfig struct {
	DailySpendLimit           string  `mapstructure:"daily_spend_limit"`
	MaxTransactionAmount      string  `mapstructure:"max_transaction_amount"`
	ApprovalThreshold         string  `mapstructure:"approval_threshold"`
	RateLimitWindowMinutes    int     `mapstructure:"rate_limit_window_minutes"`
	MaxTransactionsPerWindow  int     `mapstructure:"max_transactions_per_window"`
	ApprovalExpiryHours       int     `mapstructure:"approval_expiry_hours"`
	RapidTransactionCount     int     `mapstructure:"rapid_transaction_count"`
	RapidTransactionWindowMin int     `mapstructure:"rapid_transaction_window_minutes"`
	AnomalyMeanMultiplier     float64 `mapstructure:"anomaly_mean_multiplier"`
}

// OrchestratorConfig covers the worker-pool and retry knobs.
type OrchestratorConfig struct {
	WorkerPoolSize          int     `mapstructure:"worker_pool_size"`
	MaxRetries              int     `mapstructure:"max_retries"`
	RetryBaseMs             int     `mapstructure:"retry_base_ms"`
	RetryCapMs              int     `mapstructure:"retry_cap_ms"`
	StageDeadlineMultiplier float64 `mapstructure:"stage_deadline_multiplier"`
	StageDeadlineMaxMs      int     `mapstructure:"stage_deadline_max_ms"`
}

type ComplianceConfig struct {
	AuditRetentionDays int `mapstructure:"audit_retention_days"`
}

// AlertingConfig covers the renewal sweep windows from spec.md section 6.
type AlertingConfig struct {
	RenewalWarningDays  int           `mapstructure:"renewal_warning_days"`
	RenewalCriticalDays int           `mapstructure:"renewal_critical_days"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	SlackWebhookURL     string        `mapstructure:"slack_webhook_url"`
	SlackChannel        string        `mapstructure:"slack_channel"`
}

// Load loads configuration from environment and an optional config file,
// following the teacher's config.Load().
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OCCAM")
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Vault.MasterKeyBase64 == "" {
		return nil, fmt.Errorf("vault_master_key is required and was not supplied")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "occam")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "5m")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.factbox_ttl", "5m")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "occam-orchestrator")
	v.SetDefault("kafka.submission_topic", "occam.compliance.requests")
	v.SetDefault("kafka.enable_idempotent", true)

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.archive_bucket", "occam-audit-archive")

	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.index", "occam-audit-events")

	v.SetDefault("auth.jwt_issuer", "occam-agents")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.enable_pii_mask", true)

	v.SetDefault("tracing.enabled", true)
	v.SetDefault("tracing.service_name", "occam-orchestrator")
	v.SetDefault("tracing.sample_rate", 0.1)

	v.SetDefault("vault.password_min_length", 12)
	v.SetDefault("vault.password_require_upper", true)
	v.SetDefault("vault.password_require_lower", true)
	v.SetDefault("vault.password_require_digit", true)
	v.SetDefault("vault.password_require_special", true)
	v.SetDefault("vault.password_reject_common", true)
	v.SetDefault("vault.rotation_default_days", 90)
	v.SetDefault("vault.rotation_warning_days", 7)
	v.SetDefault("vault.rotation_max_days", 180)

	v.SetDefault("governance.daily_spend_limit", "50000")
	v.SetDefault("governance.max_transaction_amount", "10000")
	v.SetDefault("governance.approval_threshold", "5000")
	v.SetDefault("governance.rate_limit_window_minutes", 60)
	v.SetDefault("governance.max_transactions_per_window", 20)
	v.SetDefault("governance.approval_expiry_hours", 24)
	v.SetDefault("governance.rapid_transaction_count", 10)
	v.SetDefault("governance.rapid_transaction_window_minutes", 5)
	v.SetDefault("governance.anomaly_mean_multiplier", 3.0)

	v.SetDefault("orchestrator.worker_pool_size", 8)
	v.SetDefault("orchestrator.max_retries", 3)
	v.SetDefault("orchestrator.retry_base_ms", 250)
	v.SetDefault("orchestrator.retry_cap_ms", 30000)
	v.SetDefault("orchestrator.stage_deadline_multiplier", 5.0)
	v.SetDefault("orchestrator.stage_deadline_max_ms", 60000)

	v.SetDefault("compliance.audit_retention_days", 2555)

	v.SetDefault("alerting.renewal_warning_days", 30)
	v.SetDefault("alerting.renewal_critical_days", 7)
	v.SetDefault("alerting.sweep_interval", "1h")
}
