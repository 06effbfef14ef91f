package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Auth       AuthConfig
	Redis      RedisConfig
	Evaluator  EvaluatorConfig  `mapstructure:"evaluator"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Storage    StorageConfig
	Events     EventsConfig    `mapstructure:"events"`
	Tracing    TracingConfig   `mapstructure:"tracing"`
	CORS       CORSConfig      `mapstructure:"cors"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Log        LogConfig       `mapstructure:"log"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"`
	MigrateOnly  bool `mapstructure:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig max_requests/window_minutes 为按 IP 的全局限流，
// submit_per_minute 为每个教师的提交限流
type RateLimitConfig struct {
	MaxRequests     int `mapstructure:"max_requests"`
	WindowMinutes   int `mapstructure:"window_minutes"`
	SubmitPerMinute int `mapstructure:"submit_per_minute"`
}

func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

// AuthConfig 登录使用统一的默认密码，只保存 bcrypt 哈希
type AuthConfig struct {
	DefaultPasswordHash string `mapstructure:"default_password_hash"`
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int `mapstructure:"pool_size"`
}

// EvaluatorConfig 外部评估服务（会话分析）
type EvaluatorConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	OrgID          string        `mapstructure:"org_id"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Poll           PollConfig    `mapstructure:"poll"`
}

type PollConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval"`
	TriggerOnce bool          `mapstructure:"trigger_once"`
}

type SubmissionConfig struct {
	FallbackToClientScore bool          `mapstructure:"fallback_to_client_score"`
	Serialize             bool          `mapstructure:"serialize"`
	LockTTL               time.Duration `mapstructure:"lock_ttl"`
	LockWait              time.Duration `mapstructure:"lock_wait"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	MinioSecure   bool   `mapstructure:"minio_secure"`
	OSSEndpoint   string `mapstructure:"oss_endpoint"`
	OSSAccessKey  string `mapstructure:"oss_access_key"`
	OSSSecretKey  string `mapstructure:"oss_secret_key"`
	OSSBucket     string `mapstructure:"oss_bucket"`
}

type EventsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parsetime", true)
	v.SetDefault("jwt.expire_hours", 24)

	v.SetDefault("evaluator.base_url", "https://api.toughtongueai.com/api/public")
	v.SetDefault("evaluator.user_agent", "Teacher-Scenario-Backend/1.0")
	v.SetDefault("evaluator.request_timeout", 45*time.Second)
	v.SetDefault("evaluator.poll.max_attempts", 15)
	v.SetDefault("evaluator.poll.interval", 30*time.Second)
	v.SetDefault("evaluator.poll.trigger_once", true)

	v.SetDefault("submission.fallback_to_client_score", true)
	v.SetDefault("submission.lock_ttl", 10*time.Minute)
	v.SetDefault("submission.lock_wait", 30*time.Second)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "evaluations")
	v.SetDefault("events.exchange", "scenario.events")

	v.SetDefault("rate_limit.max_requests", 1000)
	v.SetDefault("rate_limit.window_minutes", 1)
	v.SetDefault("rate_limit.submit_per_minute", 10)

	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("log.file", "logs/app.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SCENARIO")
	v.AutomaticEnv()
	setDefaults(v)

	// Database
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT / Auth
	v.BindEnv("jwt.secret", "JWT_SECRET")
	v.BindEnv("auth.default_password_hash", "DEFAULT_PASSWORD_HASH")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")
	v.BindEnv("server.port", "PORT")
	v.BindEnv("log.level", "LOG_LEVEL")

	// Evaluator
	v.BindEnv("evaluator.base_url", "EVALUATOR_BASE_URL")
	v.BindEnv("evaluator.api_key", "EVALUATOR_API_KEY")
	v.BindEnv("evaluator.org_id", "EVALUATOR_ORG_ID")

	// Storage
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	v.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("storage.minio_bucket", "MINIO_BUCKET")
	v.BindEnv("storage.oss_endpoint", "OSS_ENDPOINT")
	v.BindEnv("storage.oss_access_key", "OSS_ACCESS_KEY")
	v.BindEnv("storage.oss_secret_key", "OSS_SECRET_KEY")
	v.BindEnv("storage.oss_bucket", "OSS_BUCKET")

	// Events
	v.BindEnv("events.url", "AMQP_URL")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// expire_hours 以小时为单位配置
	if cfg.JWT.ExpireTime < time.Hour {
		cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 检查启动时不能容忍的配置错误
func (c *Config) Validate() error {
	if c.Server.Mode == "release" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(c.JWT.Secret))
	}
	if c.Evaluator.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("evaluator.poll.max_attempts must be positive, got %d", c.Evaluator.Poll.MaxAttempts)
	}
	if c.Evaluator.Poll.Interval < 0 {
		return fmt.Errorf("evaluator.poll.interval must not be negative, got %s", c.Evaluator.Poll.Interval)
	}
	if c.Evaluator.RequestTimeout <= 0 {
		return fmt.Errorf("evaluator.request_timeout must be positive, got %s", c.Evaluator.RequestTimeout)
	}
	return nil
}
