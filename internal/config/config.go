package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"

	SchedulerModeLocal = "local"
	SchedulerModeAsynq = "asynq"

	DefaultRedisTTL = 24 * time.Hour
)

type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Redis      RedisConfig
	Scheduler  SchedulerConfig
	Pipeline   PipelineConfig
	Screenshot ServiceConfig
	Detection  ServiceConfig
	Vision     VisionConfig
	R2         R2Config
	Callback   CallbackConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string
}

type StoreConfig struct {
	Backend         string
	TTL             time.Duration
	JanitorInterval time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SchedulerConfig struct {
	Mode            string
	MaxWorkers      int
	ShutdownTimeout time.Duration
}

type PipelineConfig struct {
	StageTimeout  time.Duration
	JobTimeout    time.Duration
	ParallelRules bool
	MockDelay     time.Duration
}

// ServiceConfig describes an HTTP stage service (screenshot capture, element detection)
type ServiceConfig struct {
	ServiceURL string
	APIKey     string
	Timeout    int // seconds
}

type VisionConfig struct {
	Endpoint   string
	APIKey     string
	Deployment string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type CallbackConfig struct {
	MaxRetries int
	Timeout    time.Duration
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("SCREENSHOT_API_KEY")
	readSecret("DETECTION_API_KEY")
	readSecret("VISION_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.log_format", "LOG_FORMAT")
	_ = v.BindEnv("store.backend", "STORE_BACKEND")
	_ = v.BindEnv("store.ttl", "STORE_TTL")
	_ = v.BindEnv("store.janitor_interval", "STORE_JANITOR_INTERVAL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("scheduler.mode", "SCHEDULER_MODE")
	_ = v.BindEnv("scheduler.max_workers", "SCHEDULER_MAX_WORKERS")
	_ = v.BindEnv("scheduler.shutdown_timeout", "SCHEDULER_SHUTDOWN_TIMEOUT")
	_ = v.BindEnv("pipeline.stage_timeout", "PIPELINE_STAGE_TIMEOUT")
	_ = v.BindEnv("pipeline.job_timeout", "PIPELINE_JOB_TIMEOUT")
	_ = v.BindEnv("pipeline.parallel_rules", "PIPELINE_PARALLEL_RULES")
	_ = v.BindEnv("pipeline.mock_delay", "PIPELINE_MOCK_DELAY")
	_ = v.BindEnv("screenshot.service_url", "SCREENSHOT_SERVICE_URL")
	_ = v.BindEnv("screenshot.api_key", "SCREENSHOT_API_KEY")
	_ = v.BindEnv("screenshot.timeout", "SCREENSHOT_TIMEOUT")
	_ = v.BindEnv("detection.service_url", "DETECTION_SERVICE_URL")
	_ = v.BindEnv("detection.api_key", "DETECTION_API_KEY")
	_ = v.BindEnv("detection.timeout", "DETECTION_TIMEOUT")
	_ = v.BindEnv("vision.endpoint", "VISION_ENDPOINT")
	_ = v.BindEnv("vision.api_key", "VISION_API_KEY")
	_ = v.BindEnv("vision.deployment", "VISION_DEPLOYMENT")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("callback.max_retries", "CALLBACK_MAX_RETRIES")
	_ = v.BindEnv("callback.timeout", "CALLBACK_TIMEOUT")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "console")
	v.SetDefault("store.backend", StoreBackendMemory)
	v.SetDefault("store.ttl", "0s")
	v.SetDefault("store.janitor_interval", "10m")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("scheduler.mode", SchedulerModeLocal)
	v.SetDefault("scheduler.max_workers", 8)
	v.SetDefault("scheduler.shutdown_timeout", "30s")
	v.SetDefault("pipeline.stage_timeout", "2m")
	v.SetDefault("pipeline.job_timeout", "10m")
	v.SetDefault("pipeline.parallel_rules", true)
	v.SetDefault("pipeline.mock_delay", "300ms")

	// Stage service defaults
	v.SetDefault("screenshot.timeout", 60)
	v.SetDefault("detection.timeout", 60)
	v.SetDefault("vision.deployment", "gpt-4o")

	// Callback defaults
	v.SetDefault("callback.max_retries", 3)
	v.SetDefault("callback.timeout", "10s")

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			LogFormat: v.GetString("server.log_format"),
		},
		Store: StoreConfig{
			Backend:         strings.ToLower(v.GetString("store.backend")),
			TTL:             v.GetDuration("store.ttl"),
			JanitorInterval: v.GetDuration("store.janitor_interval"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Scheduler: SchedulerConfig{
			Mode:            strings.ToLower(v.GetString("scheduler.mode")),
			MaxWorkers:      v.GetInt("scheduler.max_workers"),
			ShutdownTimeout: v.GetDuration("scheduler.shutdown_timeout"),
		},
		Pipeline: PipelineConfig{
			StageTimeout:  v.GetDuration("pipeline.stage_timeout"),
			JobTimeout:    v.GetDuration("pipeline.job_timeout"),
			ParallelRules: v.GetBool("pipeline.parallel_rules"),
			MockDelay:     v.GetDuration("pipeline.mock_delay"),
		},
		Screenshot: ServiceConfig{
			ServiceURL: v.GetString("screenshot.service_url"),
			APIKey:     v.GetString("screenshot.api_key"),
			Timeout:    v.GetInt("screenshot.timeout"),
		},
		Detection: ServiceConfig{
			ServiceURL: v.GetString("detection.service_url"),
			APIKey:     v.GetString("detection.api_key"),
			Timeout:    v.GetInt("detection.timeout"),
		},
		Vision: VisionConfig{
			Endpoint:   v.GetString("vision.endpoint"),
			APIKey:     v.GetString("vision.api_key"),
			Deployment: v.GetString("vision.deployment"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Callback: CallbackConfig{
			MaxRetries: v.GetInt("callback.max_retries"),
			Timeout:    v.GetDuration("callback.timeout"),
		},
	}

	// Redis keys always expire; memory keeps jobs for the process lifetime unless told otherwise
	if cfg.Store.Backend == StoreBackendRedis && cfg.Store.TTL == 0 {
		cfg.Store.TTL = DefaultRedisTTL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects combinations the service cannot run with
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendMemory, StoreBackendRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Scheduler.Mode {
	case SchedulerModeLocal:
	case SchedulerModeAsynq:
		if c.Store.Backend != StoreBackendRedis {
			return fmt.Errorf("scheduler mode %q requires store backend %q", SchedulerModeAsynq, StoreBackendRedis)
		}
	default:
		return fmt.Errorf("unknown scheduler mode %q", c.Scheduler.Mode)
	}

	if c.Scheduler.MaxWorkers < 0 {
		return fmt.Errorf("scheduler.max_workers must be >= 0, got %d", c.Scheduler.MaxWorkers)
	}
	if c.Store.TTL < 0 || c.Pipeline.StageTimeout < 0 || c.Pipeline.JobTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}

	return nil
}

// IsDebug reports whether verbose logging was requested
func (c *Config) IsDebug() bool {
	return strings.EqualFold(c.Server.LogLevel, "debug")
}
