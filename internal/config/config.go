package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Upstream  UpstreamConfig
	Stream    StreamConfig
	RateLimit RateLimitConfig
	Queue     QueueConfig
	Notifier  NotifierConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Webhook   WebhookConfig
	Trace     TraceConfig
}

type APIConfig struct {
	Addr string
}

type UpstreamConfig struct {
	URL     string
	Timeout time.Duration
}

type StreamConfig struct {
	PollInterval time.Duration
	MaxTicks     int
}

type RateLimitConfig struct {
	Enabled      bool
	Capacity     int
	Window       time.Duration
	UserIDHeader string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type NotifierConfig struct {
	Concurrency int
	MetricsAddr string
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Exporter       string
	OTLPEndpoint   string
	OTLPInsecure   bool
	SampleRatio    float64
}

func Load() Config {
	return Config{
		API: APIConfig{
			Addr: env("VOXFLOW_API_ADDR", ":8080"),
		},
		Upstream: UpstreamConfig{
			URL:     env("VOXFLOW_UPSTREAM_URL", "http://localhost:9090/transcriptions"),
			Timeout: envDuration("VOXFLOW_UPSTREAM_TIMEOUT", 30*time.Second),
		},
		Stream: StreamConfig{
			PollInterval: envDuration("VOXFLOW_STREAM_POLL_INTERVAL", time.Second),
			MaxTicks:     envInt("VOXFLOW_STREAM_MAX_TICKS", 120),
		},
		RateLimit: RateLimitConfig{
			Enabled:      envBool("VOXFLOW_RATE_LIMIT_ENABLED", false),
			Capacity:     envInt("VOXFLOW_RATE_LIMIT_CAPACITY", 30),
			Window:       envDuration("VOXFLOW_RATE_LIMIT_WINDOW", time.Minute),
			UserIDHeader: env("VOXFLOW_RATE_LIMIT_USER_HEADER", "X-User-ID"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("VOXFLOW_QUEUE", "default"),
		},
		Notifier: NotifierConfig{
			Concurrency: envInt("NOTIFIER_CONCURRENCY", max(2, runtime.NumCPU())),
			MetricsAddr: env("NOTIFIER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Enabled:   envBool("MINIO_ENABLED", false),
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "voxflow-audio"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("VOXFLOW_WEBHOOK_SECRET", ""),
			Timeout:        envDuration("VOXFLOW_WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("VOXFLOW_WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("VOXFLOW_WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("VOXFLOW_WEBHOOK_MAX_BACKOFF", 30*time.Second),
		},
		Trace: TraceConfig{
			ServiceName:    env("VOXFLOW_TRACE_SERVICE", "voxflow-api"),
			ServiceVersion: env("VOXFLOW_TRACE_SERVICE_VERSION", "dev"),
			Exporter:       env("VOXFLOW_TRACE_EXPORTER", "none"),
			OTLPEndpoint:   env("VOXFLOW_TRACE_OTLP_ENDPOINT", ""),
			OTLPInsecure:   envBool("VOXFLOW_TRACE_OTLP_INSECURE", false),
			SampleRatio:    envFloat("VOXFLOW_TRACE_SAMPLE_RATIO", 1),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
