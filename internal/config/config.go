// Package config loads jobforge's runtime configuration from the
// environment, grouped into nested structs per component the way the
// orchestrator is composed.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven setting used to construct the
// Store, Broker, Worker Pools, Scheduler, and admin surface.
type Config struct {
	AppEnv     string
	AppName    string
	AppVersion string
	LogLevel   string

	Admin struct {
		Host           string
		Port           string
		JWTSecret      string
		JWTIssuer      string
		ReadTimeout    time.Duration
		WriteTimeout   time.Duration
		MaxPayloadSize int64
	}

	Store struct {
		Host            string
		Port            string
		User            string
		Password        string
		Name            string
		SSLMode         string
		MaxConnections  int
		IdleConnections int
		ConnLifetime    time.Duration
		DatabaseURL     string
	}

	Broker struct {
		Host          string
		Port          string
		Password      string
		DB            int
		KeyPrefix     string
		MaxRetries    int
		PoolSize      int
		MinIdleConns  int
		URL           string
		LeaseDuration time.Duration
	}

	Worker struct {
		DefaultConcurrency int
		DefaultMaxAttempts int
		RetryBaseDelay     time.Duration
		RetryBackoffCeil   time.Duration
		HandlerTimeout     time.Duration
		Pools              map[string]int
	}

	Scheduler struct {
		Timezone              string
		DelayPromotionInterval time.Duration
		StallSweepInterval     time.Duration
		MetricsRefreshInterval time.Duration
		RetentionTrimInterval  time.Duration
		RetentionCutoff        time.Duration
		RetainCompletedDefault int
		RetainFailedDefault    int
	}

	RateLimit struct {
		Enabled           bool
		RequestsPerSecond int
		Burst             int
		Window            time.Duration
	}

	CORS struct {
		AllowedOrigins   []string
		AllowedMethods   []string
		AllowedHeaders   []string
		AllowCredentials bool
		MaxAge           int
	}

	Metrics struct {
		Enabled bool
		Path    string
	}
}

// Load reads .env.development / .env.test if present, then layers
// environment variables over documented defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(".env.development"); err != nil {
		_ = godotenv.Load(".env.test")
	}

	cfg := &Config{
		AppEnv:     getEnv("APP_ENV", "development"),
		AppName:    getEnv("APP_NAME", "jobforge"),
		AppVersion: getEnv("APP_VERSION", "1.0.0"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}

	cfg.Admin.Host = getEnv("ADMIN_HOST", "0.0.0.0")
	cfg.Admin.Port = getEnv("ADMIN_PORT", "8080")
	cfg.Admin.JWTSecret = getEnv("ADMIN_JWT_SECRET", "dev-secret-change-in-production")
	cfg.Admin.JWTIssuer = getEnv("ADMIN_JWT_ISSUER", "jobforge")
	cfg.Admin.ReadTimeout = parseDuration(getEnv("ADMIN_READ_TIMEOUT", "15s"), 15*time.Second)
	cfg.Admin.WriteTimeout = parseDuration(getEnv("ADMIN_WRITE_TIMEOUT", "15s"), 15*time.Second)
	cfg.Admin.MaxPayloadSize = int64(getEnvAsInt("ADMIN_MAX_PAYLOAD_BYTES", 1<<20))

	cfg.Store.Host = getEnv("STORE_DB_HOST", "localhost")
	cfg.Store.Port = getEnv("STORE_DB_PORT", "5432")
	cfg.Store.User = getEnv("STORE_DB_USER", "jobforge")
	cfg.Store.Password = getEnv("STORE_DB_PASSWORD", "jobforge")
	cfg.Store.Name = getEnv("STORE_DB_NAME", "jobforge")
	cfg.Store.SSLMode = getEnv("STORE_DB_SSL_MODE", "disable")
	cfg.Store.MaxConnections = getEnvAsInt("STORE_DB_MAX_CONNECTIONS", 25)
	cfg.Store.IdleConnections = getEnvAsInt("STORE_DB_IDLE_CONNECTIONS", 5)
	cfg.Store.ConnLifetime = parseDuration(getEnv("STORE_DB_CONN_LIFETIME", "300s"), 300*time.Second)
	cfg.Store.DatabaseURL = getEnv("STORE_DATABASE_URL", "")

	cfg.Broker.Host = getEnv("BROKER_REDIS_HOST", "localhost")
	cfg.Broker.Port = getEnv("BROKER_REDIS_PORT", "6379")
	cfg.Broker.Password = getEnv("BROKER_REDIS_PASSWORD", "")
	cfg.Broker.DB = getEnvAsInt("BROKER_REDIS_DB", 0)
	cfg.Broker.KeyPrefix = getEnv("BROKER_KEY_PREFIX", "jobforge:broker")
	cfg.Broker.MaxRetries = getEnvAsInt("BROKER_REDIS_MAX_RETRIES", 3)
	cfg.Broker.PoolSize = getEnvAsInt("BROKER_REDIS_POOL_SIZE", 10)
	cfg.Broker.MinIdleConns = getEnvAsInt("BROKER_REDIS_MIN_IDLE_CONNS", 3)
	cfg.Broker.URL = getEnv("BROKER_REDIS_URL", "")
	cfg.Broker.LeaseDuration = parseDuration(getEnv("BROKER_LEASE_DURATION", "2m"), 2*time.Minute)

	cfg.Worker.DefaultConcurrency = getEnvAsInt("WORKER_DEFAULT_CONCURRENCY", 5)
	cfg.Worker.DefaultMaxAttempts = getEnvAsInt("WORKER_DEFAULT_MAX_ATTEMPTS", 3)
	cfg.Worker.RetryBaseDelay = parseDuration(getEnv("WORKER_RETRY_BASE_DELAY", "2s"), 2*time.Second)
	cfg.Worker.RetryBackoffCeil = parseDuration(getEnv("WORKER_RETRY_BACKOFF_CEILING", "5m"), 5*time.Minute)
	cfg.Worker.HandlerTimeout = parseDuration(getEnv("WORKER_HANDLER_TIMEOUT", "2m"), 2*time.Minute)
	cfg.Worker.Pools = parseWorkerPools(getEnv("WORKER_POOL_SIZES", ""), map[string]int{
		"business-discovery":   5,
		"instagram-detection":  5,
		"video-scraping":       3,
		"video-analysis":       3,
		"report-generation":    2,
		"file-processing":      4,
		"cleanup":              1,
		"notifications":        10,
	})

	cfg.Scheduler.Timezone = getEnv("SCHEDULER_TIMEZONE", "UTC")
	cfg.Scheduler.DelayPromotionInterval = parseDuration(getEnv("SCHEDULER_DELAY_PROMOTION_INTERVAL", "1s"), time.Second)
	cfg.Scheduler.StallSweepInterval = parseDuration(getEnv("SCHEDULER_STALL_SWEEP_INTERVAL", "30s"), 30*time.Second)
	cfg.Scheduler.MetricsRefreshInterval = parseDuration(getEnv("SCHEDULER_METRICS_REFRESH_INTERVAL", "60s"), 60*time.Second)
	cfg.Scheduler.RetentionTrimInterval = parseDuration(getEnv("SCHEDULER_RETENTION_TRIM_INTERVAL", "24h"), 24*time.Hour)
	cfg.Scheduler.RetentionCutoff = parseDuration(getEnv("SCHEDULER_RETENTION_CUTOFF", "720h"), 30*24*time.Hour)
	cfg.Scheduler.RetainCompletedDefault = getEnvAsInt("SCHEDULER_RETAIN_COMPLETED", 1000)
	cfg.Scheduler.RetainFailedDefault = getEnvAsInt("SCHEDULER_RETAIN_FAILED", 1000)

	cfg.RateLimit.Enabled = getEnvAsBool("RATE_LIMIT_ENABLED", true)
	cfg.RateLimit.RequestsPerSecond = getEnvAsInt("RATE_LIMIT_RPS", 20)
	cfg.RateLimit.Burst = getEnvAsInt("RATE_LIMIT_BURST", 40)
	cfg.RateLimit.Window = parseDuration(getEnv("RATE_LIMIT_WINDOW", "1s"), time.Second)

	cfg.CORS.AllowedOrigins = strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ",")
	cfg.CORS.AllowedMethods = strings.Split(getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS,PATCH"), ",")
	cfg.CORS.AllowedHeaders = strings.Split(getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization,X-Request-ID"), ",")
	cfg.CORS.AllowCredentials = getEnvAsBool("CORS_ALLOW_CREDENTIALS", true)
	cfg.CORS.MaxAge = getEnvAsInt("CORS_MAX_AGE", 86400)

	cfg.Metrics.Enabled = getEnvAsBool("METRICS_ENABLED", true)
	cfg.Metrics.Path = getEnv("METRICS_PATH", "/metrics")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}

// parseWorkerPools accepts "queue=size,queue=size" pairs, falling back
// to defaults for anything unset or malformed.
func parseWorkerPools(value string, defaults map[string]int) map[string]int {
	pools := make(map[string]int, len(defaults))
	for k, v := range defaults {
		pools[k] = v
	}
	if value == "" {
		return pools
	}
	for _, pair := range strings.Split(value, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil {
			pools[strings.TrimSpace(kv[0])] = n
		}
	}
	return pools
}
