package config

import (
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the API and worker processes.
type Config struct {
	Port string

	AuthToken string

	DatabaseURL string

	GenerationBaseURL   string
	GenerationAPIKey    string
	GenerationTimeoutMS int

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisStreamBase string
	RedisGroup      string
	RedisConsumer   string

	QueueMaxBatch          int
	QueueWaitSeconds       int
	QueuePollIntervalMS    int
	QueueVisibilitySeconds int
	QueueMaxReceives       int

	UserActiveJobQuota int

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	WorkerEnabled bool
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		GenerationBaseURL:   getEnv("GENERATION_BASE_URL", "http://localhost:8000"),
		GenerationAPIKey:    getEnv("GENERATION_API_KEY", ""),
		GenerationTimeoutMS: getEnvInt("GENERATION_TIMEOUT_MS", 120000),

		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		RedisStreamBase: getEnv("REDIS_STREAM_BASE", "gen_jobs"),
		RedisGroup:      getEnv("REDIS_GROUP", "gen_workers"),
		RedisConsumer:   getEnv("REDIS_CONSUMER", ""),

		QueueMaxBatch:          getEnvInt("QUEUE_MAX_BATCH", 10),
		QueueWaitSeconds:       getEnvInt("QUEUE_WAIT_SECONDS", 5),
		QueuePollIntervalMS:    getEnvInt("QUEUE_POLL_INTERVAL_MS", 2000),
		QueueVisibilitySeconds: getEnvInt("QUEUE_VISIBILITY_SECONDS", 300),
		QueueMaxReceives:       getEnvInt("QUEUE_MAX_RECEIVES", 5),

		UserActiveJobQuota: getEnvInt("USER_ACTIVE_JOB_QUOTA", 5),

		CORSAllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
