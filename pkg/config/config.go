// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the conductord process configuration.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects the jobs/registrations backend: a postgres://
	// URL, or a SQLite file path when empty it falls back to SQLitePath.
	DatabaseURL string
	SQLitePath  string

	// RedisAddr enables the distributed rate limiter when non-empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// SafetyEndpoint is the HTTP assessment service; empty runs the
	// gateway against a local allow-all assessor (development only).
	SafetyEndpoint string
	SafetyAPIKey   string
	SafetyTimeout  time.Duration

	// ConnectorBootstrap is an optional YAML file of registrations to
	// seed at startup.
	ConnectorBootstrap string

	// RunTokens is the token allowance for a single director run.
	RunTokens float64

	// SampleRate is the telemetry sampling rate in [0,1].
	SampleRate float64

	OTLPEndpoint     string
	TelemetryEnabled bool

	WorkerLease  time.Duration
	JobTimeout   time.Duration
	PollInterval time.Duration
	RateLimitRPS int
	RateBurst    int
}

// Load loads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "INFO"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "conductor.db"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SafetyEndpoint: os.Getenv("SAFETY_ENDPOINT"),
		SafetyAPIKey:   os.Getenv("SAFETY_API_KEY"),
		SafetyTimeout:  getEnvDuration("SAFETY_TIMEOUT", 30*time.Second),

		ConnectorBootstrap: os.Getenv("CONNECTOR_BOOTSTRAP"),

		RunTokens:  getEnvFloat("RUN_TOKENS", 4096),
		SampleRate: getEnvFloat("TELEMETRY_SAMPLE_RATE", 0.1),

		OTLPEndpoint:     getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled: os.Getenv("TELEMETRY_ENABLED") == "true",

		WorkerLease:  getEnvDuration("WORKER_LEASE", 5*time.Minute),
		JobTimeout:   getEnvDuration("JOB_TIMEOUT", 2*time.Minute),
		PollInterval: getEnvDuration("POLL_INTERVAL", time.Second),
		RateLimitRPS: getEnvInt("RATE_LIMIT_RPS", 50),
		RateBurst:    getEnvInt("RATE_LIMIT_BURST", 100),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
