// Package config provides configuration for the orchestrator.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Sandbox control plane
	SandboxEndpoint       string
	SandboxToken          string
	SandboxImage          string
	SandboxRequestTimeout time.Duration

	// Dispatcher settings
	MaxWorkers   int
	MaxRetries   int
	RetryBackoff time.Duration
	JobTimeout   time.Duration
	QueueSize    int
	ArtifactsDir string

	// LLM settings
	LLMBaseURL string
	LLMModel   string
	LLMTimeout time.Duration

	// Conversation settings
	MaxToolRounds int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:              getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:           getEnv("DATABASE_URL", "file:atlas.db?cache=shared&mode=rwc"),
		SandboxEndpoint:       getEnv("SANDBOX_ENDPOINT", "http://localhost:8765/mcp"),
		SandboxToken:          getEnv("SANDBOX_TOKEN", ""),
		SandboxImage:          getEnv("SANDBOX_IMAGE", "python:3.11-slim"),
		SandboxRequestTimeout: time.Duration(getEnvInt("SANDBOX_REQUEST_TIMEOUT_MS", 120000)) * time.Millisecond,
		MaxWorkers:            getEnvInt("MAX_WORKERS", 2),
		MaxRetries:            getEnvInt("MAX_RETRIES", 2),
		RetryBackoff:          time.Duration(getEnvInt("RETRY_BACKOFF_MS", 500)) * time.Millisecond,
		JobTimeout:            time.Duration(getEnvInt("JOB_TIMEOUT_MS", 600000)) * time.Millisecond,
		QueueSize:             getEnvInt("JOB_QUEUE_SIZE", 1024),
		ArtifactsDir:          getEnv("ARTIFACTS_DIR", "artifacts"),
		LLMBaseURL:            getEnv("LLM_BASE_URL", "http://localhost:11434"),
		LLMModel:              getEnv("LLM_MODEL", "llama3.1"),
		LLMTimeout:            time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		MaxToolRounds:         getEnvInt("MAX_TOOL_ROUNDS", 3),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
