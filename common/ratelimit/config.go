package ratelimit

import (
	"os"
	"strconv"
)

// Config bounds how many execution starts the service accepts per window.
// Scheduling inside a run is governed by the workflow's parallel limit, not
// by this.
type Config struct {
	Enabled       bool
	GlobalLimit   int64 // Starts per window across all workflows
	WorkflowLimit int64 // Starts per window for one workflow
	WindowSeconds int
}

// DefaultConfig is the fallback when env vars are unset.
var DefaultConfig = Config{
	Enabled:       false,
	GlobalLimit:   100,
	WorkflowLimit: 20,
	WindowSeconds: 60,
}

// FromEnv loads rate limit configuration from environment variables
func FromEnv() Config {
	cfg := DefaultConfig
	cfg.Enabled = getEnvBool("RATE_LIMIT_ENABLED", cfg.Enabled)
	cfg.GlobalLimit = getEnvInt64("RATE_LIMIT_GLOBAL", cfg.GlobalLimit)
	cfg.WorkflowLimit = getEnvInt64("RATE_LIMIT_PER_WORKFLOW", cfg.WorkflowLimit)
	cfg.WindowSeconds = int(getEnvInt64("RATE_LIMIT_WINDOW_S", int64(cfg.WindowSeconds)))
	return cfg
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}
