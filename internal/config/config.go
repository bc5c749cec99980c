// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// telegram
	TGApiID      int
	TGApiHash    string
	TGSessionStr string

	// vision (OpenRouter-compatible endpoint for image descriptions)
	VisionAPIKey  string
	VisionBaseURL string
	VisionModel   string
	VisionTimeout time.Duration

	// storage layout
	DataDir   string
	MediaDir  string
	ExportDir string

	// telegram request pacing
	RequestsPerSecond float64

	// logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables with sensible defaults.
// TG_API_ID and TG_API_HASH are required; everything else has a default.
func Load() (*Config, error) {
	cfg := &Config{
		TGApiID:           getEnvInt("TG_API_ID", 0),
		TGApiHash:         getEnv("TG_API_HASH", ""),
		TGSessionStr:      getEnv("TG_SESSION_STRING", ""),
		VisionAPIKey:      getEnv("OPENROUTER_API_KEY", ""),
		VisionBaseURL:     getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		VisionModel:       getEnv("OPENROUTER_MODEL", "openai/gpt-4o-mini"),
		VisionTimeout:     time.Duration(getEnvInt("OPENROUTER_TIMEOUT_SECONDS", 30)) * time.Second,
		DataDir:           getEnv("ARCHIVER_DATA_DIR", "data"),
		MediaDir:          getEnv("ARCHIVER_MEDIA_DIR", "data/media"),
		ExportDir:         getEnv("ARCHIVER_EXPORT_DIR", "data/exports"),
		RequestsPerSecond: getEnvFloat("TG_REQUESTS_PER_SECOND", 2.0),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           getEnv("LOG_FILE", ""),
	}

	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		return nil, fmt.Errorf("TG_API_ID and TG_API_HASH are required")
	}

	return cfg, nil
}

// SnapshotPath returns the path of the JSON snapshot file.
func (c *Config) SnapshotPath() string {
	return c.DataDir + "/archive.json"
}

// HasVisionKey reports whether image description calls can be made.
func (c *Config) HasVisionKey() bool {
	return c.VisionAPIKey != ""
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
