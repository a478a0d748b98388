package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	APIURL         string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	LogLevel       string

	// Persistent settings store
	SettingsBackend string // file, redis or memory
	SettingsPath    string
	SettingsOrigin  string
	RedisURL        string

	// Live view
	ViewAddr       string
	ViewSecret     string
	ViewPassphrase string
	ViewTokenTTL   time.Duration
	ProgressPubSub bool

	// Job defaults file (YAML)
	DefaultsPath string

	// MinIO/S3 configuration
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3UseSSL      bool
	S3Region      string
	ArchiveBucket string
}

func Load() *Config {
	pollInterval := getDurationOrDefault("CLIPPER_POLL_INTERVAL", 2*time.Second)
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	s3UseSSL, _ := strconv.ParseBool(getEnvOrDefault("CLIPPER_S3_USE_SSL", "false"))
	pubsub, _ := strconv.ParseBool(getEnvOrDefault("CLIPPER_PROGRESS_PUBSUB", "false"))

	return &Config{
		APIURL:          getEnvOrDefault("CLIPPER_API_URL", "http://localhost:8000/api"),
		PollInterval:    pollInterval,
		RequestTimeout:  getDurationOrDefault("CLIPPER_REQUEST_TIMEOUT", 30*time.Second),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		SettingsBackend: getEnvOrDefault("CLIPPER_SETTINGS_BACKEND", "file"),
		SettingsPath:    getEnvOrDefault("CLIPPER_SETTINGS_PATH", defaultSettingsPath()),
		SettingsOrigin:  getEnvOrDefault("CLIPPER_SETTINGS_ORIGIN", "localhost:8000"),
		RedisURL:        getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		ViewAddr:        getEnvOrDefault("CLIPPER_VIEW_ADDR", ""),
		ViewSecret:      getEnvOrDefault("CLIPPER_VIEW_SECRET", generateDefaultSecret()),
		ViewPassphrase:  getEnvOrDefault("CLIPPER_VIEW_PASSPHRASE", ""),
		ViewTokenTTL:    getDurationOrDefault("CLIPPER_VIEW_TOKEN_TTL", 12*time.Hour),
		ProgressPubSub:  pubsub,
		DefaultsPath:    getEnvOrDefault("CLIPPER_DEFAULTS", ""),
		S3Endpoint:      getEnvOrDefault("CLIPPER_S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:     getEnvOrDefault("CLIPPER_S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:     getEnvOrDefault("CLIPPER_S3_SECRET_KEY", "minioadmin"),
		S3UseSSL:        s3UseSSL,
		S3Region:        getEnvOrDefault("CLIPPER_S3_REGION", "us-east-1"),
		ArchiveBucket:   getEnvOrDefault("CLIPPER_ARCHIVE_BUCKET", ""),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "clipper", "settings.json")
}

func generateDefaultSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-in-production"
	}
	return hex.EncodeToString(bytes)
}
