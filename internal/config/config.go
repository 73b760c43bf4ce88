package config

import (
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultTopicsPath    = "config/topics.yaml"
	defaultOutputPath    = "data/news.json"
	defaultWindowHours   = 48
	defaultFetchTimeout  = 20
	defaultWorkers       = 8
	defaultUserAgent     = "feedpulse/1.0 (+https://github.com/feedpulse)"
	defaultLogLevel      = "info"
	defaultDBDriver      = "mysql"
	envPrefix            = "FEEDPULSE_"
	minimumWindowInHours = 1
)

// Config holds runtime configuration loaded from environment variables.
type Config struct {
	TopicsPath   string
	OutputPath   string
	Window       time.Duration
	FetchTimeout time.Duration
	Workers      int
	UserAgent    string
	LogLevel     string
	DBDriver     string
	DBDSN        string
}

// Load reads environment variables, filling in reasonable defaults.
func Load() Config {
	return Config{
		TopicsPath:   stringWithDefault("TOPICS", defaultTopicsPath),
		OutputPath:   stringWithDefault("OUTPUT", defaultOutputPath),
		Window:       durationFromHours("WINDOW_HOURS", defaultWindowHours),
		FetchTimeout: durationFromSeconds("FETCH_TIMEOUT_SECONDS", defaultFetchTimeout),
		Workers:      intWithDefault("WORKERS", defaultWorkers),
		UserAgent:    stringWithDefault("USER_AGENT", defaultUserAgent),
		LogLevel:     stringWithDefault("LOG_LEVEL", defaultLogLevel),
		DBDriver:     stringWithDefault("DB_DRIVER", defaultDBDriver),
		DBDSN:        os.Getenv(envPrefix + "DB_DSN"),
	}
}

// MirrorEnabled reports whether snapshots should also be written to a database.
func (c Config) MirrorEnabled() bool {
	return c.DBDSN != ""
}

func stringWithDefault(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return fallback
}

func durationFromHours(key string, fallback int) time.Duration {
	if v := os.Getenv(envPrefix + key); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours >= minimumWindowInHours {
			return time.Duration(hours) * time.Hour
		}
		log.Warnf("invalid %s%s=%s, using default %d hours", envPrefix, key, v, fallback)
	}
	return time.Duration(fallback) * time.Hour
}

func durationFromSeconds(key string, fallback int) time.Duration {
	if v := os.Getenv(envPrefix + key); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		log.Warnf("invalid %s%s=%s, using default %d seconds", envPrefix, key, v, fallback)
	}
	return time.Duration(fallback) * time.Second
}

func intWithDefault(key string, fallback int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
		log.Warnf("invalid %s%s=%s, using default %d", envPrefix, key, v, fallback)
	}
	return fallback
}
