// Package config provides centralized default values for the tracker relay and CLI
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var envLoaded sync.Once

// loadEnvFile applies .env overrides without clobbering variables already set.
func loadEnvFile() {
	envLoaded.Do(func() {
		if _, err := os.Stat(".env"); err != nil {
			return
		}
		log.Println("Loading configuration overrides from .env file...")
		if err := godotenv.Load(".env"); err != nil {
			log.Printf("Failed to load .env: %v", err)
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, redact(key, val), defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseBool(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%t (default: %t)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	raw := getEnvString(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func redact(key, val string) string {
	if strings.HasSuffix(key, "_KEY") || strings.HasSuffix(key, "_TOKEN") {
		return "[redacted]"
	}
	return val
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	GinMode            string
	CORSAllowedOrigins []string

	// Collection endpoint
	TrackerEndpoint  string
	TrackerAPIKey    string
	TrackerTransport string
	TrackerTimeout   time.Duration
	TrackerTokenTTL  time.Duration
	TrackerPIIKey    string

	// Cookies
	CookieMaxAgeDays int
	CookieDomain     string
	CookiePath       string
	CookieSecure     bool

	// Cookie persistence for the CLI
	CookieDBPath     string
	TursoDatabaseURL string
	TursoAuthToken   string
	DBMaxOpenConns   int
	DBMaxIdleConns   int

	// Logging
	LogLevel     string
	LogJSON      bool
	LogToFile    bool
	LogDirectory string
)

func init() {
	Load()
}

// Load populates the package variables from the environment. It runs once at
// package init and may be called again after the environment changes.
func Load() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	GinMode = getEnvString("GIN_MODE", "release")
	CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", nil)

	// Collection endpoint
	TrackerEndpoint = getEnvString("TRACKER_ENDPOINT", "http://localhost:8081/api/v1")
	TrackerAPIKey = getEnvString("TRACKER_API_KEY", "")
	TrackerTransport = strings.ToLower(getEnvString("TRACKER_TRANSPORT", "http"))
	TrackerTimeout = getEnvDuration("TRACKER_TIMEOUT", 10*time.Second)
	TrackerTokenTTL = getEnvDuration("TRACKER_TOKEN_TTL", 5*time.Minute)
	TrackerPIIKey = getEnvString("TRACKER_PII_KEY", "")

	// Cookies
	CookieMaxAgeDays = getEnvInt("COOKIE_MAX_AGE_DAYS", 3650)
	CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	CookiePath = getEnvString("COOKIE_PATH", "/")
	CookieSecure = getEnvBool("COOKIE_SECURE", false)

	// Cookie persistence
	CookieDBPath = getEnvString("COOKIE_DB_PATH", "db/tracker.db")
	TursoDatabaseURL = getEnvString("TURSO_DATABASE_URL", "")
	TursoAuthToken = getEnvString("TURSO_AUTH_TOKEN", "")
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)

	// Logging
	LogLevel = getEnvString("LOG_LEVEL", "info")
	LogJSON = getEnvBool("LOG_JSON", true)
	LogToFile = getEnvBool("LOG_TO_FILE", false)
	LogDirectory = getEnvString("LOG_DIRECTORY", "logs")
}
