package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIURL            string
	SocketURL         string
	TokenFile         string
	Env               string
	HistoryPageSize   int
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	PendingDeadline   time.Duration
}

func Load() *Config {
	log.Println("[CONFIG] Attempting to load .env file...")

	err := godotenv.Load()
	if err != nil {
		log.Println("[CONFIG] ℹ️ No .env file found, relying on system environment variables")
	} else {
		log.Println("[CONFIG] ✅ Successfully loaded .env file")
	}

	cfg := &Config{
		APIURL:            getEnv("API_URL", "http://localhost:3000/api"),
		SocketURL:         getEnv("SOCKET_URL", ""),
		TokenFile:         getEnv("TOKEN_FILE", ".globalchat_token"),
		Env:               getEnv("APP_ENV", "development"),
		HistoryPageSize:   getEnvInt("HISTORY_PAGE_SIZE", 50),
		ReconnectAttempts: getEnvInt("RECONNECT_ATTEMPTS", 5),
		ReconnectDelay:    getEnvDuration("RECONNECT_DELAY", time.Second),
		PendingDeadline:   getEnvDuration("PENDING_DEADLINE", 30*time.Second),
	}

	// The socket endpoint is the API host without the /api prefix unless
	// overridden explicitly.
	if cfg.SocketURL == "" {
		cfg.SocketURL = strings.TrimSuffix(cfg.APIURL, "/api")
	}

	log.Printf("[CONFIG] Environment: %s", cfg.Env)
	log.Printf("[CONFIG] API URL: %s", cfg.APIURL)
	log.Printf("[CONFIG] Socket URL: %s", cfg.SocketURL)

	return cfg
}

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		log.Printf("[CONFIG] ⚠️  Variable %s not found, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[CONFIG] ⚠️  Variable %s is not a number (%q), using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("[CONFIG] ⚠️  Variable %s is not a duration (%q), using default: %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
