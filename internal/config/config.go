package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv loads environment variables from a .env file if one exists.
func LoadEnv() {
	// Ignore error if .env file doesn't exist (e.g. in production)
	_ = godotenv.Load()
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvInt returns the value of an environment variable as an integer or a default value
func GetEnvInt(key string, defaultValue int) int {
	valueStr := GetEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// GetEnvDuration returns the value of an environment variable parsed with
// time.ParseDuration, or a default value.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := GetEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Client holds the settings the sync client needs to reach the backend.
type Client struct {
	ServerURL         string
	Token             string
	PageSize          int
	ReconnectInterval time.Duration
	AckTimeout        time.Duration
	SendRetries       int
	SendRetryBase     time.Duration
	TypingTTL         time.Duration
}

// ClientFromEnv builds a Client config from the environment.
func ClientFromEnv() Client {
	return Client{
		ServerURL:         GetEnv("CHAT_SERVER_URL", "http://localhost:3001"),
		Token:             GetEnv("CHAT_TOKEN", ""),
		PageSize:          GetEnvInt("CHAT_PAGE_SIZE", 50),
		ReconnectInterval: GetEnvDuration("CHAT_RECONNECT_INTERVAL", 5*time.Second),
		AckTimeout:        GetEnvDuration("CHAT_ACK_TIMEOUT", 5*time.Second),
		SendRetries:       GetEnvInt("CHAT_SEND_RETRIES", 3),
		SendRetryBase:     GetEnvDuration("CHAT_SEND_RETRY_BASE", 500*time.Millisecond),
		TypingTTL:         GetEnvDuration("CHAT_TYPING_TTL", 2*time.Second),
	}
}

// Server holds the settings for the reference backend.
type Server struct {
	Port      string
	JWTSecret string
}

// ServerFromEnv builds a Server config from the environment.
func ServerFromEnv() Server {
	return Server{
		Port:      GetEnv("PORT", "3001"),
		JWTSecret: GetEnv("JWT_SECRET", "secret"),
	}
}
