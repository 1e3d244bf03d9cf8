package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/logging"
)

type Config struct {
	Port            string
	Environment     string
	AllowedOrigins  []string
	JWTSecret       string
	AdminUsername   string
	AdminPassword   string
	MaxMessageBytes int64
	SendBuffer      int
	LogLevel        string
	Redis           RedisConfig
}

type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        string
	Password    string
	DB          int
	PresenceTTL time.Duration
}

// ParticipantConfig configures the headless participant binary.
type ParticipantConfig struct {
	SignalURL   string
	RoomID      string
	DisplayName string
	ICEServers  []string
	ScreenLimit time.Duration
	LogLevel    string
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	origins := splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		AllowedOrigins:  origins,
		JWTSecret:       getEnv("JWT_SECRET", "change-me-in-production"),
		AdminUsername:   getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:   getEnv("ADMIN_PASSWORD", ""),
		MaxMessageBytes: int64(getEnvInt("MAX_MESSAGE_BYTES", 64*1024)),
		SendBuffer:      getEnvInt("SEND_BUFFER", 256),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Redis: RedisConfig{
			Enabled:     getEnvBool("REDIS_ENABLED", true),
			Host:        getEnv("REDIS_HOST", "localhost"),
			Port:        getEnv("REDIS_PORT", "6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			PresenceTTL: getEnvDuration("PRESENCE_TTL", 24*time.Hour),
		},
	}
}

// LoadParticipant reads the participant settings. STUN servers default to the
// public Google pair; TURN is never configured here.
func LoadParticipant() *ParticipantConfig {
	return &ParticipantConfig{
		SignalURL:   getEnv("SIGNAL_URL", "ws://localhost:8080/ws"),
		RoomID:      getEnv("ROOM_ID", "lobby"),
		DisplayName: getEnv("DISPLAY_NAME", "Participant"),
		ICEServers:  splitList(getEnv("ICE_SERVERS", "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302")),
		ScreenLimit: getEnvDuration("SCREEN_SHARE_LIMIT", 0),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

// NewLoggerFactory builds the pion logger factory shared by every component
// of a binary. Unknown levels fall back to info.
func NewLoggerFactory(level string) *logging.DefaultLoggerFactory {
	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = ParseLogLevel(level)
	return factory
}

func ParseLogLevel(level string) logging.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "disabled", "off":
		return logging.LogLevelDisabled
	case "error":
		return logging.LogLevelError
	case "warn", "warning":
		return logging.LogLevelWarn
	case "debug":
		return logging.LogLevelDebug
	case "trace":
		return logging.LogLevelTrace
	default:
		return logging.LogLevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
