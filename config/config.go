package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the reference backend settings.
type Config struct {
	Port            int
	DBPath          string
	ReadTimeout     int // seconds
	WriteTimeout    int // seconds
	JWTSecret       string
	TokenTTL        int // minutes
	RedisAddr       string
	HistoryPageSize int
	LogLevel        string
	LogFile         string
}

func Load() *Config {
	cfg := &Config{
		Port:            4000,
		DBPath:          "rtchat.db",
		ReadTimeout:     120,
		WriteTimeout:    30,
		JWTSecret:       "dev-secret-change-me",
		TokenTTL:        24 * 60,
		HistoryPageSize: 30,
		LogLevel:        "info",
	}

	envInt("RTCHAT_PORT", &cfg.Port)
	envString("RTCHAT_DB_PATH", &cfg.DBPath)
	envInt("RTCHAT_READ_TIMEOUT", &cfg.ReadTimeout)
	envInt("RTCHAT_WRITE_TIMEOUT", &cfg.WriteTimeout)
	envString("RTCHAT_JWT_SECRET", &cfg.JWTSecret)
	envInt("RTCHAT_TOKEN_TTL", &cfg.TokenTTL)
	envString("RTCHAT_REDIS_ADDR", &cfg.RedisAddr)
	envInt("RTCHAT_HISTORY_PAGE_SIZE", &cfg.HistoryPageSize)
	envString("RTCHAT_LOG_LEVEL", &cfg.LogLevel)
	envString("RTCHAT_LOG_FILE", &cfg.LogFile)

	return cfg
}

// ClientConfig holds the terminal client settings.
type ClientConfig struct {
	ServerURL           string
	RequestTimeout      time.Duration
	TypingTimeout       time.Duration
	RemoteTypingTimeout time.Duration
	CorrelationWindow   time.Duration
	QueueSize           int
	DirectoryRefresh    time.Duration
	UnreadRefresh       time.Duration
	LogLevel            string
	LogFile             string
}

func LoadClient() *ClientConfig {
	cfg := &ClientConfig{
		ServerURL:           "http://localhost:4000",
		RequestTimeout:      10 * time.Second,
		TypingTimeout:       2000 * time.Millisecond,
		RemoteTypingTimeout: 10 * time.Second,
		CorrelationWindow:   10 * time.Second,
		QueueSize:           256,
		DirectoryRefresh:    30 * time.Second,
		UnreadRefresh:       30 * time.Second,
		LogLevel:            "info",
		LogFile:             "rtchat-client.log",
	}

	envString("RTCHAT_SERVER_URL", &cfg.ServerURL)
	envMillis("RTCHAT_REQUEST_TIMEOUT_MS", &cfg.RequestTimeout)
	envMillis("RTCHAT_TYPING_TIMEOUT_MS", &cfg.TypingTimeout)
	envMillis("RTCHAT_REMOTE_TYPING_TIMEOUT_MS", &cfg.RemoteTypingTimeout)
	envMillis("RTCHAT_CORRELATION_WINDOW_MS", &cfg.CorrelationWindow)
	envInt("RTCHAT_QUEUE_SIZE", &cfg.QueueSize)
	envMillis("RTCHAT_DIRECTORY_REFRESH_MS", &cfg.DirectoryRefresh)
	envMillis("RTCHAT_UNREAD_REFRESH_MS", &cfg.UnreadRefresh)
	envString("RTCHAT_LOG_LEVEL", &cfg.LogLevel)
	envString("RTCHAT_LOG_FILE", &cfg.LogFile)

	return cfg
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envMillis(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}
