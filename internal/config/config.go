package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	BaseURL string
	WSURL   string

	Username string
	Password string
	Token    string

	PageSize     int
	TapInterval  time.Duration
	MaxViews     int
	CreateRounds bool

	HTTPTimeout    time.Duration
	WSMaxReconnect int
	MessagesDir    string

	RedisURL    string
	DatabaseURL string
}

// Load reads .env (if present) and then the process environment.
// Variables already set in the environment win over .env.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		PageSize:       20,
		TapInterval:    200 * time.Millisecond,
		MaxViews:       4,
		HTTPTimeout:    10 * time.Second,
		WSMaxReconnect: 5,
	}

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("GOOSE_BASE_URL")), "/")
	cfg.WSURL = strings.TrimSpace(os.Getenv("GOOSE_WS_URL"))

	cfg.Username = strings.TrimSpace(os.Getenv("GOOSE_USERNAME"))
	cfg.Password = os.Getenv("GOOSE_PASSWORD")
	cfg.Token = strings.TrimSpace(os.Getenv("GOOSE_TOKEN"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("GOOSE_MESSAGES_DIR"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("GOOSE_PAGE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PageSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("GOOSE_TAP_INTERVAL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TapInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("GOOSE_MAX_VIEWS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxViews = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("GOOSE_CREATE_ROUNDS")); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			cfg.CreateRounds = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("GOOSE_HTTP_TIMEOUT_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPTimeout = time.Duration(n) * time.Second
		}
	}
	// 0 is allowed here: it disables reconnection
	if v := strings.TrimSpace(os.Getenv("GOOSE_WS_MAX_RECONNECT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.WSMaxReconnect = n
		}
	}

	if cfg.BaseURL == "" {
		return nil, errors.New("GOOSE_BASE_URL is required")
	}
	if cfg.WSURL == "" {
		return nil, errors.New("GOOSE_WS_URL is required")
	}

	return cfg, nil
}
