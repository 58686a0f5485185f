package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	// Storage
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"./data/arena.db"`

	// Auth
	JWTSecret string   `env:"JWT_SECRET,required"`
	AdminIDs  []string `env:"ADMIN_IDS" envSeparator:","`

	// Providers
	OpenAIKey           string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	AzureOpenAIKey      string `env:"AZURE_OPENAI_API_KEY"`
	AzureOpenAIEndpoint string `env:"AZURE_OPENAI_ENDPOINT"`
	ModelMapPath        string `env:"MODEL_MAP_PATH"`

	// Credits
	InitialCredits decimal.Decimal `env:"INITIAL_CREDITS" envDefault:"5.00"`

	// Server
	Port                int      `env:"PORT" envDefault:"8000"`
	AllowedOrigins      []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	MaxParallelCalls    int      `env:"MAX_PARALLEL_CALLS" envDefault:"6"`
	RateLimitPerMinute  int      `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
	HistorySessionLimit int      `env:"HISTORY_SESSION_LIMIT" envDefault:"20"`
	LogLevel            string   `env:"LOG_LEVEL" envDefault:"info"`

	// Telegram logging
	TelegramBotToken     string `env:"TELEGRAM_BOT_TOKEN"`
	LogTelegramChatID    int64  `env:"LOG_TELEGRAM_CHAT_ID"`
	LogTopicError        int    `env:"LOG_TOPIC_ERROR"`
	LogTopicModelFailure int    `env:"LOG_TOPIC_MODEL_FAILURE"`
	LogTopicCreditGrant  int    `env:"LOG_TOPIC_CREDIT_GRANT"`
	LogTopicRegistration int    `env:"LOG_TOPIC_REGISTRATION"`
}

var parsers = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(decimal.Decimal{}): func(v string) (interface{}, error) {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid decimal %q: %w", v, err)
		}
		return d, nil
	},
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	return parse(env.Options{FuncMap: parsers})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.InitialCredits.IsNegative() {
		return fmt.Errorf("INITIAL_CREDITS cannot be negative")
	}
	if c.MaxParallelCalls <= 0 {
		return fmt.Errorf("MAX_PARALLEL_CALLS must be > 0")
	}
	if c.HistorySessionLimit <= 0 {
		return fmt.Errorf("HISTORY_SESSION_LIMIT must be > 0")
	}
	return nil
}

func (c *Config) IsAdmin(userID string) bool {
	for _, id := range c.AdminIDs {
		if strings.EqualFold(strings.TrimSpace(id), userID) {
			return true
		}
	}
	return false
}

// SlogLevel maps LOG_LEVEL onto slog levels, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
