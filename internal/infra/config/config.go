package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	TradingModeLive  = "live"
	TradingModePaper = "paper"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL string
	TradingMode string

	DhanClientID       string
	DhanAccessToken    string
	DhanBaseURL        string
	DhanScripMasterURL string
	DhanRatePerSec     float64
	PaperBalance       decimal.Decimal

	TelegramToken   string
	AdminTelegramID int64

	LogLevel    string
	Environment string

	Location             *time.Location
	DefaultExecutionTime string
	BrokerTimeout        time.Duration
	TimerPollInterval    time.Duration

	CronSpecOverdueReport string // Daily report of pending schedules whose time has passed
	CronSpecTimerAudit    string // Periodic log of armed timers

	StreamAddr string // Empty disables the trade event stream server
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.TradingMode = strings.ToLower(getEnv("TRADING_MODE", TradingModeLive))
	if cfg.TradingMode != TradingModeLive && cfg.TradingMode != TradingModePaper {
		return nil, fmt.Errorf("invalid TRADING_MODE %q, expected %q or %q", cfg.TradingMode, TradingModeLive, TradingModePaper)
	}

	// Quotes and symbol lookup come from Dhan in both modes
	cfg.DhanClientID = os.Getenv("DHAN_CLIENT_ID")
	if cfg.DhanClientID == "" {
		return nil, fmt.Errorf("DHAN_CLIENT_ID is not set")
	}
	cfg.DhanAccessToken = os.Getenv("DHAN_ACCESS_TOKEN")
	if cfg.DhanAccessToken == "" {
		return nil, fmt.Errorf("DHAN_ACCESS_TOKEN is not set")
	}
	cfg.DhanBaseURL = getEnv("DHAN_BASE_URL", "https://api.dhan.co/v2")
	cfg.DhanScripMasterURL = getEnv("DHAN_SCRIP_MASTER_URL", "https://images.dhan.co/api-data/api-scrip-master-detailed.csv")

	cfg.DhanRatePerSec, err = strconv.ParseFloat(getEnv("DHAN_RATE_PER_SEC", "5"), 64)
	if err != nil || cfg.DhanRatePerSec <= 0 {
		return nil, fmt.Errorf("invalid DHAN_RATE_PER_SEC: must be a positive number")
	}

	cfg.PaperBalance, err = decimal.NewFromString(getEnv("PAPER_BALANCE", "100000"))
	if err != nil || cfg.PaperBalance.IsNegative() {
		return nil, fmt.Errorf("invalid PAPER_BALANCE: must be a non-negative amount")
	}

	// Telegram is optional; without a token the bot and its notifications are disabled.
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken != "" {
		adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID")
		if adminIDStr == "" {
			return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
		}
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	cfg.Location, err = loadLocation(getEnv("TIMEZONE", defaultTimezone))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cfg.DefaultExecutionTime = getEnv("DEFAULT_EXECUTION_TIME", "15:00:00")
	if _, err := time.Parse("15:04:05", cfg.DefaultExecutionTime); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_EXECUTION_TIME %q, expected HH:MM:SS", cfg.DefaultExecutionTime)
	}

	cfg.BrokerTimeout, err = time.ParseDuration(getEnv("BROKER_TIMEOUT", "10s"))
	if err != nil || cfg.BrokerTimeout <= 0 {
		return nil, fmt.Errorf("invalid BROKER_TIMEOUT: must be a positive duration")
	}

	cfg.TimerPollInterval, err = time.ParseDuration(getEnv("TIMER_POLL_INTERVAL", "500ms"))
	if err != nil || cfg.TimerPollInterval <= 0 {
		return nil, fmt.Errorf("invalid TIMER_POLL_INTERVAL: must be a positive duration")
	}

	cfg.CronSpecOverdueReport = getEnv("CRON_SPEC_OVERDUE_REPORT", "0 18 * * *") // Default: 6 PM daily
	cfg.CronSpecTimerAudit = getEnv("CRON_SPEC_TIMER_AUDIT", "0 * * * *")         // Default: hourly

	cfg.StreamAddr = os.Getenv("STREAM_ADDR")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

const defaultTimezone = "Asia/Kolkata"

// loadLocation falls back to a fixed IST offset only for the default zone, when the
// zone database is unavailable. Any other unknown name is an error.
func loadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == defaultTimezone {
		return time.FixedZone("IST", 5*3600+1800), nil
	}
	return nil, err
}
