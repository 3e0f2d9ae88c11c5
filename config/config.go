package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Piaskraft/mjw-sync/internal/validate"
)

// Config holds the application configuration.
type Config struct {
	FeedURL string

	APIURL string
	APIKey string

	RateMode     string // "fixed" or "ecb"
	FixedRate    float64
	ECBURL       string
	RateCurrency string

	Margin     float64
	Ending     float64
	MaxDelta   float64
	ReqsPerSec float64

	Bounds validate.Bounds

	CachePath string
	LogsDir   string
	Interval  time.Duration
	Live      bool
	LogLevel  slog.Level
}

// Load reads the configuration from environment variables. FEED_URL,
// PS_API_URL and PS_API_KEY are required; everything else has defaults.
func Load() (*Config, error) {
	cfg := &Config{
		FeedURL:      os.Getenv("FEED_URL"),
		APIURL:       os.Getenv("PS_API_URL"),
		APIKey:       os.Getenv("PS_API_KEY"),
		RateMode:     strings.ToLower(getenv("RATE_MODE", "fixed")),
		FixedRate:    floatenv("FX_PLN_EUR", 0),
		ECBURL:       os.Getenv("ECB_URL"),
		RateCurrency: getenv("RATE_CURRENCY", "PLN"),
		Margin:       floatenv("MARGIN", 0.34),
		Ending:       floatenv("ENDING", 0.99),
		MaxDelta:     floatenv("MAX_DELTA", 0.10),
		ReqsPerSec:   floatenv("REQS_PER_SEC", 5),
		CachePath:    getenv("CACHE_PATH", "./cache.sqlite"),
		LogsDir:      getenv("LOGS_DIR", "./logs"),
		Interval:     durenv("SYNC_INTERVAL", time.Hour),
		Live:         os.Getenv("REAL") == "1",
		LogLevel:     levelenv("LOG_LEVEL", slog.LevelInfo),
	}

	cfg.Bounds = validate.Bounds{
		MinRate:     floatenv("MIN_RATE", 0.1),
		MaxRate:     floatenv("MAX_RATE", 100),
		MinNetPrice: floatenv("MIN_NET_PLN", 0.01),
		MaxNetPrice: floatenv("MAX_NET_PLN", 1e9),
		MinQty:      floatenv("MIN_QTY", 0),
		MaxQty:      floatenv("MAX_QTY", 1e9),
	}

	if cfg.FeedURL == "" {
		return nil, fmt.Errorf("FEED_URL is required")
	}
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("PS_API_URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("PS_API_KEY is required")
	}
	if cfg.RateMode != "fixed" && cfg.RateMode != "ecb" {
		return nil, fmt.Errorf("RATE_MODE must be \"fixed\" or \"ecb\", got %q", cfg.RateMode)
	}
	if cfg.RateMode == "fixed" && cfg.FixedRate <= 0 {
		return nil, fmt.Errorf("FX_PLN_EUR must be set to a positive rate in fixed mode")
	}
	if cfg.Ending < 0 || cfg.Ending >= 1 {
		return nil, fmt.Errorf("ENDING must be in [0, 1), got %v", cfg.Ending)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func floatenv(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func durenv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func levelenv(key string, def slog.Level) slog.Level {
	switch strings.ToLower(os.Getenv(key)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return def
	}
}
