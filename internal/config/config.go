package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all ingestion settings, populated from environment variables.
type Config struct {
	APIURL      string
	APIKey      string
	DataDir     string
	HTTPTimeout time.Duration
	RetryMax    int

	PacingDelay       time.Duration
	PageSize          int
	PeriodWidthMonths int
	RecentMonths      int
	MaxEmptyPeriods   int
	Timezone          string

	LogLevel  string
	LogFormat string

	// Optional outputs; empty disables them.
	MetricsTextfile string
	HistoryDB       string
	KafkaBrokers    []string
	KafkaTopic      string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	httpTimeout, err := parseDuration("HTTP_TIMEOUT", "120s", false)
	if err != nil {
		return nil, err
	}
	pacing, err := parseDuration("PACING_DELAY", "1s", true)
	if err != nil {
		return nil, err
	}
	retryMax, err := parseInt("HTTP_RETRY_MAX", 0, 0, 10)
	if err != nil {
		return nil, err
	}
	pageSize, err := parseInt("PAGE_SIZE", 1000, 0, 100000)
	if err != nil {
		return nil, err
	}
	width, err := parseInt("PERIOD_WIDTH_MONTHS", 3, 1, 12)
	if err != nil {
		return nil, err
	}
	recent, err := parseInt("RECENT_MONTHS", 3, 1, 120)
	if err != nil {
		return nil, err
	}
	maxEmpty, err := parseInt("MAX_EMPTY_PERIODS", 3, 1, 100)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIURL:            envOrDefault("PRTR_API_URL", "https://data.moenv.gov.tw/api/v2/prtr_p_07"),
		APIKey:            os.Getenv("PRTR_API_KEY"),
		DataDir:           envOrDefault("DATA_DIR", "docs/sanctions"),
		HTTPTimeout:       httpTimeout,
		RetryMax:          retryMax,
		PacingDelay:       pacing,
		PageSize:          pageSize,
		PeriodWidthMonths: width,
		RecentMonths:      recent,
		MaxEmptyPeriods:   maxEmpty,
		Timezone:          envOrDefault("TIMEZONE", "Asia/Taipei"),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		LogFormat:         envOrDefault("LOG_FORMAT", "json"),
		MetricsTextfile:   os.Getenv("METRICS_TEXTFILE"),
		HistoryDB:         os.Getenv("HISTORY_DB"),
		KafkaBrokers:      parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:        envOrDefault("KAFKA_TOPIC", "prtr-penalties"),
	}

	if !strings.HasPrefix(cfg.APIURL, "http://") && !strings.HasPrefix(cfg.APIURL, "https://") {
		return nil, errors.New("PRTR_API_URL must be an http(s) URL")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	return cfg, nil
}

// PublishEnabled reports whether saved records should be announced on Kafka.
func (c *Config) PublishEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer in [%d, %d]", key, lo, hi)
	}
	return n, nil
}

func parseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
