package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://data.moenv.gov.tw/api/v2/prtr_p_07", cfg.APIURL)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, "docs/sanctions", cfg.DataDir)
	assert.Equal(t, 120*time.Second, cfg.HTTPTimeout)
	assert.Zero(t, cfg.RetryMax)
	assert.Equal(t, time.Second, cfg.PacingDelay)
	assert.Equal(t, 1000, cfg.PageSize)
	assert.Equal(t, 3, cfg.PeriodWidthMonths)
	assert.Equal(t, 3, cfg.RecentMonths)
	assert.Equal(t, 3, cfg.MaxEmptyPeriods)
	assert.Equal(t, "Asia/Taipei", cfg.Timezone)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.MetricsTextfile)
	assert.Empty(t, cfg.HistoryDB)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "prtr-penalties", cfg.KafkaTopic)
	assert.False(t, cfg.PublishEnabled())
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("PRTR_API_URL", "http://localhost:8081/api")
	t.Setenv("PRTR_API_KEY", "secret")
	t.Setenv("DATA_DIR", "/var/lib/prtr")
	t.Setenv("HTTP_TIMEOUT", "30s")
	t.Setenv("HTTP_RETRY_MAX", "2")
	t.Setenv("PACING_DELAY", "0s")
	t.Setenv("PAGE_SIZE", "0")
	t.Setenv("PERIOD_WIDTH_MONTHS", "1")
	t.Setenv("RECENT_MONTHS", "6")
	t.Setenv("MAX_EMPTY_PERIODS", "5")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("METRICS_TEXTFILE", "/tmp/prtr.prom")
	t.Setenv("HISTORY_DB", "/tmp/history.db")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092,")
	t.Setenv("KAFKA_TOPIC", "penalties")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8081/api", cfg.APIURL)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, "/var/lib/prtr", cfg.DataDir)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 2, cfg.RetryMax)
	assert.Zero(t, cfg.PacingDelay)
	assert.Zero(t, cfg.PageSize)
	assert.Equal(t, 1, cfg.PeriodWidthMonths)
	assert.Equal(t, 6, cfg.RecentMonths)
	assert.Equal(t, 5, cfg.MaxEmptyPeriods)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "/tmp/prtr.prom", cfg.MetricsTextfile)
	assert.Equal(t, "/tmp/history.db", cfg.HistoryDB)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "penalties", cfg.KafkaTopic)
	assert.True(t, cfg.PublishEnabled())
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"HTTP_TIMEOUT", "not-a-duration"},
		{"HTTP_TIMEOUT", "0s"},
		{"HTTP_TIMEOUT", "-1s"},
		{"PACING_DELAY", "-1s"},
		{"HTTP_RETRY_MAX", "-1"},
		{"HTTP_RETRY_MAX", "many"},
		{"PAGE_SIZE", "-5"},
		{"PERIOD_WIDTH_MONTHS", "0"},
		{"PERIOD_WIDTH_MONTHS", "13"},
		{"RECENT_MONTHS", "0"},
		{"MAX_EMPTY_PERIODS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_APIURLMustBeHTTP(t *testing.T) {
	t.Setenv("PRTR_API_URL", "ftp://example.com/data")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PRTR_API_URL")
}

func TestLoad_BrokersWithoutTopic(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	t.Setenv("KAFKA_TOPIC", "")
	cfg, err := Load()
	require.NoError(t, err, "empty topic falls back to the default")
	assert.Equal(t, "prtr-penalties", cfg.KafkaTopic)
}
