package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saytruth/internal/domain"
	"saytruth/internal/ratelimit"
)

const testKey = "0123456789abcdef0123"

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testKey)

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.PublicURL)
	assert.Equal(t, "./badger_data", cfg.BadgerDBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 168*time.Hour, cfg.RetentionPeriod)
	assert.Equal(t, 500, cfg.SweepBatchSize)
	assert.Equal(t, "X-Authenticated-User", cfg.IdentityHeader)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Empty(t, cfg.TelegramBotToken)
	assert.Empty(t, cfg.Proxies(), "no proxy is trusted by default")

	assert.Equal(t, ratelimit.DefaultBudgets(), cfg.Budgets())
	assert.Equal(t, []domain.DurationToken{domain.Duration6h, domain.Duration12h}, cfg.Policy().GuestDurations)
	assert.Equal(t, 50, cfg.Policy().DisplayNameMax)
	assert.Equal(t, "@every 30m", cfg.Sweeper().PurgeSchedule)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
ENCRYPTION_KEY: file-secret-0123456789
BADGERDB_PATH: /var/lib/saytruth
SUBMIT_LIMIT: 3
SUBMIT_WINDOW: 30s
GUEST_DURATIONS: [6h]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("SUBMIT_LIMIT", "4")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/saytruth", cfg.BadgerDBPath)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	assert.Equal(t, 4, cfg.SubmitLimit, "environment wins over the file")
	assert.Equal(t, 30*time.Second, cfg.SubmitWindow)
	assert.Equal(t, []domain.DurationToken{domain.Duration6h}, cfg.Policy().GuestDurations)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.Proxies())
}

func TestLoadConfig_Validation(t *testing.T) {
	cases := map[string]map[string]string{
		"missing key":     {},
		"short key":       {"ENCRYPTION_KEY": "short"},
		"bad duration":    {"ENCRYPTION_KEY": testKey, "GUEST_DURATIONS": "6h,forever"},
		"bad schedule":    {"ENCRYPTION_KEY": testKey, "PURGE_SCHEDULE": "sometimes"},
		"tiny interval":   {"ENCRYPTION_KEY": testKey, "SWEEP_INTERVAL": "10ms"},
		"negative retain": {"ENCRYPTION_KEY": testKey, "RETENTION_PERIOD": "-1h"},
		"no identity hdr": {"ENCRYPTION_KEY": testKey, "IDENTITY_HEADER": " "},
		"bad proxy":       {"ENCRYPTION_KEY": testKey, "TRUSTED_PROXIES": "10.0.0.0/8,proxy.local"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("ENCRYPTION_KEY", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(t.TempDir())
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("HTTP_ADDR: [unclosed"), 0o600))
	_, err := LoadConfig(dir)
	assert.Error(t, err)
}
