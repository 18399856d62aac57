package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"saytruth/internal/cipher"
	"saytruth/internal/domain"
	"saytruth/internal/ratelimit"
	"saytruth/internal/service"
	"saytruth/internal/sweeper"
)

// Config holds all configuration for the application.
// Values are read by viper from a config file or environment variables.
type Config struct {
	HTTPAddr         string `mapstructure:"HTTP_ADDR"`
	PublicURL        string `mapstructure:"PUBLIC_URL"`
	BadgerDBPath     string `mapstructure:"BADGERDB_PATH"`
	EncryptionKey    string `mapstructure:"ENCRYPTION_KEY"`
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	LogLevel         string `mapstructure:"LOG_LEVEL"`
	LogFile          string `mapstructure:"LOG_FILE"`

	SweepInterval   time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepBatchSize  int           `mapstructure:"SWEEP_BATCH_SIZE"`
	RetentionPeriod time.Duration `mapstructure:"RETENTION_PERIOD"`
	PurgeSchedule   string        `mapstructure:"PURGE_SCHEDULE"`

	GuestDurations []string `mapstructure:"GUEST_DURATIONS"`
	DisplayNameMax int      `mapstructure:"DISPLAY_NAME_MAX"`

	LinkCreateLimit  int           `mapstructure:"LINK_CREATE_LIMIT"`
	LinkCreateWindow time.Duration `mapstructure:"LINK_CREATE_WINDOW"`
	SubmitLimit      int           `mapstructure:"SUBMIT_LIMIT"`
	SubmitWindow     time.Duration `mapstructure:"SUBMIT_WINDOW"`
	DirectLimit      int           `mapstructure:"DIRECT_LIMIT"`
	DirectWindow     time.Duration `mapstructure:"DIRECT_WINDOW"`

	IdentityHeader string        `mapstructure:"IDENTITY_HEADER"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	TrustedProxies []string      `mapstructure:"TRUSTED_PROXIES"`
}

var defaults = map[string]interface{}{
	"HTTP_ADDR":          ":8080",
	"PUBLIC_URL":         "",
	"BADGERDB_PATH":      "./badger_data",
	"ENCRYPTION_KEY":     "",
	"TELEGRAM_BOT_TOKEN": "",
	"LOG_LEVEL":          "info",
	"LOG_FILE":           "",
	"SWEEP_INTERVAL":     "1m",
	"SWEEP_BATCH_SIZE":   500,
	"RETENTION_PERIOD":   "168h",
	"PURGE_SCHEDULE":     "@every 30m",
	"GUEST_DURATIONS":    "6h,12h",
	"DISPLAY_NAME_MAX":   50,
	"LINK_CREATE_LIMIT":  20,
	"LINK_CREATE_WINDOW": "1h",
	"SUBMIT_LIMIT":       10,
	"SUBMIT_WINDOW":      "1m",
	"DIRECT_LIMIT":       5,
	"DIRECT_WINDOW":      "1m",
	"IDENTITY_HEADER":    "X-Authenticated-User",
	"REQUEST_TIMEOUT":    "10s",
	"TRUSTED_PROXIES":    "",
}

// LoadConfig reads configuration from file or environment variables.
// Environment variables win over the file; unset keys take their defaults.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	err = v.ReadInConfig()
	if err != nil {
		// A missing file is fine; everything can come from the environment.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks values that would otherwise fail late at startup.
func (c Config) Validate() error {
	if len(c.EncryptionKey) < cipher.MinSecretSize {
		return fmt.Errorf("ENCRYPTION_KEY must be at least %d characters", cipher.MinSecretSize)
	}
	if c.BadgerDBPath == "" {
		return fmt.Errorf("BADGERDB_PATH is not set")
	}
	if c.SweepInterval < time.Second {
		return fmt.Errorf("SWEEP_INTERVAL must be at least 1s, got %s", c.SweepInterval)
	}
	if c.RetentionPeriod < 0 {
		return fmt.Errorf("RETENTION_PERIOD must not be negative")
	}
	if c.RetentionPeriod > 0 {
		if _, err := cron.ParseStandard(c.PurgeSchedule); err != nil {
			return fmt.Errorf("PURGE_SCHEDULE %q: %w", c.PurgeSchedule, err)
		}
	}
	if _, err := c.guestDurations(); err != nil {
		return fmt.Errorf("GUEST_DURATIONS: %w", err)
	}
	if strings.TrimSpace(c.IdentityHeader) == "" {
		return fmt.Errorf("IDENTITY_HEADER is not set")
	}
	for _, p := range c.Proxies() {
		if net.ParseIP(p) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(p); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES: %q is neither an IP nor a CIDR", p)
		}
	}
	return nil
}

// Proxies returns the trusted proxy addresses. None are trusted by default,
// so forwarding headers never pick the rate-limit key.
func (c Config) Proxies() []string {
	proxies := make([]string, 0, len(c.TrustedProxies))
	for _, p := range c.TrustedProxies {
		if p = strings.TrimSpace(p); p != "" {
			proxies = append(proxies, p)
		}
	}
	return proxies
}

func (c Config) guestDurations() ([]domain.DurationToken, error) {
	tokens := make([]domain.DurationToken, 0, len(c.GuestDurations))
	for _, s := range c.GuestDurations {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		tok, err := domain.ParseDurationToken(s)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// Policy returns the link and content policy.
func (c Config) Policy() service.Policy {
	guest, _ := c.guestDurations()
	p := service.DefaultPolicy()
	p.GuestDurations = guest
	if c.DisplayNameMax > 0 {
		p.DisplayNameMax = c.DisplayNameMax
	}
	return p
}

// Budgets returns the rate-limit budgets.
func (c Config) Budgets() ratelimit.Budgets {
	return ratelimit.Budgets{
		ratelimit.KindCreateLink: {Limit: c.LinkCreateLimit, Window: c.LinkCreateWindow},
		ratelimit.KindSubmit:     {Limit: c.SubmitLimit, Window: c.SubmitWindow},
		ratelimit.KindDirect:     {Limit: c.DirectLimit, Window: c.DirectWindow},
	}
}

// Sweeper returns the sweeper settings.
func (c Config) Sweeper() sweeper.Config {
	return sweeper.Config{
		Interval:      c.SweepInterval,
		BatchSize:     c.SweepBatchSize,
		Retention:     c.RetentionPeriod,
		PurgeSchedule: c.PurgeSchedule,
	}
}
