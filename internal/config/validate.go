package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Defaults for settings left empty in the file.
const (
	DefaultStoragePath = "./data/castbot.db"
	DefaultPollTimeout = 10 * time.Second
	DefaultTick        = time.Second
	DefaultJobTimeout  = 10 * time.Minute
	DefaultObsAddr     = "127.0.0.1:9464"
)

// ApplyDefaults fills zero values that have a sensible default.
// Durations stay strings; they are resolved with ParseDurationOrDefault.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Telegram.Shards <= 0 {
		cfg.Telegram.Shards = 8
	}
	if cfg.TaskEngine.Workers <= 0 {
		cfg.TaskEngine.Workers = 4
	}
	if cfg.TaskEngine.QueueSize <= 0 {
		cfg.TaskEngine.QueueSize = 256
	}
	if cfg.Notifier.Workers <= 0 {
		cfg.Notifier.Workers = 2
	}
	if cfg.Notifier.QueueSize <= 0 {
		cfg.Notifier.QueueSize = 256
	}
	if cfg.Notifier.RatePerSec <= 0 {
		cfg.Notifier.RatePerSec = 20
	}
	if cfg.Observability.Enabled && strings.TrimSpace(cfg.Observability.Addr) == "" {
		cfg.Observability.Addr = DefaultObsAddr
	}
}

// Validate reports every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required (or set %s_TELEGRAM_TOKEN)", EnvPrefix)
	}
	for _, id := range cfg.Telegram.Admins {
		if id <= 0 {
			add("telegram.admins: invalid user id %d", id)
		}
	}

	base := strings.TrimSpace(cfg.Gateway.BaseURL)
	if base == "" {
		add("gateway.base_url is required")
	} else if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		add("gateway.base_url: invalid url %q", base)
	}
	if cfg.Gateway.APIID < 0 {
		add("gateway.api_id must be >= 0")
	}
	if cfg.Gateway.RatePerSec < 0 {
		add("gateway.rate_per_sec must be >= 0")
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add("logging.file.path is required when logging.file.enabled")
	}
	if cfg.Logging.Telegram.Enabled && cfg.Telegram.OperatorChatID == 0 {
		add("logging.telegram.enabled needs telegram.operator_chat_id")
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"telegram.handler_timeout", cfg.Telegram.HandlerTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"gateway.timeout", cfg.Gateway.Timeout},
		{"gateway.breaker_cooldown", cfg.Gateway.BreakerCooldown},
		{"scheduler.tick", cfg.Scheduler.Tick},
		{"scheduler.job_timeout", cfg.Scheduler.JobTimeout},
		{"task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout},
		{"notifier.retry_base", cfg.Notifier.RetryBase},
		{"notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay},
		{"notifier.dedup_window", cfg.Notifier.DedupWindow},
		{"observability.read_timeout", cfg.Observability.ReadTimeout},
		{"observability.write_timeout", cfg.Observability.WriteTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if d, err := ParseDurationField("scheduler.tick", cfg.Scheduler.Tick); err == nil && d > 0 && d < 100*time.Millisecond {
		add("scheduler.tick must be >= 100ms")
	}

	return errors.Join(errs...)
}

// Location resolves scheduler.timezone. Empty means time.Local.
func (c *Config) Location() *time.Location {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}
