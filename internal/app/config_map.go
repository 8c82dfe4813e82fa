package app

import (
	"time"

	"castbot/internal/config"
	"castbot/internal/delivery"
	"castbot/internal/gateway"
	"castbot/internal/notifier"
	"castbot/internal/observability"
	"castbot/internal/storage"
	"castbot/internal/task/engine"
	telegram "castbot/internal/transport/telegram/adapter"
	"castbot/internal/transport/telegram/router"
	"castbot/internal/wizard"
	logx "castbot/pkg/logx"
)

// sessionTTL drops conversations idle for longer.
const sessionTTL = time.Hour

// The mappers below run on a validated config, so duration parse errors
// cannot happen here; DurationOr still falls back to the default.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapAdapterConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, config.DefaultPollTimeout),
	}
}

func mapRouterConfig(cfg *config.Config) router.Config {
	return router.Config{
		Shards:         cfg.Telegram.Shards,
		HandlerTimeout: config.DurationOr(cfg.Telegram.HandlerTimeout, 0),
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: config.DurationOr(cfg.Storage.BusyTimeout, 0),
		Readers:     cfg.Storage.Readers,
	}
}

func mapGatewayConfig(cfg *config.Config) gateway.Config {
	g := cfg.Gateway
	return gateway.Config{
		BaseURL:         g.BaseURL,
		Token:           g.Token,
		APIID:           g.APIID,
		APIHash:         g.APIHash,
		Timeout:         config.DurationOr(g.Timeout, 0),
		RatePerSec:      g.RatePerSec,
		BreakerFailures: g.BreakerFailures,
		BreakerCooldown: config.DurationOr(g.BreakerCooldown, 0),
	}
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	e := cfg.TaskEngine
	return engine.Config{
		Workers:        e.Workers,
		QueueSize:      e.QueueSize,
		DefaultTimeout: config.DurationOr(e.DefaultTimeout, 0),
		HistorySize:    e.HistorySize,
	}
}

func mapDeliveryConfig(cfg *config.Config) delivery.Config {
	return delivery.Config{
		Tick:       config.DurationOr(cfg.Scheduler.Tick, config.DefaultTick),
		JobTimeout: config.DurationOr(cfg.Scheduler.JobTimeout, config.DefaultJobTimeout),
		Location:   cfg.Location(),
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       config.DurationOr(n.RetryBase, 0),
		RetryMaxDelay:   config.DurationOr(n.RetryMaxDelay, 0),
		DedupWindow:     config.DurationOr(n.DedupWindow, 0),
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
		OperatorChatID:  cfg.Telegram.OperatorChatID,
	}
}

func mapObservabilityConfig(cfg *config.Config) observability.Config {
	o := cfg.Observability
	return observability.Config{
		Enabled:       o.Enabled,
		Addr:          o.Addr,
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   config.DurationOr(o.ReadTimeout, 0),
		WriteTimeout:  config.DurationOr(o.WriteTimeout, 0),
	}
}

func mapWizardConfig(cfg *config.Config) wizard.Config {
	return wizard.Config{
		SessionTTL:     sessionTTL,
		GatewayTimeout: config.DurationOr(cfg.Gateway.Timeout, 0),
	}
}
