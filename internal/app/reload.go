package app

import (
	"context"
	"strings"

	"castbot/internal/config"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// reloadLoop fans validated config updates out to the components that can
// take them live: logging, admin set and notifier.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = latest(sub, newCfg)
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// latest drains queued updates so a burst of writes applies once.
func latest(sub chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) applyConfig(old, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(old, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if rs := config.RequiresRestart(sections); len(rs) > 0 {
		a.log.Warn("some config changes take effect after restart", logx.String("sections", strings.Join(rs, ",")))
	}

	// target first so Apply does not warn about a missing telegram chat
	a.logs.SetTelegramTarget(kit.ChatTarget{ChatID: cfg.Telegram.OperatorChatID})
	a.logs.Apply(mapLogConfig(cfg))
	a.guard.SetAdmins(cfg.Telegram.Admins)
	a.notif.Apply(mapNotifierConfig(cfg))

	a.log.Info("config reloaded", fields...)
}
