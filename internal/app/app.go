package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"castbot/internal/account"
	"castbot/internal/config"
	"castbot/internal/delivery"
	"castbot/internal/eventbus"
	"castbot/internal/gateway"
	"castbot/internal/notifier"
	"castbot/internal/observability"
	rtsup "castbot/internal/runtime/supervisor"
	"castbot/internal/storage"
	"castbot/internal/task/engine"
	kit "castbot/internal/transport"
	telegram "castbot/internal/transport/telegram/adapter"
	"castbot/internal/transport/telegram/router"
	"castbot/internal/wizard"
	logx "castbot/pkg/logx"
)

// sweepEvery is how often idle wizard sessions are collected.
const sweepEvery = time.Minute

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   *storage.SQLite
	adapter *telegram.Adapter
	gw      *gateway.Client
	pool    *engine.Pool
	notif   *notifier.Service
	sched   *delivery.Scheduler
	guard   *account.Guard
	wiz     *wizard.Wizard
	router  *router.Router
	obs     *observability.Server

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Telegram mirroring needs the adapter as sender, so logging starts
	// without it and the final config is applied once the target is set.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg)
	log := root.With(logx.String("comp", "app"))

	ad, err := telegram.New(mapAdapterConfig(cfg), root.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(ad)
	logSvc.SetTelegramTarget(kit.ChatTarget{ChatID: cfg.Telegram.OperatorChatID})
	logSvc.Apply(logCfg)

	st, err := storage.Open(mapStorageConfig(cfg), root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New()
	gw := gateway.New(mapGatewayConfig(cfg), root.With(logx.String("comp", "gateway")))
	pool := engine.New(mapEngineConfig(cfg), root.With(logx.String("comp", "taskengine")), bus)
	notif := notifier.New(mapNotifierConfig(cfg), ad, root.With(logx.String("comp", "notifier")), bus, st)
	sched := delivery.New(mapDeliveryConfig(cfg), st, gw, notif, pool, bus, root.With(logx.String("comp", "delivery")))

	guard := account.NewGuard(st, cfg.Location(), cfg.Telegram.Admins)
	acct := account.NewService(st, guard, root.With(logx.String("comp", "account")))
	wiz := wizard.New(mapWizardConfig(cfg), st, guard, gw, root.With(logx.String("comp", "wizard")))

	rt := router.New(mapRouterConfig(cfg), ad, root.With(logx.String("comp", "router")))
	rt.SetRegistry(append(acct.Commands(), wiz.Commands()...), wiz.Callbacks())
	rt.SetText(wiz.HandleText)
	rt.SetAdminCheck(guard.IsAdmin)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observability.Register(reg)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   st,
		adapter: ad,
		gw:      gw,
		pool:    pool,
		notif:   notif,
		sched:   sched,
		guard:   guard,
		wiz:     wiz,
		router:  rt,
		updates: make(chan kit.Update, 256),
	}
	a.obs = observability.NewServer(mapObservabilityConfig(cfg), reg, a.health, root.With(logx.String("comp", "observability")))
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.store.Ping(ctx)
}

func (a *App) healthy(ctx context.Context) bool {
	if err := a.health(ctx); err != nil {
		a.log.Warn("health check failed", logx.Err(err))
		return false
	}
	return true
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if cur := a.cfgm.Get(); cur != nil && cur.Telegram.Token != cfg.Telegram.Token {
			return errors.New("telegram.token cannot change without a restart")
		}
		return nil
	})

	// Consumers before producers: the pool and notifier must accept work
	// before the scheduler ticks or the router dispatches.
	a.pool.Start(a.sup.Context())
	a.notif.Start(a.sup.Context())

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.obs.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go0("wizard.sweep", func(c context.Context) {
		t := time.NewTicker(sweepEvery)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				a.wiz.Sweep(c)
			}
		}
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// debug only; job events fire every tick
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", a.watchdog)
	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.sdNotify(daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// producers first, then the workers they feed
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "delivery", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 2*time.Second, func(c context.Context) error { a.pool.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "observability", 1*time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max so one component cannot stall
// the whole stop. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
