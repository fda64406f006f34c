// Package app wires the directory bot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"divulgabot/internal/broadcast"
	"divulgabot/internal/config"
	"divulgabot/internal/directory"
	"divulgabot/internal/eventbus"
	"divulgabot/internal/membership"
	"divulgabot/internal/notifier"
	"divulgabot/internal/report"
	rtsup "divulgabot/internal/runtime/supervisor"
	"divulgabot/internal/storage"
	"divulgabot/internal/task/engine"
	"divulgabot/internal/task/scheduler"
	kit "divulgabot/internal/transport"
	telegram "divulgabot/internal/transport/telegram/adapter"
	"divulgabot/internal/transport/telegram/router"
	logx "divulgabot/pkg/logx"
	"divulgabot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	router  *router.Manager

	engine    *engine.Service
	sched     *scheduler.Service
	notif     *notifier.Service
	broadcast *broadcast.Service
	members   *membership.Watcher
	dir       *directory.Service
	report    *report.Job

	updates chan kit.Update
}

// New loads the configuration and builds every component. Configuration
// problems come back as config.ConfigurationError.
func New(cfgPath string) (*App, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO")
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately; the Telegram sink is enabled only after
	// its target chat is set.
	logCfg, target := mapLogConfig(cfg)
	boot := logCfg
	boot.Telegram.Enabled = false
	logSvc, root := logx.New(boot, ad)
	logSvc.SetTelegramTarget(target, cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	bus := eventbus.New()
	eng := engine.New(mapEngineConfig(cfg), root, bus)
	sched := scheduler.New(mapSchedulerConfig(cfg), eng, root, bus)

	rt := router.New(root, ad, cfg.Telegram.AdminIDs)
	notif := notifier.New(mapNotifierConfig(cfg), ad, root, bus)
	bc := broadcast.New(mapBroadcastConfig(cfg), store, ad, bus, root)
	members := membership.New(mapMembershipConfig(cfg), store, notif, bus, root)
	dir := directory.New(mapDirectoryConfig(cfg), directory.Deps{
		Store:     store,
		Notify:    notif,
		Broadcast: bc,
		Schedules: sched,
		Bus:       bus,
	}, root)

	rt.OnMembership(members.Handle)
	rt.SetRegistry(dir.Commands(), dir.Callbacks())

	return &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		router:    rt,
		engine:    eng,
		sched:     sched,
		notif:     notif,
		broadcast: bc,
		members:   members,
		dir:       dir,
		report:    report.New(store, notif, sched.Location, root),
		updates:   make(chan kit.Update, 256),
	}, nil
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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: a config whose schedules cannot be armed
	// is rejected before it is committed.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		dry := scheduler.New(mapSchedulerConfig(cfg), nil, logx.Nop(), nil)
		return armSchedules(cfg, dry, a.broadcast, a.report.Run, logx.Nop())
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.engine.Start(a.sup.Context())
	if err := armSchedules(a.cfgm.Get(), a.sched, a.broadcast, a.report.Run, a.log); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.router.SyncMenu(mctx); err != nil {
			a.log.Warn("command menu not synced", logx.Err(err))
		}
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("audit", func(c context.Context) {
		defer unsub()
		runAudit(c, events, a.store, a.log.With(logx.String("comp", "audit")))
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", systemd.Watchdog)
	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("app started",
		logx.Int64("bot_id", a.adapter.SelfID()),
		logx.Int("admins", len(a.notif.Admins())),
	)
	return nil
}

// reloadLoop applies committed config changes to the running components.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			a.apply(newCfg)

			if restart := config.RequiresRestart(sections); len(restart) > 0 {
				a.log.Warn("config sections changed that only apply after restart",
					logx.String("sections", strings.Join(restart, ",")))
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) apply(cfg *config.Config) {
	// update log target first (so Apply() doesn't warn when Telegram logging is enabled)
	logCfg, target := mapLogConfig(cfg)
	a.logs.SetTelegramTarget(target, cfg.Logging.Telegram.ThreadID)
	a.logs.Apply(logCfg)

	a.router.SetAdmins(cfg.Telegram.AdminIDs)
	a.notif.Apply(mapNotifierConfig(cfg))
	a.broadcast.Apply(mapBroadcastConfig(cfg))
	a.members.Apply(mapMembershipConfig(cfg))
	a.dir.Apply(mapDirectoryConfig(cfg))

	a.sched.Apply(mapSchedulerConfig(cfg))
	if err := armSchedules(cfg, a.sched, a.broadcast, a.report.Run, a.log); err != nil {
		a.log.Error("schedules partially armed", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. fn must honor its context.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
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
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
