package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"easytrack/internal/config"
	"easytrack/internal/eventbus"
	"easytrack/internal/i18n"
	"easytrack/internal/notifier"
	"easytrack/internal/observability/ops"
	rtsup "easytrack/internal/runtime/supervisor"
	"easytrack/internal/scheduler"
	"easytrack/internal/storage"
	kit "easytrack/internal/transport"
	"easytrack/internal/transport/dryrun"
	telegram "easytrack/internal/transport/telegram/adapter"
	logx "easytrack/pkg/logx"
)

type Option func(*options)

type options struct {
	envFile string
	watch   bool
}

// WithEnvFile loads a dotenv file before the config is parsed.
func WithEnvFile(path string) Option { return func(o *options) { o.envFile = path } }

// WithoutWatch disables config hot reload.
func WithoutWatch() Option { return func(o *options) { o.watch = false } }

type App struct {
	opts options

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	gateway kit.Gateway
	life    kit.Lifecycle

	catalog *i18n.Catalog
	notif   *notifier.Service
	sched   *scheduler.Service
	ops     *ops.Service
	sd      *sdNotifier
}

func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{watch: true}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfgm.SetEnvFile(o.envFile)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Logging starts without a gateway; alerts are attached once the
	// gateway exists because the gateway itself logs.
	logSvc, log := logx.New(mapLogging(cfg), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	appLog := log.With(logx.String("comp", "app"))

	var (
		gw   kit.Gateway
		life kit.Lifecycle
	)
	if cfg.Telegram.DryRun {
		gw = dryrun.New(log.With(logx.String("comp", "dryrun")), 64)
		appLog.Warn("dry run: messages are logged, not sent")
	} else {
		tcfg, err := mapTelegram(cfg)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		ad, err := telegram.New(tcfg, log.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		gw, life = ad, ad
	}
	logSvc.SetGateway(gw)

	fail := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}

	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return fail(err)
	}
	openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.Open(openCtx, scfg, log.With(logx.String("comp", "storage")))
	cancel()
	if err != nil {
		return fail(fmt.Errorf("storage: %w", err))
	}
	appLog.Info("storage opened", logx.String("driver", scfg.Driver))

	cat, err := i18n.New(cfg.I18n.Default, cfg.I18n.Dir)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}

	bus := eventbus.New()

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}
	notif := notifier.New(ncfg, store, cat, gw, bus, log.With(logx.String("comp", "notifier")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}
	sd := newSDNotifier(log.With(logx.String("comp", "systemd")))
	sched := scheduler.New(schedCfg, store, notif, bus, log.With(logx.String("comp", "scheduler")),
		scheduler.WithTickHook(sd.TickDone))

	opsSvc := ops.New(mapOpsConfig(cfg), sched, notif, store, log.With(logx.String("comp", "ops")))

	return &App{
		opts:    o,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		gateway: gw,
		life:    life,
		catalog: cat,
		notif:   notif,
		sched:   sched,
		ops:     opsSvc,
		sd:      sd,
	}, nil
}

func (a *App) Store() storage.Store          { return a.store }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Notifier() *notifier.Service   { return a.notif }
func (a *App) Ops() *ops.Service             { return a.ops }
func (a *App) Config() *config.Config        { return a.cfgm.Get() }
func (a *App) Gateway() kit.Gateway          { return a.gateway }
func (a *App) Catalog() *i18n.Catalog        { return a.catalog }
func (a *App) Events() eventbus.Bus          { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Reject what the components could not apply.
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if a.life != nil {
		if err := a.life.Start(run); err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
	}
	if err := a.sched.Start(run); err != nil {
		return err
	}
	if err := a.ops.Start(run); err != nil {
		return fmt.Errorf("ops: %w", err)
	}

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.Watchdog(c,
			func() time.Duration { return a.sched.Config().Tick },
			func() bool { return a.sched.State() == scheduler.StateRunning },
		)
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
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
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	if a.opts.watch {
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.sd.Ready()
	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogging(newCfg))

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	if scfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(scfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	var errs []error
	// Each step gets its own deadline; a stuck step is logged and skipped.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
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
			if err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
		}
	}

	// The scheduler goes first so no new sends start while the gateway closes.
	step("scheduler", 20*time.Second, a.sched.Stop)
	step("ops", 2*time.Second, a.ops.Stop)
	if a.life != nil {
		step("gateway", 3*time.Second, a.life.Stop)
	}
	step("supervisor", 3*time.Second, a.sup.Stop)
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
