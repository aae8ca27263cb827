package scheduler

import (
	"context"
	"sync"
	"time"

	"easytrack/internal/eventbus"
	rtsup "easytrack/internal/runtime/supervisor"
	logx "easytrack/pkg/logx"
)

type Option func(*Service)

// WithTickHook is called after every loop tick (the app pings the systemd
// watchdog from it).
func WithTickHook(fn func(TickReport)) Option {
	return func(s *Service) { s.onTick = fn }
}

// WithLoopBackoff sets the restart backoff of the loop after a panic.
func WithLoopBackoff(min, max time.Duration) Option {
	return func(s *Service) { s.backoffMin, s.backoffMax = min, max }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service owns one polling loop. The zero state is Stopped.
type Service struct {
	store Store
	disp  Dispatcher
	bus   eventbus.Bus
	log   logx.Logger

	onTick func(TickReport)
	now    func() time.Time

	backoffMin, backoffMax time.Duration

	mu  sync.Mutex
	cfg Config
	sup *rtsup.Supervisor

	// tickMu serializes ticks from the loop and Trigger.
	tickMu sync.Mutex

	smu       sync.Mutex
	ticks     uint64
	last      *TickReport
	lastZones []string
	lastPrune time.Time
}

func New(cfg Config, store Store, disp Dispatcher, bus eventbus.Bus, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		store: store,
		disp:  disp,
		bus:   bus,
		log:   log,
		now:   time.Now,
		cfg:   cfg.withDefaults(),

		backoffMin: time.Second,
		backoffMax: time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply swaps the configuration; the running loop picks it up on its next
// wait.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.log.Info("config applied",
		logx.Duration("tick", cfg.Tick),
		logx.String("match_mode", string(cfg.MatchMode)),
		logx.String("candidates", string(cfg.Candidates)),
		logx.Int("timezones", len(cfg.Timezones)),
	)
}

// Config returns the configuration in effect, defaults applied.
func (s *Service) Config() Config { return s.config() }

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// State reports Running while the loop's context is alive.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil || s.sup.Context().Err() != nil {
		return StateStopped
	}
	return StateRunning
}

// Start moves Stopped to Running by spawning the supervised loop. Calling it
// while running is a no-op. Canceling ctx stops the loop as Stop would.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil && s.sup.Context().Err() == nil {
		return nil
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log))
	// A panic inside a tick is logged by the supervisor and the loop comes
	// back after a backoff.
	sup.GoRestart("scheduler.loop", s.loop, rtsup.WithRestartBackoff(s.backoffMin, s.backoffMax))
	s.sup = sup
	s.log.Info("scheduler started",
		logx.Duration("tick", s.cfg.Tick),
		logx.Bool("align_to_minute", s.cfg.AlignToMinute),
		logx.String("match_mode", string(s.cfg.MatchMode)),
		logx.String("candidates", string(s.cfg.Candidates)),
	)
	return nil
}

// Stop cancels the loop and waits for it within ctx. It is safe to call at
// any time and more than once.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	start := time.Now()
	err := sup.Stop(ctx)
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return err
}

// Supervised reports goroutine stats of the running loop.
func (s *Service) Supervised() []rtsup.TaskStats {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Snapshot()
}

func (s *Service) loop(ctx context.Context) error {
	var lastMinute time.Time
	for {
		cfg := s.config()
		wait := nextWait(s.now(), cfg.Tick, cfg.AlignToMinute)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		now := s.now()
		minute := now.Truncate(time.Minute)
		// Exact matching has no memory of what was sent, so a minute is
		// matched at most once by the loop whatever the tick.
		if cfg.MatchMode == MatchExact && minute.Equal(lastMinute) {
			s.log.Debug("tick skipped; minute already matched", logx.Time("minute", minute))
			continue
		}
		rep := s.Tick(ctx, now)
		lastMinute = minute
		if s.onTick != nil {
			s.onTick(rep)
		}
	}
}

// nextWait is the sleep before the next tick. Aligned waits end on the next
// multiple of tick since the zero time, which for whole minutes is a wall
// clock minute boundary in every zone with a whole-minute offset.
func nextWait(now time.Time, tick time.Duration, align bool) time.Duration {
	if !align {
		return tick
	}
	next := now.Truncate(tick).Add(tick)
	return next.Sub(now)
}

// Trigger runs one tick immediately. It fails with ErrNotRunning when the
// loop is stopped. It bypasses the loop's once-per-minute guard: in exact
// mode a minute the loop already matched is sent again.
func (s *Service) Trigger(ctx context.Context) (TickReport, error) {
	if s.State() != StateRunning {
		return TickReport{}, ErrNotRunning
	}
	return s.Tick(ctx, s.now()), nil
}
