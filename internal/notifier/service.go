package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"easytrack/internal/eventbus"
	"easytrack/internal/reminder"
	kit "easytrack/internal/transport"
	logx "easytrack/pkg/logx"

	"golang.org/x/time/rate"
)

// Service is safe for concurrent use; Apply swaps limits at runtime.
type Service struct {
	dir     Directory
	render  Renderer
	gateway kit.Gateway
	bus     eventbus.Bus
	log     logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sent, failed, abandoned atomic.Uint64

	hmu     sync.Mutex
	history []Result
}

func New(cfg Config, dir Directory, render Renderer, gateway kit.Gateway, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		dir:     dir,
		render:  render,
		gateway: gateway,
		bus:     bus,
		log:     log,
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RatePerSec))
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if strings.TrimSpace(cfg.MessageKey) == "" {
		cfg.MessageKey = DefaultMessageKey
	}
	if strings.TrimSpace(cfg.TestKey) == "" {
		cfg.TestKey = "notifications.test_message"
	}
	if cfg.History <= 0 {
		cfg.History = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	} else {
		s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
		s.limiter.SetBurst(cfg.Burst)
	}
	s.cfg = cfg
}

func (s *Service) config() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// Notify delivers the reminder for one due schedule. Errors are reported in
// the Result only.
func (s *Service) Notify(ctx context.Context, sc reminder.Schedule) Result {
	cfg, _ := s.config()
	res := Result{ScheduleID: sc.ID, OwnerID: sc.OwnerID, At: time.Now()}
	log := s.log.With(
		logx.String("tick_id", tickFrom(ctx)),
		logx.Int64("schedule_id", sc.ID),
		logx.Int64("owner_id", sc.OwnerID),
	)

	owner, err := s.owner(ctx, sc.OwnerID)
	if err != nil {
		return s.finish(ctx, log, res, err)
	}
	text := s.render.Text(owner.Lang(), cfg.MessageKey, map[string]any{
		"time":     sc.At.String(),
		"timezone": sc.Timezone,
	})
	res.Ref, err = s.send(ctx, owner, text, cfg.ParseMode)
	return s.finish(ctx, log.With(logx.String("recurrence", sc.Recurrence())), res, err)
}

// Deliver sends a queued outbox message verbatim.
func (s *Service) Deliver(ctx context.Context, m reminder.OutboxMessage) Result {
	res := Result{OutboxID: m.ID, OwnerID: m.OwnerID, At: time.Now()}
	log := s.log.With(
		logx.String("tick_id", tickFrom(ctx)),
		logx.Int64("outbox_id", m.ID),
		logx.Int64("owner_id", m.OwnerID),
	)
	owner, err := s.owner(ctx, m.OwnerID)
	if err != nil {
		return s.finish(ctx, log, res, err)
	}
	res.Ref, err = s.send(ctx, owner, m.Text, m.ParseMode)
	return s.finish(ctx, log, res, err)
}

// SendTest sends the reminder text right away, prefixed by a test banner.
// Unlike Notify it returns the delivery error to the caller. It is the entry
// point for the account subsystem's "send me a test reminder" action; the
// scheduler never calls it.
func (s *Service) SendTest(ctx context.Context, ownerID int64) error {
	cfg, _ := s.config()
	owner, err := s.owner(ctx, ownerID)
	if err != nil {
		return err
	}
	lang := owner.Lang()
	text := s.render.Text(lang, cfg.TestKey, nil) + "\n\n" + s.render.Text(lang, cfg.MessageKey, nil)
	if _, err := s.send(ctx, owner, text, cfg.ParseMode); err != nil {
		s.log.Warn("test notification failed", logx.Int64("owner_id", ownerID), logx.Err(err))
		return err
	}
	s.log.Info("test notification sent", logx.Int64("owner_id", ownerID))
	return nil
}

func (s *Service) owner(ctx context.Context, id int64) (reminder.Owner, error) {
	if s.dir == nil {
		return reminder.Owner{}, fmt.Errorf("owner %d: %w", id, ErrNoRecipient)
	}
	o, ok, err := s.dir.GetOwner(ctx, id)
	if err != nil {
		return reminder.Owner{}, fmt.Errorf("lookup owner %d: %w", id, err)
	}
	if !ok || o.ChatID == 0 {
		return reminder.Owner{}, fmt.Errorf("owner %d: %w", id, ErrNoRecipient)
	}
	return o, nil
}

// send waits for the limiter on ctx, then performs the gateway call on a
// detached context bounded by SendTimeout.
func (s *Service) send(ctx context.Context, owner reminder.Owner, text, parseMode string) (kit.MessageRef, error) {
	if strings.TrimSpace(text) == "" {
		return kit.MessageRef{}, ErrEmptyText
	}
	if s.gateway == nil {
		return kit.MessageRef{}, errors.New("no gateway configured")
	}
	cfg, lim := s.config()
	if err := lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return kit.MessageRef{}, ctx.Err()
		}
		return kit.MessageRef{}, fmt.Errorf("rate limit: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.SendTimeout)
	defer cancel()
	to := kit.ChatTarget{ChatID: owner.ChatID, ThreadID: owner.ThreadID}
	return s.gateway.SendText(callCtx, to, text, &kit.SendOptions{ParseMode: parseMode, DisablePreview: true})
}

func (s *Service) finish(ctx context.Context, log logx.Logger, res Result, err error) Result {
	res.Took = time.Since(res.At)
	res.Err = err

	ev := eventbus.Delivery{TickID: tickFrom(ctx), ScheduleID: res.ScheduleID, OutboxID: res.OutboxID, OwnerID: res.OwnerID}
	sentType, failType := eventbus.TypeReminderSent, eventbus.TypeReminderFail
	if res.OutboxID != 0 {
		sentType, failType = eventbus.TypeOutboxSent, eventbus.TypeOutboxFail
	}

	switch {
	case err == nil:
		res.Status = StatusSent
		s.sent.Add(1)
		log.Info("notification sent", logx.Duration("took", res.Took))
		s.bus.Publish(eventbus.Event{Type: sentType, Data: ev})
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		res.Status = StatusAbandoned
		s.abandoned.Add(1)
		log.Warn("notification abandoned", logx.Err(err))
	default:
		res.Status = StatusFailed
		s.failed.Add(1)
		ev.Err = err.Error()
		log.Error("notification failed", logx.Err(err), logx.Duration("took", res.Took))
		s.bus.Publish(eventbus.Event{Type: failType, Data: ev})
	}
	s.remember(res)
	return res
}

func (s *Service) remember(r Result) {
	cfg, _ := s.config()
	s.hmu.Lock()
	s.history = append(s.history, r)
	if len(s.history) > cfg.History {
		s.history = append([]Result(nil), s.history[len(s.history)-cfg.History:]...)
	}
	s.hmu.Unlock()
}

// Recent returns the latest results, oldest first.
func (s *Service) Recent() []Result {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]Result(nil), s.history...)
}

func (s *Service) Counters() Counters {
	return Counters{Sent: s.sent.Load(), Failed: s.failed.Load(), Abandoned: s.abandoned.Load()}
}
