package scheduler

import (
	"context"
	"time"

	"easytrack/internal/eventbus"
	"easytrack/internal/notifier"
	"easytrack/internal/reminder"
	logx "easytrack/pkg/logx"

	"github.com/google/uuid"
)

// storeWriteTimeout bounds bookkeeping writes that must land even when the
// tick was canceled mid-send.
const storeWriteTimeout = 5 * time.Second

// Tick evaluates every candidate zone at now, dispatches what is due and
// drains the outbox. Failures stay inside their zone or recipient.
func (s *Service) Tick(ctx context.Context, now time.Time) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	cfg := s.config()
	rep := TickReport{TickID: uuid.NewString(), At: now}
	ctx = notifier.WithTick(ctx, rep.TickID)
	log := s.log.With(logx.String("tick_id", rep.TickID))
	start := time.Now()

	zones := s.candidates(ctx, cfg, log)
	probes, errs := Probes(now, zones)
	for _, err := range errs {
		rep.ZoneErrors++
		log.Error("timezone skipped", logx.Err(err))
	}
	rep.Zones = len(probes)

	for _, p := range probes {
		if ctx.Err() != nil {
			break
		}
		s.runProbe(ctx, cfg, p, &rep, log)
	}

	if ctx.Err() == nil {
		s.drainOutbox(ctx, cfg, now, &rep, log)
	}
	if ctx.Err() == nil {
		s.maybePrune(ctx, cfg, now, &rep, log)
	}

	rep.Took = time.Since(start)
	s.record(rep)

	fields := []logx.Field{
		logx.Int("zones", rep.Zones),
		logx.Int("due", rep.Due),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Int("skipped", rep.Skipped),
		logx.Int("abandoned", rep.Abandoned),
		logx.Int("outbox_sent", rep.OutboxSent),
		logx.Duration("took", rep.Took),
	}
	switch {
	case rep.Abandoned > 0:
		log.Warn("tick abandoned", fields...)
	case rep.Due > 0 || rep.OutboxSent > 0 || rep.OutboxFail > 0 || rep.ZoneErrors > 0:
		log.Info("tick done", fields...)
	default:
		log.Debug("tick done", fields...)
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTick, Data: eventbus.TickSummary{
		TickID:    rep.TickID,
		Probes:    rep.Zones,
		Due:       rep.Due,
		Sent:      rep.Sent,
		Failed:    rep.Failed,
		Skipped:   rep.Skipped,
		Abandoned: rep.Abandoned,
		Outbox:    rep.OutboxSent,
		Took:      rep.Took,
	}})
	return rep
}

func (s *Service) runProbe(ctx context.Context, cfg Config, p Probe, rep *TickReport, log logx.Logger) {
	zlog := log.With(
		logx.String("tz", p.Timezone),
		logx.String("local", p.At.String()),
		logx.String("weekday", p.Day.String()),
	)
	due, err := s.store.FindDue(ctx, p.At, p.Day, p.Timezone)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		rep.ZoneErrors++
		zlog.Error("find due failed", logx.Err(err))
		return
	}
	rep.Due += len(due)

	for i, sc := range due {
		if ctx.Err() != nil {
			rep.Abandoned += len(due) - i
			zlog.Warn("due schedules abandoned", logx.Int("count", len(due)-i))
			return
		}
		if cfg.MatchMode == MatchWatermark && sc.FiredAt(p.Occurrence) {
			rep.Skipped++
			zlog.Debug("already fired", logx.Int64("schedule_id", sc.ID))
			continue
		}
		res := s.disp.Notify(ctx, sc)
		switch res.Status {
		case notifier.StatusSent:
			rep.Sent++
			if cfg.MatchMode == MatchWatermark {
				s.markFired(ctx, sc, p, zlog)
			}
		case notifier.StatusAbandoned:
			rep.Abandoned++
		default:
			rep.Failed++
		}
	}
}

func (s *Service) markFired(ctx context.Context, sc reminder.Schedule, p Probe, log logx.Logger) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()
	if _, err := s.store.MarkFired(wctx, sc.ID, p.Occurrence); err != nil {
		log.Error("mark fired failed", logx.Int64("schedule_id", sc.ID), logx.Err(err))
	}
}

func (s *Service) drainOutbox(ctx context.Context, cfg Config, now time.Time, rep *TickReport, log logx.Logger) {
	pending, err := s.store.PendingOutbox(ctx, now, cfg.OutboxBatch)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("outbox read failed", logx.Err(err))
		}
		return
	}
	for _, m := range pending {
		if ctx.Err() != nil {
			return
		}
		res := s.disp.Deliver(ctx, m)
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
		switch res.Status {
		case notifier.StatusSent:
			rep.OutboxSent++
			if _, err := s.store.MarkOutboxSent(wctx, m.ID, s.now()); err != nil {
				log.Error("outbox mark sent failed", logx.Int64("outbox_id", m.ID), logx.Err(err))
			}
		case notifier.StatusFailed:
			rep.OutboxFail++
			if err := s.store.MarkOutboxFailed(wctx, m.ID, errString(res.Err)); err != nil {
				log.Error("outbox mark failed failed", logx.Int64("outbox_id", m.ID), logx.Err(err))
			}
		}
		cancel()
	}
}

func (s *Service) maybePrune(ctx context.Context, cfg Config, now time.Time, rep *TickReport, log logx.Logger) {
	s.smu.Lock()
	due := now.Sub(s.lastPrune) >= cfg.PruneEvery
	if due {
		s.lastPrune = now
	}
	s.smu.Unlock()
	if !due {
		return
	}
	n, err := s.store.PruneOutbox(ctx, now.Add(-cfg.OutboxRetention))
	if err != nil {
		log.Warn("outbox prune failed", logx.Err(err))
		return
	}
	rep.Pruned = n
	if n > 0 {
		log.Info("outbox pruned", logx.Int64("rows", n))
	}
}

// candidates returns the zones to probe. In dynamic mode a store failure
// falls back to the zones seen on the previous tick plus the configured list.
func (s *Service) candidates(ctx context.Context, cfg Config, log logx.Logger) []string {
	zones := append([]string(nil), cfg.Timezones...)
	if cfg.Candidates != CandidatesDynamic {
		return zones
	}
	active, err := s.store.ActiveTimezones(ctx)
	if err != nil {
		log.Error("active timezones unavailable; using last known set", logx.Err(err))
		s.smu.Lock()
		zones = append(zones, s.lastZones...)
		s.smu.Unlock()
		return zones
	}
	s.smu.Lock()
	s.lastZones = active
	s.smu.Unlock()
	return append(zones, active...)
}

func (s *Service) record(rep TickReport) {
	s.smu.Lock()
	s.ticks++
	s.last = &rep
	s.smu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
