package scheduler

import (
	"context"
	"sort"

	"easytrack/internal/reminder"
	logx "easytrack/pkg/logx"
)

const snapshotNextLimit = 10

// Snapshot reports the loop state, the last tick and the next firings of
// active schedules. A store failure leaves Next empty.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	cfg := s.config()
	out := Snapshot{
		State:      s.State(),
		Tick:       cfg.Tick,
		MatchMode:  cfg.MatchMode,
		Candidates: cfg.Candidates,
	}

	s.smu.Lock()
	out.Ticks = s.ticks
	if s.last != nil {
		last := *s.last
		out.LastTick = &last
	}
	zones := append([]string(nil), cfg.Timezones...)
	if cfg.Candidates == CandidatesDynamic {
		zones = append(zones, s.lastZones...)
	}
	s.smu.Unlock()
	out.Zones = uniqueZones(zones)

	active, err := s.store.ListActive(ctx)
	if err != nil {
		s.log.Warn("snapshot: list active failed", logx.Err(err))
		return out
	}
	now := s.now()
	zoneSet := make(map[string]struct{}, len(out.Zones))
	for _, z := range out.Zones {
		zoneSet[z] = struct{}{}
	}
	for _, sc := range active {
		// Static mode never probes a zone outside the list.
		if cfg.Candidates == CandidatesStatic {
			if _, ok := zoneSet[sc.Timezone]; !ok {
				continue
			}
		}
		at, err := reminder.NextFire(sc, now)
		if err != nil {
			continue
		}
		out.Next = append(out.Next, NextFiring{
			ScheduleID: sc.ID,
			OwnerID:    sc.OwnerID,
			Recurrence: sc.Recurrence(),
			At:         at,
		})
	}
	sort.Slice(out.Next, func(i, j int) bool {
		if !out.Next[i].At.Equal(out.Next[j].At) {
			return out.Next[i].At.Before(out.Next[j].At)
		}
		return out.Next[i].ScheduleID < out.Next[j].ScheduleID
	})
	if len(out.Next) > snapshotNextLimit {
		out.Next = out.Next[:snapshotNextLimit]
	}
	return out
}
