package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"easytrack/internal/eventbus"
	"easytrack/internal/notifier"
	"easytrack/internal/reminder"
	logx "easytrack/pkg/logx"
)

type fakeStore struct {
	mu        sync.Mutex
	schedules []reminder.Schedule
	outbox    []reminder.OutboxMessage

	zoneErr map[string]error
	tzErr   error
	panics  int

	sentIDs   []int64
	failedIDs []int64
	pruned    []time.Time
}

func (f *fakeStore) FindDue(_ context.Context, at reminder.Clock, day time.Weekday, tz string) ([]reminder.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics > 0 {
		f.panics--
		panic("store exploded")
	}
	if err := f.zoneErr[tz]; err != nil {
		return nil, err
	}
	var out []reminder.Schedule
	for _, s := range f.schedules {
		if s.Active && s.Timezone == tz && s.Matches(at, day) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveTimezones(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tzErr != nil {
		return nil, f.tzErr
	}
	seen := map[string]bool{}
	var out []string
	for _, s := range f.schedules {
		if s.Active && !seen[s.Timezone] {
			seen[s.Timezone] = true
			out = append(out, s.Timezone)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) ListActive(context.Context) ([]reminder.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []reminder.Schedule
	for _, s := range f.schedules {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkFired(_ context.Context, id int64, occ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.schedules {
		s := &f.schedules[i]
		if s.ID != id {
			continue
		}
		if s.LastFiredAt != nil && !s.LastFiredAt.Before(occ) {
			return false, nil
		}
		s.LastFiredAt = &occ
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) PendingOutbox(_ context.Context, now time.Time, limit int) ([]reminder.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []reminder.OutboxMessage
	for _, m := range f.outbox {
		if m.SentAt == nil && !m.NotBefore.After(now) && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkOutboxSent(_ context.Context, id int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentIDs = append(f.sentIDs, id)
	for i := range f.outbox {
		if f.outbox[i].ID == id && f.outbox[i].SentAt == nil {
			f.outbox[i].SentAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) MarkOutboxFailed(_ context.Context, id int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedIDs = append(f.failedIDs, id)
	return nil
}

func (f *fakeStore) PruneOutbox(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, olderThan)
	return 0, nil
}

type fakeDispatcher struct {
	mu        sync.Mutex
	fail      map[int64]error
	notified  []int64
	delivered []int64
	onNotify  func(sc reminder.Schedule)
}

func (d *fakeDispatcher) Notify(ctx context.Context, sc reminder.Schedule) notifier.Result {
	res := notifier.Result{ScheduleID: sc.ID, OwnerID: sc.OwnerID}
	if err := ctx.Err(); err != nil {
		res.Status, res.Err = notifier.StatusAbandoned, err
		return res
	}
	if d.onNotify != nil {
		d.onNotify(sc)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notified = append(d.notified, sc.ID)
	if err := d.fail[sc.OwnerID]; err != nil {
		res.Status, res.Err = notifier.StatusFailed, err
		return res
	}
	res.Status = notifier.StatusSent
	return res
}

func (d *fakeDispatcher) Deliver(_ context.Context, m reminder.OutboxMessage) notifier.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, m.ID)
	res := notifier.Result{OutboxID: m.ID, OwnerID: m.OwnerID, Status: notifier.StatusSent}
	if err := d.fail[m.OwnerID]; err != nil {
		res.Status, res.Err = notifier.StatusFailed, err
	}
	return res
}

func (d *fakeDispatcher) ids() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.notified...)
}

func daily(id, owner int64, h, m int, tz string) reminder.Schedule {
	return reminder.Schedule{ID: id, OwnerID: owner, At: reminder.MustClock(h, m), Timezone: tz, Active: true}
}

func weekly(id, owner int64, d time.Weekday, h, m int, tz string) reminder.Schedule {
	s := daily(id, owner, h, m, tz)
	s.Day = reminder.Weekly(d)
	return s
}

func utc(y int, mo time.Month, d, h, mi, s int) time.Time {
	return time.Date(y, mo, d, h, mi, s, 0, time.UTC)
}

func sameIDs(got []int64, want ...int64) bool {
	if len(got) != len(want) {
		return false
	}
	g := append([]int64(nil), got...)
	sort.Slice(g, func(i, j int) bool { return g[i] < g[j] })
	for i := range want {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestProbesLocalMinute(t *testing.T) {
	t.Parallel()
	now := utc(2025, 7, 15, 6, 0, 42)
	probes, errs := Probes(now, []string{"Europe/Kiev", "UTC", "Europe/Kiev", " ", "Mars/Olympus"})
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one bad zone", errs)
	}
	if len(probes) != 2 || probes[0].Timezone != "Europe/Kiev" || probes[1].Timezone != "UTC" {
		t.Fatalf("probes = %+v", probes)
	}
	kiev := probes[0]
	if kiev.At != reminder.MustClock(9, 0) || kiev.Day != time.Tuesday {
		t.Fatalf("kiev = %s %s, want 09:00 Tuesday", kiev.At, kiev.Day)
	}
	if !kiev.Occurrence.Equal(utc(2025, 7, 15, 6, 0, 0)) {
		t.Fatalf("occurrence = %s", kiev.Occurrence)
	}
}

func TestTickFiresAtLocalMinute(t *testing.T) {
	t.Parallel()
	st := &fakeStore{schedules: []reminder.Schedule{
		daily(1, 1, 9, 0, "Europe/Kiev"),
		daily(2, 1, 9, 1, "Europe/Kiev"),
	}}
	disp := &fakeDispatcher{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	svc := New(Config{Candidates: CandidatesStatic, Timezones: []string{"Europe/Kiev"}}, st, disp, bus, logx.Nop())

	rep := svc.Tick(context.Background(), utc(2025, 7, 15, 6, 0, 30))
	if rep.Due != 1 || rep.Sent != 1 || !sameIDs(disp.ids(), 1) {
		t.Fatalf("09:00 tick = %+v notified=%v", rep, disp.ids())
	}
	e := <-events
	sum, _ := e.Data.(eventbus.TickSummary)
	if e.Type != eventbus.TypeTick || sum.TickID != rep.TickID || sum.Sent != 1 {
		t.Fatalf("event = %+v", e)
	}

	svc.Tick(context.Background(), utc(2025, 7, 15, 6, 1, 10))
	if !sameIDs(disp.ids(), 1, 2) {
		t.Fatalf("notified = %v after 09:01", disp.ids())
	}
}

func TestTickDailyAndWeekday(t *testing.T) {
	t.Parallel()
	st := &fakeStore{schedules: []reminder.Schedule{
		daily(1, 1, 9, 0, "Europe/Kiev"),
		weekly(2, 1, time.Monday, 9, 0, "Europe/Kiev"),
		weekly(3, 1, time.Tuesday, 9, 0, "Europe/Kiev"),
	}}
	disp := &fakeDispatcher{}
	svc := New(Config{}, st, disp, nil, logx.Nop())

	// 2025-07-14 is a Monday.
	rep := svc.Tick(context.Background(), utc(2025, 7, 14, 6, 0, 0))
	if rep.Due != 2 || !sameIDs(disp.ids(), 1, 2) {
		t.Fatalf("tick = %+v notified=%v", rep, disp.ids())
	}
}

func TestTickIsolatesZoneFailures(t *testing.T) {
	t.Parallel()
	st := &fakeStore{
		schedules: []reminder.Schedule{
			daily(1, 1, 9, 0, "Europe/Kiev"),
			daily(2, 2, 6, 0, "UTC"),
		},
		zoneErr: map[string]error{"Europe/Kiev": errors.New("disk I/O error")},
	}
	disp := &fakeDispatcher{}
	svc := New(Config{Timezones: []string{}}, st, disp, nil, logx.Nop())

	rep := svc.Tick(context.Background(), utc(2025, 7, 15, 6, 0, 0))
	if rep.ZoneErrors != 1 || rep.Sent != 1 || !sameIDs(disp.ids(), 2) {
		t.Fatalf("tick = %+v notified=%v", rep, disp.ids())
	}
}

func TestTickIsolatesDispatchFailures(t *testing.T) {
	t.Parallel()
	st := &fakeStore{schedules: []reminder.Schedule{
		daily(1, 1, 9, 0, "Europe/Kiev"),
		daily(2, 2, 9, 0, "Europe/Kiev"),
	}}
	disp := &fakeDispatcher{fail: map[int64]error{1: errors.New("bot was blocked by the user")}}
	svc := New(Config{}, st, disp, nil, logx.Nop())

	rep := svc.Tick(context.Background(), utc(2025, 7, 15, 6, 0, 0))
	if rep.Sent != 1 || rep.Failed != 1 || !sameIDs(disp.ids(), 1, 2) {
		t.Fatalf("tick = %+v notified=%v", rep, disp.ids())
	}
}

func TestTickMatchModes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		mode      MatchMode
		wantSends int
		wantSkip  int
	}{
		{mode: MatchExact, wantSends: 3},
		{mode: MatchWatermark, wantSends: 2, wantSkip: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()
			st := &fakeStore{schedules: []reminder.Schedule{daily(1, 1, 9, 0, "Europe/Kiev")}}
			disp := &fakeDispatcher{}
			svc := New(Config{MatchMode: tt.mode}, st, disp, nil, logx.Nop())

			ctx := context.Background()
			skipped := 0
			// Two ticks inside the same minute, then the next day.
			for _, now := range []time.Time{
				utc(2025, 7, 15, 6, 0, 5),
				utc(2025, 7, 15, 6, 0, 40),
				utc(2025, 7, 16, 6, 0, 5),
			} {
				skipped += svc.Tick(ctx, now).Skipped
			}
			if got := len(disp.ids()); got != tt.wantSends || skipped != tt.wantSkip {
				t.Fatalf("sends = %d skipped = %d, want %d/%d", got, skipped, tt.wantSends, tt.wantSkip)
			}
		})
	}
}

func TestTickFallBackFiresBothInstances(t *testing.T) {
	t.Parallel()
	// Europe/Kiev leaves summer time at 01:00Z on 2025-10-26, so 03:30 local
	// happens at 00:30Z (+03:00) and again at 01:30Z (+02:00).
	first, second := utc(2025, 10, 26, 0, 30, 5), utc(2025, 10, 26, 1, 30, 5)

	p1, _ := Probes(first, []string{"Europe/Kiev"})
	p2, _ := Probes(second, []string{"Europe/Kiev"})
	if len(p1) != 1 || len(p2) != 1 {
		t.Fatalf("probes = %v %v", p1, p2)
	}
	for _, p := range []Probe{p1[0], p2[0]} {
		if p.At != reminder.MustClock(3, 30) {
			t.Fatalf("local clock = %s, want 03:30", p.At)
		}
	}
	if _, off := p1[0].Local.Zone(); off != 3*3600 {
		t.Fatalf("first offset = %d", off)
	}
	if _, off := p2[0].Local.Zone(); off != 2*3600 {
		t.Fatalf("second offset = %d", off)
	}
	if !p1[0].Occurrence.Equal(utc(2025, 10, 26, 0, 30, 0)) || !p2[0].Occurrence.Equal(utc(2025, 10, 26, 1, 30, 0)) {
		t.Fatalf("occurrences = %s %s", p1[0].Occurrence, p2[0].Occurrence)
	}

	st := &fakeStore{schedules: []reminder.Schedule{daily(1, 1, 3, 30, "Europe/Kiev")}}
	disp := &fakeDispatcher{}
	svc := New(Config{MatchMode: MatchWatermark}, st, disp, nil, logx.Nop())
	ctx := context.Background()
	sent, skipped := 0, 0
	for _, now := range []time.Time{first, second, second.Add(30 * time.Second)} {
		rep := svc.Tick(ctx, now)
		sent += rep.Sent
		skipped += rep.Skipped
	}
	if sent != 2 || skipped != 1 {
		t.Fatalf("sent = %d skipped = %d, want 2/1", sent, skipped)
	}
}

func TestLoopMatchesMinuteOnceInExactMode(t *testing.T) {
	t.Parallel()
	var clock atomic.Pointer[time.Time]
	set := func(v time.Time) { clock.Store(&v) }
	set(utc(2025, 7, 15, 9, 0, 10))

	ticks := make(chan TickReport, 16)
	hook := func(r TickReport) {
		select {
		case ticks <- r:
		default:
		}
	}
	st := &fakeStore{schedules: []reminder.Schedule{daily(1, 1, 9, 0, "UTC"), daily(2, 1, 9, 1, "UTC")}}
	disp := &fakeDispatcher{}
	svc := New(Config{Tick: 5 * time.Millisecond, Candidates: CandidatesStatic, Timezones: []string{"UTC"}},
		st, disp, nil, logx.Nop(), WithTickHook(hook), WithClock(func() time.Time { return *clock.Load() }))

	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitTicks(t, ticks, 1)
	// Many more loop wakeups inside 09:00 must not send again.
	time.Sleep(100 * time.Millisecond)
	if got := disp.ids(); !sameIDs(got, 1) {
		t.Fatalf("notified = %v within one minute, want [1]", got)
	}

	set(utc(2025, 7, 15, 9, 1, 10))
	waitTicks(t, ticks, 1)
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := disp.ids(); !sameIDs(got, 1, 2) {
		t.Fatalf("notified = %v, want [1 2]", got)
	}
}

func TestCandidateModes(t *testing.T) {
	t.Parallel()
	kiev := daily(1, 1, 9, 0, "Europe/Kiev")
	now := utc(2025, 7, 15, 6, 0, 0)

	static := New(Config{Candidates: CandidatesStatic, Timezones: []string{"UTC"}},
		&fakeStore{schedules: []reminder.Schedule{kiev}}, &fakeDispatcher{}, nil, logx.Nop())
	if rep := static.Tick(context.Background(), now); rep.Due != 0 || rep.Zones != 1 {
		t.Fatalf("static tick = %+v, want the Kiev schedule ignored", rep)
	}

	st := &fakeStore{schedules: []reminder.Schedule{kiev}}
	disp := &fakeDispatcher{}
	dynamic := New(Config{Timezones: []string{"UTC"}}, st, disp, nil, logx.Nop())
	if rep := dynamic.Tick(context.Background(), now); rep.Sent != 1 || rep.Zones != 2 {
		t.Fatalf("dynamic tick = %+v", rep)
	}

	// The zones seen on the last successful read are kept when the store fails.
	st.mu.Lock()
	st.tzErr = errors.New("database is locked")
	st.mu.Unlock()
	if rep := dynamic.Tick(context.Background(), now.Add(24*time.Hour)); rep.Sent != 1 {
		t.Fatalf("fallback tick = %+v", rep)
	}
}

func TestTickReportsBadZones(t *testing.T) {
	t.Parallel()
	svc := New(Config{Candidates: CandidatesStatic, Timezones: []string{"Mars/Olympus", "UTC"}},
		&fakeStore{}, &fakeDispatcher{}, nil, logx.Nop())
	rep := svc.Tick(context.Background(), utc(2025, 7, 15, 6, 0, 0))
	if rep.ZoneErrors != 1 || rep.Zones != 1 {
		t.Fatalf("tick = %+v", rep)
	}
}

func TestTickAbandonsOnCancel(t *testing.T) {
	t.Parallel()
	st := &fakeStore{
		schedules: []reminder.Schedule{
			daily(1, 1, 9, 0, "Europe/Kiev"),
			daily(2, 2, 9, 0, "Europe/Kiev"),
			daily(3, 3, 9, 0, "Europe/Kiev"),
		},
		outbox: []reminder.OutboxMessage{{ID: 7, OwnerID: 1, Text: "queued"}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	disp := &fakeDispatcher{onNotify: func(reminder.Schedule) { cancel() }}
	svc := New(Config{}, st, disp, nil, logx.Nop())

	rep := svc.Tick(ctx, utc(2025, 7, 15, 6, 0, 0))
	if rep.Due != 3 || rep.Sent != 1 || rep.Abandoned != 2 {
		t.Fatalf("tick = %+v, want the in-flight send kept and the rest abandoned", rep)
	}
	if len(disp.delivered) != 0 {
		t.Fatalf("outbox drained after cancel: %v", disp.delivered)
	}
}

func TestTickDrainsOutbox(t *testing.T) {
	t.Parallel()
	now := utc(2025, 7, 15, 6, 0, 0)
	st := &fakeStore{outbox: []reminder.OutboxMessage{
		{ID: 1, OwnerID: 1, Text: "a", NotBefore: now.Add(-time.Minute)},
		{ID: 2, OwnerID: 2, Text: "b"},
		{ID: 3, OwnerID: 1, Text: "c", NotBefore: now.Add(time.Hour)},
	}}
	disp := &fakeDispatcher{fail: map[int64]error{2: errors.New("chat not found")}}
	svc := New(Config{Timezones: []string{}, OutboxRetention: 24 * time.Hour}, st, disp, nil, logx.Nop())

	rep := svc.Tick(context.Background(), now)
	if rep.OutboxSent != 1 || rep.OutboxFail != 1 {
		t.Fatalf("tick = %+v", rep)
	}
	if !sameIDs(st.sentIDs, 1) || !sameIDs(st.failedIDs, 2) {
		t.Fatalf("sent=%v failed=%v", st.sentIDs, st.failedIDs)
	}
	if len(st.pruned) != 1 || !st.pruned[0].Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("pruned = %v", st.pruned)
	}

	svc.Tick(context.Background(), now.Add(time.Minute))
	if len(st.pruned) != 1 {
		t.Fatalf("pruned again within the prune interval: %v", st.pruned)
	}
}

func TestNextWait(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 7, 15, 12, 0, 30, 500_000_000, time.UTC)
	tests := []struct {
		name  string
		tick  time.Duration
		align bool
		want  time.Duration
	}{
		{name: "plain", tick: time.Minute, want: time.Minute},
		{name: "aligned minute", tick: time.Minute, align: true, want: 29500 * time.Millisecond},
		{name: "aligned half minute", tick: 30 * time.Second, align: true, want: 29500 * time.Millisecond},
		{name: "aligned ten seconds", tick: 10 * time.Second, align: true, want: 9500 * time.Millisecond},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := nextWait(base, tt.tick, tt.align); got != tt.want {
				t.Fatalf("nextWait = %s, want %s", got, tt.want)
			}
		})
	}
}

func waitTicks(t *testing.T, ch <-chan TickReport, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-deadline:
			t.Fatalf("saw %d ticks, want %d", i, n)
		}
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	ticks := make(chan TickReport, 16)
	hook := func(r TickReport) {
		select {
		case ticks <- r:
		default:
		}
	}
	svc := New(Config{Tick: 10 * time.Millisecond, MatchMode: MatchWatermark, Candidates: CandidatesStatic, Timezones: []string{"UTC"}},
		&fakeStore{}, &fakeDispatcher{}, nil, logx.Nop(), WithTickHook(hook))

	if _, err := svc.Trigger(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Trigger before start = %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := svc.Start(ctx); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
	}
	if svc.State() != StateRunning {
		t.Fatalf("state = %s", svc.State())
	}
	waitTicks(t, ticks, 2)
	if _, err := svc.Trigger(ctx); err != nil {
		t.Fatalf("Trigger while running: %v", err)
	}
	if tasks := svc.Supervised(); len(tasks) != 1 || tasks[0].Name != "scheduler.loop" {
		t.Fatalf("supervised = %+v", tasks)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		if err := svc.Stop(stopCtx); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
	}
	if svc.State() != StateStopped {
		t.Fatalf("state after stop = %s", svc.State())
	}
	if _, err := svc.Trigger(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Trigger after stop = %v", err)
	}
	if snap := svc.Snapshot(ctx); snap.Ticks < 3 || snap.LastTick == nil {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestLoopRecoversFromPanic(t *testing.T) {
	t.Parallel()
	ticks := make(chan TickReport, 16)
	hook := func(r TickReport) {
		select {
		case ticks <- r:
		default:
		}
	}
	st := &fakeStore{panics: 1}
	svc := New(Config{Tick: 5 * time.Millisecond, MatchMode: MatchWatermark, Candidates: CandidatesStatic, Timezones: []string{"UTC"}},
		st, &fakeDispatcher{}, nil, logx.Nop(),
		WithTickHook(hook), WithLoopBackoff(time.Millisecond, 5*time.Millisecond))

	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitTicks(t, ticks, 1)
	tasks := svc.Supervised()
	if len(tasks) != 1 || tasks[0].Panics != 1 || tasks[0].Restarts < 1 {
		t.Fatalf("supervised = %+v", tasks)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSnapshotNextFirings(t *testing.T) {
	t.Parallel()
	inactive := daily(3, 1, 6, 45, "UTC")
	inactive.Active = false
	st := &fakeStore{schedules: []reminder.Schedule{
		weekly(2, 1, time.Monday, 8, 0, "UTC"),
		daily(1, 1, 9, 0, "Europe/Kiev"),
		inactive,
	}}
	now := utc(2025, 7, 15, 6, 30, 0)
	svc := New(Config{Timezones: []string{}}, st, &fakeDispatcher{}, nil, logx.Nop(),
		WithClock(func() time.Time { return now }))

	snap := svc.Snapshot(context.Background())
	if snap.State != StateStopped || snap.Ticks != 0 || snap.LastTick != nil {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Next) != 2 {
		t.Fatalf("next = %+v", snap.Next)
	}
	if snap.Next[0].ScheduleID != 1 || !snap.Next[0].At.Equal(utc(2025, 7, 16, 6, 0, 0)) {
		t.Fatalf("next[0] = %+v", snap.Next[0])
	}
	if snap.Next[1].ScheduleID != 2 || !snap.Next[1].At.Equal(utc(2025, 7, 21, 8, 0, 0)) {
		t.Fatalf("next[1] = %+v", snap.Next[1])
	}
}
