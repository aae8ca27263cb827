package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"easytrack/internal/eventbus"
	"easytrack/internal/i18n"
	"easytrack/internal/reminder"
	kit "easytrack/internal/transport"
	logx "easytrack/pkg/logx"
)

type fakeDirectory map[int64]reminder.Owner

func (d fakeDirectory) GetOwner(_ context.Context, id int64) (reminder.Owner, bool, error) {
	o, ok := d[id]
	return o, ok, nil
}

type fakeGateway struct {
	mu     sync.Mutex
	fail   map[int64]error
	sent   []string
	chats  []int64
	before func(ctx context.Context)
}

func (g *fakeGateway) SendText(ctx context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	if g.before != nil {
		g.before(ctx)
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chats = append(g.chats, to.ChatID)
	if err := g.fail[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	g.sent = append(g.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(g.sent)}, nil
}

func newTestService(t *testing.T, gw kit.Gateway, bus eventbus.Bus) *Service {
	t.Helper()
	dir := fakeDirectory{
		1: {ID: 1, ChatID: 100, Language: "en"},
		2: {ID: 2, ChatID: 200, Language: "uk"},
		3: {ID: 3},
	}
	return New(Config{RatePerSec: 1000, SendTimeout: time.Second}, dir, i18n.MustBuiltin(), gw, bus, logx.Nop())
}

func TestNotifyRendersOwnerLanguage(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	svc := newTestService(t, gw, bus)
	cat := i18n.MustBuiltin()

	ctx := WithTick(context.Background(), "tick-1")
	res := svc.Notify(ctx, reminder.Schedule{ID: 10, OwnerID: 2, At: reminder.MustClock(9, 0), Timezone: "Europe/Kiev"})
	if !res.OK() || res.Err != nil {
		t.Fatalf("Notify = %+v", res)
	}
	if len(gw.sent) != 1 || gw.sent[0] != cat.Text("uk", DefaultMessageKey, nil) {
		t.Fatalf("sent = %q", gw.sent)
	}

	e := <-events
	d, _ := e.Data.(eventbus.Delivery)
	if e.Type != eventbus.TypeReminderSent || d.ScheduleID != 10 || d.TickID != "tick-1" {
		t.Fatalf("event = %+v", e)
	}
	if got := svc.Counters(); got.Sent != 1 || got.Failed != 0 {
		t.Fatalf("counters = %+v", got)
	}
}

func TestNotifyIsolatesFailures(t *testing.T) {
	t.Parallel()
	boom := errors.New("blocked by user")
	gw := &fakeGateway{fail: map[int64]error{100: boom}}
	svc := newTestService(t, gw, eventbus.Nop())

	a := svc.Notify(context.Background(), reminder.Schedule{ID: 1, OwnerID: 1})
	b := svc.Notify(context.Background(), reminder.Schedule{ID: 2, OwnerID: 2})

	if a.Status != StatusFailed || !errors.Is(a.Err, boom) {
		t.Fatalf("a = %+v", a)
	}
	if b.Status != StatusSent {
		t.Fatalf("b = %+v, want sent despite a's failure", b)
	}
	if len(gw.chats) != 2 {
		t.Fatalf("gateway attempts = %v", gw.chats)
	}
	if recent := svc.Recent(); len(recent) != 2 || recent[0].ScheduleID != 1 {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestNotifyWithoutRecipient(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	svc := newTestService(t, gw, eventbus.Nop())

	for _, owner := range []int64{3, 404} {
		res := svc.Notify(context.Background(), reminder.Schedule{ID: 7, OwnerID: owner})
		if res.Status != StatusFailed || !errors.Is(res.Err, ErrNoRecipient) {
			t.Fatalf("owner %d: %+v", owner, res)
		}
	}
	if len(gw.chats) != 0 {
		t.Fatal("gateway called without recipient")
	}
}

func TestNotifyAbandonsOnCanceledContext(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	svc := newTestService(t, gw, eventbus.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := svc.Notify(ctx, reminder.Schedule{ID: 1, OwnerID: 1})
	if res.Status != StatusAbandoned {
		t.Fatalf("status = %s, want abandoned", res.Status)
	}
	if len(gw.chats) != 0 {
		t.Fatal("gateway called after cancellation")
	}
	if svc.Counters().Abandoned != 1 {
		t.Fatalf("counters = %+v", svc.Counters())
	}
}

func TestInFlightSendSurvivesCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeGateway{before: func(context.Context) { cancel() }}
	svc := newTestService(t, gw, eventbus.Nop())

	res := svc.Notify(ctx, reminder.Schedule{ID: 1, OwnerID: 1})
	if res.Status != StatusSent {
		t.Fatalf("in-flight send = %+v, want sent", res)
	}
}

func TestDeliverOutbox(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	svc := newTestService(t, gw, bus)

	res := svc.Deliver(context.Background(), reminder.OutboxMessage{ID: 9, OwnerID: 1, Text: "*new measurement*", ParseMode: "Markdown"})
	if !res.OK() || gw.sent[0] != "*new measurement*" {
		t.Fatalf("Deliver = %+v sent=%q", res, gw.sent)
	}
	if e := <-events; e.Type != eventbus.TypeOutboxSent {
		t.Fatalf("event type = %q", e.Type)
	}

	res = svc.Deliver(context.Background(), reminder.OutboxMessage{ID: 10, OwnerID: 1, Text: "  "})
	if !errors.Is(res.Err, ErrEmptyText) {
		t.Fatalf("empty text err = %v", res.Err)
	}
	if e := <-events; e.Type != eventbus.TypeOutboxFail {
		t.Fatalf("event type = %q", e.Type)
	}
}

func TestSendTestReturnsErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("chat not found")
	gw := &fakeGateway{fail: map[int64]error{200: boom}}
	svc := newTestService(t, gw, eventbus.Nop())

	if err := svc.SendTest(context.Background(), 1); err != nil {
		t.Fatalf("SendTest(1): %v", err)
	}
	if !strings.Contains(gw.sent[0], i18n.MustBuiltin().Text("en", "notifications.test_message", nil)) {
		t.Fatalf("test banner missing: %q", gw.sent[0])
	}
	if err := svc.SendTest(context.Background(), 2); !errors.Is(err, boom) {
		t.Fatalf("SendTest(2) = %v, want gateway error", err)
	}
	if err := svc.SendTest(context.Background(), 404); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("SendTest(404) = %v", err)
	}
}
