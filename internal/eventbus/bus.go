// Package eventbus is an in-process fan-out of engine events (ticks,
// deliveries) to observers such as the ops status page.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	TypeTick         = "scheduler.tick"
	TypeReminderSent = "reminder.sent"
	TypeReminderFail = "reminder.failed"
	TypeOutboxSent   = "outbox.sent"
	TypeOutboxFail   = "outbox.failed"
)

// Event is a small in-memory signal. Publish never blocks; a subscriber that
// falls behind loses events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// TickSummary is the Data of a TypeTick event.
type TickSummary struct {
	TickID    string        `json:"tick_id"`
	Probes    int           `json:"probes"`
	Due       int           `json:"due"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Abandoned int           `json:"abandoned"`
	Outbox    int           `json:"outbox"`
	Took      time.Duration `json:"took"`
}

// Delivery is the Data of the reminder and outbox events.
type Delivery struct {
	TickID     string `json:"tick_id,omitempty"`
	ScheduleID int64  `json:"schedule_id,omitempty"`
	OutboxID   int64  `json:"outbox_id,omitempty"`
	OwnerID    int64  `json:"owner_id"`
	Err        string `json:"err,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a bus that owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards everything; components use it when no bus is wired.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock so unsubscribe cannot close a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
