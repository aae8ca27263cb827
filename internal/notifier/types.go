package notifier

import (
	"context"
	"errors"
	"time"

	"easytrack/internal/reminder"
	kit "easytrack/internal/transport"
)

var (
	ErrNoRecipient = errors.New("owner has no recipient")
	ErrEmptyText   = errors.New("rendered text is empty")
)

const DefaultMessageKey = "notifications.reminder_message"

type Config struct {
	// RatePerSec and Burst shape the shared send limiter.
	RatePerSec float64
	Burst      int
	// SendTimeout bounds one gateway call.
	SendTimeout time.Duration
	ParseMode   string
	MessageKey  string
	TestKey     string
	// History is the number of recent results kept for the status page.
	History int
}

// Directory resolves where and in which language an owner is reached.
type Directory interface {
	GetOwner(ctx context.Context, id int64) (reminder.Owner, bool, error)
}

// Renderer provides localized text; args fill {name} placeholders.
type Renderer interface {
	Text(lang, key string, args map[string]any) string
}

type Status string

const (
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// Result is the outcome of one delivery attempt.
type Result struct {
	ScheduleID int64          `json:"schedule_id,omitempty"`
	OutboxID   int64          `json:"outbox_id,omitempty"`
	OwnerID    int64          `json:"owner_id"`
	Status     Status         `json:"status"`
	Err        error          `json:"-"`
	Ref        kit.MessageRef `json:"-"`
	At         time.Time      `json:"at"`
	Took       time.Duration  `json:"took"`
}

func (r Result) OK() bool { return r.Status == StatusSent }

// Counters are totals since process start.
type Counters struct {
	Sent      uint64 `json:"sent"`
	Failed    uint64 `json:"failed"`
	Abandoned uint64 `json:"abandoned"`
}

type tickKey struct{}

// WithTick tags ctx with the scheduler tick id used in logs and events.
func WithTick(ctx context.Context, tickID string) context.Context {
	return context.WithValue(ctx, tickKey{}, tickID)
}

func tickFrom(ctx context.Context) string {
	v, _ := ctx.Value(tickKey{}).(string)
	return v
}
