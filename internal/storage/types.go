package storage

import (
	"context"
	"errors"
	"time"

	"easytrack/internal/reminder"
)

var (
	ErrClosed       = errors.New("storage closed")
	ErrUnknownOwner = errors.New("unknown owner")
)

// Config selects and tunes a driver.
type Config struct {
	Driver string
	// Path is the sqlite database file.
	Path string
	// DSN is the postgres connection string.
	DSN         string
	BusyTimeout time.Duration
	MaxConns    int32
}

// ScheduleStore is the schedule contract used by the account subsystem and
// the scheduler loop.
type ScheduleStore interface {
	// Create validates n and inserts it. Creating an existing
	// (owner, day, time) triple returns the stored row unchanged.
	Create(ctx context.Context, n reminder.NewSchedule) (reminder.Schedule, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]reminder.Schedule, error)
	ListActive(ctx context.Context) ([]reminder.Schedule, error)
	Get(ctx context.Context, id int64) (reminder.Schedule, bool, error)
	// SetActive reports whether the flag actually changed.
	SetActive(ctx context.Context, id int64, active bool) (bool, error)
	// Delete reports whether the row existed.
	Delete(ctx context.Context, id int64) (bool, error)

	// FindDue returns active schedules in tz firing at the local minute at on
	// weekday day, daily ones included. Ordered by id.
	FindDue(ctx context.Context, at reminder.Clock, day time.Weekday, tz string) ([]reminder.Schedule, error)
	ActiveTimezones(ctx context.Context) ([]string, error)
	// MarkFired advances the watermark to occurrence. It never moves it back.
	MarkFired(ctx context.Context, id int64, occurrence time.Time) (bool, error)
}

type OwnerStore interface {
	UpsertOwner(ctx context.Context, o reminder.Owner) (reminder.Owner, error)
	GetOwner(ctx context.Context, id int64) (reminder.Owner, bool, error)
	// DeleteOwner removes the owner with its schedules and outbox rows.
	DeleteOwner(ctx context.Context, id int64) (bool, error)
}

type OutboxStore interface {
	EnqueueOutbox(ctx context.Context, m reminder.OutboxMessage) (reminder.OutboxMessage, error)
	PendingOutbox(ctx context.Context, now time.Time, limit int) ([]reminder.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkOutboxFailed(ctx context.Context, id int64, reason string) error
	// PruneOutbox deletes delivered rows sent before olderThan.
	PruneOutbox(ctx context.Context, olderThan time.Time) (int64, error)
}

type Store interface {
	ScheduleStore
	OwnerStore
	OutboxStore
	Ping(ctx context.Context) error
	Close() error
}
