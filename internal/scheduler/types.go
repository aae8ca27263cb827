package scheduler

import (
	"context"
	"errors"
	"time"

	"easytrack/internal/notifier"
	"easytrack/internal/reminder"
)

var ErrNotRunning = errors.New("scheduler not running")

type MatchMode string

const (
	MatchExact     MatchMode = "exact"
	MatchWatermark MatchMode = "watermark"
)

type CandidateMode string

const (
	CandidatesDynamic CandidateMode = "dynamic"
	CandidatesStatic  CandidateMode = "static"
)

type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// DefaultTimezones is the fixed candidate list used when none is configured.
var DefaultTimezones = []string{
	"UTC",
	"Europe/Kiev",
	"Europe/Berlin",
	"Europe/Paris",
	"Europe/Madrid",
	"Europe/Rome",
	"America/New_York",
	"America/Los_Angeles",
}

type Config struct {
	Tick          time.Duration
	AlignToMinute bool
	Candidates    CandidateMode
	Timezones     []string
	MatchMode     MatchMode

	OutboxBatch     int
	OutboxRetention time.Duration
	PruneEvery      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = time.Minute
	}
	if c.Candidates == "" {
		c.Candidates = CandidatesDynamic
	}
	if c.Timezones == nil {
		c.Timezones = DefaultTimezones
	}
	if c.MatchMode == "" {
		c.MatchMode = MatchExact
	}
	if c.OutboxBatch <= 0 {
		c.OutboxBatch = 50
	}
	if c.OutboxRetention <= 0 {
		c.OutboxRetention = 90 * 24 * time.Hour
	}
	if c.PruneEvery <= 0 {
		c.PruneEvery = time.Hour
	}
	return c
}

// Store is the part of storage.Store the loop reads and advances.
type Store interface {
	FindDue(ctx context.Context, at reminder.Clock, day time.Weekday, tz string) ([]reminder.Schedule, error)
	ActiveTimezones(ctx context.Context) ([]string, error)
	ListActive(ctx context.Context) ([]reminder.Schedule, error)
	MarkFired(ctx context.Context, id int64, occurrence time.Time) (bool, error)

	PendingOutbox(ctx context.Context, now time.Time, limit int) ([]reminder.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkOutboxFailed(ctx context.Context, id int64, reason string) error
	PruneOutbox(ctx context.Context, olderThan time.Time) (int64, error)
}

// Dispatcher is implemented by notifier.Service.
type Dispatcher interface {
	Notify(ctx context.Context, s reminder.Schedule) notifier.Result
	Deliver(ctx context.Context, m reminder.OutboxMessage) notifier.Result
}

// TickReport summarizes one tick.
type TickReport struct {
	TickID     string        `json:"tick_id"`
	At         time.Time     `json:"at"`
	Zones      int           `json:"zones"`
	ZoneErrors int           `json:"zone_errors"`
	Due        int           `json:"due"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Abandoned  int           `json:"abandoned"`
	OutboxSent int           `json:"outbox_sent"`
	OutboxFail int           `json:"outbox_failed"`
	Pruned     int64         `json:"pruned,omitempty"`
	Took       time.Duration `json:"took"`
}

type NextFiring struct {
	ScheduleID int64     `json:"schedule_id"`
	OwnerID    int64     `json:"owner_id"`
	Recurrence string    `json:"recurrence"`
	At         time.Time `json:"at"`
}

type Snapshot struct {
	State      State         `json:"state"`
	Tick       time.Duration `json:"tick"`
	MatchMode  MatchMode     `json:"match_mode"`
	Candidates CandidateMode `json:"candidates"`
	Zones      []string      `json:"zones"`
	Ticks      uint64        `json:"ticks"`
	LastTick   *TickReport   `json:"last_tick,omitempty"`
	Next       []NextFiring  `json:"next,omitempty"`
}
