// Package reminder holds the recurring notification model: schedules, their
// owners and one-shot outbox messages.
package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	// Zone validation must not depend on the host's zoneinfo.
	_ "time/tzdata"
)

// Clock is a time of day with minute resolution, stored as minutes since
// midnight (0..1439).
type Clock int

const minutesPerDay = 24 * 60

func NewClock(hour, minute int) (Clock, error) {
	if hour < 0 || hour > 23 {
		return 0, invalid("time", fmt.Sprintf("%02d:%02d", hour, minute), ErrInvalidTime)
	}
	if minute < 0 || minute > 59 {
		return 0, invalid("time", fmt.Sprintf("%02d:%02d", hour, minute), ErrInvalidTime)
	}
	return Clock(hour*60 + minute), nil
}

// MustClock is NewClock for literals in tests and defaults.
func MustClock(hour, minute int) Clock {
	c, err := NewClock(hour, minute)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseClock parses "HH:MM" (a single-digit hour is accepted). Seconds are
// rejected rather than truncated.
func ParseClock(s string) (Clock, error) {
	raw := s
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[1]) != 2 || parts[0] == "" || len(parts[0]) > 2 {
		return 0, invalid("time", raw, ErrInvalidTime)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, invalid("time", raw, ErrInvalidTime)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, invalid("time", raw, ErrInvalidTime)
	}
	c, err := NewClock(h, m)
	if err != nil {
		return 0, invalid("time", raw, ErrInvalidTime)
	}
	return c, nil
}

// ClockOf returns the wall-clock minute of t in t's own location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) Valid() bool  { return c >= 0 && c < minutesPerDay }
func (c Clock) Hour() int    { return int(c) / 60 }
func (c Clock) Minute() int  { return int(c) % 60 }
func (c Clock) Minutes() int { return int(c) }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Schedule is one recurring reminder request.
type Schedule struct {
	ID      int64
	OwnerID int64
	// Day is nil for "every day".
	Day      *time.Weekday
	At       Clock
	Timezone string
	Active   bool

	// LastFiredAt is the occurrence minute (UTC) of the last successful
	// delivery. Only maintained in watermark match mode.
	LastFiredAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s Schedule) Daily() bool { return s.Day == nil }

// Matches reports whether s is due at the given local minute and weekday,
// ignoring timezone and the active flag.
func (s Schedule) Matches(at Clock, day time.Weekday) bool {
	if s.At != at {
		return false
	}
	return s.Day == nil || *s.Day == day
}

// FiredAt reports whether the watermark already covers occurrence.
func (s Schedule) FiredAt(occurrence time.Time) bool {
	return s.LastFiredAt != nil && !s.LastFiredAt.Before(occurrence)
}

// Recurrence renders the schedule for logs: "daily 09:00 Europe/Kiev".
func (s Schedule) Recurrence() string {
	day := "daily"
	if s.Day != nil {
		day = strings.ToLower(s.Day.String())
	}
	return day + " " + s.At.String() + " " + s.Timezone
}

// Weekly returns a weekday selector.
func Weekly(d time.Weekday) *time.Weekday { return &d }

// NewSchedule is the input of a create call.
type NewSchedule struct {
	OwnerID  int64
	Day      *time.Weekday
	At       Clock
	Timezone string
}

// Validate checks the request and returns it with the timezone normalized to
// the canonical IANA name.
func (n NewSchedule) Validate() (NewSchedule, error) {
	if n.OwnerID == 0 {
		return n, invalid("owner_id", "0", ErrInvalidOwner)
	}
	if !n.At.Valid() {
		return n, invalid("time", strconv.Itoa(int(n.At)), ErrInvalidTime)
	}
	if n.Day != nil && (*n.Day < time.Sunday || *n.Day > time.Saturday) {
		return n, invalid("day", strconv.Itoa(int(*n.Day)), ErrInvalidDay)
	}
	loc, err := LoadZone(n.Timezone)
	if err != nil {
		return n, err
	}
	n.Timezone = loc.String()
	return n, nil
}

// LoadZone resolves an IANA zone name. Empty and "Local" are rejected: a
// schedule never runs in server-local time.
func LoadZone(name string) (*time.Location, error) {
	tz := strings.TrimSpace(name)
	if tz == "" || strings.EqualFold(tz, "local") {
		return nil, invalid("timezone", name, ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &ValidationError{Field: "timezone", Value: name, Err: ErrInvalidTimezone, cause: err}
	}
	return loc, nil
}
