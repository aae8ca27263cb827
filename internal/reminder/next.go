package reminder

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronSpec expresses the schedule as a standard 5-field cron spec with a
// CRON_TZ prefix, e.g. "CRON_TZ=Europe/Kiev 0 9 * * 1".
func (s Schedule) CronSpec() string {
	dow := "*"
	if s.Day != nil {
		dow = fmt.Sprintf("%d", int(*s.Day))
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * %s", s.Timezone, s.At.Minute(), s.At.Hour(), dow)
}

// NextFire returns the first local firing instant of s strictly after
// `after`. On days where the local minute does not exist (DST gap) the cron
// library skips to the next valid occurrence; the polling loop never sees
// such a minute either.
func NextFire(s Schedule, after time.Time) (time.Time, error) {
	if _, err := LoadZone(s.Timezone); err != nil {
		return time.Time{}, err
	}
	sched, err := cron.ParseStandard(s.CronSpec())
	if err != nil {
		return time.Time{}, fmt.Errorf("cron spec %q: %w", s.CronSpec(), err)
	}
	next := sched.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("no next firing for %s", s.Recurrence())
	}
	return next, nil
}

// Occurrence is the minute instant (UTC) that a firing at `local` represents.
// It is the watermark key for the schedule, so the two passes through a
// repeated fall-back minute are distinct occurrences.
func Occurrence(local time.Time) time.Time {
	return local.Truncate(time.Minute).UTC()
}
