package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"easytrack/internal/reminder"
)

// Probe is one candidate timezone evaluated at one instant.
type Probe struct {
	Timezone string
	// Local is the instant in Timezone, truncated to the minute.
	Local time.Time
	At    reminder.Clock
	Day   time.Weekday
	// Occurrence is the UTC instant of Local; the watermark key.
	Occurrence time.Time
}

// Probes converts now into the local minute and weekday of every zone.
// Zones are deduplicated and visited in sorted order; a zone that fails to
// load yields an error and is skipped without affecting the others.
func Probes(now time.Time, zones []string) ([]Probe, []error) {
	names := uniqueZones(zones)
	out := make([]Probe, 0, len(names))
	var errs []error
	for _, name := range names {
		loc, err := reminder.LoadZone(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("zone %q: %w", name, err))
			continue
		}
		// Truncate the instant, not the wall clock: on a fall-back day the
		// repeated local minute is two different instants.
		local := now.Truncate(time.Minute).In(loc)
		out = append(out, Probe{
			Timezone:   name,
			Local:      local,
			At:         reminder.ClockOf(local),
			Day:        local.Weekday(),
			Occurrence: reminder.Occurrence(local),
		})
	}
	return out, errs
}

func uniqueZones(zones []string) []string {
	seen := make(map[string]struct{}, len(zones))
	out := make([]string, 0, len(zones))
	for _, z := range zones {
		z = strings.TrimSpace(z)
		if z == "" {
			continue
		}
		if _, ok := seen[z]; ok {
			continue
		}
		seen[z] = struct{}{}
		out = append(out, z)
	}
	sort.Strings(out)
	return out
}
