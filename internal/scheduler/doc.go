// Package scheduler runs the reminder polling loop.
//
// Every tick the loop computes the set of candidate timezones, converts the
// current instant into each zone's local wall-clock minute and weekday (see
// Probes), asks the store for the schedules due at exactly that minute and
// hands each one to the dispatcher. Afterwards it drains the outbox.
//
// # Matching modes
//
// In MatchExact mode a schedule is due when its minute equals the probed
// minute. A minute during which the process is down is never caught up, and
// two ticks landing in the same minute fire the same schedule twice.
//
// MatchWatermark keeps the same minute equality but records the occurrence
// of every successful send in the store (last_fired_at) and skips schedules
// whose watermark already covers the probed occurrence. This gives
// at-most-once delivery per occurrence across duplicate ticks and restarts.
// Missed minutes are still not caught up.
//
// # Candidate timezones
//
// CandidatesStatic probes only the configured zones; a schedule in any other
// zone never fires. CandidatesDynamic adds every zone that has at least one
// active schedule, read from the store on each tick.
//
// # Stop
//
// Stop cancels the loop and waits for it. A send already handed to the
// gateway finishes; the remaining due schedules of that tick are abandoned
// and counted in the tick report.
package scheduler
