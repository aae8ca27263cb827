// Package notifier turns due schedules and outbox rows into outbound
// messages.
//
// Each call resolves the owner through a Directory, renders the localized
// reminder text through a Renderer and hands it to the messaging gateway.
// Sends share one token-bucket limiter so a burst of due schedules stays
// under the platform's flood limits.
//
// # Failure isolation
//
// Notify never panics or returns an error that could abort a tick: the
// outcome of every attempt is reported in a Result, logged with owner and
// schedule identifiers, and published on the event bus. No retry happens
// within a tick.
//
// # Cancellation
//
// A canceled context before the gateway call yields StatusAbandoned. Once a
// send has been handed to the gateway it runs on a context detached from
// cancellation and bounded by Config.SendTimeout, so a stopping scheduler
// never cuts a message in half.
package notifier
