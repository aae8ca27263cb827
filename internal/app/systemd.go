package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"easytrack/internal/scheduler"
	logx "easytrack/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// sdNotifier reports readiness and liveness to systemd. Every call is a no-op
// when NOTIFY_SOCKET is unset.
type sdNotifier struct {
	log      logx.Logger
	interval time.Duration // WatchdogSec, 0 when disabled
	lastTick atomic.Int64  // unix nanos of the last completed tick
	started  time.Time
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	n := &sdNotifier{log: log, started: time.Now()}
	iv, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog env invalid", logx.Err(err))
	}
	n.interval = iv
	return n
}

func (n *sdNotifier) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

// TickDone is the scheduler tick hook.
func (n *sdNotifier) TickDone(rep scheduler.TickReport) {
	n.lastTick.Store(time.Now().UnixNano())
	if n.interval > 0 {
		n.notify(daemon.SdNotifyWatchdog)
	}
	n.notify(fmt.Sprintf("STATUS=last tick %s: due=%d sent=%d failed=%d",
		rep.At.UTC().Format(time.RFC3339), rep.Due, rep.Sent, rep.Failed))
}

// Watchdog pings systemd between ticks while healthy holds, so a tick longer
// than WatchdogSec does not get the unit killed. A loop that stops ticking
// stops the pings.
func (n *sdNotifier) Watchdog(ctx context.Context, tick func() time.Duration, running func() bool) {
	if n.interval <= 0 {
		return
	}
	t := time.NewTicker(n.interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !running() {
			continue
		}
		last := n.started
		if ns := n.lastTick.Load(); ns > 0 {
			last = time.Unix(0, ns)
		}
		// One missed tick is tolerated; after that the unit is left to the
		// watchdog.
		if time.Since(last) <= 2*tick()+n.interval {
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
