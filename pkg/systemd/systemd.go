// Package systemd speaks the sd_notify protocol. Outside a systemd unit
// (NOTIFY_SOCKET unset) every call is a no-op.
package systemd

import (
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends readiness, stopping and watchdog notifications.
type Notifier struct {
	enabled  bool
	watchdog time.Duration // WATCHDOG_USEC from the unit; 0 when not requested

	notify func(unsetEnv bool, state string) (bool, error)
	now    func() time.Time

	mu       sync.Mutex
	lastPet  time.Time
	petCount uint64
}

// New returns a notifier. When watchdog is true and the unit set
// WatchdogSec, Pet forwards keepalives at most twice per watchdog interval.
func New(enabled, watchdog bool) *Notifier {
	n := &Notifier{enabled: enabled, notify: daemon.SdNotify, now: time.Now}
	if enabled && watchdog {
		if iv, err := daemon.SdWatchdogEnabled(false); err == nil {
			n.watchdog = iv
		}
	}
	return n
}

// WatchdogInterval is the interval systemd expects keepalives within.
func (n *Notifier) WatchdogInterval() time.Duration { return n.watchdog }

func (n *Notifier) send(state string) (bool, error) {
	if n == nil || !n.enabled {
		return false, nil
	}
	return n.notify(false, state)
}

func (n *Notifier) Ready() (bool, error) { return n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() (bool, error) { return n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(text string) (bool, error) { return n.send("STATUS=" + text) }

// Pet sends WATCHDOG=1, throttled to half the watchdog interval. It is called
// from the tick loop and never blocks on anything but a datagram write.
func (n *Notifier) Pet() {
	if n == nil || !n.enabled || n.watchdog <= 0 {
		return
	}
	now := n.now()
	n.mu.Lock()
	if !n.lastPet.IsZero() && now.Sub(n.lastPet) < n.watchdog/2 {
		n.mu.Unlock()
		return
	}
	n.lastPet = now
	n.petCount++
	n.mu.Unlock()
	_, _ = n.notify(false, daemon.SdNotifyWatchdog)
}

// Pets returns how many keepalives were sent.
func (n *Notifier) Pets() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.petCount
}
