package session

import (
	"sync"
	"time"
)

type watchdogState int

const (
	watchdogIdle watchdogState = iota
	watchdogArmed
	watchdogFired
	watchdogStopped
)

// Watchdog fires once when it has not been reset for longer than its
// timeout. Reset is only honoured while armed; once the watchdog has fired
// or been stopped it stays that way.
type Watchdog struct {
	timeout time.Duration
	onFire  func()

	mu    sync.Mutex
	state watchdogState
	timer *time.Timer
}

// NewWatchdog creates an unarmed watchdog. timeout is clamped to
// MinInactivityTimeout.
func NewWatchdog(timeout time.Duration, onFire func()) *Watchdog {
	if timeout < MinInactivityTimeout {
		timeout = MinInactivityTimeout
	}
	return &Watchdog{timeout: timeout, onFire: onFire}
}

// Start arms the watchdog. Calling it more than once has no effect.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != watchdogIdle {
		return
	}
	w.state = watchdogArmed
	w.timer = time.AfterFunc(w.timeout, w.fire)
}

// Reset pushes the deadline out by a full timeout. It is a no-op unless the
// watchdog is armed, and also when the timer has already elapsed and is
// about to fire: a reset never revives a watchdog that has timed out.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != watchdogArmed {
		return
	}
	if !w.timer.Stop() {
		return
	}
	w.timer.Reset(w.timeout)
}

// Stop disarms the watchdog permanently.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	if w.state != watchdogFired {
		w.state = watchdogStopped
	}
}

// Fired reports whether the watchdog has gone off.
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == watchdogFired
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.state != watchdogArmed {
		w.mu.Unlock()
		return
	}
	w.state = watchdogFired
	w.mu.Unlock()

	if w.onFire != nil {
		w.onFire()
	}
}
