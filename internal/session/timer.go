package session

import (
	"sync"
	"time"
)

// InactivityTimeout is how long a session may stay idle before it is logged out.
const InactivityTimeout = 30 * time.Minute

// TimerState is the state of an InactivityTimer.
type TimerState int

const (
	// TimerIdle means no countdown is running.
	TimerIdle TimerState = iota
	// TimerArmed means a countdown is running.
	TimerArmed
	// TimerExpired means the countdown fired and the expiry callback is running.
	TimerExpired
)

// String returns a string representation of the TimerState.
func (s TimerState) String() string {
	switch s {
	case TimerIdle:
		return "IDLE"
	case TimerArmed:
		return "ARMED"
	case TimerExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// InactivityTimer is a one-shot countdown that can be armed, reset and cancelled.
// Every arm bumps a generation so a superseded countdown that fires late does nothing.
type InactivityTimer struct {
	mu         sync.Mutex
	clock      Clock
	window     time.Duration
	onExpire   func()
	state      TimerState
	handle     Timer
	generation uint64
}

// NewInactivityTimer builds an idle timer that calls onExpire after window elapses
// without a reset.
func NewInactivityTimer(clock Clock, window time.Duration, onExpire func()) *InactivityTimer {
	if clock == nil {
		clock = SystemClock()
	}
	return &InactivityTimer{clock: clock, window: window, onExpire: onExpire}
}

// Arm starts the countdown unless one is already running.
func (t *InactivityTimer) Arm() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TimerArmed {
		return false
	}
	t.armLocked()
	return true
}

// Reset cancels any running countdown and starts a new one from zero.
func (t *InactivityTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.armLocked()
}

// Cancel stops the countdown. Cancelling an idle timer is a no-op.
func (t *InactivityTimer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TimerIdle {
		return false
	}
	t.stopLocked()
	return true
}

// State reports the current state.
func (t *InactivityTimer) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *InactivityTimer) armLocked() {
	t.generation++
	gen := t.generation
	t.state = TimerArmed
	t.handle = t.clock.AfterFunc(t.window, func() { t.fire(gen) })
}

func (t *InactivityTimer) stopLocked() {
	if t.handle != nil {
		t.handle.Stop()
		t.handle = nil
	}
	t.generation++
	t.state = TimerIdle
}

func (t *InactivityTimer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || t.state != TimerArmed {
		t.mu.Unlock()
		return
	}
	t.state = TimerExpired
	t.handle = nil
	callback := t.onExpire
	t.mu.Unlock()

	if callback != nil {
		callback()
	}

	t.mu.Lock()
	if t.state == TimerExpired && t.generation == gen {
		t.state = TimerIdle
	}
	t.mu.Unlock()
}
