package session

import (
	"testing"
	"time"
)

func TestInactivityTimerTransitions(t *testing.T) {
	clock := newClock()
	fired := 0
	timer := NewInactivityTimer(clock, time.Minute, func() { fired++ })

	if got := timer.State(); got != TimerIdle {
		t.Fatalf("expected IDLE, got %s", got)
	}
	if !timer.Arm() {
		t.Fatalf("expected arm to succeed")
	}
	if timer.Arm() {
		t.Fatalf("expected second arm to be refused")
	}
	clock.Advance(time.Minute)
	if fired != 1 {
		t.Fatalf("expected one expiry, got %d", fired)
	}
	if got := timer.State(); got != TimerIdle {
		t.Fatalf("expected IDLE after expiry, got %s", got)
	}
}

func TestInactivityTimerExpiredDuringCallback(t *testing.T) {
	clock := newClock()
	var seen TimerState
	var timer *InactivityTimer
	timer = NewInactivityTimer(clock, time.Minute, func() { seen = timer.State() })
	timer.Arm()
	clock.Advance(time.Minute)
	if seen != TimerExpired {
		t.Fatalf("expected EXPIRED inside callback, got %s", seen)
	}
}

func TestInactivityTimerResetRestartsCountdown(t *testing.T) {
	clock := newClock()
	fired := 0
	timer := NewInactivityTimer(clock, time.Minute, func() { fired++ })
	timer.Arm()

	clock.Advance(50 * time.Second)
	timer.Reset()
	clock.Advance(50 * time.Second)
	if fired != 0 {
		t.Fatalf("expected no expiry after reset, got %d", fired)
	}
	clock.Advance(10 * time.Second)
	if fired != 1 {
		t.Fatalf("expected one expiry, got %d", fired)
	}
}

func TestInactivityTimerCancelIsIdempotent(t *testing.T) {
	clock := newClock()
	timer := NewInactivityTimer(clock, time.Minute, func() { t.Fatalf("cancelled timer fired") })
	if timer.Cancel() {
		t.Fatalf("cancel on idle timer should report false")
	}
	timer.Arm()
	if !timer.Cancel() {
		t.Fatalf("cancel on armed timer should report true")
	}
	if timer.Cancel() {
		t.Fatalf("second cancel should report false")
	}
	clock.Advance(time.Hour)
	if clock.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", clock.Pending())
	}
}

type leakyTimer struct{}

func (leakyTimer) Stop() bool { return false }

type leakyClock struct {
	callbacks []func()
}

func (c *leakyClock) Now() time.Time { return time.Time{} }

func (c *leakyClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.callbacks = append(c.callbacks, f)
	return leakyTimer{}
}

func TestInactivityTimerIgnoresSupersededFire(t *testing.T) {
	clock := &leakyClock{}
	fired := 0
	timer := NewInactivityTimer(clock, time.Minute, func() { fired++ })
	timer.Arm()
	timer.Reset()

	// The first countdown could not be stopped and fires late.
	clock.callbacks[0]()
	if fired != 0 {
		t.Fatalf("superseded countdown must not expire the session")
	}
	clock.callbacks[1]()
	if fired != 1 {
		t.Fatalf("expected current countdown to expire, got %d", fired)
	}
}

func TestTimerStateString(t *testing.T) {
	cases := map[TimerState]string{TimerIdle: "IDLE", TimerArmed: "ARMED", TimerExpired: "EXPIRED", TimerState(9): "UNKNOWN"}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("state %d: expected %s, got %s", state, want, got)
		}
	}
}
