package session

import (
	"errors"
	"strings"
	"sync"
)

// Activity is an observed user input event.
type Activity string

// Recognised activity events.
const (
	ActivityPointerMove Activity = "pointermove"
	ActivityPointerDown Activity = "pointerdown"
	ActivityKeyDown     Activity = "keydown"
	ActivityTouchMove   Activity = "touchmove"
	ActivityScroll      Activity = "scroll"
)

// ErrUnknownActivity is returned for events that do not count as activity.
var ErrUnknownActivity = errors.New("session: unknown activity")

// ParseActivity maps an event name to an Activity.
func ParseActivity(name string) (Activity, error) {
	switch a := Activity(strings.ToLower(strings.TrimSpace(name))); a {
	case ActivityPointerMove, ActivityPointerDown, ActivityKeyDown, ActivityTouchMove, ActivityScroll:
		return a, nil
	}
	return "", ErrUnknownActivity
}

// ActivityMonitor listens for activity while a session is authenticated.
// It attaches once per session and detaches itself when the session logs out.
type ActivityMonitor struct {
	mu       sync.Mutex
	store    *Store
	attached bool
}

// NewActivityMonitor builds a detached monitor bound to store.
func NewActivityMonitor(store *Store) *ActivityMonitor {
	m := &ActivityMonitor{store: store}
	store.OnLogout(func() { m.Detach() })
	return m
}

// Attach starts listening and arms the countdown. It reports false when already
// attached or when there is no authenticated session.
func (m *ActivityMonitor) Attach() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attached || !m.store.IsAuthenticated() {
		return false
	}
	m.attached = true
	m.store.StartInactivityTimer()
	return true
}

// Detach stops listening and clears the countdown.
func (m *ActivityMonitor) Detach() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.attached {
		return false
	}
	m.attached = false
	m.store.ClearInactivityTimer()
	return true
}

// Attached reports whether the monitor is listening.
func (m *ActivityMonitor) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attached
}

// Observe resets the countdown for every recognised event while attached.
// Events seen while detached are dropped.
func (m *ActivityMonitor) Observe(a Activity) (bool, error) {
	if _, err := ParseActivity(string(a)); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.attached {
		return false, nil
	}
	m.store.ResetInactivityTimer()
	return true, nil
}
