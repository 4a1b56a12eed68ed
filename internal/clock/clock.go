// Package clock abstracts wall-clock time so that schedule evaluation can be
// tested without waiting for real time to pass.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	// Now returns the current time according to this clock
	Now() time.Time
}

// Real implements Clock using the actual system time.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// Manual implements Clock with a controllable time value.
type Manual struct {
	mu      sync.RWMutex
	current time.Time
}

// NewManual creates a manual clock initialized to the given time.
// If t is zero, the clock is initialized to the current time.
func NewManual(t time.Time) *Manual {
	if t.IsZero() {
		t = time.Now()
	}
	return &Manual{current: t}
}

// Now returns the current time according to this clock.
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Advance moves the clock forward by the given duration.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

// Set sets the clock to a specific time.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

// In returns a Clock that reports the time of c converted into loc.
func In(c Clock, loc *time.Location) Clock {
	if loc == nil {
		return c
	}
	return located{base: c, loc: loc}
}

type located struct {
	base Clock
	loc  *time.Location
}

func (l located) Now() time.Time {
	return l.base.Now().In(l.loc)
}
