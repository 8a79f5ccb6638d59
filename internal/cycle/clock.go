// Package cycle maps wall-clock time onto distribution cycles and their claim windows.
package cycle

import (
	"math"
	"sync"
	"time"

	"ubi/internal/domain"
)

// Clock computes cycle indices and claim windows from a fixed epoch.
// Cycle 1 starts at the epoch; instants before the epoch map to cycles <= 0.
type Clock struct {
	epoch  time.Time
	length time.Duration
	window time.Duration
}

func NewClock(epoch time.Time, length time.Duration, windowFraction float64) *Clock {
	return &Clock{
		epoch:  epoch.UTC(),
		length: length,
		window: time.Duration(float64(length) * windowFraction),
	}
}

func (c *Clock) Epoch() time.Time           { return c.epoch }
func (c *Clock) CycleLength() time.Duration { return c.length }
func (c *Clock) WindowLength() time.Duration {
	return c.window
}

// Current returns floor((now - epoch) / cycleLength) + 1.
func (c *Clock) Current(now time.Time) int {
	d := now.Sub(c.epoch)
	idx := d / c.length
	if d < 0 && d%c.length != 0 {
		idx--
	}
	return int(idx) + 1
}

// MaxCycle is the highest cycle whose window end is still representable as
// an offset from the epoch. Larger cycles would wrap around.
func (c *Clock) MaxCycle() int {
	return int((math.MaxInt64-int64(c.window))/int64(c.length)) + 1
}

// Valid reports whether cycle lies in [1, MaxCycle].
func (c *Clock) Valid(cycle int) bool {
	return cycle >= 1 && cycle <= c.MaxCycle()
}

// Window returns the claim window [start, end] of a cycle. The result is only
// meaningful for cycles up to MaxCycle.
func (c *Clock) Window(cycle int) (start, end time.Time) {
	start = c.epoch.Add(time.Duration(cycle-1) * c.length)
	return start, start.Add(c.window)
}

// InWindow reports whether now lies inside the closed interval [start, end].
// It is false for cycles outside [1, MaxCycle].
func (c *Clock) InWindow(cycle int, now time.Time) bool {
	if !c.Valid(cycle) {
		return false
	}
	start, end := c.Window(cycle)
	return !now.Before(start) && !now.After(end)
}

// WindowEnded reports whether now is strictly after the window end. It is
// false for cycles outside [1, MaxCycle].
func (c *Clock) WindowEnded(cycle int, now time.Time) bool {
	if !c.Valid(cycle) {
		return false
	}
	_, end := c.Window(cycle)
	return now.After(end)
}

// Info describes the cycle containing now.
func (c *Clock) Info(now time.Time) domain.CycleInfo {
	cur := c.Current(now)
	start, end := c.Window(cur)
	return domain.CycleInfo{
		Cycle:       cur,
		WindowStart: start,
		WindowEnd:   end,
		IsOpen:      !now.Before(start) && !now.After(end),
	}
}

// TimeSource supplies the current time.
type TimeSource interface {
	Now() time.Time
}

type systemSource struct{}

func (systemSource) Now() time.Time { return time.Now().UTC() }

// SystemTime is the wall clock.
var SystemTime TimeSource = systemSource{}

// ManualTime is a TimeSource that only moves when told to.
type ManualTime struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualTime(now time.Time) *ManualTime {
	return &ManualTime{now: now}
}

func (m *ManualTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *ManualTime) Set(now time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *ManualTime) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
