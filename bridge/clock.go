package bridge

import (
	"sync"
	"time"
)

// Clock supplies time to the loop. The emergency stop burst sleeps through it
// so a virtual clock keeps tests deterministic.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// VirtualClock only moves when told to. Sleep advances it.
type VirtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *VirtualClock) Sleep(d time.Duration) { c.Advance(d) }

// Advance moves the clock forward by d and returns the new time.
func (c *VirtualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Cadence is a named periodic action of the loop. A period of zero disables
// it. After a late tick the next deadline is measured from that tick, so a
// slow loop stretches every cadence instead of bursting to catch up.
type Cadence struct {
	Name   string
	Period time.Duration
	next   time.Time
}

func NewCadence(name string, period time.Duration, start time.Time) *Cadence {
	return &Cadence{Name: name, Period: period, next: start.Add(period)}
}

// Due reports whether the cadence fires at now and, if so, schedules the next
// deadline.
func (c *Cadence) Due(now time.Time) bool {
	if c.Period <= 0 || now.Before(c.next) {
		return false
	}
	c.next = c.next.Add(c.Period)
	if !c.next.After(now) {
		c.next = now.Add(c.Period)
	}
	return true
}

// Reset restarts the period from now.
func (c *Cadence) Reset(now time.Time) {
	c.next = now.Add(c.Period)
}
