package testutil

import (
	"fmt"
	"sync"
	"time"
)

// ClockStart is where NewClock begins: 19:59 at UTC+7, one minute before
// the default daily chime.
var ClockStart = CivilTime(7, 19, 59, 0)

// CivilTime returns hour:minute:second on 2025-03-10 in a fixed zone
// offsetHours east of UTC.
func CivilTime(offsetHours, hour, minute, second int) time.Time {
	zone := time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*3600)
	return time.Date(2025, 3, 10, hour, minute, second, 0, zone)
}

// Clock is a controllable time source. Pass Now wherever a component takes
// a func() time.Time.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock set to ClockStart.
func NewClock() *Clock {
	return &Clock{now: ClockStart}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set overrides the clock's current time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
