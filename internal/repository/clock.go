package repository

import (
	"sync"
	"time"
)

// MonotonicClock hands out strictly increasing Unix millisecond timestamps.
// When the wall clock stalls or moves backwards it advances by one.
type MonotonicClock struct {
	mu       sync.Mutex
	lastTime int64
	now      func() time.Time
}

// NewMonotonicClock creates a clock backed by time.Now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{now: time.Now}
}

// Next returns the next timestamp.
func (c *MonotonicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixMilli()
	if now <= c.lastTime {
		now = c.lastTime + 1
	}
	c.lastTime = now
	return now
}

// Observe moves the clock past ts so later writes sort after it.
func (c *MonotonicClock) Observe(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts > c.lastTime {
		c.lastTime = ts
	}
}
