package playback

import (
	"sync"
	"time"
)

// Clock is the shared audio clock. Now is measured from an arbitrary origin
// and never goes backwards.
type Clock interface {
	Now() time.Duration
}

// SystemClock reads the monotonic wall clock relative to its creation.
type SystemClock struct {
	origin time.Time
}

// NewSystemClock 创建从当前时刻起算的音频时钟
func NewSystemClock() *SystemClock {
	return &SystemClock{origin: time.Now()}
}

func (c *SystemClock) Now() time.Duration {
	return time.Since(c.origin)
}

// ManualClock is advanced explicitly. Used by offline rendering and tests.
type ManualClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward; negative values are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Set jumps to t if t is ahead of the current time.
func (c *ManualClock) Set(t time.Duration) {
	c.mu.Lock()
	if t > c.now {
		c.now = t
	}
	c.mu.Unlock()
}
