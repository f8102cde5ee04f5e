package wire

import "time"

// clock tracks a client's remaining think time at nanosecond resolution.
// Ticking runs while the client is expected to be computing; pausing
// subtracts the elapsed wall time from the remaining budget.
type clock struct {
	remaining time.Duration
	tickStart time.Time
	ticking   bool
	gen       uint64
	timer     *time.Timer
	noTimeout bool
	timedOut  bool
	onTimeout func(*Client)
}

// SetTimeRemaining sets the think-time budget.
func (c *Client) SetTimeRemaining(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock.remaining = d
}

// TimeRemaining reports the think time left, accounting for an in-progress
// tick.
func (c *Client) TimeRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clock.ticking {
		return c.clock.remaining - time.Since(c.clock.tickStart)
	}
	return c.clock.remaining
}

// SetTimeoutHandler installs the callback fired when the think-time budget
// runs out. It runs on a timer goroutine.
func (c *Client) SetTimeoutHandler(onTimeout func(*Client)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock.onTimeout = onTimeout
}

// TimedOut reports whether this client exhausted its think time.
func (c *Client) TimedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.timedOut
}

// StartTicking records a start timestamp and arms a timeout at the client's
// remaining time. A no-op if already ticking.
func (c *Client) StartTicking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clock.ticking || c.closed {
		return
	}
	c.clock.ticking = true
	c.clock.tickStart = time.Now()
	if c.clock.noTimeout {
		return
	}
	c.clock.gen++
	gen := c.clock.gen
	c.clock.timer = time.AfterFunc(c.clock.remaining, func() {
		c.fireTimeout(gen)
	})
}

// PauseTicking subtracts elapsed wall time from the remaining counter and
// disarms the timeout. Idempotent.
func (c *Client) PauseTicking() {
	c.mu.Lock()
	if !c.clock.ticking {
		c.mu.Unlock()
		return
	}
	c.clock.ticking = false
	c.clock.remaining -= time.Since(c.clock.tickStart)
	if c.clock.timer != nil {
		c.clock.timer.Stop()
		c.clock.timer = nil
	}
	c.mu.Unlock()
}

func (c *Client) fireTimeout(gen uint64) {
	c.mu.Lock()
	// A stale timer may fire after a pause/resume cycle; only the latest
	// armed generation counts.
	if !c.clock.ticking || c.clock.gen != gen {
		c.mu.Unlock()
		return
	}
	c.clock.ticking = false
	c.clock.remaining = 0
	c.clock.timedOut = true
	onTimeout := c.clock.onTimeout
	c.mu.Unlock()
	if onTimeout != nil {
		onTimeout(c)
	}
}
