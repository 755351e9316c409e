package flow

import (
	"sync"
	"time"
)

// Countdown is the password-expired handoff: a self-driving timer that
// counts down once per interval and performs the recovery navigation
// exactly once, whether it reaches zero or the user skips ahead. Both paths
// funnel through fire, which checks-and-sets the fired guard under the
// mutex, so a tick racing a skip still navigates a single time.
type Countdown struct {
	mu        sync.Mutex
	remaining int
	fired     bool

	identity string
	onFire   func()

	stop     chan struct{}
	stopOnce sync.Once
}

func newCountdown(identity string, start int, interval time.Duration, onFire func()) *Countdown {
	c := &Countdown{
		remaining: start,
		identity:  identity,
		onFire:    onFire,
		stop:      make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				if c.tick() {
					return
				}
			}
		}
	}()

	return c
}

// tick decrements the counter and reports whether the ticker loop is done.
func (c *Countdown) tick() bool {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return true
	}
	select {
	case <-c.stop:
		c.mu.Unlock()
		return true
	default:
	}

	c.remaining--
	done := c.remaining <= 0
	c.mu.Unlock()

	if done {
		c.fire()
	}
	return done
}

// Skip short-circuits the remaining ticks and navigates immediately.
func (c *Countdown) Skip() {
	c.fire()
}

// Stop cancels the timer without navigating. Used on flow teardown so a
// dangling tick cannot navigate after the flow is gone. Safe to call from
// any goroutine, any number of times.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Countdown) fire() {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return
	}
	c.fired = true
	c.remaining = 0
	c.mu.Unlock()

	c.Stop()
	c.onFire()
}

// Remaining returns the seconds left before the countdown fires.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Fired reports whether navigation has already happened.
func (c *Countdown) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Identity returns the identity whose password expired.
func (c *Countdown) Identity() string {
	return c.identity
}
