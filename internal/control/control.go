// Package control implements the cooperative pause gate and stop signal that
// workers observe between units of work. Neither ever interrupts an in-flight
// network operation.
package control

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned from waits that ended because a stop was requested.
var ErrStopped = errors.New("run stopped")

// Controller combines a pause gate with a one-shot stop signal.
type Controller struct {
	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns a running, unpaused Controller.
func New() *Controller {
	return &Controller{stopCh: make(chan struct{})}
}

// Pause closes the gate. Workers block at their next checkpoint.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	c.resumeCh = make(chan struct{})
}

// Resume opens the gate and wakes every waiting worker.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.resumeCh)
}

// Paused reports whether the gate is closed.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Stop requests termination. It is idempotent and also releases paused
// workers so they can exit.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Stopped reports whether Stop was called.
func (c *Controller) Stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// Done is closed once Stop is called.
func (c *Controller) Done() <-chan struct{} {
	return c.stopCh
}

// Checkpoint blocks while paused. It returns ErrStopped if a stop is pending
// or arrives while waiting, and ctx.Err() if ctx ends first.
func (c *Controller) Checkpoint(ctx context.Context) error {
	for {
		if c.Stopped() {
			return ErrStopped
		}
		c.mu.Lock()
		if !c.paused {
			c.mu.Unlock()
			return nil
		}
		resume := c.resumeCh
		c.mu.Unlock()
		select {
		case <-resume:
		case <-c.stopCh:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Sleep waits for d unless a stop arrives first. It returns ErrStopped in
// that case and ctx.Err() if ctx ends first.
func (c *Controller) Sleep(ctx context.Context, d time.Duration) error {
	if c.Stopped() {
		return ErrStopped
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-c.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
