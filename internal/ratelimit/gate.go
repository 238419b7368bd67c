package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// TooSoonError rejects a call attempted before the minimum interval elapsed.
type TooSoonError struct {
	Wait time.Duration
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("please wait %d seconds before trying again", e.Seconds())
}

// Seconds is the remaining wait rounded up to whole seconds.
func (e *TooSoonError) Seconds() int {
	return int(math.Ceil(e.Wait.Seconds()))
}

// Gate admits at most one call per interval. Rejected calls are not queued.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewGate creates a gate; an interval <= 0 admits every call.
func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval, now: time.Now}
}

// Allow records the call and returns nil when admitted, *TooSoonError otherwise.
func (g *Gate) Allow() error {
	if g == nil || g.interval <= 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.last.IsZero() {
		if elapsed := now.Sub(g.last); elapsed < g.interval {
			return &TooSoonError{Wait: g.interval - elapsed}
		}
	}
	g.last = now
	return nil
}
