package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock is the source of epoch time. Components depend on it rather than
// on a concrete controller so tests can drive epochs directly.
type Clock interface {
	// Now returns the current epoch time.
	Now() time.Time
}

// Mode describes how the EpochController advances epoch time.
type Mode int

const (
	// RealTime emits one epoch per Interval of wall-clock time.
	RealTime Mode = iota
	// Accelerated emits epochs back to back, stepping by Interval.
	Accelerated
)

// Listener receives every epoch in order. It runs on the controller's
// goroutine and should hand work off rather than block.
type Listener func(ctx context.Context, epoch time.Time)

// EpochController drives epoch time at the measurement cadence and notifies
// registered listeners.
type EpochController struct {
	mu       sync.RWMutex
	Start    time.Time
	Interval time.Duration
	Mode     Mode

	current   time.Time
	listeners []Listener
}

// NewEpochController constructs a controller.
func NewEpochController(start time.Time, interval time.Duration, mode Mode) *EpochController {
	return &EpochController{
		Start:    start,
		Interval: interval,
		Mode:     mode,
		current:  start,
	}
}

// Now returns the most recently emitted epoch. Implements Clock.
func (ec *EpochController) Now() time.Time {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.current
}

// SetTime moves the controller to t without notifying listeners.
func (ec *EpochController) SetTime(t time.Time) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.current = t
}

// AddListener registers a callback invoked on every epoch.
func (ec *EpochController) AddListener(fn Listener) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.listeners = append(ec.listeners, fn)
}

// Run emits epochs until duration has elapsed in epoch time (forever when
// duration is zero) or ctx is done. The first epoch is Start itself.
func (ec *EpochController) Run(ctx context.Context, duration time.Duration) error {
	ec.mu.Lock()
	epoch := ec.Start
	ec.current = epoch
	ec.mu.Unlock()

	var ticks <-chan time.Time
	if ec.Mode == RealTime {
		ticker := time.NewTicker(ec.Interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for elapsed := time.Duration(0); duration <= 0 || elapsed <= duration; elapsed += ec.Interval {
		if elapsed > 0 {
			epoch = epoch.Add(ec.Interval)
			if ticks != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticks:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ec.mu.Lock()
		ec.current = epoch
		listeners := append([]Listener(nil), ec.listeners...)
		ec.mu.Unlock()

		for _, fn := range listeners {
			fn(ctx, epoch)
		}
	}
	return nil
}

// StartAsync runs the controller in a separate goroutine. The returned
// channel receives Run's result and is then closed.
func (ec *EpochController) StartAsync(ctx context.Context, duration time.Duration) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- ec.Run(ctx, duration)
	}()
	return done
}
