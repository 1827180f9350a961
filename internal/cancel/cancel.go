// Package cancel provides the cooperative cancellation points used by long
// running workspace operations.
package cancel

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// DefaultPeriod is how long work may run between scheduler yields.
const DefaultPeriod = 10 * time.Millisecond

// ErrCancelled is returned when an operation observes a cancelled context at
// a suspension point. It is control flow, not a failure.
var ErrCancelled = errors.New("operation cancelled")

// IsCancelled reports whether err signals cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Interrupter implements time-boxed suspension points: once the configured
// period has elapsed since the last yield it yields to the scheduler, then
// checks the context.
type Interrupter struct {
	period time.Duration
	now    func() time.Time

	mu       sync.Mutex
	lastTick time.Time
}

// NewInterrupter returns an Interrupter yielding every period. A
// non-positive period yields at every check.
func NewInterrupter(period time.Duration) *Interrupter {
	return &Interrupter{period: period, now: time.Now, lastTick: time.Now()}
}

// Check is a suspension point. It returns an error wrapping ErrCancelled when
// ctx is done. A nil Interrupter only checks ctx.
func (i *Interrupter) Check(ctx context.Context) error {
	if i != nil && i.due() {
		runtime.Gosched()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

func (i *Interrupter) due() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	current := i.now()
	if current.Sub(i.lastTick) < i.period {
		return false
	}
	i.lastTick = current
	return true
}
