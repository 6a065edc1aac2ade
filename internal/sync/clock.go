// ABOUTME: Clock abstraction for periodic audio work
// ABOUTME: Absolute-deadline sleeping so fixed-rate loops do not drift
package sync

import (
	"context"
	"time"
)

// Clock supplies time and absolute sleeps. Engines take a Clock so tests can
// tick without sleeping.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// SleepUntil blocks until deadline or ctx is done. A deadline in the
	// past returns immediately.
	SleepUntil(ctx context.Context, deadline time.Time) error
}

// SystemClock is the wall clock
type SystemClock struct{}

// Now returns time.Now (monotonic reading included)
func (SystemClock) Now() time.Time { return time.Now() }

// SleepUntil sleeps to an absolute instant
func (SystemClock) SleepUntil(ctx context.Context, deadline time.Time) error {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Default is the process clock
var Default Clock = SystemClock{}

// PeriodDeadline returns origin + count*period + slack, the absolute wake time
// of the count'th period of a fixed-rate loop
func PeriodDeadline(origin time.Time, count int64, period, slack time.Duration) time.Time {
	return origin.Add(time.Duration(count)*period + slack)
}
