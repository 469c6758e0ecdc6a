package health

import (
	"context"
	"runtime"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		count := runtime.NumGoroutine()
		if count > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", count, threshold)
		}
		return nil
	}
}

// Pinger is implemented by database pools and cache clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// StalenessCheck fails when last reports a time older than maxAge. A zero
// time counts as fresh so the check passes before the first run completes.
func StalenessCheck(last func() time.Time, maxAge time.Duration) CheckFunc {
	return func(_ context.Context) error {
		t := last()
		if t.IsZero() {
			return nil
		}
		if age := time.Since(t); age > maxAge {
			return errors.Errorf("last run %s ago exceeds %s", age.Truncate(time.Second), maxAge)
		}
		return nil
	}
}
