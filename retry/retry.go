// Package retry runs an operation with bounded backoff. Only errors marked
// transient are retried; validation failures and missing refs pass straight
// through.
package retry

import (
	"context"
	"time"

	"releasebot/models"
)

// Do calls fn up to attempts times, sleeping base, 2*base, 4*base ... between
// tries. A non-transient error stops immediately. Context cancellation wins
// over the remaining attempts.
func Do(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var err error
	delay := base
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !models.IsTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
