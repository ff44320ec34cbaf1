// Package retry provides bounded exponential-backoff retries for transient
// I/O errors at their point of use.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
)

// Policy bounds one retry loop.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Min and Max bound the delay between tries.
	Min time.Duration
	Max time.Duration
}

// DefaultPolicy suits short store round trips: a few quick retries, never
// more than a couple of seconds in total.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 3,
		Min:      50 * time.Millisecond,
		Max:      time.Second,
	}
}

// Do runs op until it succeeds, the attempts are exhausted, or ctx ends.
// The delay between tries grows exponentially with jitter so retries from
// many workers do not synchronize against a recovering store.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	b := &backoff.Backoff{
		Min:    policy.Min,
		Max:    policy.Max,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt == policy.Attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", policy.Attempts, err)
}
