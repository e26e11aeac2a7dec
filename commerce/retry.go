package commerce

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxAttempts bounds the internal retry loop for optimistic-concurrency
// conflicts. Business-rule rejections are never retried.
const DefaultMaxAttempts = 3

// retryOnConflict runs op up to attempts times, retrying only when the store
// reports a version conflict. The op must re-read current state on every
// attempt (no stale-read reuse). When the budget is exhausted the conflict is
// surfaced as ErrConcurrentModification so callers can show a "try again"
// message instead of a raw store error.
func retryOnConflict(ctx context.Context, attempts int, op func(context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = op(ctx)
		if err == nil || !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrConcurrentModification, attempts, err)
}
