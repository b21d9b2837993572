package sequence

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hms/hms/internal/platform/errs"
)

// Allocator turns counter values into formatted identifiers, retrying
// transient storage races with bounded exponential backoff.
type Allocator struct {
	store      Store
	maxRetries uint64
}

func NewAllocator(store Store, maxRetries int) *Allocator {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Allocator{store: store, maxRetries: uint64(maxRetries)}
}

// Allocate returns the next identifier for entity in the period containing
// at. Identifiers are immutable once returned; a failed caller write leaves a
// gap in the sequence rather than reusing the number.
func (a *Allocator) Allocate(ctx context.Context, entity Entity, at time.Time) (string, error) {
	key, err := Key(entity, at)
	if err != nil {
		return "", err
	}

	var seq int64
	op := func() error {
		n, err := a.store.Next(ctx, key)
		if err != nil {
			if IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		seq = n
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.WithContext(newBackOff(), ctx), a.maxRetries)
	if err := backoff.Retry(op, policy); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return "", perm.Err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", errs.Timeout(err)
		}
		return "", errs.Conflict("sequence allocation for "+key+" exhausted retries", err)
	}

	return Format(entity, at, seq)
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}
