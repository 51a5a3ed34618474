package orchestrator

import (
	"context"
	"fmt"
	"time"

	"instance-orchestrator/core/apperrors"
)

// pollUntil calls check immediately and then every interval until it
// reports done, returns an error, or maxDuration has elapsed. Exceeding
// maxDuration yields a timeout error.
func pollUntil[T any](
	ctx context.Context,
	op string,
	interval, maxDuration time.Duration,
	check func(context.Context) (T, bool, error),
) (T, error) {
	deadline := time.Now().Add(maxDuration)

	for {
		value, done, err := check(ctx)
		if err != nil {
			return value, err
		}
		if done {
			return value, nil
		}

		if !time.Now().Before(deadline) {
			return value, apperrors.Timeout(op, fmt.Sprintf("gave up after %s", maxDuration))
		}

		if err := sleep(ctx, interval); err != nil {
			return value, err
		}
	}
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
