package runner

import (
	"context"
	"time"

	"github.com/pipewright/pipewright/internal/model"
)

// sleepBackoff waits the exponential backoff delay before the next attempt.
// attempt is 1-based: the delay before attempt n+1 is initial * factor^(n-1),
// capped at the policy maximum. Cancellation cuts the wait short.
func sleepBackoff(ctx context.Context, policy *model.RetryPolicy, attempt int) error {
	delay := policy.Initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * policy.Factor)
		if delay >= policy.Max {
			delay = policy.Max
			break
		}
	}
	if delay > policy.Max {
		delay = policy.Max
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
