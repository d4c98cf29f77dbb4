package util

import (
	"context"
	"time"
)

// RetryUntilSuccess calls performAction until it succeeds or ctx is done, calling onError after each failure and
// waiting backoff between attempts.
func RetryUntilSuccess(ctx context.Context, backoff time.Duration, performAction func() error, onError func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			err := performAction()
			if err == nil {
				return
			}
			onError(err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}
