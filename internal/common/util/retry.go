package util

import (
	"time"

	"github.com/G-Research/capstan/internal/common/capstancontext"
)

// RetryUntilSuccess calls performAction until it succeeds or ctx is cancelled, sleeping backoff between attempts.
func RetryUntilSuccess(ctx *capstancontext.Context, performAction func() error, onError func(error), backoff time.Duration) error {
	for {
		err := performAction()
		if err == nil {
			return nil
		}
		onError(err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}
