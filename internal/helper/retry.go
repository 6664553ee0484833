package helper

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Retry calls op until it succeeds, returns a backoff.Permanent error or
// maxRetries retries have been spent. Waits grow exponentially from initial
// and stop early when ctx is done.
func Retry[T any](ctx context.Context, name string, maxRetries int, initial time.Duration, op func() (T, error)) (T, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(backoff.WithInitialInterval(initial)),
			uint64(maxRetries),
		),
		ctx,
	)
	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		return op()
	}, b, func(err error, next time.Duration) {
		log.Warn().Err(err).Str("op", name).Int("attempt", attempt).Dur("retry_in", next).Msg("call failed, retrying")
	})
}
