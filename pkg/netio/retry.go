// retry.go provides the dial-retry policy for the startup barrier.
//
// The cluster starts its machines concurrently with no defined ordering,
// so a machine's first dial to a peer routinely lands before that peer's
// listener is up. Connection refused during startup is therefore an
// expected transient, not an error: each dial is retried with exponential
// backoff and jitter until the peer answers or the retry budget runs out.
package netio

import (
	"context"
	"math/rand"
	"time"
)

// retryConfig controls dial retry behavior during the startup barrier.
type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// defaultRetryConfig gives each peer roughly a ten-second window to come
// up before the barrier fails the machine.
var defaultRetryConfig = retryConfig{
	maxAttempts: 40,
	baseDelay:   20 * time.Millisecond,
	maxDelay:    500 * time.Millisecond,
}

// retryDial executes fn with backoff + jitter until it succeeds, the
// budget is exhausted, or ctx is cancelled. Returns the last error along
// with the number of attempts made.
func retryDial(ctx context.Context, cfg retryConfig, fn func() error) (attempts int, err error) {
	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return attempt + 1, nil
		}
		if attempt == cfg.maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return attempt + 1, ctx.Err()
		case <-time.After(backoffDelay(cfg, attempt)):
		}
	}
	return cfg.maxAttempts, err
}

// backoffDelay computes the delay for a given retry attempt using
// exponential backoff with jitter: baseDelay * 2^attempt, capped at
// maxDelay, plus random([0, baseDelay)).
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay || delay <= 0 {
		delay = cfg.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(cfg.baseDelay)))
	return delay + jitter
}
