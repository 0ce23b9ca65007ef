/*
 * Copyright 2025 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package guard

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// RetryOptions configures the retry behavior
type RetryOptions struct {
	MaxAttempts       int           // Maximum number of attempts, including the first
	InitialBackoff    time.Duration // Initial backoff duration
	MaxBackoff        time.Duration // Maximum backoff duration
	BackoffMultiplier float64       // Multiplier for exponential backoff
}

// DefaultRetryOptions provides sensible default retry settings
var DefaultRetryOptions = RetryOptions{
	MaxAttempts:       3,
	InitialBackoff:    100 * time.Millisecond,
	MaxBackoff:        2 * time.Second,
	BackoffMultiplier: 2.0,
}

// Backoff returns the wait before attempt+1.
func (o RetryOptions) Backoff(attempt int) time.Duration {
	backoff := time.Duration(float64(o.InitialBackoff) * math.Pow(o.BackoffMultiplier, float64(attempt)))
	if backoff > o.MaxBackoff {
		backoff = o.MaxBackoff
	}
	return backoff
}

// WithRetry runs op until it succeeds, fails with a non-retryable kind, or
// MaxAttempts is reached. retryable decides per result; when it is nil the
// error's ErrorKind decides.
func WithRetry[T any](ctx context.Context, opts RetryOptions, logger *zap.Logger, retryable func(T, error) bool, op func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryable == nil {
		retryable = func(_ T, err error) bool { return KindOf(err).Retryable() }
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	var (
		result  T
		lastErr error
	)
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = Wrap(Cancelled, err, "operation cancelled")
			}
			return result, lastErr
		}

		result, lastErr = op(ctx)
		if !retryable(result, lastErr) || attempt == opts.MaxAttempts-1 {
			return result, lastErr
		}

		backoff := opts.Backoff(attempt)
		logger.Warn("attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, Wrap(Cancelled, ctx.Err(), "operation cancelled during backoff")
		case <-timer.C:
		}
	}
	return result, lastErr
}
