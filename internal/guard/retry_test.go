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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryOptions{
	MaxAttempts:       3,
	InitialBackoff:    time.Millisecond,
	MaxBackoff:        5 * time.Millisecond,
	BackoffMultiplier: 2.0,
}

func TestErrorKindRetryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{Timeout, true},
		{ResourceExhausted, true},
		{InvalidSyntax, false},
		{ForbiddenStatementKind, false},
		{TableNotAllowed, false},
		{ColumnNotAllowed, false},
		{PreconditionFailed, false},
		{ExecutionFailed, false},
		{Cancelled, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Retryable())
		})
	}
}

func TestKindOf(t *testing.T) {
	base := Wrap(Timeout, context.DeadlineExceeded, "statement exceeded %dms", 5000)
	wrapped := fmt.Errorf("running query: %w", base)

	assert.Equal(t, Timeout, KindOf(wrapped))
	assert.Equal(t, KindNone, KindOf(errors.New("plain")))
	assert.True(t, errors.Is(wrapped, &Error{Kind: Timeout}))
	assert.False(t, errors.Is(wrapped, &Error{Kind: ExecutionFailed}))
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
	assert.Contains(t, base.Error(), "TIMEOUT")
}

func TestWithRetry(t *testing.T) {
	t.Run("succeeds after retryable failures", func(t *testing.T) {
		calls := 0
		got, err := WithRetry(context.Background(), fastRetry, nil, nil, func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, New(ResourceExhausted, "pool busy")
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on non-retryable kind", func(t *testing.T) {
		calls := 0
		_, err := WithRetry(context.Background(), fastRetry, nil, nil, func(ctx context.Context) (int, error) {
			calls++
			return 0, New(TableNotAllowed, "table not allowed")
		})
		assert.Equal(t, TableNotAllowed, KindOf(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		_, err := WithRetry(context.Background(), fastRetry, nil, nil, func(ctx context.Context) (int, error) {
			calls++
			return 0, New(Timeout, "too slow")
		})
		assert.Equal(t, Timeout, KindOf(err))
		assert.Equal(t, fastRetry.MaxAttempts, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		_, err := WithRetry(ctx, fastRetry, nil, nil, func(ctx context.Context) (int, error) {
			calls++
			return 0, nil
		})
		assert.Equal(t, Cancelled, KindOf(err))
		assert.Zero(t, calls)
	})

	t.Run("custom predicate", func(t *testing.T) {
		calls := 0
		got, err := WithRetry(context.Background(), fastRetry, nil,
			func(v int, err error) bool { return v < 2 },
			func(ctx context.Context) (int, error) {
				calls++
				return calls, nil
			})
		require.NoError(t, err)
		assert.Equal(t, 2, got)
	})
}

func TestBackoffIsCapped(t *testing.T) {
	opts := RetryOptions{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}
	assert.Equal(t, 100*time.Millisecond, opts.Backoff(0))
	assert.Equal(t, 400*time.Millisecond, opts.Backoff(2))
	assert.Equal(t, time.Second, opts.Backoff(10))
}

func TestLimitsValidate(t *testing.T) {
	require.NoError(t, DefaultLimits().Validate())
	l := DefaultLimits()
	l.MaxRows = 0
	assert.Error(t, l.Validate())
	assert.Equal(t, 500, DefaultLimits().MaxRows)
	assert.Equal(t, 1000, DefaultLimits().MaxLimitClause)
	assert.Equal(t, 5*time.Second, DefaultLimits().StatementTimeout)
}
