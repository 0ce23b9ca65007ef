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

// Package session runs approved statements inside a read-only transaction
// that is always rolled back.
package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/guard"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/policy"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/result"
)

// ConnectionProvider hands out dedicated connections and describes how the
// engine enforces read-only, time-bounded transactions.
type ConnectionProvider interface {
	// Conn checks a connection out of the pool. It blocks until one is free
	// or ctx is done.
	Conn(ctx context.Context) (*sql.Conn, error)
	// SupportsReadOnlyTx reports whether BeginTx honours TxOptions.ReadOnly.
	SupportsReadOnlyTx() bool
	// SessionStatements returns statements to run first inside the
	// transaction, such as a server-side statement timeout.
	SessionStatements(timeout time.Duration) []string
	// IsTimeout reports whether err is the engine cancelling a statement
	// for running too long.
	IsTimeout(err error) bool
}

// Session executes verdicts under fixed limits. It holds no connection
// between calls and is safe for concurrent use.
type Session struct {
	limits guard.Limits
	logger *zap.Logger
}

func New(limits guard.Limits, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{limits: limits, logger: logger}
}

// Execute runs v.SanitizedSQL verbatim with args bound by the driver. Every
// failure is reported in the result; the transaction is never committed.
func (s *Session) Execute(ctx context.Context, v policy.Verdict, provider ConnectionProvider, args ...any) result.ExecutionResult {
	start := time.Now()
	res := s.execute(ctx, v, provider, args)
	res.ElapsedMs = time.Since(start).Milliseconds()

	if res.Failed() {
		s.logger.Warn("statement execution failed",
			zap.String("error_kind", res.Error.String()),
			zap.String("reason", res.Message),
			zap.String("diagnostic", res.Diagnostic),
			zap.Int64("elapsed_ms", res.ElapsedMs))
		return res
	}
	s.logger.Info("statement executed",
		zap.Int("rows", res.RowCountReturned),
		zap.Bool("truncated", res.Truncated),
		zap.Int64("elapsed_ms", res.ElapsedMs))
	return res
}

func (s *Session) execute(ctx context.Context, v policy.Verdict, provider ConnectionProvider, args []any) result.ExecutionResult {
	if !v.Allowed() || v.SanitizedSQL == "" {
		return result.Failure(guard.PreconditionFailed, "statement was not approved by the policy gate", "")
	}
	if provider == nil {
		return result.Failure(guard.PreconditionFailed, "no connection provider configured", "")
	}
	if err := s.limits.Validate(); err != nil {
		return result.Failure(guard.PreconditionFailed, "execution limits are not configured", err.Error())
	}
	if err := ctx.Err(); err != nil {
		return s.failure(ctx, nil, provider, err, "")
	}

	conn, err := s.checkout(ctx, provider)
	if err != nil {
		if ctx.Err() != nil {
			return s.failure(ctx, nil, provider, err, "")
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return result.Failure(guard.ResourceExhausted, "no database connection became available in time", err.Error())
		}
		return result.Failure(guard.ExecutionFailed, "could not connect to the database", err.Error())
	}
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			s.logger.Warn("failed to release connection", zap.Error(err))
		}
	}()

	stmtCtx, cancel := context.WithTimeout(ctx, s.limits.StatementTimeout)
	defer cancel()

	tx, err := conn.BeginTx(stmtCtx, &sql.TxOptions{ReadOnly: provider.SupportsReadOnlyTx()})
	if err != nil {
		return s.failure(ctx, stmtCtx, provider, err, "could not open a read-only transaction")
	}
	// A cancelled context rolls the transaction back on its own, in which
	// case this returns sql.ErrTxDone.
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Warn("failed to roll back transaction", zap.Error(err))
		}
	}()

	for _, stmt := range provider.SessionStatements(s.limits.StatementTimeout) {
		if _, err := tx.ExecContext(stmtCtx, stmt); err != nil {
			return s.failure(ctx, stmtCtx, provider, err, "could not apply session limits")
		}
	}

	rows, err := tx.QueryContext(stmtCtx, v.SanitizedSQL, args...)
	if err != nil {
		return s.failure(ctx, stmtCtx, provider, err, "the database rejected the statement")
	}
	defer rows.Close()

	res, err := result.Materialize(rows, s.limits.MaxRows)
	if err != nil {
		return s.failure(ctx, stmtCtx, provider, err, "failed while reading rows")
	}
	if v.LimitApplied && res.RowCountReturned >= v.EffectiveLimit {
		res.Truncated = true
	}
	return res
}

func (s *Session) checkout(ctx context.Context, provider ConnectionProvider) (*sql.Conn, error) {
	checkoutCtx, cancel := context.WithTimeout(ctx, s.limits.CheckoutTimeout)
	defer cancel()
	return provider.Conn(checkoutCtx)
}

// failure maps err onto the taxonomy. The caller's context wins over the
// statement context so that a cancelled request is never reported as a
// timeout.
func (s *Session) failure(ctx, stmtCtx context.Context, provider ConnectionProvider, err error, message string) result.ExecutionResult {
	diag := err.Error()
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return result.Failure(guard.Cancelled, "request was cancelled", diag)
	case ctx.Err() != nil:
		return result.Failure(guard.Timeout, "request deadline exceeded", diag)
	case stmtCtx != nil && stmtCtx.Err() != nil,
		provider.IsTimeout(err),
		errors.Is(err, context.DeadlineExceeded):
		return result.Failure(guard.Timeout, "statement exceeded the "+s.limits.StatementTimeout.String()+" timeout", diag)
	}
	return result.Failure(guard.ExecutionFailed, message, diag)
}
