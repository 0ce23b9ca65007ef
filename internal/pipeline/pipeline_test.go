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
package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/catalog"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/classifier"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/genai"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/guard"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/policy"
)

// MockLLMClient is a mock implementation of genai.LLMClient
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) GenerateSQL(ctx context.Context, in genai.PromptInput) (string, error) {
	args := m.Called(ctx, in)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) IsAPIKeyValid(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockLLMClient) Close() error {
	return nil
}

var errEngineTimeout = errors.New("canceling statement due to statement timeout")

type sqlmockProvider struct{ db *sql.DB }

func (p sqlmockProvider) Conn(ctx context.Context) (*sql.Conn, error) { return p.db.Conn(ctx) }
func (p sqlmockProvider) SupportsReadOnlyTx() bool                    { return true }
func (p sqlmockProvider) SessionStatements(time.Duration) []string    { return nil }
func (p sqlmockProvider) IsTimeout(err error) bool                    { return errors.Is(err, errEngineTimeout) }

type fakeIntrospector struct{ tables []string }

func (f fakeIntrospector) DefaultSchema() string { return "public" }
func (f fakeIntrospector) ListTables(context.Context) ([]string, error) {
	return f.tables, nil
}
func (f fakeIntrospector) ListColumns(context.Context, string) ([]catalog.Column, error) {
	return []catalog.Column{{Name: "id", Type: "integer"}, {Name: "total", Type: "numeric"}}, nil
}

func ordersCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.Table{{
		Schema:  "public",
		Name:    "orders",
		Allowed: true,
		Columns: []catalog.Column{
			{Name: "id", Type: "integer", Allowed: true},
			{Name: "total", Type: "numeric", Allowed: true},
		},
	}})
	require.NoError(t, err)
	return cat
}

func newTestService(t *testing.T, llm genai.LLMClient) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t)
	limits := guard.DefaultLimits()
	limits.StatementTimeout = 200 * time.Millisecond
	svc, err := NewService(Options{
		Catalog:  catalog.NewHolder(ordersCatalog(t)),
		Gate:     policy.NewGate(classifier.Postgres, limits, logger),
		Provider: sqlmockProvider{db: db},
		LLM:      llm,
		Retry: guard.RetryOptions{
			MaxAttempts:       2,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        time.Millisecond,
			BackoffMultiplier: 2,
		},
		Logger:       logger,
		Introspector: fakeIntrospector{tables: []string{"orders", "customers"}},
		Allowed:      map[string][]string{"customers": nil},
	})
	require.NoError(t, err)
	return svc, dbMock
}

func orderRows(dbMock sqlmock.Sqlmock) *sqlmock.Rows {
	return dbMock.NewRowsWithColumnDefinition(
		dbMock.NewColumn("id").OfType("INT4", int64(0)),
		dbMock.NewColumn("total").OfType("NUMERIC", []byte("0")),
	).AddRow(int64(1), []byte("12.50"))
}

const sanitized = "SELECT id, total FROM orders LIMIT 500"

func TestNewServiceRequiresGate(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	svc, dbMock := newTestService(t, nil)

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(regexp.QuoteMeta(sanitized)).WillReturnRows(orderRows(dbMock))
	dbMock.ExpectRollback()

	resp := svc.Run(context.Background(), Request{SQL: "SELECT id, total FROM orders"})
	require.NoError(t, resp.Err())
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, sanitized, resp.Verdict.SanitizedSQL)
	require.NotNil(t, resp.Result)
	assert.Equal(t, [][]any{{int64(1), 12.5}}, resp.Result.Rows)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestRunRejectionIsFinal(t *testing.T) {
	svc, dbMock := newTestService(t, nil)

	resp := svc.Run(context.Background(), Request{SQL: "SELECT id FROM orders; DROP TABLE orders"})
	assert.Equal(t, policy.Reject, resp.Verdict.Decision)
	assert.Nil(t, resp.Result)
	assert.ErrorIs(t, resp.Err(), &guard.Error{Kind: guard.ForbiddenStatementKind})
	assert.NoError(t, dbMock.ExpectationsWereMet(), "nothing may reach the database")
}

func TestRunRetriesTimeouts(t *testing.T) {
	svc, dbMock := newTestService(t, nil)

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(regexp.QuoteMeta(sanitized)).WillReturnError(errEngineTimeout)
	dbMock.ExpectRollback()
	dbMock.ExpectBegin()
	dbMock.ExpectQuery(regexp.QuoteMeta(sanitized)).WillReturnRows(orderRows(dbMock))
	dbMock.ExpectRollback()

	resp := svc.Run(context.Background(), Request{SQL: "SELECT id, total FROM orders"})
	require.NoError(t, resp.Err())
	assert.Equal(t, 1, resp.Result.RowCountReturned)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestRunDoesNotRetryExecutionFailures(t *testing.T) {
	svc, dbMock := newTestService(t, nil)

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(regexp.QuoteMeta(sanitized)).WillReturnError(errors.New("permission denied for table orders"))
	dbMock.ExpectRollback()

	resp := svc.Run(context.Background(), Request{SQL: "SELECT id, total FROM orders"})
	assert.Equal(t, guard.ExecutionFailed, resp.Result.Error)
	assert.NotContains(t, resp.Result.Message, "permission denied")
	assert.NoError(t, dbMock.ExpectationsWereMet())

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "permission denied")
}

func TestRunCancelledBeforeStart(t *testing.T) {
	svc, dbMock := newTestService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := svc.Run(ctx, Request{SQL: "SELECT id, total FROM orders"})
	require.NotNil(t, resp.Result)
	assert.Equal(t, guard.Cancelled, resp.Result.Error)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestAsk(t *testing.T) {
	llm := new(MockLLMClient)
	svc, dbMock := newTestService(t, llm)

	llm.On("GenerateSQL", mock.Anything, mock.MatchedBy(func(in genai.PromptInput) bool {
		return in.Question == "total of order 1?" &&
			in.Dialect == "postgres" &&
			in.MaxRows == 500 &&
			regexp.MustCompile(`TABLE public\.orders`).MatchString(in.SchemaContext)
	})).Return("SELECT id, total FROM orders", nil)

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(regexp.QuoteMeta(sanitized)).WillReturnRows(orderRows(dbMock))
	dbMock.ExpectRollback()

	resp, err := svc.Ask(context.Background(), "total of order 1?", "")
	require.NoError(t, err)
	assert.Equal(t, "total of order 1?", resp.Question)
	assert.Equal(t, "SELECT id, total FROM orders", resp.CandidateSQL)
	require.NoError(t, resp.Err())
	llm.AssertExpectations(t)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestAskModelOutputIsStillGated(t *testing.T) {
	llm := new(MockLLMClient)
	svc, dbMock := newTestService(t, llm)
	llm.On("GenerateSQL", mock.Anything, mock.Anything).Return("DELETE FROM orders", nil)

	resp, err := svc.Ask(context.Background(), "remove everything", "")
	require.NoError(t, err)
	assert.Equal(t, guard.ForbiddenStatementKind, resp.Verdict.Reason)
	assert.Nil(t, resp.Result)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestAskModelFailure(t *testing.T) {
	llm := new(MockLLMClient)
	svc, _ := newTestService(t, llm)
	llm.On("GenerateSQL", mock.Anything, mock.Anything).Return("", genai.ErrNoSQL)

	_, err := svc.Ask(context.Background(), "what is the meaning of life?", "")
	assert.ErrorIs(t, err, genai.ErrNoSQL)

	svc.llm = nil
	_, err = svc.Ask(context.Background(), "q", "")
	assert.Error(t, err)
}

func TestRefreshCatalog(t *testing.T) {
	svc, _ := newTestService(t, nil)

	assert.Equal(t, guard.TableNotAllowed, svc.Check("", "SELECT id FROM customers").Reason)

	require.NoError(t, svc.RefreshCatalog(context.Background()))
	assert.True(t, svc.Check("", "SELECT id FROM customers").Allowed())
	// orders was not in the refreshed allow-list.
	assert.Equal(t, guard.TableNotAllowed, svc.Check("", "SELECT id FROM orders").Reason)

	svc.introspector = nil
	assert.Error(t, svc.RefreshCatalog(context.Background()))
}
