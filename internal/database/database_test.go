package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/catalog"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/config"
)

// Mock DialectHandler implementation
type mockDialectHandler struct {
	mu                   sync.Mutex
	createCloudSQLPoolFn func(cfg config.DatabaseConfig) (*sql.DB, error)
	createStandardPoolFn func(cfg config.DatabaseConfig) (*sql.DB, error)
	listTablesFn         func(db *DB) ([]string, error)
	listColumnsFn        func(db *DB, tableName string) ([]catalog.Column, error)

	// Call counters/trackers
	cloudSQLPoolCalls  int
	standardPoolCalls  int
	listTablesCalls    int
	listColumnsCalls   int
	isTimeoutCalls     int
	sessionStmtCalls   int
	readOnlyCheckCalls int
}

func (m *mockDialectHandler) CreateCloudSQLPool(cfg config.DatabaseConfig) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cloudSQLPoolCalls++
	if m.createCloudSQLPoolFn != nil {
		return m.createCloudSQLPoolFn(cfg)
	}
	mockDb, _, _ := sqlmock.New()
	return mockDb, nil
}

func (m *mockDialectHandler) CreateStandardPool(cfg config.DatabaseConfig) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.standardPoolCalls++
	if m.createStandardPoolFn != nil {
		return m.createStandardPoolFn(cfg)
	}
	mockDb, _, _ := sqlmock.New()
	return mockDb, nil
}

func (m *mockDialectHandler) QuoteIdentifier(name string) string { return fmt.Sprintf(`"%s"`, name) }

func (m *mockDialectHandler) DefaultSchema(cfg config.DatabaseConfig) string { return "mock_" + cfg.DBName }

func (m *mockDialectHandler) ListTables(ctx context.Context, db *DB) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listTablesCalls++
	if m.listTablesFn != nil {
		return m.listTablesFn(db)
	}
	return []string{"table1"}, nil
}

func (m *mockDialectHandler) ListColumns(ctx context.Context, db *DB, tableName string) ([]catalog.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listColumnsCalls++
	if m.listColumnsFn != nil {
		return m.listColumnsFn(db, tableName)
	}
	return []catalog.Column{{Name: "col1", Type: "text"}}, nil
}

func (m *mockDialectHandler) SupportsReadOnlyTx() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnlyCheckCalls++
	return true
}

func (m *mockDialectHandler) SessionStatements(timeout time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionStmtCalls++
	return []string{fmt.Sprintf("SET timeout = %d", Millis(timeout))}
}

func (m *mockDialectHandler) IsTimeout(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isTimeoutCalls++
	return errors.Is(err, context.DeadlineExceeded)
}

// withHandlers swaps in a clean registry for the duration of the test.
func withHandlers(t *testing.T) {
	t.Helper()
	mu.Lock()
	originalHandlers := dialectHandlers
	dialectHandlers = make(map[string]DialectHandler)
	mu.Unlock()

	t.Cleanup(func() {
		mu.Lock()
		dialectHandlers = originalHandlers
		mu.Unlock()
	})
}

func TestRegisterAndGetDialectHandler(t *testing.T) {
	withHandlers(t)

	mockHandler := &mockDialectHandler{}
	testDialect := "testdialect"

	// Test Get before Register
	_, err := GetDialectHandler(testDialect)
	if err == nil {
		t.Errorf("Expected error when getting unregistered dialect, got nil")
	}

	// Test Register
	RegisterDialectHandler(testDialect, mockHandler)

	handler, err := GetDialectHandler(testDialect)
	if err != nil {
		t.Errorf("Unexpected error getting registered dialect: %v", err)
	}
	if handler != mockHandler {
		t.Errorf("Got wrong handler back, expected mock, got %T", handler)
	}

	// Test Overwrite
	mockHandler2 := &mockDialectHandler{}
	RegisterDialectHandler(testDialect, mockHandler2)
	handler, err = GetDialectHandler(testDialect)
	if err != nil {
		t.Errorf("Unexpected error getting overwritten dialect: %v", err)
	}
	if handler != mockHandler2 {
		t.Errorf("Got wrong handler back after overwrite, expected mock2, got %T", handler)
	}
}

func TestNew(t *testing.T) {
	withHandlers(t)
	ctx := context.Background()

	t.Run("Standard pool is sized and pinged", func(t *testing.T) {
		var mock sqlmock.Sqlmock
		handler := &mockDialectHandler{
			createStandardPoolFn: func(cfg config.DatabaseConfig) (*sql.DB, error) {
				db, m, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
				mock = m
				m.ExpectPing()
				return db, err
			},
		}
		RegisterDialectHandler("mock", handler)

		db, err := New(ctx, config.DatabaseConfig{Dialect: "mock", DBName: "shop", MaxOpenConns: 3})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer db.Close()

		if handler.standardPoolCalls != 1 || handler.cloudSQLPoolCalls != 0 {
			t.Errorf("expected one standard pool, got standard=%d cloudsql=%d", handler.standardPoolCalls, handler.cloudSQLPoolCalls)
		}
		if got := db.Pool.Stats().MaxOpenConnections; got != 3 {
			t.Errorf("MaxOpenConnections = %d, want 3", got)
		}
		if got := db.DefaultSchema(); got != "mock_shop" {
			t.Errorf("DefaultSchema() = %q, want mock_shop", got)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("there were unfulfilled expectations: %s", err)
		}
	})

	t.Run("Cloud SQL dialect uses the connector pool", func(t *testing.T) {
		handler := &mockDialectHandler{}
		RegisterDialectHandler("cloudsqlmock", handler)

		db, err := New(ctx, config.DatabaseConfig{Dialect: "cloudsqlmock"})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer db.Close()
		if handler.cloudSQLPoolCalls != 1 || handler.standardPoolCalls != 0 {
			t.Errorf("expected one cloudsql pool, got standard=%d cloudsql=%d", handler.standardPoolCalls, handler.cloudSQLPoolCalls)
		}
	})

	t.Run("Ping failure", func(t *testing.T) {
		RegisterDialectHandler("mock", &mockDialectHandler{
			createStandardPoolFn: func(cfg config.DatabaseConfig) (*sql.DB, error) {
				db, m, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
				m.ExpectPing().WillReturnError(errors.New("connection refused"))
				return db, err
			},
		})
		if _, err := New(ctx, config.DatabaseConfig{Dialect: "mock"}); err == nil {
			t.Error("New() expected ping error, got nil")
		}
	})

	t.Run("Pool creation failure", func(t *testing.T) {
		RegisterDialectHandler("mock", &mockDialectHandler{
			createStandardPoolFn: func(cfg config.DatabaseConfig) (*sql.DB, error) {
				return nil, errors.New("bad dsn")
			},
		})
		if _, err := New(ctx, config.DatabaseConfig{Dialect: "mock"}); err == nil {
			t.Error("New() expected pool error, got nil")
		}
	})

	t.Run("Unknown dialect", func(t *testing.T) {
		if _, err := New(ctx, config.DatabaseConfig{Dialect: "oracle"}); err == nil {
			t.Error("New() expected unsupported dialect error, got nil")
		}
	})
}

// Helper to create a DB with a mock handler and pool for delegation tests
func newTestDBWithMockHandler(t *testing.T, handler DialectHandler) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDb, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("An error '%s' was not expected when opening a stub database connection", err)
	}

	return &DB{
		Pool:    mockDb,
		Handler: handler,
		Config:  config.DatabaseConfig{Dialect: "mock"},
	}, mock
}

func TestDBMethodsDelegateToHandler(t *testing.T) {
	mockHandler := &mockDialectHandler{}
	db, mock := newTestDBWithMockHandler(t, mockHandler)
	defer db.Close()
	ctx := context.Background()

	tests := []struct {
		name          string
		dbMethodCall  func() error
		expectedCalls *int
	}{
		{"ListTables", func() error { _, err := db.ListTables(ctx); return err }, &mockHandler.listTablesCalls},
		{"ListColumns", func() error { _, err := db.ListColumns(ctx, "t1"); return err }, &mockHandler.listColumnsCalls},
		{"SupportsReadOnlyTx", func() error { db.SupportsReadOnlyTx(); return nil }, &mockHandler.readOnlyCheckCalls},
		{"SessionStatements", func() error { db.SessionStatements(time.Second); return nil }, &mockHandler.sessionStmtCalls},
		{"IsTimeout", func() error { db.IsTimeout(nil); return nil }, &mockHandler.isTimeoutCalls},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initialCalls := *tt.expectedCalls

			if err := tt.dbMethodCall(); err != nil {
				t.Errorf("db.%s() returned unexpected error: %v", tt.name, err)
			}
			if *tt.expectedCalls != initialCalls+1 {
				t.Errorf("Expected handler method for %s to be called once, got %d calls", tt.name, *tt.expectedCalls-initialCalls)
			}
		})
	}

	mock.ExpectPing()
	if err := db.Ping(ctx); err != nil {
		t.Errorf("db.Ping() returned unexpected error: %v", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("db.Conn() returned unexpected error: %v", err)
	}
	conn.Close()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestDBWithoutHandler(t *testing.T) {
	db := &DB{}
	ctx := context.Background()

	if _, err := db.ListTables(ctx); err == nil {
		t.Error("ListTables() expected error without handler")
	}
	if _, err := db.ListColumns(ctx, "t"); err == nil {
		t.Error("ListColumns() expected error without handler")
	}
	if _, err := db.Conn(ctx); err == nil {
		t.Error("Conn() expected error without pool")
	}
	if err := db.Ping(ctx); err == nil {
		t.Error("Ping() expected error without pool")
	}
	if db.SupportsReadOnlyTx() || db.IsTimeout(context.DeadlineExceeded) || db.SessionStatements(time.Second) != nil {
		t.Error("a DB without handler must not claim any engine support")
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestQueryHelpers(t *testing.T) {
	db, mock := newTestDBWithMockHandler(t, &mockDialectHandler{})
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery("SELECT name FROM tables").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("a").AddRow("b"))
	got, err := db.QueryStrings(ctx, "SELECT name FROM tables")
	if err != nil {
		t.Fatalf("QueryStrings() error = %v", err)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("QueryStrings() = %v, want %v", got, want)
	}

	mock.ExpectQuery("SELECT name, type FROM columns").WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type"}).AddRow("id", "int"))
	cols, err := db.QueryColumns(ctx, "SELECT name, type FROM columns WHERE table = ?", "t1")
	if err != nil {
		t.Fatalf("QueryColumns() error = %v", err)
	}
	if want := []catalog.Column{{Name: "id", Type: "int"}}; !reflect.DeepEqual(cols, want) {
		t.Errorf("QueryColumns() = %v, want %v", cols, want)
	}

	mock.ExpectQuery("SELECT name FROM tables").WillReturnError(errors.New("gone"))
	if _, err := db.QueryStrings(ctx, "SELECT name FROM tables"); err == nil {
		t.Error("QueryStrings() expected error, got nil")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestDBIntrospectsIntoCatalog(t *testing.T) {
	handler := &mockDialectHandler{
		listTablesFn: func(db *DB) ([]string, error) { return []string{"orders", "audit"}, nil },
		listColumnsFn: func(db *DB, tableName string) ([]catalog.Column, error) {
			return []catalog.Column{{Name: "id", Type: "int"}, {Name: "total", Type: "numeric"}}, nil
		},
	}
	db, _ := newTestDBWithMockHandler(t, handler)
	defer db.Close()
	db.Config.DBName = "shop"

	cat, err := catalog.FromIntrospection(context.Background(), db, map[string][]string{"orders": {"id"}}, nil)
	if err != nil {
		t.Fatalf("FromIntrospection() error = %v", err)
	}
	if handler.listColumnsCalls != 1 {
		t.Errorf("expected columns to be listed for the allowed table only, got %d calls", handler.listColumnsCalls)
	}
	schema := catalog.Ident{Name: "mock_shop", Quoted: true}
	orders, ok := cat.Lookup(&schema, catalog.Ident{Name: "orders"})
	if !ok || !orders.Allowed {
		t.Fatalf("orders missing or not allowed: %+v", orders)
	}
	if got := orders.AllowedColumns(); len(got) != 1 || got[0].Name != "id" {
		t.Errorf("AllowedColumns() = %v, want only id", got)
	}
}
