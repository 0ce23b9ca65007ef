package postgres

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/catalog"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/config"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/database"
)

// Helper to create a mock DB and handler for testing
func newMockPostgresDB(t *testing.T) (*database.DB, sqlmock.Sqlmock, *postgresHandler) {
	t.Helper()
	mockDb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("An error '%s' was not expected when opening a stub database connection", err)
	}

	handler := postgresHandler{}
	db := &database.DB{
		Pool:    mockDb,
		Handler: &handler,
		Config:  config.DatabaseConfig{Dialect: "postgres"},
	}
	return db, mock, &handler
}

func TestPostgresQuoteIdentifier(t *testing.T) {
	handler := postgresHandler{}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Simple name", "mytable", `"mytable"`},
		{"Name with spaces", "my table", `"my table"`},
		{"Name with quotes", `my"table`, `"my""table"`},
		{"Empty name", "", `""`},
		{"Keyword", "user", `"user"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := handler.QuoteIdentifier(tt.in); got != tt.want {
				t.Errorf("QuoteIdentifier() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPostgresListTables(t *testing.T) {
	db, mock, handler := newMockPostgresDB(t)
	defer db.Close()
	ctx := context.Background()

	expectedQuery := regexp.QuoteMeta(`
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		AND table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY table_name;`)

	t.Run("Success", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"table_name"}).
			AddRow("orders").
			AddRow("users")
		mock.ExpectQuery(expectedQuery).WillReturnRows(rows)

		tables, err := handler.ListTables(ctx, db)
		if err != nil {
			t.Fatalf("ListTables() error = %v", err)
		}
		if want := []string{"orders", "users"}; !reflect.DeepEqual(tables, want) {
			t.Errorf("ListTables() = %v, want %v", tables, want)
		}
	})

	t.Run("Query error", func(t *testing.T) {
		mock.ExpectQuery(expectedQuery).WillReturnError(fmt.Errorf("connection reset"))

		if _, err := handler.ListTables(ctx, db); err == nil {
			t.Error("ListTables() expected error, got nil")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPostgresListColumns(t *testing.T) {
	db, mock, handler := newMockPostgresDB(t)
	defer db.Close()
	ctx := context.Background()

	expectedQuery := regexp.QuoteMeta(`
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		AND table_name = $1
		ORDER BY ordinal_position;`)

	t.Run("Success", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("id", "integer").
			AddRow("total", "numeric")
		mock.ExpectQuery(expectedQuery).WithArgs("orders").WillReturnRows(rows)

		cols, err := handler.ListColumns(ctx, db, "orders")
		if err != nil {
			t.Fatalf("ListColumns() error = %v", err)
		}
		want := []catalog.Column{{Name: "id", Type: "integer"}, {Name: "total", Type: "numeric"}}
		if !reflect.DeepEqual(cols, want) {
			t.Errorf("ListColumns() = %v, want %v", cols, want)
		}
	})

	t.Run("Scan error", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"column_name"}).AddRow("id")
		mock.ExpectQuery(expectedQuery).WithArgs("orders").WillReturnRows(rows)

		if _, err := handler.ListColumns(ctx, db, "orders"); err == nil {
			t.Error("ListColumns() expected scan error, got nil")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPostgresSessionStatements(t *testing.T) {
	handler := postgresHandler{}

	got := handler.SessionStatements(5 * time.Second)
	want := []string{"SET TRANSACTION READ ONLY", "SET LOCAL statement_timeout = 5000"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SessionStatements() = %v, want %v", got, want)
	}
	if got := handler.SessionStatements(0); got[1] != "SET LOCAL statement_timeout = 1" {
		t.Errorf("SessionStatements(0) = %v, want a 1ms timeout", got)
	}
	if !handler.SupportsReadOnlyTx() {
		t.Error("SupportsReadOnlyTx() = false, want true")
	}
	if got := handler.DefaultSchema(config.DatabaseConfig{}); got != "public" {
		t.Errorf("DefaultSchema() = %q, want public", got)
	}
}

func TestPostgresIsTimeout(t *testing.T) {
	handler := postgresHandler{}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"pgx statement timeout", &pgconn.PgError{Code: "57014"}, true},
		{"wrapped pgx timeout", fmt.Errorf("query: %w", &pgconn.PgError{Code: "57014"}), true},
		{"lib/pq statement timeout", &pq.Error{Code: "57014"}, true},
		{"pgx syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"lib/pq permission denied", &pq.Error{Code: "42501"}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := handler.IsTimeout(tt.err); got != tt.want {
				t.Errorf("IsTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPostgresRegistered(t *testing.T) {
	for _, dialect := range []string{"postgres", "cloudsqlpostgres"} {
		h, err := database.GetDialectHandler(dialect)
		if err != nil {
			t.Fatalf("GetDialectHandler(%q) error = %v", dialect, err)
		}
		if _, ok := h.(postgresHandler); !ok {
			t.Errorf("GetDialectHandler(%q) = %T, want postgresHandler", dialect, h)
		}
	}
}
