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

// Package sqlite serves local database files through the pure Go
// modernc.org/sqlite driver. Files are always opened read-only.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/catalog"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/config"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/database"
)

type sqliteHandler struct{}

var _ database.DialectHandler = (*sqliteHandler)(nil)

// DSN opens path read-only with writes refused at the connection level.
func DSN(path string) string {
	return "file:" + path + "?mode=ro&_pragma=query_only(1)"
}

func (h sqliteHandler) CreateCloudSQLPool(config.DatabaseConfig) (*sql.DB, error) {
	return nil, errors.New("sqlite has no Cloud SQL variant")
}

// CreateStandardPool treats cfg.DBName as the database file path.
func (h sqliteHandler) CreateStandardPool(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DBName == "" {
		return nil, errors.New("sqlite database file path is empty")
	}
	dbPool, err := sql.Open("sqlite", DSN(cfg.DBName))
	if err != nil {
		return nil, fmt.Errorf("sql.Open (sqlite): %w", err)
	}
	return dbPool, nil
}

func (h sqliteHandler) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (h sqliteHandler) DefaultSchema(config.DatabaseConfig) string {
	return "main"
}

func (h sqliteHandler) ListTables(ctx context.Context, db *database.DB) ([]string, error) {
	query := `
		SELECT name
		FROM sqlite_schema
		WHERE type IN ('table', 'view')
		AND name NOT LIKE 'sqlite_%'
		ORDER BY name;`

	tables, err := db.QueryStrings(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying tables: %w", err)
	}
	return tables, nil
}

func (h sqliteHandler) ListColumns(ctx context.Context, db *database.DB, tableName string) ([]catalog.Column, error) {
	query := "SELECT name, type FROM pragma_table_info(?) ORDER BY cid"

	cols, err := db.QueryColumns(ctx, query, tableName)
	if err != nil {
		return nil, fmt.Errorf("error querying columns for table %s: %w", tableName, err)
	}
	return cols, nil
}

// Read-only is enforced by the DSN and by query_only instead.
func (h sqliteHandler) SupportsReadOnlyTx() bool {
	return false
}

// SQLite has no statement timeout; the driver interrupts the statement when
// the context ends. busy_timeout bounds waiting on a writer's lock.
func (h sqliteHandler) SessionStatements(timeout time.Duration) []string {
	return []string{
		"PRAGMA query_only = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", database.Millis(timeout)),
	}
}

func (h sqliteHandler) IsTimeout(err error) bool {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code()&0xff == sqlite3.SQLITE_INTERRUPT || sqErr.Code()&0xff == sqlite3.SQLITE_BUSY
	}
	return false
}

func init() {
	database.RegisterDialectHandler("sqlite", sqliteHandler{})
}
