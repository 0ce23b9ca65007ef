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

// Package result turns driver rows into a portable, serializable envelope.
package result

import (
	"database/sql"
	"fmt"
	"iter"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/guard"
)

// Cursor is the part of *sql.Rows the materializer reads.
type Cursor interface {
	Columns() ([]string, error)
	ColumnTypes() ([]*sql.ColumnType, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

var _ Cursor = (*sql.Rows)(nil)

// ExecutionResult is the outcome of one execution. Row values are limited to
// string, int64, float64, bool and nil; timestamps are RFC 3339 strings.
type ExecutionResult struct {
	Columns          []string        `json:"columns"`
	Rows             [][]any         `json:"rows"`
	RowCountReturned int             `json:"row_count_returned"`
	Truncated        bool            `json:"truncated"`
	ElapsedMs        int64           `json:"elapsed_ms"`
	Error            guard.ErrorKind `json:"error,omitempty"`
	Message          string          `json:"message,omitempty"`
	// Diagnostic holds driver detail for logs. It is never serialized.
	Diagnostic string `json:"-"`
}

// Failed reports whether the result carries an error.
func (r ExecutionResult) Failed() bool {
	return r.Error != guard.KindNone
}

// Err returns the failure as a *guard.Error, or nil.
func (r ExecutionResult) Err() error {
	if !r.Failed() {
		return nil
	}
	return guard.New(r.Error, "%s", r.Message)
}

// Failure builds a result that carries only an error.
func Failure(kind guard.ErrorKind, message, diagnostic string) ExecutionResult {
	return ExecutionResult{
		Columns:    []string{},
		Rows:       [][]any{},
		Error:      kind,
		Message:    message,
		Diagnostic: diagnostic,
	}
}

// Materialize reads at most maxRows rows from c. Truncated is set when the
// cursor had another row available. Errors from the cursor are returned as is
// together with the rows read so far.
func Materialize(c Cursor, maxRows int) (ExecutionResult, error) {
	res := ExecutionResult{Columns: []string{}, Rows: [][]any{}}
	if maxRows <= 0 {
		return res, fmt.Errorf("maxRows must be positive, got %d", maxRows)
	}

	cols, err := c.Columns()
	if err != nil {
		return res, fmt.Errorf("failed to read result columns: %w", err)
	}
	types, err := c.ColumnTypes()
	if err != nil {
		return res, fmt.Errorf("failed to read result column types: %w", err)
	}
	res.Columns = append(res.Columns, cols...)

	dbTypes := make([]string, len(cols))
	for i := range dbTypes {
		if i < len(types) && types[i] != nil {
			dbTypes[i] = types[i].DatabaseTypeName()
		}
	}

	for row, err := range Rows(c, dbTypes) {
		if err != nil {
			return res, err
		}
		if len(res.Rows) == maxRows {
			res.Truncated = true
			break
		}
		res.Rows = append(res.Rows, row)
	}
	res.RowCountReturned = len(res.Rows)
	return res, nil
}

// Rows yields converted rows lazily. dbTypes holds the database type name of
// each column and drives numeric conversion. The sequence stops after the
// first error.
func Rows(c Cursor, dbTypes []string) iter.Seq2[[]any, error] {
	return func(yield func([]any, error) bool) {
		raw := make([]any, len(dbTypes))
		dest := make([]any, len(dbTypes))
		for i := range raw {
			dest[i] = &raw[i]
		}
		for c.Next() {
			if err := c.Scan(dest...); err != nil {
				yield(nil, fmt.Errorf("failed to scan row: %w", err))
				return
			}
			row := make([]any, len(raw))
			for i, v := range raw {
				row[i] = Convert(v, dbTypes[i])
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := c.Err(); err != nil {
			yield(nil, err)
		}
	}
}
