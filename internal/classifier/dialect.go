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
package classifier

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/catalog"
)

// Dialect selects the lexical and clause rules of a database engine.
type Dialect int

const (
	Postgres Dialect = iota
	MySQL
	SQLServer
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	case SQLServer:
		return "sqlserver"
	case SQLite:
		return "sqlite"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// DialectFor maps a connection dialect name (including the cloudsql
// variants) to its SQL dialect.
func DialectFor(name string) (Dialect, error) {
	switch strings.TrimPrefix(strings.ToLower(name), "cloudsql") {
	case "postgres", "postgresql":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("unsupported dialect: %s", name)
	}
}

// QuoteIdentifier quotes name for use in generated SQL text.
func (d Dialect) QuoteIdentifier(name string) string {
	switch d {
	case MySQL:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case SQLServer:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	case SQLite:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	default:
		return pq.QuoteIdentifier(name)
	}
}

// UsesTop reports whether row limits are written as TOP/OFFSET-FETCH rather than LIMIT.
func (d Dialect) UsesTop() bool {
	return d == SQLServer
}

// caseRule is how the engine resolves unquoted identifiers. PostgreSQL folds
// them to lower case; the others are matched case-insensitively.
func (d Dialect) caseRule() catalog.CaseRule {
	if d == Postgres {
		return catalog.LowerUnquoted
	}
	return catalog.CaseInsensitive
}

func (d Dialect) nestedComments() bool {
	return d == Postgres || d == SQLServer
}

func (d Dialect) backtickIdents() bool {
	return d == MySQL || d == SQLite
}

func (d Dialect) bracketIdents() bool {
	return d == SQLServer || d == SQLite
}
