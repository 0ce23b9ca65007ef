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
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/catalog"
)

// Kind is the statement category.
type Kind int

const (
	Unknown Kind = iota
	Select
	Write
	DDL
	Multi
)

func (k Kind) String() string {
	switch k {
	case Select:
		return "SELECT"
	case Write:
		return "WRITE"
	case DDL:
		return "DDL"
	case Multi:
		return "MULTI"
	default:
		return "UNKNOWN"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Resolution says how a column reference was bound.
type Resolution int

const (
	// Unresolved references could not be bound to a catalog column or a
	// query-local name.
	Unresolved Resolution = iota
	// Resolved references name a column of a catalog table.
	Resolved
	// Local references name an output of a derived table, a CTE or a select alias.
	Local
)

func (r Resolution) String() string {
	switch r {
	case Resolved:
		return "resolved"
	case Local:
		return "local"
	default:
		return "unresolved"
	}
}

func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// TableRef is a table named in a FROM clause that is not a CTE.
type TableRef struct {
	Schema string `json:"schema,omitempty"`
	Name   string `json:"name"`
	// Found is set when the reference matched exactly one catalog table;
	// Schema and Name then hold the catalog spelling.
	Found bool `json:"found"`
	// Function is set for table-valued function calls.
	Function bool `json:"function,omitempty"`
}

// QualifiedName returns schema.name, or name when the schema is empty.
func (t TableRef) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ColumnRef is a column named anywhere in the statement.
type ColumnRef struct {
	// Table is the catalog table's qualified name for Resolved references.
	Table      string     `json:"table,omitempty"`
	Column     string     `json:"column"`
	Qualifier  string     `json:"qualifier,omitempty"`
	Resolution Resolution `json:"resolution"`
}

// StarSource is one relation covered by a star.
type StarSource struct {
	// Qualifier is the alias or table name text to qualify expanded columns with.
	Qualifier string `json:"qualifier"`
	// Table is set when the relation is a catalog table.
	Table *catalog.Table `json:"table,omitempty"`
	// Derived is set for subqueries, CTEs and table functions.
	Derived bool `json:"derived,omitempty"`
}

// StarRef is a "*" or "q.*" select item. Start and End span its text.
// Sources is empty when the star covers nothing that could be identified.
type StarRef struct {
	Qualified bool         `json:"qualified"`
	Start     int          `json:"start"`
	End       int          `json:"end"`
	Sources   []StarSource `json:"sources"`
}

// LimitStyle is the syntax a row limit was written in.
type LimitStyle int

const (
	LimitNone LimitStyle = iota
	LimitClause
	LimitFetch
	LimitTop
)

// LimitInfo describes the outermost row limit and where one can be added.
type LimitInfo struct {
	Style LimitStyle `json:"style"`
	// Literal is set when the count is a single integer literal (or ALL).
	Literal bool  `json:"literal"`
	All     bool  `json:"all,omitempty"`
	Value   int64 `json:"value"`
	// ValueStart and ValueEnd span the count text.
	ValueStart int `json:"value_start"`
	ValueEnd   int `json:"value_end"`
	// OffsetStart is the offset of a top-level OFFSET keyword, or -1.
	OffsetStart int `json:"offset_start"`
	// OffsetEnd is the end of the OFFSET clause, or -1.
	OffsetEnd  int  `json:"offset_end"`
	HasOrderBy bool `json:"has_order_by"`
	// TopInsert is where TOP can be written for a single-core query, or -1.
	TopInsert int `json:"top_insert"`
	SetOp     bool `json:"set_op"`
}

// Descriptor is the classification of one statement. It is a value; callers
// may keep it after the input string is gone.
type Descriptor struct {
	Kind          Kind         `json:"kind"`
	SyntaxValid   bool         `json:"syntax_valid"`
	Problem       string       `json:"problem,omitempty"`
	Tables        []TableRef   `json:"tables"`
	Columns       []ColumnRef  `json:"columns"`
	Stars         []StarRef    `json:"stars,omitempty"`
	HasStar       bool         `json:"has_star"`
	HasSubquery   bool         `json:"has_subquery"`
	HasLimit      bool         `json:"has_limit"`
	HasParams     bool         `json:"has_params"`
	Limit         LimitInfo    `json:"limit"`
	Functions     []string     `json:"functions,omitempty"`
	SubStatements []Descriptor `json:"sub_statements,omitempty"`
	RawText       string       `json:"raw_text"`
	// Start and End span the statement text without surrounding comments,
	// whitespace or a trailing semicolon.
	Start   int     `json:"start"`
	End     int     `json:"end"`
	Dialect Dialect `json:"-"`
}

// Text returns the statement text spanned by Start and End.
func (d Descriptor) Text() string {
	if d.End <= d.Start || d.End > len(d.RawText) {
		return ""
	}
	return d.RawText[d.Start:d.End]
}
