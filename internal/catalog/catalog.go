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

// Package catalog holds the immutable snapshot of tables and columns that
// generated queries are checked against, together with the allow-list.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Column is a column of a catalog table.
type Column struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type,omitempty" json:"type,omitempty"`
	Allowed bool   `yaml:"allowed" json:"allowed"`
}

// Table is a catalog table. Columns keep their declared order.
type Table struct {
	Schema  string   `yaml:"schema,omitempty" json:"schema,omitempty"`
	Name    string   `yaml:"name" json:"name"`
	Allowed bool     `yaml:"allowed" json:"allowed"`
	Columns []Column `yaml:"columns" json:"columns"`
}

// QualifiedName returns schema.name, or name when the schema is empty.
func (t Table) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Column finds a column by identifier.
func (t Table) Column(id Ident) (Column, bool) {
	return t.ColumnRule(id, CaseInsensitive)
}

// ColumnRule finds a column by identifier under the given case rule.
func (t Table) ColumnRule(id Ident, r CaseRule) (Column, bool) {
	for _, c := range t.Columns {
		if id.MatchesRule(c.Name, r) {
			return c, true
		}
	}
	return Column{}, false
}

// AllowedColumns returns the allow-listed columns in declared order.
func (t Table) AllowedColumns() []Column {
	if !t.Allowed {
		return nil
	}
	out := make([]Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.Allowed {
			out = append(out, c)
		}
	}
	return out
}

// Ident is an identifier as written in SQL. Quoted identifiers match exactly,
// unquoted ones match case-insensitively after NFKC normalization.
type Ident struct {
	Name   string
	Quoted bool
}

// CaseRule is how an engine compares an unquoted identifier with a stored
// name. Quoted identifiers always compare exactly.
type CaseRule int

const (
	// CaseInsensitive compares unquoted names after folding both sides.
	CaseInsensitive CaseRule = iota
	// LowerUnquoted folds the unquoted name only; the stored name must equal
	// the folded form. This is how PostgreSQL resolves names.
	LowerUnquoted
)

// Matches reports whether the identifier refers to the catalog name.
func (id Ident) Matches(name string) bool {
	return id.MatchesRule(name, CaseInsensitive)
}

// MatchesRule reports whether the identifier refers to the stored name
// under r.
func (id Ident) MatchesRule(name string, r CaseRule) bool {
	switch {
	case id.Quoted:
		return id.Name == name
	case r == LowerUnquoted:
		return Fold(id.Name) == name
	default:
		return Fold(id.Name) == Fold(name)
	}
}

// Same reports whether two identifiers written in a statement name the same
// object. Under CaseInsensitive each must match the other's spelling, so a
// quoted and an unquoted name that differ only in case are distinct.
func (id Ident) Same(other Ident, r CaseRule) bool {
	if r == LowerUnquoted {
		return id.effective() == other.effective()
	}
	return id.Matches(other.Name) && other.Matches(id.Name)
}

func (id Ident) effective() string {
	if id.Quoted {
		return id.Name
	}
	return Fold(id.Name)
}

func (id Ident) String() string {
	return id.Name
}

// Fold normalizes an unquoted identifier for comparison.
func Fold(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// Catalog is an immutable schema snapshot. A nil *Catalog allows nothing.
type Catalog struct {
	tables []Table
	byName map[string][]int
}

// New builds a catalog. Tables whose schema and name collide after folding
// are rejected, as are duplicate columns within a table.
func New(tables []Table) (*Catalog, error) {
	c := &Catalog{
		tables: make([]Table, 0, len(tables)),
		byName: make(map[string][]int, len(tables)),
	}

	sorted := make([]Table, len(tables))
	copy(sorted, tables)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].QualifiedName() < sorted[j].QualifiedName()
	})

	seen := make(map[string]bool, len(sorted))
	for _, t := range sorted {
		if t.Name == "" {
			return nil, fmt.Errorf("catalog table with empty name")
		}
		key := Fold(t.Schema) + "." + Fold(t.Name)
		if seen[key] {
			return nil, fmt.Errorf("duplicate catalog table %q", t.QualifiedName())
		}
		seen[key] = true

		cols := make([]Column, len(t.Columns))
		copy(cols, t.Columns)
		colSeen := make(map[string]bool, len(cols))
		for _, col := range cols {
			ck := Fold(col.Name)
			if colSeen[ck] {
				return nil, fmt.Errorf("duplicate column %q in table %q", col.Name, t.QualifiedName())
			}
			colSeen[ck] = true
		}
		t.Columns = cols

		c.byName[Fold(t.Name)] = append(c.byName[Fold(t.Name)], len(c.tables))
		c.tables = append(c.tables, t)
	}
	return c, nil
}

// Empty returns a catalog with no tables.
func Empty() *Catalog {
	c, _ := New(nil)
	return c
}

// Len returns the number of tables.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tables)
}

// Tables returns a copy of all tables sorted by qualified name.
func (c *Catalog) Tables() []Table {
	if c == nil {
		return nil
	}
	out := make([]Table, len(c.tables))
	for i, t := range c.tables {
		t.Columns = append([]Column(nil), t.Columns...)
		out[i] = t
	}
	return out
}

// Lookup resolves a possibly schema-qualified table reference. An unqualified
// name that matches tables in more than one schema does not resolve.
func (c *Catalog) Lookup(schema *Ident, name Ident) (Table, bool) {
	return c.LookupRule(schema, name, CaseInsensitive)
}

// LookupRule is Lookup with the engine's case rule.
func (c *Catalog) LookupRule(schema *Ident, name Ident, r CaseRule) (Table, bool) {
	if c == nil {
		return Table{}, false
	}
	var (
		found Table
		n     int
	)
	for _, idx := range c.byName[Fold(name.Name)] {
		t := c.tables[idx]
		if !name.MatchesRule(t.Name, r) {
			continue
		}
		if schema != nil && !schema.MatchesRule(t.Schema, r) {
			continue
		}
		found = t
		n++
	}
	if n != 1 {
		return Table{}, false
	}
	found.Columns = append([]Column(nil), found.Columns...)
	return found, true
}

// Restrict returns a copy of the catalog in which only the tables named in
// allowed are allow-listed. A key may be "table" or "schema.table"; a nil or
// empty column list allows every column of that table. An empty map allows
// nothing. Entries that match no table are returned in missing.
func (c *Catalog) Restrict(allowed map[string][]string) (restricted *Catalog, missing []string, err error) {
	tables := c.Tables()
	for i := range tables {
		tables[i].Allowed = false
		for j := range tables[i].Columns {
			tables[i].Columns[j].Allowed = false
		}
	}
	next, err := New(tables)
	if err != nil {
		return nil, nil, err
	}

	keys := make([]string, 0, len(allowed))
	for k := range allowed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		schema, name := splitQualified(key)
		var matched []int
		for _, idx := range next.byName[Fold(name.Name)] {
			t := next.tables[idx]
			if name.Matches(t.Name) && (schema == nil || schema.Matches(t.Schema)) {
				matched = append(matched, idx)
			}
		}
		if len(matched) == 0 {
			missing = append(missing, key)
			continue
		}
		for _, idx := range matched {
			t := &next.tables[idx]
			t.Allowed = true
			cols := allowed[key]
			for j := range t.Columns {
				if len(cols) == 0 {
					t.Columns[j].Allowed = true
					continue
				}
				for _, name := range cols {
					if (Ident{Name: strings.TrimSpace(name)}).Matches(t.Columns[j].Name) {
						t.Columns[j].Allowed = true
					}
				}
			}
		}
	}
	return next, missing, nil
}

// FormatContext renders the allow-listed part of the catalog for a prompt.
func (c *Catalog) FormatContext() string {
	var b strings.Builder
	for _, t := range c.Tables() {
		cols := t.AllowedColumns()
		if len(cols) == 0 {
			continue
		}
		fmt.Fprintf(&b, "TABLE %s (\n", t.QualifiedName())
		for i, col := range cols {
			sep := ","
			if i == len(cols)-1 {
				sep = ""
			}
			if col.Type != "" {
				fmt.Fprintf(&b, "  %s %s%s\n", col.Name, col.Type, sep)
			} else {
				fmt.Fprintf(&b, "  %s%s\n", col.Name, sep)
			}
		}
		b.WriteString(");\n")
	}
	return b.String()
}

func splitQualified(key string) (*Ident, Ident) {
	key = strings.TrimSpace(key)
	if i := strings.LastIndex(key, "."); i > 0 {
		s := Ident{Name: key[:i]}
		return &s, Ident{Name: key[i+1:]}
	}
	return nil, Ident{Name: key}
}
