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

// Package policy decides whether a classified statement may run and, when it
// may, produces the exact text to execute.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/catalog"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/classifier"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/guard"
)

// Decision is the outcome of an evaluation.
type Decision string

const (
	Allow  Decision = "ALLOW"
	Reject Decision = "REJECT"
)

// Verdict is the terminal result of evaluating one descriptor.
type Verdict struct {
	Decision Decision        `json:"decision"`
	Reason   guard.ErrorKind `json:"reason,omitempty"`
	Message  string          `json:"message,omitempty"`
	// SanitizedSQL is the statement text plus the declared rewrites. It is
	// only set on ALLOW.
	SanitizedSQL   string                `json:"sanitized_sql,omitempty"`
	EffectiveLimit int                   `json:"effective_limit,omitempty"`
	LimitApplied   bool                  `json:"limit_applied"`
	Descriptor     classifier.Descriptor `json:"descriptor"`
}

// Allowed reports whether the verdict approves execution.
func (v Verdict) Allowed() bool {
	return v.Decision == Allow
}

// Err returns the rejection as a *guard.Error, or nil for ALLOW.
func (v Verdict) Err() error {
	if v.Allowed() {
		return nil
	}
	return guard.New(v.Reason, "%s", v.Message)
}

func reject(d classifier.Descriptor, kind guard.ErrorKind, format string, args ...any) Verdict {
	return Verdict{
		Decision:   Reject,
		Reason:     kind,
		Message:    fmt.Sprintf(format, args...),
		Descriptor: d,
	}
}

// edit replaces src[start:end] with text. Offsets are relative to the
// statement text.
type edit struct {
	start, end int
	text       string
}

// Evaluate applies the allow-list rules to d. The same descriptor, catalog
// and limits always produce the same verdict.
func Evaluate(d classifier.Descriptor, cat *catalog.Catalog, limits guard.Limits) Verdict {
	if limits.MaxRows <= 0 || limits.MaxLimitClause <= 0 {
		return reject(d, guard.PreconditionFailed, "row limits are not configured")
	}

	if !d.SyntaxValid {
		return reject(d, guard.InvalidSyntax, "statement could not be parsed: %s", d.Problem)
	}
	if d.Kind != classifier.Select {
		return reject(d, guard.ForbiddenStatementKind, "%s statements are not allowed", d.Kind)
	}
	if v, bad := checkSubStatements(d, d.SubStatements); bad {
		return v
	}

	allowed := allowedTables(cat)
	for _, t := range d.Tables {
		switch {
		case t.Function:
			return reject(d, guard.TableNotAllowed, "table function %s is not allowed", t.Name)
		case !t.Found:
			return reject(d, guard.TableNotAllowed, "table %s is not in the catalog", t.QualifiedName())
		}
		if _, ok := allowed[t.QualifiedName()]; !ok {
			return reject(d, guard.TableNotAllowed, "table %s is not allowed", t.QualifiedName())
		}
	}

	for _, c := range d.Columns {
		switch c.Resolution {
		case classifier.Local:
			continue
		case classifier.Unresolved:
			return reject(d, guard.ColumnNotAllowed, "column %s could not be resolved", qualified(c.Qualifier, c.Column))
		}
		tbl, ok := allowed[c.Table]
		if !ok {
			return reject(d, guard.TableNotAllowed, "table %s is not allowed", c.Table)
		}
		col, ok := tbl.Column(catalog.Ident{Name: c.Column, Quoted: true})
		if !ok || !col.Allowed {
			return reject(d, guard.ColumnNotAllowed, "column %s.%s is not allowed", c.Table, c.Column)
		}
	}

	var edits []edit
	for _, st := range d.Stars {
		e, keep, err := expandStar(d, st, allowed)
		if err != nil {
			return reject(d, guard.ColumnNotAllowed, "%v", err)
		}
		if !keep {
			edits = append(edits, e)
		}
	}

	if name, ok := deniedFunction(d.Functions); ok {
		return reject(d, guard.FunctionNotAllowed, "function %s is not allowed", name)
	}

	lim, err := planLimit(d, limits)
	if err != nil {
		return reject(d, guard.InvalidSyntax, "%v", err)
	}
	edits = append(edits, lim.edits...)

	sanitized := apply(d.Text(), edits)
	if d.Dialect == classifier.MySQL {
		if msg, bad := secondaryMySQLCheck(sanitized); bad {
			return reject(d, guard.ForbiddenStatementKind, "%s", msg)
		}
	}

	return Verdict{
		Decision:       Allow,
		SanitizedSQL:   sanitized,
		EffectiveLimit: lim.effective,
		LimitApplied:   lim.applied,
		Descriptor:     d,
	}
}

// checkSubStatements rejects any nested statement that is not a valid
// SELECT, at any depth.
func checkSubStatements(root classifier.Descriptor, subs []classifier.Descriptor) (Verdict, bool) {
	for _, sub := range subs {
		if !sub.SyntaxValid {
			return reject(root, guard.InvalidSyntax, "nested statement could not be parsed: %s", sub.Problem), true
		}
		if sub.Kind != classifier.Select {
			return reject(root, guard.ForbiddenStatementKind, "nested %s statement is not allowed", sub.Kind), true
		}
		if v, bad := checkSubStatements(root, sub.SubStatements); bad {
			return v, true
		}
	}
	return Verdict{}, false
}

func allowedTables(cat *catalog.Catalog) map[string]catalog.Table {
	out := make(map[string]catalog.Table)
	for _, t := range cat.Tables() {
		if t.Allowed {
			out[t.QualifiedName()] = t
		}
	}
	return out
}

func qualified(q, name string) string {
	if q == "" {
		return name
	}
	return q + "." + name
}

// expandStar rewrites a star into the allow-listed columns of the catalog
// tables it covers. keep is set when the star may stay as written because it
// only covers derived relations, whose own select lists are checked.
func expandStar(d classifier.Descriptor, st classifier.StarRef, allowed map[string]catalog.Table) (e edit, keep bool, err error) {
	if len(st.Sources) == 0 {
		return edit{}, false, fmt.Errorf("cannot expand %s", d.RawText[st.Start:st.End])
	}
	keep = true
	for _, src := range st.Sources {
		if src.Table != nil {
			keep = false
		}
	}
	if keep {
		return edit{}, true, nil
	}

	qualify := st.Qualified || len(st.Sources) > 1
	var cols []string
	for _, src := range st.Sources {
		if src.Table == nil {
			if src.Qualifier == "" {
				return edit{}, false, fmt.Errorf("cannot expand * over an unnamed derived table")
			}
			cols = append(cols, src.Qualifier+".*")
			continue
		}
		tbl, ok := allowed[src.Table.QualifiedName()]
		if !ok {
			return edit{}, false, fmt.Errorf("table %s is not allowed", src.Table.QualifiedName())
		}
		list := tbl.AllowedColumns()
		if len(list) == 0 {
			return edit{}, false, fmt.Errorf("table %s has no allowed columns", tbl.QualifiedName())
		}
		for _, c := range list {
			name := d.Dialect.QuoteIdentifier(c.Name)
			if qualify {
				name = src.Qualifier + "." + name
			}
			cols = append(cols, name)
		}
	}
	return edit{start: st.Start - d.Start, end: st.End - d.Start, text: strings.Join(cols, ", ")}, false, nil
}

// apply performs non-overlapping edits from the end of the text backwards so
// that earlier offsets stay valid.
func apply(text string, edits []edit) string {
	sorted := append([]edit(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].start > sorted[j].start
	})
	for _, e := range sorted {
		text = text[:e.start] + e.text + text[e.end:]
	}
	return text
}
