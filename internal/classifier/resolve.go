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

// resolve binds every recorded column reference and star once the whole
// statement has been parsed, so that references may point at relations
// declared later in the text.
func (p *parser) resolve() {
	p.outputs = make(map[*queryNode][]catalog.Ident)
	p.visiting = make(map[*queryNode]bool)
	for _, s := range p.scopes {
		for _, r := range s.refs {
			p.columns = append(p.columns, p.resolveRef(s, r)...)
		}
	}
	for _, st := range p.stars {
		ref, unresolved := p.resolveStar(st)
		p.starRefs = append(p.starRefs, ref)
		if unresolved {
			p.columns = append(p.columns, ColumnRef{Column: "*", Qualifier: st.qualText, Resolution: Unresolved})
		}
	}
}

func (p *parser) resolveRef(s *scope, r *pendingRef) []ColumnRef {
	last := r.parts[len(r.parts)-1]
	unresolved := []ColumnRef{{Column: last.Name, Qualifier: r.qualText, Resolution: Unresolved}}

	switch {
	case r.wholeStar:
		return []ColumnRef{{Column: "*", Qualifier: r.qualText, Resolution: Unresolved}}

	case r.using:
		var out []ColumnRef
		for _, src := range s.sources {
			if ref, ok := p.sourceColumn(src, last); ok {
				out = append(out, ref)
			}
		}
		if len(out) == 0 {
			return unresolved
		}
		return out

	case len(r.parts) == 1:
		for sc := s; sc != nil; sc = sc.parent {
			var found []ColumnRef
			for _, src := range sc.sources {
				if ref, ok := p.sourceColumn(src, last); ok {
					found = append(found, ref)
				}
			}
			switch {
			case len(found) == 1:
				return found
			case len(found) > 1:
				return unresolved
			}
			if sc == s && r.clause.aliasVisible() {
				if p.outputAlias(sc, last) {
					return []ColumnRef{{Column: last.Name, Resolution: Local}}
				}
			}
		}
		return unresolved

	case len(r.parts) <= 3:
		qual := r.parts[:len(r.parts)-1]
		for sc := s; sc != nil; sc = sc.parent {
			var matched []*source
			for _, src := range sc.sources {
				if p.exposes(src, qual) {
					matched = append(matched, src)
				}
			}
			if len(matched) == 0 {
				continue
			}
			if len(matched) > 1 {
				return unresolved
			}
			ref, ok := p.sourceColumn(matched[0], last)
			if !ok {
				return unresolved
			}
			ref.Qualifier = r.qualText
			return []ColumnRef{ref}
		}
	}
	return unresolved
}

// outputAlias reports whether name is a select-list alias of scope s or, for
// the ORDER BY of a set operation, an output column of the whole query.
func (p *parser) outputAlias(s *scope, name catalog.Ident) bool {
	for _, it := range s.items {
		if it.alias != nil && p.sameIdent(*it.alias, name) {
			return true
		}
	}
	if s.orderOf != nil {
		cols, _ := p.queryOutputs(s.orderOf)
		for _, c := range cols {
			if p.sameIdent(c, name) {
				return true
			}
		}
	}
	return false
}

// exposes reports whether a relation is visible under the qualifier parts.
func (p *parser) exposes(src *source, qual []catalog.Ident) bool {
	if src.alias != nil {
		return len(qual) == 1 && p.sameIdent(*src.alias, qual[0])
	}
	name := qual[len(qual)-1]
	if src.kind == srcDerived || !p.sameIdent(src.name, name) {
		return false
	}
	switch len(qual) {
	case 1:
		return true
	case 2:
		if src.schema != nil {
			return p.sameIdent(*src.schema, qual[0])
		}
		return src.table != nil && qual[0].MatchesRule(src.table.Schema, p.d.caseRule())
	}
	return false
}

// sourceColumn binds a column name against one relation.
func (p *parser) sourceColumn(src *source, name catalog.Ident) (ColumnRef, bool) {
	if src.kind == srcTable {
		if src.table == nil {
			return ColumnRef{}, false
		}
		col, ok := src.table.ColumnRule(name, p.d.caseRule())
		if !ok {
			return ColumnRef{}, false
		}
		return ColumnRef{Table: src.table.QualifiedName(), Column: col.Name, Resolution: Resolved}, true
	}
	cols, _ := p.sourceOutputs(src)
	for _, c := range cols {
		if p.sameIdent(c, name) {
			return ColumnRef{Column: name.Name, Resolution: Local}, true
		}
	}
	return ColumnRef{}, false
}

// sourceOutputs returns the column names a derived relation exposes and
// whether that list is complete.
func (p *parser) sourceOutputs(src *source) ([]catalog.Ident, bool) {
	if len(src.colAliases) > 0 {
		return src.colAliases, true
	}
	if src.query == nil {
		return nil, false
	}
	return p.queryOutputs(src.query)
}

func (p *parser) queryOutputs(q *queryNode) ([]catalog.Ident, bool) {
	if cols, ok := p.outputs[q]; ok {
		return cols, cols != nil
	}
	if p.visiting[q] || len(q.branches) == 0 {
		return nil, false
	}
	p.visiting[q] = true
	defer delete(p.visiting, q)

	b := q.branches[0]
	if b.nested != nil {
		cols, ok := p.queryOutputs(b.nested)
		p.memo(q, cols, ok)
		return cols, ok
	}
	complete := true
	cols := []catalog.Ident{}
	for _, it := range b.core.items {
		switch {
		case it.star != nil:
			srcs, ok := p.starSources(it.star)
			if !ok {
				complete = false
			}
			for _, src := range srcs {
				if src.kind == srcTable && src.table != nil {
					for _, c := range src.table.AllowedColumns() {
						cols = append(cols, catalog.Ident{Name: c.Name, Quoted: true})
					}
					continue
				}
				sub, ok := p.sourceOutputs(src)
				if !ok {
					complete = false
				}
				cols = append(cols, sub...)
			}
		case it.alias != nil:
			cols = append(cols, *it.alias)
		case it.plain != nil:
			cols = append(cols, *it.plain)
		}
	}
	p.memo(q, cols, complete)
	return cols, complete
}

func (p *parser) memo(q *queryNode, cols []catalog.Ident, complete bool) {
	if !complete {
		// Incomplete lists are not cached so that a later caller outside
		// the current recursion can still compute them.
		return
	}
	if cols == nil {
		cols = []catalog.Ident{}
	}
	p.outputs[q] = cols
}

// starSources returns the relations a star covers and false when some part
// of it could not be identified.
func (p *parser) starSources(st *starItem) ([]*source, bool) {
	if len(st.qualifier) == 0 {
		if len(st.scope.sources) == 0 {
			return nil, false
		}
		return st.scope.sources, true
	}
	var matched []*source
	for _, src := range st.scope.sources {
		if p.exposes(src, st.qualifier) {
			matched = append(matched, src)
		}
	}
	if len(matched) != 1 {
		return nil, false
	}
	return matched, true
}

func (p *parser) resolveStar(st *starItem) (StarRef, bool) {
	ref := StarRef{Qualified: len(st.qualifier) > 0, Start: st.start, End: st.end}
	srcs, ok := p.starSources(st)
	for _, src := range srcs {
		ss := StarSource{Qualifier: src.text, Derived: src.kind != srcTable}
		if ref.Qualified {
			ss.Qualifier = st.qualText
		}
		if src.kind == srcTable {
			if src.table == nil {
				ok = false
			} else {
				t := *src.table
				ss.Table = &t
			}
		} else if _, complete := p.sourceOutputs(src); !complete {
			ok = false
		}
		ref.Sources = append(ref.Sources, ss)
	}
	return ref, !ok
}
