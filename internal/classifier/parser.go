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
	"math"
	"strconv"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/catalog"
)

type clause int

const (
	clauseSelect clause = iota
	clauseWhere
	clauseOn
	clauseGroupBy
	clauseHaving
	clauseOrderBy
	clauseOther
)

// aliasVisible reports whether select-list aliases may be referenced.
func (c clause) aliasVisible() bool {
	return c == clauseOrderBy || c == clauseGroupBy || c == clauseHaving
}

type sourceKind int

const (
	srcTable sourceKind = iota
	srcDerived
	srcCTE
	srcFunction
)

type source struct {
	kind       sourceKind
	schema     *catalog.Ident
	name       catalog.Ident
	alias      *catalog.Ident
	text       string
	table      *catalog.Table
	query      *queryNode
	cte        *cte
	colAliases []catalog.Ident
}

type cte struct {
	name  catalog.Ident
	cols  []catalog.Ident
	query *queryNode
}

type queryNode struct {
	branches []branch
	setOp    bool
}

type branch struct {
	core   *scope
	nested *queryNode
}

type selectItem struct {
	star  *starItem
	alias *catalog.Ident
	plain *catalog.Ident
}

type starItem struct {
	scope     *scope
	qualifier []catalog.Ident
	qualText  string
	start     int
	end       int
}

type pendingRef struct {
	parts     []catalog.Ident
	qualText  string
	clause    clause
	using     bool
	wholeStar bool
}

type scope struct {
	parent  *scope
	ctes    []*cte
	sources []*source
	items   []*selectItem
	refs    []*pendingRef
	// orderOf is set on the scope holding the ORDER BY of a set operation.
	orderOf   *queryNode
	top       *LimitInfo
	topInsert int
}

func (p *parser) newScope(parent *scope) *scope {
	s := &scope{parent: parent, topInsert: -1}
	p.scopes = append(p.scopes, s)
	return s
}

func (s *scope) lookupCTE(name catalog.Ident, r catalog.CaseRule) *cte {
	for sc := s; sc != nil; sc = sc.parent {
		for i := len(sc.ctes) - 1; i >= 0; i-- {
			if sc.ctes[i].name.Same(name, r) {
				return sc.ctes[i]
			}
		}
	}
	return nil
}

func (p *parser) parseStatement() error {
	if _, err := p.parseQuery(nil, true); err != nil {
		return err
	}
	if p.kind != Select {
		return nil
	}
	if p.peek().kind != tokEOF {
		return p.unexpected("expected end of statement")
	}
	return nil
}

// parseQuery parses [WITH ...] body [ORDER BY] [LIMIT | OFFSET | FETCH].
func (p *parser) parseQuery(parent *scope, top bool) (*queryNode, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	q := &queryNode{}
	outer := parent
	if p.peek().is("WITH") {
		ws, err := p.parseWith(parent)
		if err != nil {
			return nil, err
		}
		outer = ws
		if t := p.peek(); t.kind == tokWord && !t.is("SELECT") && !t.is("VALUES") {
			if k, ok := leadingKinds[t.val]; ok && top {
				p.kind = k
				return q, nil
			}
			return nil, p.unexpected("expected SELECT")
		}
	}

	for {
		b, err := p.parseQueryPrimary(outer)
		if err != nil {
			return nil, err
		}
		q.branches = append(q.branches, b)
		t := p.peek()
		if !t.is("UNION") && !t.is("INTERSECT") && !t.is("EXCEPT") {
			break
		}
		p.advance()
		if !p.accept("ALL") {
			p.accept("DISTINCT")
		}
		q.setOp = true
	}

	tail := q.branches[0].core
	if q.setOp || tail == nil {
		tail = p.newScope(outer)
		tail.orderOf = q
	}

	li := LimitInfo{OffsetStart: -1, OffsetEnd: -1, TopInsert: -1, ValueStart: -1, ValueEnd: -1}
	li.SetOp = q.setOp || q.branches[0].core == nil
	if !li.SetOp {
		core := q.branches[0].core
		li.TopInsert = core.topInsert
		if core.top != nil {
			li.Style = core.top.Style
			li.Literal = core.top.Literal
			li.Value = core.top.Value
			li.ValueStart = core.top.ValueStart
			li.ValueEnd = core.top.ValueEnd
		}
	}

	if p.peek().is("ORDER") && p.peekAt(1).is("BY") {
		p.pos += 2
		if err := p.parseOrderList(tail, clauseOrderBy); err != nil {
			return nil, err
		}
		li.HasOrderBy = true
	}
	if err := p.parseLimitClauses(tail, &li); err != nil {
		return nil, err
	}
	if err := p.checkTrailingClauses(); err != nil {
		return nil, err
	}
	if top {
		p.limit = li
	}
	return q, nil
}

// checkTrailingClauses rejects locking and INTO clauses after the query body.
func (p *parser) checkTrailingClauses() error {
	t := p.peek()
	switch {
	case t.is("INTO"):
		return errWriteClause
	case t.is("FOR"):
		switch n := p.peekAt(1); {
		case n.is("UPDATE"), n.is("SHARE"), n.is("NO"), n.is("KEY"):
			return errWriteClause
		default:
			return p.unexpected("unsupported FOR clause")
		}
	case t.is("LOCK") && p.peekAt(1).is("IN"):
		return errWriteClause
	}
	return nil
}

func (p *parser) parseWith(parent *scope) (*scope, error) {
	ws := p.newScope(parent)
	p.advance()
	recursive := p.accept("RECURSIVE")
	for {
		name, err := identOf(p.advance())
		if err != nil {
			return nil, err
		}
		c := &cte{name: name}
		if p.peek().isOp("(") {
			if c.cols, err = p.parseIdentList(); err != nil {
				return nil, err
			}
		}
		if err := p.expect("AS"); err != nil {
			return nil, err
		}
		p.accept("NOT")
		p.accept("MATERIALIZED")
		if !p.peek().isOp("(") {
			return nil, p.unexpected("expected '('")
		}
		if recursive {
			ws.ctes = append(ws.ctes, c)
		}
		if c.query, err = p.parseSubquery(ws); err != nil {
			return nil, err
		}
		if !recursive {
			ws.ctes = append(ws.ctes, c)
		}
		if p.peek().is("SEARCH") || p.peek().is("CYCLE") {
			return nil, p.unexpected("unsupported CTE clause")
		}
		if !p.acceptOp(",") {
			return ws, nil
		}
	}
}

func (p *parser) parseIdentList() ([]catalog.Ident, error) {
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var out []catalog.Ident
	for {
		id, err := identOf(p.advance())
		if err != nil {
			return nil, err
		}
		out = append(out, id)
		if !p.acceptOp(",") {
			break
		}
	}
	return out, p.expectOp(")")
}

func (p *parser) parseQueryPrimary(outer *scope) (branch, error) {
	t := p.peek()
	switch {
	case t.is("SELECT"):
		core, err := p.parseSelectCore(outer)
		return branch{core: core}, err
	case t.is("VALUES"):
		s, err := p.parseValues(outer)
		return branch{core: s}, err
	case t.isOp("("):
		p.advance()
		nested, err := p.parseQuery(outer, false)
		if err != nil {
			return branch{}, err
		}
		return branch{nested: nested}, p.expectOp(")")
	}
	return branch{}, p.unexpected("expected SELECT")
}

func (p *parser) parseValues(outer *scope) (*scope, error) {
	s := p.newScope(outer)
	p.advance()
	for {
		if p.d == MySQL {
			p.accept("ROW")
		}
		if !p.peek().isOp("(") {
			return nil, p.unexpected("expected '('")
		}
		if err := p.parseParenOperand(s, clauseOther); err != nil {
			return nil, err
		}
		if !p.acceptOp(",") {
			// VALUES rows expose no column names we can rely on.
			s.items = nil
			return s, nil
		}
	}
}

func (p *parser) parseSelectCore(outer *scope) (*scope, error) {
	s := p.newScope(outer)
	sel := p.advance()
	s.topInsert = sel.end

	if p.accept("ALL") {
		s.topInsert = p.prev().end
	} else if p.accept("DISTINCT") {
		s.topInsert = p.prev().end
		if p.accept("ON") {
			if !p.peek().isOp("(") {
				return nil, p.unexpected("expected '('")
			}
			if err := p.parseParenOperand(s, clauseSelect); err != nil {
				return nil, err
			}
		}
	}
	if p.d == SQLServer && p.peek().is("TOP") {
		if err := p.parseTop(s); err != nil {
			return nil, err
		}
	}
	if p.d == MySQL {
		for mysqlSelectModifiers[p.peek().val] && p.peek().kind == tokWord {
			p.advance()
		}
	}

	if err := p.parseSelectList(s); err != nil {
		return nil, err
	}
	if p.peek().is("INTO") {
		return nil, errWriteClause
	}
	if p.accept("FROM") {
		if err := p.parseFromList(s); err != nil {
			return nil, err
		}
	}
	if p.accept("WHERE") {
		if err := p.parseExpr(s, clauseWhere); err != nil {
			return nil, err
		}
	}
	if p.peek().is("GROUP") && p.peekAt(1).is("BY") {
		p.pos += 2
		if err := p.parseGroupBy(s); err != nil {
			return nil, err
		}
	}
	if p.accept("HAVING") {
		if err := p.parseExpr(s, clauseHaving); err != nil {
			return nil, err
		}
	}
	if p.accept("WINDOW") {
		for {
			if _, err := identOf(p.advance()); err != nil {
				return nil, err
			}
			if err := p.expect("AS"); err != nil {
				return nil, err
			}
			if err := p.parseWindowSpec(s); err != nil {
				return nil, err
			}
			if !p.acceptOp(",") {
				break
			}
		}
	}
	return s, nil
}

func (p *parser) parseTop(s *scope) error {
	p.advance()
	li := &LimitInfo{Style: LimitTop, ValueStart: -1, ValueEnd: -1}
	if p.acceptOp("(") {
		start := p.pos
		if err := p.parseExpr(s, clauseOther); err != nil {
			return err
		}
		p.setLimitValue(li, start, p.pos)
		if err := p.expectOp(")"); err != nil {
			return err
		}
	} else if p.peek().kind == tokNumber {
		start := p.pos
		p.advance()
		p.setLimitValue(li, start, p.pos)
	} else {
		return p.unexpected("expected TOP count")
	}
	if p.accept("PERCENT") {
		li.Literal = false
	}
	if p.peek().is("WITH") && p.peekAt(1).is("TIES") {
		p.pos += 2
	}
	s.top = li
	return nil
}

// setLimitValue records the count spanned by tokens [from, to).
func (p *parser) setLimitValue(li *LimitInfo, from, to int) {
	if to <= from {
		return
	}
	li.ValueStart = p.toks[from].start
	li.ValueEnd = p.toks[to-1].end
	li.Literal = false
	if to-from != 1 || p.toks[from].kind != tokNumber {
		return
	}
	text := p.toks[from].text
	for i := 0; i < len(text); i++ {
		if !isDigit(text[i]) {
			return
		}
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		v = math.MaxInt64
	}
	li.Literal = true
	li.Value = v
}

func (p *parser) parseSelectList(s *scope) error {
	for {
		if err := p.parseSelectItem(s); err != nil {
			return err
		}
		if !p.acceptOp(",") {
			return nil
		}
	}
}

func (p *parser) parseSelectItem(s *scope) error {
	t := p.peek()
	if t.isOp("*") {
		p.advance()
		star := &starItem{scope: s, start: t.start, end: t.end}
		p.stars = append(p.stars, star)
		s.items = append(s.items, &selectItem{star: star})
		return nil
	}
	if n := p.qualifiedStarLen(); n > 0 {
		var quals []catalog.Ident
		for i := 0; i < n-2; i += 2 {
			id, err := identOf(p.toks[p.pos+i])
			if err != nil {
				return err
			}
			quals = append(quals, id)
		}
		first, last := p.toks[p.pos], p.toks[p.pos+n-1]
		dot := p.toks[p.pos+n-2]
		star := &starItem{
			scope:     s,
			qualifier: quals,
			qualText:  p.src[first.start:dot.start],
			start:     first.start,
			end:       last.end,
		}
		p.pos += n
		p.stars = append(p.stars, star)
		s.items = append(s.items, &selectItem{star: star})
		return nil
	}

	start := p.pos
	if err := p.parseExpr(s, clauseSelect); err != nil {
		return err
	}
	item := &selectItem{plain: p.plainColumn(start, p.pos)}

	if p.accept("AS") {
		alias, err := p.parseAliasName(true)
		if err != nil {
			return err
		}
		item.alias = &alias
	} else if p.canStartAlias(true) {
		alias, err := p.parseAliasName(true)
		if err != nil {
			return err
		}
		item.alias = &alias
	}
	s.items = append(s.items, item)
	return nil
}

// qualifiedStarLen returns the token count of "a.*" or "a.b.*" at the
// current position, or 0.
func (p *parser) qualifiedStarLen() int {
	i := 0
	for {
		if !p.peekAt(i).isIdent() || !p.peekAt(i + 1).isOp(".") {
			return 0
		}
		if p.peekAt(i + 2).isOp("*") {
			return i + 3
		}
		i += 2
	}
}

// plainColumn returns the column name when tokens [from, to) are a bare
// possibly-qualified column reference.
func (p *parser) plainColumn(from, to int) *catalog.Ident {
	n := to - from
	if n < 1 || n%2 == 0 {
		return nil
	}
	for i := from; i < to; i++ {
		if (i-from)%2 == 0 {
			if !p.toks[i].isIdent() {
				return nil
			}
		} else if !p.toks[i].isOp(".") {
			return nil
		}
	}
	last := p.toks[to-1]
	if last.kind == tokWord && (reserved[last.val] || valueKeywords[last.val]) {
		return nil
	}
	id, err := identOf(last)
	if err != nil {
		return nil
	}
	return &id
}

func (p *parser) canStartAlias(allowString bool) bool {
	t := p.peek()
	switch t.kind {
	case tokQuotedIdent:
		return true
	case tokWord:
		return !reserved[t.val] && !clauseKeywords[t.val]
	case tokString:
		return allowString && p.d != Postgres
	}
	return false
}

func (p *parser) parseAliasName(allowString bool) (catalog.Ident, error) {
	t := p.advance()
	if t.kind == tokString && allowString && p.d != Postgres {
		return catalog.Ident{Name: t.text[1 : len(t.text)-1], Quoted: true}, nil
	}
	if t.kind == tokWord && reserved[t.val] {
		return catalog.Ident{}, errAt(t.start, "reserved word %q used as alias", t.text)
	}
	return identOf(t)
}

func (p *parser) parseFromList(s *scope) error {
	for {
		if err := p.parseTableRef(s); err != nil {
			return err
		}
		if !p.acceptOp(",") {
			return nil
		}
	}
}

func (p *parser) parseTableRef(s *scope) error {
	if err := p.parseTablePrimary(s); err != nil {
		return err
	}
	for {
		t := p.peek()
		switch {
		case t.is("NATURAL"):
			return p.unexpected("NATURAL JOIN is not supported")
		case p.d == SQLServer && (t.is("CROSS") || t.is("OUTER")) && p.peekAt(1).is("APPLY"):
			p.pos += 2
			if err := p.parseTablePrimary(s); err != nil {
				return err
			}
			continue
		case t.is("JOIN"), t.is("INNER"), t.is("LEFT"), t.is("RIGHT"), t.is("FULL"), t.is("CROSS"), t.is("STRAIGHT_JOIN"):
		default:
			return nil
		}

		cross := false
		switch {
		case p.accept("INNER"):
		case p.accept("LEFT"), p.accept("RIGHT"), p.accept("FULL"):
			p.accept("OUTER")
		case p.accept("CROSS"):
			cross = true
		}
		if !p.accept("JOIN") && !p.accept("STRAIGHT_JOIN") {
			return p.unexpected("expected JOIN")
		}
		if err := p.parseTablePrimary(s); err != nil {
			return err
		}
		if cross {
			continue
		}
		switch {
		case p.accept("ON"):
			if err := p.parseExpr(s, clauseOn); err != nil {
				return err
			}
		case p.accept("USING"):
			cols, err := p.parseIdentList()
			if err != nil {
				return err
			}
			for _, c := range cols {
				s.refs = append(s.refs, &pendingRef{parts: []catalog.Ident{c}, clause: clauseOn, using: true})
			}
		}
	}
}

func (p *parser) parseTablePrimary(s *scope) error {
	p.accept("LATERAL")
	if p.d == Postgres {
		p.accept("ONLY")
	}
	t := p.peek()

	if t.isOp("(") {
		if p.parenStartsQuery(p.pos) {
			q, err := p.parseSubquery(s)
			if err != nil {
				return err
			}
			src := &source{kind: srcDerived, query: q}
			if err := p.parseTableAlias(src); err != nil {
				return err
			}
			s.sources = append(s.sources, src)
			return nil
		}
		p.advance()
		if err := p.parseTableRef(s); err != nil {
			return err
		}
		return p.expectOp(")")
	}

	if !t.isIdent() || (t.kind == tokWord && reserved[t.val]) {
		return p.unexpected("expected table name")
	}
	first := p.pos
	var parts []catalog.Ident
	for {
		id, err := identOf(p.advance())
		if err != nil {
			return err
		}
		parts = append(parts, id)
		if !p.peek().isOp(".") || !p.peekAt(1).isIdent() {
			break
		}
		p.advance()
	}
	nameText := p.src[p.toks[first].start:p.prev().end]
	name := parts[len(parts)-1]

	if p.peek().isOp("(") {
		p.addFunction(name.Name)
		p.tables = append(p.tables, TableRef{Name: name.Name, Function: true})
		if err := p.parseCallArgs(s, clauseOther, name.Name); err != nil {
			return err
		}
		src := &source{kind: srcFunction, name: name, text: nameText}
		if err := p.parseTableAlias(src); err != nil {
			return err
		}
		s.sources = append(s.sources, src)
		return nil
	}

	if p.d == MySQL && len(parts) == 1 && !name.Quoted && catalog.Fold(name.Name) == "dual" {
		return nil
	}

	src := &source{name: name, text: nameText}
	if len(parts) == 1 {
		if c := s.lookupCTE(name, p.d.caseRule()); c != nil {
			src.kind = srcCTE
			src.cte = c
			src.query = c.query
			src.colAliases = c.cols
		}
	}
	if src.kind == srcTable {
		ref := TableRef{Name: name.Name}
		switch len(parts) {
		case 1:
			if tbl, ok := p.cat.LookupRule(nil, name, p.d.caseRule()); ok {
				src.table = &tbl
			}
		case 2:
			src.schema = &parts[0]
			ref.Schema = parts[0].Name
			if tbl, ok := p.cat.LookupRule(&parts[0], name, p.d.caseRule()); ok {
				src.table = &tbl
			}
		default:
			// Database-qualified names are never matched against the catalog.
			src.schema = &parts[len(parts)-2]
			ref.Schema = p.src[p.toks[first].start:p.toks[p.pos-3].end]
		}
		if src.table != nil {
			ref.Found = true
			ref.Schema = src.table.Schema
			ref.Name = src.table.Name
		}
		p.tables = append(p.tables, ref)
	}

	if err := p.parseTableAlias(src); err != nil {
		return err
	}
	if err := p.skipTableHints(); err != nil {
		return err
	}
	if p.peek().is("TABLESAMPLE") {
		return p.unexpected("TABLESAMPLE is not supported")
	}
	s.sources = append(s.sources, src)
	return nil
}

func (p *parser) parseTableAlias(src *source) error {
	hasAlias := false
	if p.accept("AS") {
		hasAlias = true
	} else if p.canStartAlias(false) {
		hasAlias = true
	}
	if hasAlias {
		t := p.peek()
		alias, err := p.parseAliasName(false)
		if err != nil {
			return err
		}
		src.alias = &alias
		src.text = t.text
	}
	if hasAlias && p.peek().isOp("(") {
		cols, err := p.parseIdentList()
		if err != nil {
			return err
		}
		src.colAliases = cols
	}
	return nil
}

func (p *parser) skipTableHints() error {
	switch {
	case p.d == SQLServer && p.peek().is("WITH") && p.peekAt(1).isOp("("):
		p.advance()
		end, err := p.matchParen(p.pos)
		if err != nil {
			return err
		}
		p.pos = end + 1
	case p.d == MySQL:
		for (p.peek().is("USE") || p.peek().is("FORCE") || p.peek().is("IGNORE")) &&
			(p.peekAt(1).is("INDEX") || p.peekAt(1).is("KEY")) {
			p.pos += 2
			if p.accept("FOR") {
				switch {
				case p.accept("JOIN"):
				case p.accept("ORDER"), p.accept("GROUP"):
					if err := p.expect("BY"); err != nil {
						return err
					}
				default:
					return p.unexpected("expected JOIN, ORDER BY or GROUP BY")
				}
			}
			if !p.peek().isOp("(") {
				return p.unexpected("expected '('")
			}
			end, err := p.matchParen(p.pos)
			if err != nil {
				return err
			}
			p.pos = end + 1
		}
	}
	return nil
}

// parenStartsQuery reports whether the '(' at index i opens a query or
// another statement rather than an expression or a join.
func (p *parser) parenStartsQuery(i int) bool {
	if i+1 >= len(p.toks) {
		return false
	}
	t := p.toks[i+1]
	if t.isOp("(") {
		// "((SELECT ...) UNION ...)" is a query, "((SELECT ...) + 1)" is not.
		if !p.parenStartsQuery(i + 1) {
			return false
		}
		end, err := p.matchParen(i + 1)
		if err != nil || end+1 >= len(p.toks) {
			return false
		}
		n := p.toks[end+1]
		return n.isOp(")") || n.is("UNION") || n.is("INTERSECT") || n.is("EXCEPT") ||
			n.is("ORDER") || n.is("LIMIT") || n.is("OFFSET") || n.is("FETCH")
	}
	if t.kind != tokWord {
		return false
	}
	if t.val == "SELECT" || t.val == "WITH" || t.val == "VALUES" {
		return true
	}
	if _, ok := leadingKinds[t.val]; !ok {
		return false
	}
	// REPLACE(...) and INSERT(...) are also string functions.
	return i+2 >= len(p.toks) || !p.toks[i+2].isOp("(")
}

// parseSubquery parses a parenthesized query at the current '('. The text is
// also classified on its own and kept as a sub-statement; when that
// classification is not a valid SELECT the body is skipped and nil returned.
func (p *parser) parseSubquery(parent *scope) (*queryNode, error) {
	open := p.pos
	closeIdx, err := p.matchParen(open)
	if err != nil {
		return nil, err
	}
	if closeIdx == open+1 {
		return nil, errAt(p.toks[open].start, "empty subquery")
	}
	p.hasSubquery = true

	first := p.toks[open+1]
	if !first.is("VALUES") {
		text := p.src[first.start:p.toks[closeIdx-1].end]
		sub := classify(text, p.cat, p.d, p.depth+1)
		p.subs = append(p.subs, sub)
		if sub.Kind != Select || !sub.SyntaxValid {
			p.pos = closeIdx + 1
			return nil, nil
		}
	}

	p.pos = open + 1
	q, err := p.parseQuery(parent, false)
	if err != nil {
		return nil, err
	}
	if p.pos != closeIdx {
		return nil, p.unexpected("expected ')'")
	}
	p.pos++
	return q, nil
}

func (p *parser) parseGroupBy(s *scope) error {
	if !p.accept("ALL") {
		p.accept("DISTINCT")
	}
	for {
		switch {
		case p.peek().is("GROUPING") && p.peekAt(1).is("SETS"):
			p.pos += 2
			if err := p.parseParenOperand(s, clauseGroupBy); err != nil {
				return err
			}
		default:
			if err := p.parseExpr(s, clauseGroupBy); err != nil {
				return err
			}
		}
		if !p.acceptOp(",") {
			break
		}
	}
	if p.peek().is("WITH") && p.peekAt(1).is("ROLLUP") {
		p.pos += 2
	}
	return nil
}

func (p *parser) parseOrderList(s *scope, c clause) error {
	for {
		if err := p.parseExpr(s, c); err != nil {
			return err
		}
		if !p.accept("ASC") {
			p.accept("DESC")
		}
		if p.d == Postgres && p.accept("USING") {
			if p.advance().kind != tokOp {
				return errAt(p.prev().start, "expected operator after USING")
			}
		}
		if p.peek().is("NULLS") && (p.peekAt(1).is("FIRST") || p.peekAt(1).is("LAST")) {
			p.pos += 2
		}
		if !p.acceptOp(",") {
			return nil
		}
	}
}

func (p *parser) parseLimitClauses(s *scope, li *LimitInfo) error {
	for {
		t := p.peek()
		switch {
		case t.is("LIMIT"):
			p.advance()
			li.Style = LimitClause
			if p.peek().is("ALL") {
				all := p.advance()
				li.All, li.Literal = true, true
				li.ValueStart, li.ValueEnd = all.start, all.end
				continue
			}
			start := p.pos
			if err := p.parseExpr(s, clauseOther); err != nil {
				return err
			}
			p.setLimitValue(li, start, p.pos)
			if (p.d == MySQL || p.d == SQLite) && p.acceptOp(",") {
				start = p.pos
				if err := p.parseExpr(s, clauseOther); err != nil {
					return err
				}
				p.setLimitValue(li, start, p.pos)
			}
		case t.is("OFFSET"):
			p.advance()
			li.OffsetStart = t.start
			if err := p.parseExpr(s, clauseOther); err != nil {
				return err
			}
			if !p.accept("ROWS") {
				p.accept("ROW")
			}
			li.OffsetEnd = p.prev().end
		case t.is("FETCH"):
			p.advance()
			if !p.accept("FIRST") && !p.accept("NEXT") {
				return p.unexpected("expected FIRST or NEXT")
			}
			li.Style = LimitFetch
			if p.peek().is("ROW") || p.peek().is("ROWS") {
				li.Literal, li.Value = true, 1
				li.ValueStart, li.ValueEnd = -1, -1
			} else {
				start := p.pos
				if err := p.parseExpr(s, clauseOther); err != nil {
					return err
				}
				p.setLimitValue(li, start, p.pos)
			}
			if !p.accept("ROWS") && !p.accept("ROW") {
				return p.unexpected("expected ROWS")
			}
			if p.peek().is("WITH") && p.peekAt(1).is("TIES") {
				p.pos += 2
			} else if err := p.expect("ONLY"); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
