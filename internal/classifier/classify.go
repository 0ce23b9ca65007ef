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

// Package classifier turns candidate SQL text into a StatementDescriptor:
// its kind, the catalog tables and columns it touches, its stars, its row
// limit and any nested statements. It never executes anything and never
// decides policy; text it cannot interpret is reported as not syntax-valid.
package classifier

import (
	"errors"
	"strings"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/catalog"
)

// maxDepth bounds statement nesting.
const maxDepth = 64

// errWriteClause stops parsing once a SELECT is known to write or lock.
var errWriteClause = errors.New("statement writes or locks rows")

// Classify describes rawSQL. It is pure: the same input, catalog and dialect
// always produce the same descriptor.
func Classify(rawSQL string, cat *catalog.Catalog, d Dialect) Descriptor {
	return classify(rawSQL, cat, d, 0)
}

func classify(raw string, cat *catalog.Catalog, d Dialect, depth int) Descriptor {
	desc := Descriptor{RawText: raw, Dialect: d, Kind: Unknown}
	if depth > maxDepth {
		desc.Problem = "statement nests too deeply"
		return desc
	}

	toks, err := lex(raw, d)
	if err != nil {
		desc.Problem = err.Error()
		return desc
	}
	for i, t := range toks {
		if !t.isOp(";") {
			continue
		}
		if i == len(toks)-1 {
			toks = toks[:i]
			break
		}
		desc.Kind = Multi
		desc.SyntaxValid = true
		desc.Start, desc.End = toks[0].start, toks[len(toks)-1].end
		return desc
	}
	if len(toks) == 0 {
		desc.Problem = "empty statement"
		return desc
	}
	desc.Start, desc.End = toks[0].start, toks[len(toks)-1].end
	for _, t := range toks {
		if t.kind == tokParam {
			desc.HasParams = true
		}
	}

	desc.Kind = leadingKind(toks)
	if desc.Kind != Select {
		desc.SyntaxValid = true
		return desc
	}

	p := newParser(raw, toks, cat, d, depth)
	err = p.parseStatement()
	desc.SubStatements = p.subs
	desc.HasSubquery = p.hasSubquery
	desc.Functions = p.functionNames()
	switch {
	case errors.Is(err, errWriteClause):
		desc.Kind = Write
		desc.SyntaxValid = true
		return desc
	case err != nil:
		desc.Problem = err.Error()
		return desc
	case p.kind != Select:
		desc.Kind = p.kind
		desc.SyntaxValid = true
		return desc
	}

	p.resolve()
	desc.SyntaxValid = true
	desc.Tables = p.tables
	desc.Columns = p.columns
	desc.Stars = p.starRefs
	desc.HasStar = len(p.starRefs) > 0
	desc.Limit = p.limit
	desc.HasLimit = p.limit.Style != LimitNone
	return desc
}

// leadingKind looks at the first keyword, skipping opening parentheses.
// WITH is reported as Select; the parser refines it from the main body.
func leadingKind(toks []token) Kind {
	for _, t := range toks {
		if t.isOp("(") {
			continue
		}
		if t.kind != tokWord {
			return Unknown
		}
		if t.val == "WITH" {
			return Select
		}
		if k, ok := leadingKinds[t.val]; ok {
			return k
		}
		return Unknown
	}
	return Unknown
}

type parser struct {
	src   string
	toks  []token
	pos   int
	d     Dialect
	cat   *catalog.Catalog
	depth int

	kind        Kind
	scopes      []*scope
	stars       []*starItem
	tables      []TableRef
	subs        []Descriptor
	funcs       []string
	hasSubquery bool
	limit       LimitInfo

	columns  []ColumnRef
	starRefs []StarRef
	outputs  map[*queryNode][]catalog.Ident
	visiting map[*queryNode]bool
}

func newParser(src string, toks []token, cat *catalog.Catalog, d Dialect, depth int) *parser {
	return &parser{
		src:   src,
		toks:  toks,
		d:     d,
		cat:   cat,
		depth: depth,
		kind:  Select,
		limit: LimitInfo{OffsetStart: -1, OffsetEnd: -1, TopInsert: -1, ValueStart: -1, ValueEnd: -1},
	}
}

func (p *parser) peek() token {
	return p.peekAt(0)
}

func (p *parser) peekAt(n int) token {
	if i := p.pos + n; i < len(p.toks) {
		return p.toks[i]
	}
	return token{kind: tokEOF, start: len(p.src), end: len(p.src)}
}

func (p *parser) advance() token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) prev() token {
	if p.pos > 0 {
		return p.toks[p.pos-1]
	}
	return token{kind: tokEOF}
}

func (p *parser) accept(keyword string) bool {
	if p.peek().is(keyword) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) acceptOp(op string) bool {
	if p.peek().isOp(op) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(keyword string) error {
	if !p.accept(keyword) {
		return p.unexpected("expected " + keyword)
	}
	return nil
}

func (p *parser) expectOp(op string) error {
	if !p.acceptOp(op) {
		return p.unexpected("expected '" + op + "'")
	}
	return nil
}

func (p *parser) unexpected(want string) error {
	t := p.peek()
	if t.kind == tokEOF {
		return errAt(t.start, "%s, found end of input", want)
	}
	return errAt(t.start, "%s, found %q", want, t.text)
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return errAt(p.peek().start, "statement nests too deeply")
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

// matchParen returns the index of the ')' closing the '(' at index open.
func (p *parser) matchParen(open int) (int, error) {
	depth := 0
	for i := open; i < len(p.toks); i++ {
		switch {
		case p.toks[i].isOp("("):
			depth++
		case p.toks[i].isOp(")"):
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, errAt(p.toks[open].start, "unbalanced parenthesis")
}

func (p *parser) addFunction(name string) {
	p.funcs = append(p.funcs, strings.ToLower(name))
}

func (p *parser) functionNames() []string {
	if len(p.funcs) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(p.funcs))
	out := make([]string, 0, len(p.funcs))
	for _, f := range p.funcs {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// identOf converts a word or quoted identifier token.
func identOf(t token) (catalog.Ident, error) {
	switch t.kind {
	case tokQuotedIdent:
		return catalog.Ident{Name: t.val, Quoted: true}, nil
	case tokWord:
		if !t.normalized {
			return catalog.Ident{}, errAt(t.start, "identifier %q is not in normalized form", t.text)
		}
		return catalog.Ident{Name: t.text}, nil
	}
	return catalog.Ident{}, errAt(t.start, "expected identifier, found %q", t.text)
}

// sameIdent reports whether two names written in the statement refer to the
// same relation, alias or column. When they do not, a reference falls
// through to the catalog and is checked there.
func (p *parser) sameIdent(a, b catalog.Ident) bool {
	return a.Same(b, p.d.caseRule())
}
