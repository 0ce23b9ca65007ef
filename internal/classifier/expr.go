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

// parseExpr consumes one scalar expression, recording the column references
// it makes against scope s. Operator precedence is irrelevant here, so the
// expression is read as a flat alternation of operands and operators.
func (p *parser) parseExpr(s *scope, c clause) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()
	for {
		if err := p.parseOperand(s, c); err != nil {
			return err
		}
		more, err := p.parsePostfix(s, c)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

func (p *parser) parseOperand(s *scope, c clause) error {
	for {
		t := p.peek()
		switch {
		case t.isOp("-"), t.isOp("+"), t.isOp("~"), t.isOp("!"):
			p.advance()
			continue
		case t.is("NOT"):
			p.advance()
			continue
		case p.d == MySQL && t.is("BINARY"):
			p.advance()
			continue
		}
		break
	}

	t := p.peek()
	switch t.kind {
	case tokNumber, tokString, tokParam:
		p.advance()
		return nil
	case tokQuotedIdent:
		return p.parseNameOperand(s, c)
	case tokOp:
		if t.isOp("(") {
			return p.parseParenOperand(s, c)
		}
		return p.unexpected("expected expression")
	case tokWord:
	default:
		return p.unexpected("expected expression")
	}

	next := p.peekAt(1)
	switch {
	case t.is("CASE"):
		return p.parseCase(s, c)
	case t.is("EXISTS") && next.isOp("("):
		p.advance()
		return p.parseParenOperand(s, c)
	case t.is("ARRAY") && next.isOp("["):
		p.pos += 2
		return p.parseBracketList(s, c)
	case t.is("INTERVAL") && p.startsIntervalValue(next):
		return p.parseInterval(s, c)
	case typedLiteralPrefixes[t.val] && next.kind == tokString:
		p.pos += 2
		return nil
	case next.isOp("(") && (!reserved[t.val] || functionKeywords[t.val]):
		return p.parseFunction(s, c)
	case valueKeywords[t.val]:
		p.advance()
		return nil
	case t.is("USER") && (p.d == Postgres || p.d == SQLServer):
		p.advance()
		return nil
	case reserved[t.val]:
		return p.unexpected("expected expression")
	}
	return p.parseNameOperand(s, c)
}

func (p *parser) startsIntervalValue(t token) bool {
	switch t.kind {
	case tokString, tokNumber, tokParam:
		return true
	case tokOp:
		return t.isOp("(") || t.isOp("-") || t.isOp("+")
	case tokWord, tokQuotedIdent:
		return p.d == MySQL
	}
	return false
}

// parseNameOperand reads a possibly qualified column name, a qualified
// function call, or "q.*".
func (p *parser) parseNameOperand(s *scope, c clause) error {
	first := p.peek()
	var (
		parts   []catalog.Ident
		lastDot token
	)
	for {
		id, err := identOf(p.advance())
		if err != nil {
			return err
		}
		parts = append(parts, id)
		if !p.peek().isOp(".") {
			break
		}
		lastDot = p.peek()
		n := p.peekAt(1)
		if n.isOp("*") {
			p.pos += 2
			s.refs = append(s.refs, &pendingRef{
				parts:     parts,
				qualText:  p.src[first.start:lastDot.start],
				clause:    c,
				wholeStar: true,
			})
			return nil
		}
		if !n.isIdent() {
			return p.unexpected("expected identifier")
		}
		p.advance()
	}

	if p.peek().isOp("(") {
		p.addFunction(parts[len(parts)-1].Name)
		return p.parseCallArgs(s, c, parts[len(parts)-1].Name)
	}
	if len(parts) > 4 {
		return errAt(first.start, "too many name parts")
	}
	ref := &pendingRef{parts: parts, clause: c}
	if len(parts) > 1 {
		ref.qualText = p.src[first.start:lastDot.start]
	}
	s.refs = append(s.refs, ref)
	return nil
}

// parsePostfix consumes what may follow an operand. It returns true when a
// binary operator was consumed and another operand must follow.
func (p *parser) parsePostfix(s *scope, c clause) (bool, error) {
	for {
		t := p.peek()
		switch t.kind {
		case tokOp:
			switch t.val {
			case "::":
				p.advance()
				if err := p.skipTypeName(); err != nil {
					return false, err
				}
				continue
			case "[":
				p.advance()
				if err := p.parseSubscript(s, c); err != nil {
					return false, err
				}
				continue
			case ".":
				// Field access on a parenthesized composite value.
				p.advance()
				if n := p.advance(); !n.isIdent() && !n.isOp("*") {
					return false, errAt(n.start, "expected field name")
				}
				continue
			case "(", ")", ",", "]", ";":
				return false, nil
			}
			p.advance()
			return true, nil

		case tokWord:
			next := p.peekAt(1)
			switch {
			case t.is("NOT") && next.kind == tokWord && binaryKeywords[next.val]:
				p.advance()
				continue
			case t.is("IS"):
				p.advance()
				p.accept("NOT")
				switch n := p.peek(); {
				case n.is("DISTINCT"):
					p.advance()
					return true, p.expect("FROM")
				case n.is("NULL"), n.is("TRUE"), n.is("FALSE"), n.is("UNKNOWN"):
					p.advance()
					continue
				}
				return false, p.unexpected("expected NULL, TRUE, FALSE, UNKNOWN or DISTINCT FROM")
			case t.is("ISNULL"), t.is("NOTNULL"):
				p.advance()
				continue
			case t.is("SIMILAR"):
				p.advance()
				return true, p.expect("TO")
			case t.is("BETWEEN"):
				p.advance()
				if !p.accept("SYMMETRIC") {
					p.accept("ASYMMETRIC")
				}
				return true, nil
			case p.d == MySQL && t.is("SOUNDS") && next.is("LIKE"):
				p.pos += 2
				return true, nil
			case p.d == MySQL && t.is("MEMBER") && next.is("OF"):
				p.pos += 2
				return true, nil
			case t.is("COLLATE"):
				p.advance()
				if err := p.skipQualifiedName(); err != nil {
					return false, err
				}
				continue
			case t.is("AT") && next.is("TIME") && p.peekAt(2).is("ZONE"):
				p.pos += 3
				return true, nil
			case t.is("AT") && next.is("LOCAL"):
				p.pos += 2
				continue
			case t.is("OVER"):
				p.advance()
				if err := p.parseWindowSpec(s); err != nil {
					return false, err
				}
				continue
			case t.is("FILTER") && next.isOp("("):
				p.pos += 2
				if err := p.expect("WHERE"); err != nil {
					return false, err
				}
				if err := p.parseExpr(s, c); err != nil {
					return false, err
				}
				if err := p.expectOp(")"); err != nil {
					return false, err
				}
				continue
			case t.is("WITHIN") && next.is("GROUP"):
				p.pos += 2
				if err := p.expectOp("("); err != nil {
					return false, err
				}
				if err := p.expect("ORDER"); err != nil {
					return false, err
				}
				if err := p.expect("BY"); err != nil {
					return false, err
				}
				if err := p.parseOrderList(s, c); err != nil {
					return false, err
				}
				if err := p.expectOp(")"); err != nil {
					return false, err
				}
				continue
			case p.d == Postgres && t.is("OPERATOR") && next.isOp("("):
				p.advance()
				end, err := p.matchParen(p.pos)
				if err != nil {
					return false, err
				}
				p.pos = end + 1
				return true, nil
			case binaryKeywords[t.val]:
				p.advance()
				return true, nil
			}
			return false, nil

		default:
			return false, nil
		}
	}
}

// parseParenOperand handles "(" at operand position: a subquery or a
// parenthesized expression list, which may be empty.
func (p *parser) parseParenOperand(s *scope, c clause) error {
	if p.parenStartsQuery(p.pos) {
		_, err := p.parseSubquery(s)
		return err
	}
	if err := p.expectOp("("); err != nil {
		return err
	}
	if p.acceptOp(")") {
		return nil
	}
	for {
		if err := p.parseExpr(s, c); err != nil {
			return err
		}
		if !p.acceptOp(",") {
			return p.expectOp(")")
		}
	}
}

func (p *parser) parseBracketList(s *scope, c clause) error {
	if p.acceptOp("]") {
		return nil
	}
	for {
		if err := p.parseExpr(s, c); err != nil {
			return err
		}
		if !p.acceptOp(",") {
			return p.expectOp("]")
		}
	}
}

// parseSubscript reads "[i]" or "[lo:hi]" after the opening bracket.
func (p *parser) parseSubscript(s *scope, c clause) error {
	if !p.peek().isOp(":") && !p.peek().isOp("]") {
		if err := p.parseExpr(s, c); err != nil {
			return err
		}
	}
	if p.acceptOp(":") && !p.peek().isOp("]") {
		if err := p.parseExpr(s, c); err != nil {
			return err
		}
	}
	return p.expectOp("]")
}

func (p *parser) parseCase(s *scope, c clause) error {
	p.advance()
	if !p.peek().is("WHEN") {
		if err := p.parseExpr(s, c); err != nil {
			return err
		}
	}
	if !p.peek().is("WHEN") {
		return p.unexpected("expected WHEN")
	}
	for p.accept("WHEN") {
		if err := p.parseExpr(s, c); err != nil {
			return err
		}
		if err := p.expect("THEN"); err != nil {
			return err
		}
		if err := p.parseExpr(s, c); err != nil {
			return err
		}
	}
	if p.accept("ELSE") {
		if err := p.parseExpr(s, c); err != nil {
			return err
		}
	}
	return p.expect("END")
}

func (p *parser) parseInterval(s *scope, c clause) error {
	p.advance()
	if err := p.parseOperand(s, c); err != nil {
		return err
	}
	if !dateUnits[p.peek().val] || p.peek().kind != tokWord {
		return nil
	}
	p.advance()
	if p.peek().isOp("(") {
		if err := p.skipTypeArgs(); err != nil {
			return err
		}
	}
	if p.peek().is("TO") && dateUnits[p.peekAt(1).val] {
		p.pos += 2
		if p.peek().isOp("(") {
			return p.skipTypeArgs()
		}
	}
	return nil
}

func (p *parser) parseFunction(s *scope, c clause) error {
	name := p.advance()
	p.addFunction(name.val)

	switch {
	case name.is("CAST"), name.is("TRY_CAST"), name.is("SAFE_CAST"):
		p.advance()
		if err := p.parseExpr(s, c); err != nil {
			return err
		}
		if err := p.expect("AS"); err != nil {
			return err
		}
		if err := p.skipCastType(); err != nil {
			return err
		}
		return p.expectOp(")")

	case name.is("CONVERT") && p.d == SQLServer:
		p.advance()
		if err := p.skipTypeName(); err != nil {
			return err
		}
		for p.acceptOp(",") {
			if err := p.parseExpr(s, c); err != nil {
				return err
			}
		}
		return p.expectOp(")")

	case name.is("CONVERT") && p.d == MySQL:
		p.advance()
		if err := p.parseExpr(s, c); err != nil {
			return err
		}
		if p.accept("USING") {
			if !p.advance().isIdent() {
				return errAt(p.prev().start, "expected character set")
			}
		} else {
			if err := p.expectOp(","); err != nil {
				return err
			}
			if err := p.skipCastType(); err != nil {
				return err
			}
		}
		return p.expectOp(")")

	case name.is("EXTRACT"):
		p.advance()
		if u := p.advance(); u.kind != tokWord && u.kind != tokString {
			return errAt(u.start, "expected date part")
		}
		if err := p.expect("FROM"); err != nil {
			return err
		}
		if err := p.parseExpr(s, c); err != nil {
			return err
		}
		return p.expectOp(")")

	case (p.d == SQLServer && sqlserverDatePartFuncs[name.val]) || (p.d == MySQL && mysqlUnitFuncs[name.val]):
		p.advance()
		if u := p.advance(); u.kind != tokWord {
			return errAt(u.start, "expected date part")
		}
		for p.acceptOp(",") {
			if err := p.parseExpr(s, c); err != nil {
				return err
			}
		}
		return p.expectOp(")")

	case name.is("TRIM"):
		p.advance()
		if !p.accept("LEADING") && !p.accept("TRAILING") {
			p.accept("BOTH")
		}
		if !p.accept("FROM") {
			if err := p.parseExpr(s, c); err != nil {
				return err
			}
			if !p.accept("FROM") && !p.acceptOp(",") {
				return p.expectOp(")")
			}
		}
		if err := p.parseExpr(s, c); err != nil {
			return err
		}
		return p.expectOp(")")
	}
	return p.parseCallArgs(s, c, name.text)
}

// parseCallArgs reads a generic argument list starting at "(".
func (p *parser) parseCallArgs(s *scope, c clause, name string) error {
	if p.parenStartsQuery(p.pos) {
		_, err := p.parseSubquery(s)
		return err
	}
	if err := p.expectOp("("); err != nil {
		return err
	}
	if p.acceptOp(")") {
		return nil
	}
	if !p.accept("DISTINCT") {
		p.accept("ALL")
	}
	if p.acceptOp("*") {
		return p.expectOp(")")
	}
	for {
		if err := p.parseExpr(s, c); err != nil {
			return err
		}
		switch t := p.peek(); {
		case t.isOp(","), t.is("FROM"), t.is("FOR"), t.is("PLACING"):
			p.advance()
			continue
		case t.is("ORDER") && p.peekAt(1).is("BY"):
			p.pos += 2
			if err := p.parseOrderList(s, c); err != nil {
				return err
			}
		case t.is("AS") && p.d == Postgres:
			// xmlelement-style named arguments.
			p.advance()
			if _, err := identOf(p.advance()); err != nil {
				return err
			}
			if p.acceptOp(",") {
				continue
			}
		}
		if p.d == MySQL && p.accept("SEPARATOR") {
			if p.advance().kind != tokString {
				return errAt(p.prev().start, "expected separator string in %s", name)
			}
		}
		if (p.peek().is("IGNORE") || p.peek().is("RESPECT")) && p.peekAt(1).is("NULLS") {
			p.pos += 2
		}
		return p.expectOp(")")
	}
}

// parseWindowSpec reads a window name or a parenthesized window definition.
func (p *parser) parseWindowSpec(s *scope) error {
	if !p.peek().isOp("(") {
		_, err := identOf(p.advance())
		return err
	}
	p.advance()
	if t := p.peek(); t.isIdent() && !t.is("PARTITION") && !t.is("ORDER") &&
		!t.is("ROWS") && !t.is("RANGE") && !t.is("GROUPS") {
		p.advance()
	}
	if p.peek().is("PARTITION") && p.peekAt(1).is("BY") {
		p.pos += 2
		for {
			if err := p.parseExpr(s, clauseOther); err != nil {
				return err
			}
			if !p.acceptOp(",") {
				break
			}
		}
	}
	if p.peek().is("ORDER") && p.peekAt(1).is("BY") {
		p.pos += 2
		if err := p.parseOrderList(s, clauseOther); err != nil {
			return err
		}
	}
	if p.accept("ROWS") || p.accept("RANGE") || p.accept("GROUPS") {
		if p.accept("BETWEEN") {
			if err := p.parseFrameBound(s); err != nil {
				return err
			}
			if err := p.expect("AND"); err != nil {
				return err
			}
		}
		if err := p.parseFrameBound(s); err != nil {
			return err
		}
		if p.accept("EXCLUDE") {
			switch {
			case p.accept("CURRENT"):
				if err := p.expect("ROW"); err != nil {
					return err
				}
			case p.accept("GROUP"), p.accept("TIES"):
			case p.accept("NO"):
				if err := p.expect("OTHERS"); err != nil {
					return err
				}
			default:
				return p.unexpected("expected frame exclusion")
			}
		}
	}
	return p.expectOp(")")
}

func (p *parser) parseFrameBound(s *scope) error {
	switch {
	case p.accept("UNBOUNDED"):
	case p.accept("CURRENT"):
		return p.expect("ROW")
	default:
		if err := p.parseExpr(s, clauseOther); err != nil {
			return err
		}
	}
	if !p.accept("PRECEDING") && !p.accept("FOLLOWING") {
		return p.unexpected("expected PRECEDING or FOLLOWING")
	}
	return nil
}

// skipTypeName consumes a type such as "numeric(10, 2)", "text[]" or
// "timestamp with time zone".
func (p *parser) skipTypeName() error {
	if err := p.skipQualifiedName(); err != nil {
		return err
	}
	for {
		t := p.peek()
		switch {
		case t.is("PRECISION"), t.is("VARYING"), t.is("UNSIGNED"), t.is("SIGNED"):
			p.advance()
		case (t.is("WITH") || t.is("WITHOUT")) && p.peekAt(1).is("TIME") && p.peekAt(2).is("ZONE"):
			p.pos += 3
		case t.isOp("("):
			if err := p.skipTypeArgs(); err != nil {
				return err
			}
		case t.isOp("[") && p.peekAt(1).isOp("]"):
			p.pos += 2
		default:
			return nil
		}
	}
}

// skipCastType consumes the target of CAST(... AS type), which may carry
// trailing words such as "CHARACTER SET utf8mb4".
func (p *parser) skipCastType() error {
	if err := p.skipTypeName(); err != nil {
		return err
	}
	for {
		t := p.peek()
		switch {
		case t.kind == tokWord && !reserved[t.val]:
			p.advance()
		case t.kind == tokQuotedIdent:
			p.advance()
		case t.isOp("("):
			if err := p.skipTypeArgs(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// skipTypeArgs consumes "(n[, m])" after a type name. Only numbers and bare
// words such as MAX are accepted inside.
func (p *parser) skipTypeArgs() error {
	end, err := p.matchParen(p.pos)
	if err != nil {
		return err
	}
	for i := p.pos + 1; i < end; i++ {
		t := p.toks[i]
		if t.kind == tokNumber || t.isOp(",") || (t.kind == tokWord && !isKeyword(t.val)) {
			continue
		}
		if t.is("CHAR") || t.is("BYTE") {
			continue
		}
		return errAt(t.start, "unexpected %q in type arguments", t.text)
	}
	p.pos = end + 1
	return nil
}

func (p *parser) skipQualifiedName() error {
	for {
		t := p.advance()
		if !t.isIdent() || (t.kind == tokWord && reserved[t.val]) {
			return errAt(t.start, "expected name, found %q", t.text)
		}
		if !p.peek().isOp(".") || !p.peekAt(1).isIdent() {
			return nil
		}
		p.advance()
	}
}
