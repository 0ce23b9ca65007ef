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
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokQuotedIdent
	tokString
	tokNumber
	tokParam
	tokOp
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokWord:
		return "word"
	case tokQuotedIdent:
		return "quoted identifier"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	case tokParam:
		return "parameter"
	case tokOp:
		return "operator"
	}
	return "token"
}

// token is a lexical unit. For words val is the NFKC-normalized upper-case
// form; for quoted identifiers it is the unescaped name; for operators and
// punctuation it is the operator itself.
type token struct {
	kind       tokenKind
	text       string
	val        string
	start, end int
	normalized bool
}

func (t token) is(keyword string) bool {
	return t.kind == tokWord && t.val == keyword
}

func (t token) isOp(op string) bool {
	return t.kind == tokOp && t.val == op
}

func (t token) isIdent() bool {
	return t.kind == tokWord || t.kind == tokQuotedIdent
}

// syntaxError marks text the gate refuses to interpret.
type syntaxError struct {
	pos int
	msg string
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("%s at offset %d", e.msg, e.pos)
}

func errAt(pos int, format string, args ...any) error {
	return &syntaxError{pos: pos, msg: fmt.Sprintf(format, args...)}
}

// multi-character operators, longest first.
var compoundOps = []string{
	"->>", "#>>", "!~*", "<=>",
	"<>", "<=", ">=", "!=", "||", "::", "->", "#>", "@>", "<@", "&&",
	"<<", ">>", ":=", "=>", "!~", "~*", "~~", "?|", "?&",
}

const opChars = "+-*/%<>=!|&^~@#?:"

type lexer struct {
	src  string
	pos  int
	d    Dialect
	toks []token
}

// lex splits src into tokens. Anything whose meaning could differ between
// this lexer and the database server is an error.
func lex(src string, d Dialect) ([]token, error) {
	if !utf8.ValidString(src) {
		return nil, errAt(0, "invalid UTF-8")
	}
	l := &lexer{src: src, d: d}
	for {
		if err := l.skipSpaceAndComments(); err != nil {
			return nil, err
		}
		if l.pos >= len(l.src) {
			return l.toks, nil
		}
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		l.toks = append(l.toks, tok)
	}
}

func (l *lexer) at(off int) byte {
	if i := l.pos + off; i < len(l.src) {
		return l.src[i]
	}
	return 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (l *lexer) skipSpaceAndComments() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case isSpace(c):
			l.pos++
		case c == '-' && l.at(1) == '-':
			if l.d == MySQL {
				if n := l.at(2); n != 0 && !isSpace(n) {
					return errAt(l.pos, "'--' not followed by whitespace")
				}
			}
			if err := l.skipLineComment(); err != nil {
				return err
			}
		case c == '#' && l.d == MySQL:
			if err := l.skipLineComment(); err != nil {
				return err
			}
		case c == '/' && l.at(1) == '*':
			if err := l.skipBlockComment(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

func (l *lexer) skipLineComment() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\n' {
			l.pos++
			return nil
		}
		// Engines disagree on whether a lone carriage return ends the comment.
		if c == '\r' && l.at(1) != '\n' {
			return errAt(l.pos, "carriage return inside line comment")
		}
		l.pos++
	}
	return nil
}

func (l *lexer) skipBlockComment() error {
	start := l.pos
	switch l.at(2) {
	case '!':
		return errAt(start, "executable comment")
	case '+':
		return errAt(start, "optimizer hint comment")
	}
	depth := 0
	i := l.pos
	for i < len(l.src) {
		if i+1 < len(l.src) && l.src[i] == '/' && l.src[i+1] == '*' {
			if depth > 0 && !l.d.nestedComments() {
				i += 2
				continue
			}
			depth++
			i += 2
			continue
		}
		if i+1 < len(l.src) && l.src[i] == '*' && l.src[i+1] == '/' {
			depth--
			i += 2
			if depth == 0 {
				l.pos = i
				return nil
			}
			continue
		}
		i++
	}
	return errAt(start, "unterminated comment")
}

func (l *lexer) next() (token, error) {
	start := l.pos
	c := l.src[start]
	switch {
	case c == '\'':
		return l.lexString(start, start, l.d == MySQL)
	case (c == 'E' || c == 'e') && l.d == Postgres && l.at(1) == '\'':
		return l.lexString(start, start+1, true)
	case (c == 'N' || c == 'n' || c == 'X' || c == 'x' || c == 'B' || c == 'b') && l.at(1) == '\'':
		return l.lexString(start, start+1, l.d == MySQL)
	case (c == 'U' || c == 'u') && l.at(1) == '&' && (l.at(2) == '\'' || l.at(2) == '"'):
		return token{}, errAt(start, "unicode escape literal")
	case c == '"':
		if l.d == MySQL {
			return token{}, errAt(start, "double-quoted text is ambiguous in mysql")
		}
		return l.lexQuotedIdent(start, '"', '"')
	case c == '`':
		if !l.d.backtickIdents() {
			return token{}, errAt(start, "unexpected '`'")
		}
		return l.lexQuotedIdent(start, '`', '`')
	case c == '[' && l.d.bracketIdents():
		return l.lexQuotedIdent(start, '[', ']')
	case c == '$':
		return l.lexDollar(start)
	case c == '?' && (l.d == MySQL || l.d == SQLite):
		l.pos++
		if l.d == SQLite {
			for isDigit(l.at(0)) {
				l.pos++
			}
		}
		return l.tok(tokParam, start), nil
	case c == '?' && l.d == SQLServer:
		return token{}, errAt(start, "unexpected '?'")
	case c == '@' && (l.d == SQLServer || l.d == SQLite):
		return l.lexNamedParam(start)
	case c == '@' && l.d == MySQL:
		return token{}, errAt(start, "user and system variables are not supported")
	case c == ':' && l.d == SQLite && (isASCIILetter(l.at(1)) || l.at(1) == '_'):
		return l.lexNamedParam(start)
	case isDigit(c) || (c == '.' && isDigit(l.at(1))):
		return l.lexNumber(start)
	case c == '{' || c == '}':
		return token{}, errAt(start, "escape sequences are not supported")
	case c == '\\':
		return token{}, errAt(start, "unexpected backslash")
	case isASCIILetter(c) || c == '_':
		return l.lexWord(start)
	case c >= utf8.RuneSelf:
		r, _ := utf8.DecodeRuneInString(l.src[start:])
		if unicode.IsLetter(r) {
			return l.lexWord(start)
		}
		return token{}, errAt(start, "unexpected character %U", r)
	case strings.IndexByte("(),;.[]", c) >= 0:
		l.pos++
		return l.tok(tokOp, start), nil
	case strings.IndexByte(opChars, c) >= 0:
		for _, op := range compoundOps {
			if strings.HasPrefix(l.src[start:], op) {
				l.pos += len(op)
				return l.tok(tokOp, start), nil
			}
		}
		l.pos++
		return l.tok(tokOp, start), nil
	default:
		return token{}, errAt(start, "unexpected character %q", c)
	}
}

func (l *lexer) tok(kind tokenKind, start int) token {
	text := l.src[start:l.pos]
	return token{kind: kind, text: text, val: text, start: start, end: l.pos, normalized: true}
}

func (l *lexer) lexString(start, quote int, backslashEscapes bool) (token, error) {
	i := quote + 1
	for {
		if i >= len(l.src) {
			return token{}, errAt(start, "unterminated string literal")
		}
		switch l.src[i] {
		case '\\':
			// Whether a backslash escapes the quote depends on server settings.
			if i+1 < len(l.src) && (l.src[i+1] == '\'' || l.src[i+1] == '"') {
				return token{}, errAt(i, "backslash before quote in string literal")
			}
			if backslashEscapes {
				i += 2
			} else {
				i++
			}
		case '\'':
			if i+1 < len(l.src) && l.src[i+1] == '\'' {
				i += 2
				continue
			}
			l.pos = i + 1
			return l.tok(tokString, start), nil
		default:
			i++
		}
	}
}

func (l *lexer) lexQuotedIdent(start int, open, close byte) (token, error) {
	var b strings.Builder
	i := start + 1
	for {
		if i >= len(l.src) {
			return token{}, errAt(start, "unterminated quoted identifier")
		}
		c := l.src[i]
		if c == close {
			if i+1 < len(l.src) && l.src[i+1] == close {
				b.WriteByte(close)
				i += 2
				continue
			}
			break
		}
		if c < 0x20 {
			return token{}, errAt(i, "control character in quoted identifier")
		}
		b.WriteByte(c)
		i++
	}
	if b.Len() == 0 {
		return token{}, errAt(start, "empty quoted identifier")
	}
	l.pos = i + 1
	t := l.tok(tokQuotedIdent, start)
	t.val = b.String()
	return t, nil
}

func (l *lexer) lexDollar(start int) (token, error) {
	if isDigit(l.at(1)) {
		if l.d != Postgres {
			return token{}, errAt(start, "unexpected '$'")
		}
		l.pos++
		for isDigit(l.at(0)) {
			l.pos++
		}
		return l.tok(tokParam, start), nil
	}
	if l.d == SQLite && (isASCIILetter(l.at(1)) || l.at(1) == '_') {
		return l.lexNamedParam(start)
	}
	if l.d != Postgres {
		return token{}, errAt(start, "unexpected '$'")
	}
	i := start + 1
	for i < len(l.src) && (isASCIILetter(l.src[i]) || l.src[i] == '_' || (i > start+1 && isDigit(l.src[i]))) {
		i++
	}
	if i >= len(l.src) || l.src[i] != '$' {
		return token{}, errAt(start, "unexpected '$'")
	}
	tag := l.src[start : i+1]
	end := strings.Index(l.src[i+1:], tag)
	if end < 0 {
		return token{}, errAt(start, "unterminated dollar-quoted string")
	}
	l.pos = i + 1 + end + len(tag)
	return l.tok(tokString, start), nil
}

func (l *lexer) lexNamedParam(start int) (token, error) {
	if l.at(1) == '@' {
		return token{}, errAt(start, "system variables are not supported")
	}
	l.pos++
	n := 0
	for l.pos < len(l.src) && (isASCIILetter(l.src[l.pos]) || isDigit(l.src[l.pos]) || l.src[l.pos] == '_') {
		l.pos++
		n++
	}
	if n == 0 {
		return token{}, errAt(start, "malformed parameter")
	}
	return l.tok(tokParam, start), nil
}

func (l *lexer) lexNumber(start int) (token, error) {
	if l.at(0) == '0' && (l.at(1) == 'x' || l.at(1) == 'X') {
		l.pos += 2
		n := 0
		for isHex(l.at(0)) {
			l.pos++
			n++
		}
		if n == 0 {
			return token{}, errAt(start, "malformed hexadecimal literal")
		}
	} else {
		for isDigit(l.at(0)) {
			l.pos++
		}
		if l.at(0) == '.' && l.at(1) != '.' {
			l.pos++
			for isDigit(l.at(0)) {
				l.pos++
			}
		}
		if (l.at(0) == 'e' || l.at(0) == 'E') && (isDigit(l.at(1)) || ((l.at(1) == '+' || l.at(1) == '-') && isDigit(l.at(2)))) {
			l.pos += 2
			for isDigit(l.at(0)) {
				l.pos++
			}
		}
	}
	if c := l.at(0); isASCIILetter(c) || c == '_' || c >= utf8.RuneSelf {
		return token{}, errAt(start, "identifier cannot start with a digit")
	}
	return l.tok(tokNumber, start), nil
}

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isWordRune(r rune, first bool) bool {
	if r == '_' || unicode.IsLetter(r) {
		return true
	}
	if first {
		return false
	}
	return r == '$' || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)
}

func (l *lexer) lexWord(start int) (token, error) {
	first := true
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isWordRune(r, first) {
			if r >= utf8.RuneSelf && !unicode.IsSpace(r) {
				return token{}, errAt(l.pos, "unexpected character %U", r)
			}
			break
		}
		first = false
		l.pos += size
	}
	t := l.tok(tokWord, start)
	folded := norm.NFKC.String(t.text)
	t.normalized = folded == t.text
	for i, r := range folded {
		if !isWordRune(r, i == 0) {
			return token{}, errAt(start, "identifier normalizes to invalid text")
		}
	}
	t.val = strings.ToUpper(folded)
	if !t.normalized && !isKeyword(t.val) {
		return token{}, errAt(start, "identifier is not in normalized form")
	}
	return t, nil
}
