// Package condition implements the fixed predicate grammar evaluated against
// per-event contexts. Conditions are parsed into a typed AST over a closed
// identifier set; there is deliberately no general expression evaluation, and
// unknown identifiers are rejected at parse time so a bad rule fails at
// registration rather than at runtime.
//
// Grammar:
//
//	expr    := or
//	or      := and ("or" and)*
//	and     := not ("and" not)*
//	not     := "not" not | cmp
//	cmp     := add (("=="|"!="|"<"|"<="|">"|">="|"in") add)?
//	add     := mul (("+"|"-") mul)*
//	mul     := unary (("*"|"/") unary)*
//	unary   := "-" unary | primary
//	primary := NUMBER | STRING | "true" | "false" | ref | "(" expr ("," expr)* ")"
//	ref     := "event_type" | "severity" | "source" | "tags"
//	        | "data" ("." IDENT)+
//	        | "windows" "[" STRING "]" "." "count" "(" ")"
//	        | "metrics" "[" STRING "]"
package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenOperator // == != < <= > >= + - * /
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenComma
	tokenDot
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func (t token) String() string {
	if t.kind == tokenEOF {
		return "end of condition"
	}
	return fmt.Sprintf("%q", t.text)
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) errorf(pos int, format string, args ...any) error {
	return fmt.Errorf("condition: position %d: %s", pos, fmt.Sprintf(format, args...))
}

func (l *lexer) tokens() ([]token, error) {
	var out []token

	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.kind == tokenEOF {
			return out, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}

	if l.pos >= len(l.input) {
		return token{kind: tokenEOF, pos: l.pos}, nil
	}

	start := l.pos
	ch := l.input[l.pos]

	switch ch {
	case '(':
		l.pos++
		return token{kind: tokenLParen, text: "(", pos: start}, nil
	case ')':
		l.pos++
		return token{kind: tokenRParen, text: ")", pos: start}, nil
	case '[':
		l.pos++
		return token{kind: tokenLBracket, text: "[", pos: start}, nil
	case ']':
		l.pos++
		return token{kind: tokenRBracket, text: "]", pos: start}, nil
	case ',':
		l.pos++
		return token{kind: tokenComma, text: ",", pos: start}, nil
	case '.':
		l.pos++
		return token{kind: tokenDot, text: ".", pos: start}, nil
	case '"', '\'':
		return l.lexString(ch)
	case '=', '!', '<', '>':
		return l.lexComparison()
	case '+', '-', '*', '/':
		l.pos++
		return token{kind: tokenOperator, text: string(ch), pos: start}, nil
	}

	if unicode.IsDigit(rune(ch)) {
		return l.lexNumber()
	}

	if unicode.IsLetter(rune(ch)) || ch == '_' {
		return l.lexIdent()
	}

	return token{}, l.errorf(start, "unexpected character %q", string(ch))
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // consume opening quote

	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == quote {
			l.pos++
			return token{kind: tokenString, text: sb.String(), pos: start}, nil
		}
		sb.WriteByte(ch)
		l.pos++
	}

	return token{}, l.errorf(start, "unterminated string")
}

func (l *lexer) lexComparison() (token, error) {
	start := l.pos
	ch := l.input[l.pos]
	l.pos++

	hasEq := l.pos < len(l.input) && l.input[l.pos] == '='
	if hasEq {
		l.pos++
		return token{kind: tokenOperator, text: string(ch) + "=", pos: start}, nil
	}

	switch ch {
	case '<', '>':
		return token{kind: tokenOperator, text: string(ch), pos: start}, nil
	}

	return token{}, l.errorf(start, "unexpected character %q", string(ch))
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.input) && (unicode.IsDigit(rune(l.input[l.pos])) || l.input[l.pos] == '.') {
		l.pos++
	}

	text := l.input[start:l.pos]
	num, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, l.errorf(start, "invalid number %q", text)
	}

	return token{kind: tokenNumber, text: text, num: num, pos: start}, nil
}

func (l *lexer) lexIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.input) {
		ch := rune(l.input[l.pos])
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' {
			break
		}
		l.pos++
	}

	return token{kind: tokenIdent, text: l.input[start:l.pos], pos: start}, nil
}
