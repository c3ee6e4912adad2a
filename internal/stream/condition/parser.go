package condition

import "fmt"

// Identifiers permitted at the root of a reference. Anything else fails the
// parse, which is the contract: bad rules are rejected at registration.
var rootIdents = map[string]bool{
	"event_type": true,
	"severity":   true,
	"source":     true,
	"tags":       true,
	"data":       true,
	"windows":    true,
	"metrics":    true,
	"true":       true,
	"false":      true,
	"and":        true,
	"or":         true,
	"not":        true,
	"in":         true,
}

type parser struct {
	tokens []token
	pos    int
}

// Parse compiles a condition into its AST. Unknown identifiers, malformed
// references, and trailing input are all parse errors.
func Parse(input string) (Expr, error) {
	lex := &lexer{input: input}
	tokens, err := lex.tokens()
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if p.peek().kind != tokenEOF {
		return nil, p.errorf("unexpected %s after expression", p.peek())
	}

	return expr, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("condition: %s", fmt.Sprintf(format, args...))
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.peek()
	if tok.kind != kind {
		return token{}, p.errorf("expected %s, got %s", what, tok)
	}
	return p.advance(), nil
}

func (p *parser) matchIdent(name string) bool {
	tok := p.peek()
	if tok.kind == tokenIdent && tok.text == name {
		p.advance()
		return true
	}
	return false
}

func (p *parser) matchOperator(ops ...string) (string, bool) {
	tok := p.peek()
	if tok.kind != tokenOperator {
		return "", false
	}
	for _, op := range ops {
		if tok.text == op {
			p.advance()
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.matchIdent("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "or", Left: left, Right: right}
	}

	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	for p.matchIdent("and") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "and", Left: left, Right: right}
	}

	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.matchIdent("not") {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "not", X: x}, nil
	}

	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if op, ok := p.matchOperator("==", "!=", "<=", ">=", "<", ">"); ok {
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &Binary{Op: op, Left: left, Right: right}, nil
	}

	if p.matchIdent("in") {
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &Binary{Op: "in", Left: left, Right: right}, nil
	}

	return left, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}

	for {
		op, ok := p.matchOperator("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		op, ok := p.matchOperator("*", "/")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if op, ok := p.matchOperator("-"); ok {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: op, X: x}, nil
	}

	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.peek()

	switch tok.kind {
	case tokenNumber:
		p.advance()
		return &Literal{Value: tok.num}, nil

	case tokenString:
		p.advance()
		return &Literal{Value: tok.text}, nil

	case tokenLParen:
		return p.parseParen()

	case tokenIdent:
		return p.parseReference()
	}

	return nil, p.errorf("unexpected %s", tok)
}

// parseParen handles both grouping "(expr)" and tuples "(a, b, c)".
func (p *parser) parseParen() (Expr, error) {
	p.advance() // consume "("

	first, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if p.peek().kind != tokenComma {
		if _, err := p.expect(tokenRParen, `")"`); err != nil {
			return nil, err
		}
		return first, nil
	}

	elems := []Expr{first}
	for p.peek().kind == tokenComma {
		p.advance()
		next, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, next)
	}

	if _, err := p.expect(tokenRParen, `")"`); err != nil {
		return nil, err
	}

	return &Tuple{Elems: elems}, nil
}

func (p *parser) parseReference() (Expr, error) {
	tok := p.advance()
	name := tok.text

	if !rootIdents[name] {
		return nil, p.errorf("unknown identifier %q", name)
	}

	switch name {
	case "true":
		return &Literal{Value: true}, nil
	case "false":
		return &Literal{Value: false}, nil
	case "and", "or", "not", "in":
		return nil, p.errorf("unexpected keyword %q", name)

	case "event_type", "severity", "source", "tags":
		return &FieldRef{Name: name}, nil

	case "data":
		return p.parseDataRef()

	case "windows":
		return p.parseWindowCount()

	case "metrics":
		return p.parseMetricRef()
	}

	return nil, p.errorf("unknown identifier %q", name)
}

func (p *parser) parseDataRef() (Expr, error) {
	var path []string

	for p.peek().kind == tokenDot {
		p.advance()
		seg, err := p.expect(tokenIdent, "data path segment")
		if err != nil {
			return nil, err
		}
		path = append(path, seg.text)
	}

	if len(path) == 0 {
		return nil, p.errorf(`"data" requires a path (data.field)`)
	}

	return &DataRef{Path: path}, nil
}

func (p *parser) parseWindowCount() (Expr, error) {
	if _, err := p.expect(tokenLBracket, `"["`); err != nil {
		return nil, err
	}
	name, err := p.expect(tokenString, "window name string")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenRBracket, `"]"`); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenDot, `"."`); err != nil {
		return nil, err
	}

	fn, err := p.expect(tokenIdent, "window function")
	if err != nil {
		return nil, err
	}
	if fn.text != "count" {
		return nil, p.errorf("unknown window function %q", fn.text)
	}

	if _, err := p.expect(tokenLParen, `"("`); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenRParen, `")"`); err != nil {
		return nil, err
	}

	return &WindowCount{Window: name.text}, nil
}

func (p *parser) parseMetricRef() (Expr, error) {
	if _, err := p.expect(tokenLBracket, `"["`); err != nil {
		return nil, err
	}
	name, err := p.expect(tokenString, "metric name string")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenRBracket, `"]"`); err != nil {
		return nil, err
	}

	return &MetricRef{Name: name.text}, nil
}
