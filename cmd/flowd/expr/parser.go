package expr

import (
	"fmt"
	"strconv"
)

// parseExpr parses a single expression (the inside of {{ }}).
func parseExpr(input string) (Node, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", p.peek().text, p.peek().pos)
	}
	return node, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) advance() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.peek()
	if tok.kind != kind {
		return token{}, fmt.Errorf("expected %s at position %d, got %q", what, tok.pos, tok.text)
	}
	return p.advance(), nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.peek().kind == tokNot {
		p.advance()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{Expr: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parsePipe()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokOp {
		op := p.advance().text
		right, err := p.parsePipe()
		if err != nil {
			return nil, err
		}
		return &Comparison{Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) parsePipe() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokPipe {
		p.advance()
		name, err := p.expect(tokIdent, "filter name")
		if err != nil {
			return nil, err
		}
		filter := &Filter{Input: node, Name: name.text}
		if p.peek().kind == tokLParen {
			p.advance()
			if p.peek().kind != tokRParen {
				for {
					arg, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					filter.Args = append(filter.Args, arg)
					if p.peek().kind != tokComma {
						break
					}
					p.advance()
				}
			}
			if _, err := p.expect(tokRParen, `")"`); err != nil {
				return nil, err
			}
		}
		node = filter
	}
	return node, nil
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.peek()
	switch tok.kind {
	case tokString:
		p.advance()
		return &Literal{Value: tok.text}, nil

	case tokNumber:
		p.advance()
		if f, err := strconv.ParseFloat(tok.text, 64); err == nil {
			return &Literal{Value: f}, nil
		}
		return nil, fmt.Errorf("invalid number %q at position %d", tok.text, tok.pos)

	case tokLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return inner, nil

	case tokIdent:
		p.advance()
		switch tok.text {
		case "true":
			return &Literal{Value: true}, nil
		case "false":
			return &Literal{Value: false}, nil
		case "null":
			return &Literal{Value: nil}, nil
		}
		path := &Path{Root: tok.text}
		for p.peek().kind == tokDot {
			p.advance()
			seg := p.peek()
			if seg.kind != tokIdent && seg.kind != tokNumber {
				return nil, fmt.Errorf("expected path segment at position %d, got %q", seg.pos, seg.text)
			}
			p.advance()
			path.Segments = append(path.Segments, seg.text)
		}
		return path, nil
	}
	return nil, fmt.Errorf("unexpected %q at position %d", tok.text, tok.pos)
}
