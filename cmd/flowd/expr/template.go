package expr

import (
	"fmt"
	"strings"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/execctx"
)

type partKind int

const (
	partLiteral partKind = iota
	partExpr
)

type part struct {
	kind partKind
	text string
	node Node
}

// Template is a parsed interpolation string. A template consisting of a
// single {{ }} expression with nothing around it evaluates to the native
// value of that expression; anything else renders as a string.
type Template struct {
	raw   string
	parts []part
}

// Parse compiles a template string. Malformed expressions and unclosed
// braces are reported at compile time so workflows fail validation instead
// of failing mid-run.
func Parse(raw string) (*Template, error) {
	t := &Template{raw: raw}
	rest := raw
	offset := 0

	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			if rest != "" {
				t.parts = append(t.parts, part{kind: partLiteral, text: rest})
			}
			break
		}
		if open > 0 {
			t.parts = append(t.parts, part{kind: partLiteral, text: rest[:open]})
		}
		closing := strings.Index(rest[open:], "}}")
		if closing < 0 {
			return nil, fmt.Errorf("unclosed expression at position %d", offset+open)
		}
		closing += open

		inner := rest[open+2 : closing]
		node, err := parseExpr(inner)
		if err != nil {
			return nil, fmt.Errorf("invalid expression %q: %w", strings.TrimSpace(inner), err)
		}
		t.parts = append(t.parts, part{kind: partExpr, text: inner, node: node})

		offset += closing + 2
		rest = rest[closing+2:]
	}
	return t, nil
}

// MustParse is Parse for static templates in tests and block defaults.
func MustParse(raw string) *Template {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// Validate reports whether a string parses as a template.
func Validate(raw string) error {
	_, err := Parse(raw)
	return err
}

// HasExpression reports whether the string contains any {{ }} placeholder.
func HasExpression(raw string) bool {
	return strings.Contains(raw, "{{")
}

// Evaluate resolves the template against an execution context.
func (t *Template) Evaluate(ctx *execctx.Context) interface{} {
	if len(t.parts) == 1 && t.parts[0].kind == partExpr {
		return evalNode(t.parts[0].node, ctx)
	}

	var sb strings.Builder
	for _, p := range t.parts {
		if p.kind == partLiteral {
			sb.WriteString(p.text)
			continue
		}
		sb.WriteString(Stringify(evalNode(p.node, ctx)))
	}
	return sb.String()
}

// Raw returns the original template string.
func (t *Template) Raw() string {
	return t.raw
}

// Evaluate parses and resolves a template in one step.
func Evaluate(raw string, ctx *execctx.Context) (interface{}, error) {
	t, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return t.Evaluate(ctx), nil
}

// ValidateAny checks every string inside a JSON-shaped value for template
// syntax errors. Used by workflow validation before any node runs.
func ValidateAny(value interface{}) error {
	switch v := value.(type) {
	case string:
		if !HasExpression(v) {
			return nil
		}
		return Validate(v)

	case map[string]interface{}:
		for k, item := range v {
			if err := ValidateAny(item); err != nil {
				return fmt.Errorf("field %s: %w", k, err)
			}
		}

	case []interface{}:
		for i, item := range v {
			if err := ValidateAny(item); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
	}
	return nil
}

// ResolveAny resolves every string inside an arbitrary JSON-shaped value,
// recursing through maps and slices. Used for node config resolution.
func ResolveAny(value interface{}, ctx *execctx.Context) (interface{}, error) {
	switch v := value.(type) {
	case string:
		if !HasExpression(v) {
			return v, nil
		}
		return Evaluate(v, ctx)

	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			resolved, err := ResolveAny(item, ctx)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
			out[k] = resolved
		}
		return out, nil

	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := ResolveAny(item, ctx)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = resolved
		}
		return out, nil
	}
	return value, nil
}
