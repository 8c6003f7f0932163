package expr

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/execctx"
)

// evalNode evaluates a parsed expression against the execution context.
// Resolution never fails at runtime: missing paths yield nil and unknown
// filters pass their input through.
func evalNode(n Node, ctx *execctx.Context) interface{} {
	switch node := n.(type) {
	case *Literal:
		return node.Value

	case *Path:
		return resolvePath(node, ctx)

	case *Filter:
		input := evalNode(node.Input, ctx)
		args := make([]interface{}, 0, len(node.Args))
		for _, arg := range node.Args {
			args = append(args, evalNode(arg, ctx))
		}
		return applyFilter(node.Name, input, args)

	case *Comparison:
		return compare(node.Op, evalNode(node.Left, ctx), evalNode(node.Right, ctx))

	case *Logical:
		left := Truthy(evalNode(node.Left, ctx))
		if node.Op == "&&" {
			return left && Truthy(evalNode(node.Right, ctx))
		}
		return left || Truthy(evalNode(node.Right, ctx))

	case *Not:
		return !Truthy(evalNode(node.Expr, ctx))
	}
	return nil
}

func resolvePath(p *Path, ctx *execctx.Context) interface{} {
	switch p.Root {
	case "$prev":
		return resolvePrev(p.Segments, ctx)

	case "$vars":
		if len(p.Segments) == 0 {
			return ctx.VariablesSnapshot()
		}
		v, ok := ctx.Variable(p.Segments[0])
		if !ok {
			return nil
		}
		return descend(v, p.Segments[1:])

	case "$input":
		v, ok := ctx.Variable("input")
		if !ok {
			return nil
		}
		return descend(v, p.Segments)

	case "$env":
		if len(p.Segments) == 0 {
			return ctx.EnvSnapshot()
		}
		v, ok := ctx.Env(p.Segments[0])
		if !ok {
			return nil
		}
		return descend(v, p.Segments[1:])

	case "$creds":
		if len(p.Segments) == 0 {
			return nil
		}
		v, ok := ctx.Credential(p.Segments[0])
		if !ok {
			return nil
		}
		return descend(v, p.Segments[1:])

	case "$loop":
		frame := ctx.LoopFrame()
		if frame == nil {
			return nil
		}
		return descend(frame, p.Segments)

	default:
		// Bare identifier: workflow scope shadows the global scope.
		if v, ok := ctx.Variable(p.Root); ok {
			return descend(v, p.Segments)
		}
		if v, ok := ctx.Env(p.Root); ok {
			return descend(v, p.Segments)
		}
		return nil
	}
}

// resolvePrev handles the three $prev addressing forms: bare (most recent
// completion), numeric offset, and explicit node id.
func resolvePrev(segments []string, ctx *execctx.Context) interface{} {
	if len(segments) == 0 {
		if r, ok := ctx.PrevResult(0); ok {
			return r.Output
		}
		return nil
	}

	head := segments[0]
	if n, err := strconv.Atoi(head); err == nil && n >= 0 {
		if r, ok := ctx.PrevResult(n); ok {
			return descend(r.Output, segments[1:])
		}
		return nil
	}
	if r, ok := ctx.Result(head); ok {
		return descend(r.Output, segments[1:])
	}
	if r, ok := ctx.PrevResult(0); ok {
		return descend(r.Output, segments)
	}
	return nil
}

// descend walks the remaining dotted segments into a value. The value is
// flattened to JSON and queried with gjson, which handles maps, structs
// and array indices uniformly.
func descend(value interface{}, segments []string) interface{} {
	if len(segments) == 0 {
		return value
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	res := gjson.GetBytes(raw, strings.Join(segments, "."))
	if !res.Exists() {
		return nil
	}
	return res.Value()
}

// Truthy reports the boolean interpretation of a value: nil, false, zero
// numbers, empty strings and empty collections are false.
func Truthy(v interface{}) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	}
	return true
}

func compare(op string, left, right interface{}) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)

	switch op {
	case "==", "!=":
		var equal bool
		if lok && rok {
			equal = lf == rf
		} else {
			equal = reflect.DeepEqual(left, right)
		}
		if op == "==" {
			return equal
		}
		return !equal
	}

	if lok && rok {
		switch op {
		case ">":
			return lf > rf
		case "<":
			return lf < rf
		case ">=":
			return lf >= rf
		case "<=":
			return lf <= rf
		}
	}

	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case ">":
			return ls > rs
		case "<":
			return ls < rs
		case ">=":
			return ls >= rs
		case "<=":
			return ls <= rs
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Stringify renders a value for template interpolation. nil renders as the
// empty string; composites render as compact JSON.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	}
	if raw, err := json.Marshal(v); err == nil {
		return string(raw)
	}
	return fmt.Sprintf("%v", v)
}
