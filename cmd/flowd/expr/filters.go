package expr

import (
	"reflect"
	"strings"
)

// applyFilter runs a named filter. Type mismatches and unknown filter names
// return the input unchanged so a bad pipe degrades instead of failing a node.
func applyFilter(name string, input interface{}, args []interface{}) interface{} {
	switch name {
	case "trim":
		if s, ok := input.(string); ok {
			return strings.TrimSpace(s)
		}

	case "upper":
		if s, ok := input.(string); ok {
			return strings.ToUpper(s)
		}

	case "lower":
		if s, ok := input.(string); ok {
			return strings.ToLower(s)
		}

	case "length":
		if s, ok := input.(string); ok {
			return len(s)
		}
		rv := reflect.ValueOf(input)
		switch rv.Kind() {
		case reflect.Slice, reflect.Map, reflect.Array:
			return rv.Len()
		}

	case "split":
		s, ok := input.(string)
		if !ok {
			break
		}
		sep := ","
		if len(args) > 0 {
			if a, ok := args[0].(string); ok {
				sep = a
			}
		}
		parts := strings.Split(s, sep)
		out := make([]interface{}, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out

	case "join":
		items, ok := toSlice(input)
		if !ok {
			break
		}
		sep := ","
		if len(args) > 0 {
			if a, ok := args[0].(string); ok {
				sep = a
			}
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = Stringify(item)
		}
		return strings.Join(parts, sep)

	case "first":
		if items, ok := toSlice(input); ok {
			if len(items) == 0 {
				return nil
			}
			return items[0]
		}

	case "last":
		if items, ok := toSlice(input); ok {
			if len(items) == 0 {
				return nil
			}
			return items[len(items)-1]
		}

	case "default":
		if len(args) == 0 {
			return input
		}
		if input == nil {
			return args[0]
		}
		if s, ok := input.(string); ok && s == "" {
			return args[0]
		}
		return input
	}
	return input
}

func toSlice(v interface{}) ([]interface{}, bool) {
	if items, ok := v.([]interface{}); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
