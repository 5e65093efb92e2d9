package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/BaSui01/flowforge/types"
)

// EvalCondition evaluates a conditional-edge expression against a node's
// output data. The expression form is "field op literal":
//
//	score >= 80
//	result.decision == "approved"
//	tags contains "urgent"
//
// The field is a dot path into the output map. Supported operators are
// ==, !=, >, >=, <, <= and contains. Literals are quoted strings, numbers,
// or true/false. A malformed expression or missing field returns an error;
// the resolver logs it and treats the edge as not satisfied.
func EvalCondition(expr string, output types.JSONMap) (bool, error) {
	parts := strings.Fields(strings.TrimSpace(expr))
	if len(parts) < 3 {
		return false, fmt.Errorf("malformed condition %q: want <field> <op> <value>", expr)
	}
	field, op := parts[0], parts[1]
	literal := strings.Join(parts[2:], " ")

	val, ok := lookupPath(output, field)
	if !ok {
		return false, fmt.Errorf("condition field %q not present in output", field)
	}

	switch op {
	case "==", "!=":
		eq, err := compareEqual(val, literal)
		if err != nil {
			return false, fmt.Errorf("condition %q: %w", expr, err)
		}
		if op == "!=" {
			return !eq, nil
		}
		return eq, nil
	case ">", ">=", "<", "<=":
		lhs, ok := toFloat(val)
		if !ok {
			return false, fmt.Errorf("condition %q: field is not numeric", expr)
		}
		rhs, err := strconv.ParseFloat(unquote(literal), 64)
		if err != nil {
			return false, fmt.Errorf("condition %q: literal is not numeric", expr)
		}
		switch op {
		case ">":
			return lhs > rhs, nil
		case ">=":
			return lhs >= rhs, nil
		case "<":
			return lhs < rhs, nil
		default:
			return lhs <= rhs, nil
		}
	case "contains":
		needle := unquote(literal)
		switch v := val.(type) {
		case string:
			return strings.Contains(v, needle), nil
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && s == needle {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, fmt.Errorf("condition %q: contains needs a string or list field", expr)
		}
	default:
		return false, fmt.Errorf("malformed condition %q: unknown operator %q", expr, op)
	}
}

// lookupPath walks a dot path through nested maps.
func lookupPath(m types.JSONMap, path string) (any, bool) {
	var cur any = map[string]any(m)
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case types.JSONMap:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

func compareEqual(val any, literal string) (bool, error) {
	if lhs, ok := toFloat(val); ok {
		if rhs, err := strconv.ParseFloat(unquote(literal), 64); err == nil {
			return lhs == rhs, nil
		}
	}
	switch v := val.(type) {
	case bool:
		rhs, err := strconv.ParseBool(literal)
		if err != nil {
			return false, fmt.Errorf("literal %q is not a bool", literal)
		}
		return v == rhs, nil
	case string:
		return v == unquote(literal), nil
	default:
		return false, fmt.Errorf("field type %T not comparable", val)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
