package sandbox

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Null is the sandbox's JS-flavored null value, distinct from Undefined.
type Null struct{}

// Undefined is returned for a missing object property or an unresolved
// identifier accessed via typeof, matching JS's "undefined" rather than
// erroring.
type Undefined struct{}

// Callable is anything the evaluator can invoke with Call: a native Go
// function exposed on the opensrc API, or a user-written arrow-function
// closure passed as a callback (e.g. to .map).
type Callable interface {
	Call(args []any) (any, error)
}

// NativeFunc adapts a Go function to Callable; every opensrc.* API member
// is one of these.
type NativeFunc func(args []any) (any, error)

func (f NativeFunc) Call(args []any) (any, error) { return f(args) }

// Closure is a user-defined arrow function value, capturing its defining
// environment.
type Closure struct {
	fn  *ArrowFunc
	env *env
	ev  *evaluator
}

func (c *Closure) Call(args []any) (any, error) {
	return c.ev.callClosure(c, args)
}

func isUndefined(v any) bool {
	_, ok := v.(Undefined)
	return ok || v == nil
}

func isNull(v any) bool {
	_, ok := v.(Null)
	return ok
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil, Undefined, Null:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return true
	case map[string]any:
		return true
	default:
		return true
	}
}

func toNumber(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to a number", t)
		}
		return f, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot convert value to a number")
	}
}

func toDisplayString(v any) string {
	switch t := v.(type) {
	case nil, Undefined:
		return "undefined"
	case Null:
		return "null"
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return formatNumber(t)
	default:
		data, err := json.Marshal(toJSONValue(v))
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ToDisplayJSON converts a Sandbox.Run return value (which may contain
// Null/Undefined sentinels) into a plain value safe to pass to
// encoding/json, for callers rendering a script's result for display.
func ToDisplayJSON(v any) any {
	return toJSONValue(v)
}

// toJSONValue converts sandbox values (Null/Undefined sentinels) into
// plain values encoding/json understands.
func toJSONValue(v any) any {
	switch t := v.(type) {
	case Null:
		return nil
	case Undefined:
		return nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toJSONValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = toJSONValue(e)
		}
		return out
	default:
		return v
	}
}

// fromJSONValue converts decoded encoding/json values into sandbox values.
func fromJSONValue(v any) any {
	switch t := v.(type) {
	case nil:
		return Null{}
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromJSONValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = fromJSONValue(e)
		}
		return out
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func typeOf(v any) string {
	switch v.(type) {
	case nil, Undefined:
		return "undefined"
	case Null:
		return "object"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any, map[string]any:
		return "object"
	case Callable:
		return "function"
	default:
		return "object"
	}
}
