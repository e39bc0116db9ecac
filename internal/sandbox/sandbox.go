package sandbox

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultDeadline bounds the combined synchronous and asynchronous
// lifetime of one script execution.
const DefaultDeadline = 30 * time.Second

// API is the frozen capability object injected into the sandbox as
// `opensrc`; every method is exposed as a NativeFunc in the root
// environment.
type API interface {
	List(args []any) (any, error)
	Has(args []any) (any, error)
	Get(args []any) (any, error)
	Files(args []any) (any, error)
	Tree(args []any) (any, error)
	Read(args []any) (any, error)
	ReadMany(args []any) (any, error)
	Grep(args []any) (any, error)
	AstGrep(args []any) (any, error)
	SemanticSearch(args []any) (any, error)
	Resolve(args []any) (any, error)
	Fetch(args []any) (any, error)
	Remove(args []any) (any, error)
	Clean(args []any) (any, error)
}

// Sandbox compiles and runs one agent script against api, under a
// deadline. Each call gets a fresh environment with no shared globals
// across calls or with the host process.
type Sandbox struct {
	api      API
	deadline time.Duration
}

// New returns a Sandbox bound to api, with the given deadline (0 uses
// DefaultDeadline).
func New(api API, deadline time.Duration) *Sandbox {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Sandbox{api: api, deadline: deadline}
}

// Run compiles code as an arrow-function expression and invokes it with no
// arguments, returning its opaque return value. The returned value is one
// of: nil/Undefined/Null, bool, float64, string, []any, map[string]any.
func (s *Sandbox) Run(parent context.Context, code string) (any, error) {
	fn, err := Parse(code)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(parent, s.deadline)
	defer cancel()

	root := newEnv(nil)
	installGlobals(root, s.api)

	ev := &evaluator{ctx: ctx}
	result, err := ev.run(fn, root)
	if err != nil {
		if err == ErrTimeout || ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return result, nil
}

// installGlobals freezes in exactly the capability surface spec §4.7
// allows: the opensrc API, a handful of whitelisted Object/Array/JSON
// helpers, and a no-op console. Nothing else — no timers, no network, no
// process metadata, no dynamic module loading.
func installGlobals(root *env, api API) {
	root.define("opensrc", buildOpensrcObject(api))
	root.define("console", buildConsole())
	root.define("JSON", buildJSON())
	root.define("Object", buildObjectHelpers())
	root.define("Array", buildArrayHelpers())
}

func buildOpensrcObject(api API) map[string]any {
	return map[string]any{
		"list":           NativeFunc(api.List),
		"has":            NativeFunc(api.Has),
		"get":            NativeFunc(api.Get),
		"files":          NativeFunc(api.Files),
		"tree":           NativeFunc(api.Tree),
		"read":           NativeFunc(api.Read),
		"readMany":       NativeFunc(api.ReadMany),
		"grep":           NativeFunc(api.Grep),
		"astGrep":        NativeFunc(api.AstGrep),
		"semanticSearch": NativeFunc(api.SemanticSearch),
		"resolve":        NativeFunc(api.Resolve),
		"fetch":          NativeFunc(api.Fetch),
		"remove":         NativeFunc(api.Remove),
		"clean":          NativeFunc(api.Clean),
	}
}

func buildConsole() map[string]any {
	noop := NativeFunc(func(args []any) (any, error) { return Undefined{}, nil })
	return map[string]any{"log": noop, "warn": noop, "error": noop, "info": noop}
}

func buildJSON() map[string]any {
	return map[string]any{
		"stringify": NativeFunc(jsonStringify),
		"parse":     NativeFunc(jsonParse),
	}
}

func buildObjectHelpers() map[string]any {
	return map[string]any{
		"keys": NativeFunc(func(args []any) (any, error) {
			m, ok := arg0Map(args)
			if !ok {
				return []any{}, nil
			}
			keys := sortedKeys(m)
			out := make([]any, len(keys))
			for i, k := range keys {
				out[i] = k
			}
			return out, nil
		}),
		"values": NativeFunc(func(args []any) (any, error) {
			m, ok := arg0Map(args)
			if !ok {
				return []any{}, nil
			}
			keys := sortedKeys(m)
			out := make([]any, len(keys))
			for i, k := range keys {
				out[i] = m[k]
			}
			return out, nil
		}),
		"entries": NativeFunc(func(args []any) (any, error) {
			m, ok := arg0Map(args)
			if !ok {
				return []any{}, nil
			}
			keys := sortedKeys(m)
			out := make([]any, len(keys))
			for i, k := range keys {
				out[i] = []any{k, m[k]}
			}
			return out, nil
		}),
		"fromEntries": NativeFunc(func(args []any) (any, error) {
			out := make(map[string]any)
			if len(args) == 0 {
				return out, nil
			}
			entries, ok := args[0].([]any)
			if !ok {
				return out, nil
			}
			for _, e := range entries {
				pair, ok := e.([]any)
				if !ok || len(pair) < 2 {
					continue
				}
				out[toDisplayString(pair[0])] = pair[1]
			}
			return out, nil
		}),
		"freeze": NativeFunc(func(args []any) (any, error) {
			if len(args) == 0 {
				return Undefined{}, nil
			}
			return args[0], nil
		}),
	}
}

func buildArrayHelpers() map[string]any {
	return map[string]any{
		"isArray": NativeFunc(func(args []any) (any, error) {
			if len(args) == 0 {
				return false, nil
			}
			_, ok := args[0].([]any)
			return ok, nil
		}),
	}
}

func arg0Map(args []any) (map[string]any, bool) {
	if len(args) == 0 {
		return nil, false
	}
	m, ok := args[0].(map[string]any)
	return m, ok
}

func jsonStringify(args []any) (any, error) {
	if len(args) == 0 {
		return Undefined{}, nil
	}
	data, err := json.Marshal(toJSONValue(args[0]))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func jsonParse(args []any) (any, error) {
	if len(args) == 0 {
		return nil, errNoArg("JSON.parse")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, errNoArg("JSON.parse")
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return nil, err
	}
	return fromJSONValue(decoded), nil
}

func errNoArg(fn string) error {
	return &argError{fn: fn}
}

type argError struct{ fn string }

func (e *argError) Error() string { return e.fn + " requires a string argument" }
