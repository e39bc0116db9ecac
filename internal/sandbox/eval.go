package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// env is a lexical scope chain. The root env holds the frozen opensrc API
// and the handful of whitelisted globals; every call frame and block adds
// a child scope.
type env struct {
	vars   map[string]any
	parent *env
}

func newEnv(parent *env) *env {
	return &env{vars: make(map[string]any), parent: parent}
}

func (e *env) get(name string) (any, bool) {
	for s := e; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (e *env) define(name string, v any) {
	e.vars[name] = v
}

// ErrTimeout marks that a running script exceeded its deadline.
var ErrTimeout = errors.New("execution timeout")

// controlReturn unwinds a block to the enclosing call frame carrying a
// return value; it is never a user-visible error.
type controlReturn struct{ value any }

func (controlReturn) Error() string { return "return" }

type evaluator struct {
	ctx context.Context
}

func (ev *evaluator) checkDeadline() error {
	select {
	case <-ev.ctx.Done():
		return ErrTimeout
	default:
		return nil
	}
}

// run evaluates the top-level arrow function with no arguments (the sole
// entry point the server invokes) and returns its value.
func (ev *evaluator) run(fn *ArrowFunc, root *env) (any, error) {
	return ev.callClosure(&Closure{fn: fn, env: root, ev: ev}, nil)
}

func (ev *evaluator) callClosure(c *Closure, args []any) (any, error) {
	if err := ev.checkDeadline(); err != nil {
		return nil, err
	}
	frame := newEnv(c.env)
	for i, p := range c.fn.Params {
		if i < len(args) {
			frame.define(p, args[i])
		} else {
			frame.define(p, Undefined{})
		}
	}

	if c.fn.Expr != nil {
		return ev.evalExpr(c.fn.Expr, frame)
	}

	v, err := ev.execBlock(c.fn.Body, frame)
	if err != nil {
		var ret controlReturn
		if errors.As(err, &ret) {
			return ret.value, nil
		}
		return nil, err
	}
	return v, nil
}

// execBlock runs a statement list. A bare controlReturn error propagates
// the function's return value up to callClosure.
func (ev *evaluator) execBlock(stmts []Node, scope *env) (any, error) {
	for _, s := range stmts {
		if err := ev.checkDeadline(); err != nil {
			return nil, err
		}
		if _, err := ev.execStmt(s, scope); err != nil {
			return nil, err
		}
	}
	return Undefined{}, nil
}

func (ev *evaluator) execStmt(n Node, scope *env) (any, error) {
	switch s := n.(type) {
	case *VarDecl:
		v, err := ev.evalExpr(s.Value, scope)
		if err != nil {
			return nil, err
		}
		scope.define(s.Name, v)
		return Undefined{}, nil

	case *ReturnStmt:
		var v any = Undefined{}
		if s.Value != nil {
			var err error
			v, err = ev.evalExpr(s.Value, scope)
			if err != nil {
				return nil, err
			}
		}
		return nil, controlReturn{value: v}

	case *ExprStmt:
		_, err := ev.evalExpr(s.Expr, scope)
		return nil, err

	case *IfStmt:
		cond, err := ev.evalExpr(s.Cond, scope)
		if err != nil {
			return nil, err
		}
		branch := s.Then
		if !truthy(cond) {
			branch = s.Else
		}
		if branch == nil {
			return Undefined{}, nil
		}
		return ev.execBlock(branch, newEnv(scope))

	case *ForOfStmt:
		iterVal, err := ev.evalExpr(s.Iter, scope)
		if err != nil {
			return nil, err
		}
		items, ok := iterVal.([]any)
		if !ok {
			return nil, fmt.Errorf("for-of target is not an array")
		}
		for _, item := range items {
			loopScope := newEnv(scope)
			loopScope.define(s.VarName, item)
			if _, err := ev.execBlock(s.Body, loopScope); err != nil {
				return nil, err
			}
		}
		return Undefined{}, nil

	default:
		return ev.evalExpr(n, scope)
	}
}

func (ev *evaluator) evalExpr(n Node, scope *env) (any, error) {
	if err := ev.checkDeadline(); err != nil {
		return nil, err
	}

	switch e := n.(type) {
	case *NumberLit:
		return e.Value, nil
	case *StringLit:
		return e.Value, nil
	case *BoolLit:
		return e.Value, nil
	case *NullLit:
		return Null{}, nil
	case *UndefinedLit:
		return Undefined{}, nil

	case *Ident:
		if v, ok := scope.get(e.Name); ok {
			return v, nil
		}
		return Undefined{}, nil

	case *ArrayLit:
		out := make([]any, len(e.Elements))
		for i, el := range e.Elements {
			v, err := ev.evalExpr(el, scope)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *ObjectLit:
		out := make(map[string]any, len(e.Props))
		for _, p := range e.Props {
			v, err := ev.evalExpr(p.Value, scope)
			if err != nil {
				return nil, err
			}
			out[p.Key] = v
		}
		return out, nil

	case *ArrowFunc:
		return &Closure{fn: e, env: scope, ev: ev}, nil

	case *MemberExpr:
		obj, err := ev.evalExpr(e.Object, scope)
		if err != nil {
			return nil, err
		}
		return ev.getMember(obj, e.Property)

	case *IndexExpr:
		obj, err := ev.evalExpr(e.Object, scope)
		if err != nil {
			return nil, err
		}
		idx, err := ev.evalExpr(e.Index, scope)
		if err != nil {
			return nil, err
		}
		return ev.getIndex(obj, idx)

	case *CallExpr:
		return ev.evalCall(e, scope)

	case *UnaryExpr:
		if e.Op == "typeof" {
			if id, ok := e.Operand.(*Ident); ok {
				if _, found := scope.get(id.Name); !found {
					return "undefined", nil
				}
			}
			v, err := ev.evalExpr(e.Operand, scope)
			if err != nil {
				return nil, err
			}
			return typeOf(v), nil
		}
		v, err := ev.evalExpr(e.Operand, scope)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case "!":
			return !truthy(v), nil
		case "-":
			n, err := toNumber(v)
			if err != nil {
				return nil, err
			}
			return -n, nil
		}
		return nil, fmt.Errorf("unsupported unary operator %q", e.Op)

	case *AwaitExpr:
		return ev.evalExpr(e.Arg, scope)

	case *LogicalExpr:
		left, err := ev.evalExpr(e.Left, scope)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case "&&":
			if !truthy(left) {
				return left, nil
			}
			return ev.evalExpr(e.Right, scope)
		case "||":
			if truthy(left) {
				return left, nil
			}
			return ev.evalExpr(e.Right, scope)
		case "??":
			if !isUndefined(left) && !isNull(left) {
				return left, nil
			}
			return ev.evalExpr(e.Right, scope)
		}
		return nil, fmt.Errorf("unsupported logical operator %q", e.Op)

	case *BinaryExpr:
		return ev.evalBinary(e, scope)

	default:
		return nil, fmt.Errorf("unsupported expression %T", n)
	}
}

func (ev *evaluator) evalBinary(e *BinaryExpr, scope *env) (any, error) {
	left, err := ev.evalExpr(e.Left, scope)
	if err != nil {
		return nil, err
	}
	right, err := ev.evalExpr(e.Right, scope)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case "+":
		ls, lok := left.(string)
		rs, rok := right.(string)
		if lok || rok {
			_ = ls
			_ = rs
			return toDisplayString(left) + toDisplayString(right), nil
		}
		ln, err := toNumber(left)
		if err != nil {
			return nil, err
		}
		rn, err := toNumber(right)
		if err != nil {
			return nil, err
		}
		return ln + rn, nil
	case "-", "*", "/", "%":
		ln, err := toNumber(left)
		if err != nil {
			return nil, err
		}
		rn, err := toNumber(right)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case "-":
			return ln - rn, nil
		case "*":
			return ln * rn, nil
		case "/":
			return ln / rn, nil
		case "%":
			return float64(int64(ln) % int64(rn)), nil
		}
	case "===", "==":
		return valuesEqual(left, right), nil
	case "!==", "!=":
		return !valuesEqual(left, right), nil
	case "<", ">", "<=", ">=":
		return compareValues(left, right, e.Op)
	}
	return nil, fmt.Errorf("unsupported binary operator %q", e.Op)
}

func valuesEqual(a, b any) bool {
	if isUndefined(a) && isUndefined(b) {
		return true
	}
	if isNull(a) && isNull(b) {
		return true
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

func compareValues(a, b any, op string) (any, error) {
	an, aerr := toNumber(a)
	bn, berr := toNumber(b)
	if aerr != nil || berr != nil {
		as, aok := a.(string)
		bs, bok := b.(string)
		if !aok || !bok {
			return nil, fmt.Errorf("cannot compare values")
		}
		switch op {
		case "<":
			return as < bs, nil
		case ">":
			return as > bs, nil
		case "<=":
			return as <= bs, nil
		case ">=":
			return as >= bs, nil
		}
	}
	switch op {
	case "<":
		return an < bn, nil
	case ">":
		return an > bn, nil
	case "<=":
		return an <= bn, nil
	case ">=":
		return an >= bn, nil
	}
	return nil, fmt.Errorf("unsupported comparison operator %q", op)
}

func (ev *evaluator) evalCall(e *CallExpr, scope *env) (any, error) {
	var callee any
	var err error

	if id, ok := e.Callee.(*Ident); ok {
		v, found := scope.get(id.Name)
		if !found {
			return nil, fmt.Errorf("%s is not defined", id.Name)
		}
		callee = v
	} else {
		callee, err = ev.evalExpr(e.Callee, scope)
		if err != nil {
			return nil, err
		}
	}

	args := make([]any, len(e.Args))
	for i, a := range e.Args {
		v, err := ev.evalExpr(a, scope)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	fn, ok := callee.(Callable)
	if !ok {
		return nil, fmt.Errorf("value is not a function")
	}
	return fn.Call(args)
}

func (ev *evaluator) getMember(obj any, prop string) (any, error) {
	switch o := obj.(type) {
	case map[string]any:
		if v, ok := o[prop]; ok {
			return v, nil
		}
		return Undefined{}, nil
	case []any:
		return ev.arrayMethod(o, prop)
	case string:
		return ev.stringMethod(o, prop)
	case Undefined, nil:
		return nil, fmt.Errorf("cannot read properties of undefined (reading %q)", prop)
	case Null:
		return nil, fmt.Errorf("cannot read properties of null (reading %q)", prop)
	default:
		return Undefined{}, nil
	}
}

func (ev *evaluator) getIndex(obj, idx any) (any, error) {
	switch o := obj.(type) {
	case []any:
		n, err := toNumber(idx)
		if err != nil {
			return nil, err
		}
		i := int(n)
		if i < 0 || i >= len(o) {
			return Undefined{}, nil
		}
		return o[i], nil
	case map[string]any:
		key := toDisplayString(idx)
		if v, ok := o[key]; ok {
			return v, nil
		}
		return Undefined{}, nil
	case string:
		n, err := toNumber(idx)
		if err != nil {
			return nil, err
		}
		runes := []rune(o)
		i := int(n)
		if i < 0 || i >= len(runes) {
			return Undefined{}, nil
		}
		return string(runes[i]), nil
	default:
		return Undefined{}, nil
	}
}

func (ev *evaluator) arrayMethod(arr []any, name string) (any, error) {
	switch name {
	case "length":
		return float64(len(arr)), nil
	case "map":
		return NativeFunc(func(args []any) (any, error) {
			fn, err := requireCallable(args, 0, "map")
			if err != nil {
				return nil, err
			}
			out := make([]any, len(arr))
			for i, v := range arr {
				r, err := fn.Call([]any{v, float64(i)})
				if err != nil {
					return nil, err
				}
				out[i] = r
			}
			return out, nil
		}), nil
	case "filter":
		return NativeFunc(func(args []any) (any, error) {
			fn, err := requireCallable(args, 0, "filter")
			if err != nil {
				return nil, err
			}
			var out []any
			for i, v := range arr {
				r, err := fn.Call([]any{v, float64(i)})
				if err != nil {
					return nil, err
				}
				if truthy(r) {
					out = append(out, v)
				}
			}
			if out == nil {
				out = []any{}
			}
			return out, nil
		}), nil
	case "find":
		return NativeFunc(func(args []any) (any, error) {
			fn, err := requireCallable(args, 0, "find")
			if err != nil {
				return nil, err
			}
			for i, v := range arr {
				r, err := fn.Call([]any{v, float64(i)})
				if err != nil {
					return nil, err
				}
				if truthy(r) {
					return v, nil
				}
			}
			return Undefined{}, nil
		}), nil
	case "forEach":
		return NativeFunc(func(args []any) (any, error) {
			fn, err := requireCallable(args, 0, "forEach")
			if err != nil {
				return nil, err
			}
			for i, v := range arr {
				if _, err := fn.Call([]any{v, float64(i)}); err != nil {
					return nil, err
				}
			}
			return Undefined{}, nil
		}), nil
	case "includes":
		return NativeFunc(func(args []any) (any, error) {
			if len(args) == 0 {
				return false, nil
			}
			for _, v := range arr {
				if valuesEqual(v, args[0]) {
					return true, nil
				}
			}
			return false, nil
		}), nil
	case "join":
		return NativeFunc(func(args []any) (any, error) {
			sep := ","
			if len(args) > 0 {
				sep = toDisplayString(args[0])
			}
			parts := make([]string, len(arr))
			for i, v := range arr {
				parts[i] = toDisplayString(v)
			}
			return strings.Join(parts, sep), nil
		}), nil
	case "slice":
		return NativeFunc(func(args []any) (any, error) {
			start, end := 0, len(arr)
			if len(args) > 0 {
				n, _ := toNumber(args[0])
				start = clampIndex(int(n), len(arr))
			}
			if len(args) > 1 {
				n, _ := toNumber(args[1])
				end = clampIndex(int(n), len(arr))
			}
			if start > end {
				return []any{}, nil
			}
			out := make([]any, end-start)
			copy(out, arr[start:end])
			return out, nil
		}), nil
	default:
		return Undefined{}, nil
	}
}

func (ev *evaluator) stringMethod(s string, name string) (any, error) {
	runes := []rune(s)
	switch name {
	case "length":
		return float64(len(runes)), nil
	case "includes":
		return NativeFunc(func(args []any) (any, error) {
			if len(args) == 0 {
				return false, nil
			}
			return strings.Contains(s, toDisplayString(args[0])), nil
		}), nil
	case "toLowerCase":
		return NativeFunc(func(args []any) (any, error) { return strings.ToLower(s), nil }), nil
	case "toUpperCase":
		return NativeFunc(func(args []any) (any, error) { return strings.ToUpper(s), nil }), nil
	case "trim":
		return NativeFunc(func(args []any) (any, error) { return strings.TrimSpace(s), nil }), nil
	case "split":
		return NativeFunc(func(args []any) (any, error) {
			sep := ""
			if len(args) > 0 {
				sep = toDisplayString(args[0])
			}
			var parts []string
			if sep == "" {
				for _, r := range s {
					parts = append(parts, string(r))
				}
			} else {
				parts = strings.Split(s, sep)
			}
			out := make([]any, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return out, nil
		}), nil
	case "slice":
		return NativeFunc(func(args []any) (any, error) {
			start, end := 0, len(runes)
			if len(args) > 0 {
				n, _ := toNumber(args[0])
				start = clampIndex(int(n), len(runes))
			}
			if len(args) > 1 {
				n, _ := toNumber(args[1])
				end = clampIndex(int(n), len(runes))
			}
			if start > end {
				return "", nil
			}
			return string(runes[start:end]), nil
		}), nil
	default:
		return Undefined{}, nil
	}
}

func requireCallable(args []any, idx int, method string) (Callable, error) {
	if idx >= len(args) {
		return nil, fmt.Errorf("%s requires a callback function", method)
	}
	fn, ok := args[idx].(Callable)
	if !ok {
		return nil, fmt.Errorf("%s requires a callback function", method)
	}
	return fn, nil
}

func clampIndex(i, length int) int {
	if i < 0 {
		i = length + i
	}
	if i < 0 {
		return 0
	}
	if i > length {
		return length
	}
	return i
}
