package condition

import (
	"fmt"
	"math"
)

// Context is the bounded variable set a condition is evaluated against.
// Window and metric lookups are functions so callers control snapshotting.
type Context struct {
	EventType string
	Severity  string
	Source    string
	Tags      []string
	Data      map[string]any

	// WindowCount returns the current count for a named window.
	WindowCount func(name string) (float64, bool)

	// Metric returns the last observed value for a named metric.
	Metric func(name string) (float64, bool)
}

// EvalBool evaluates the condition; the result must be a boolean.
func EvalBool(expr Expr, ctx *Context) (bool, error) {
	v, err := eval(expr, ctx)
	if err != nil {
		return false, err
	}

	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("condition: result is %T, not a boolean", v)
	}

	return b, nil
}

func eval(expr Expr, ctx *Context) (any, error) {
	switch n := expr.(type) {
	case *Literal:
		return n.Value, nil

	case *FieldRef:
		switch n.Name {
		case "event_type":
			return ctx.EventType, nil
		case "severity":
			return ctx.Severity, nil
		case "source":
			return ctx.Source, nil
		case "tags":
			elems := make([]any, len(ctx.Tags))
			for i, t := range ctx.Tags {
				elems[i] = t
			}
			return elems, nil
		}
		return nil, fmt.Errorf("condition: unknown field %q", n.Name)

	case *DataRef:
		return resolvePath(ctx.Data, n.Path), nil

	case *WindowCount:
		if ctx.WindowCount == nil {
			return nil, fmt.Errorf("condition: windows are not available in this context")
		}
		v, ok := ctx.WindowCount(n.Window)
		if !ok {
			return nil, fmt.Errorf("condition: unknown window %q", n.Window)
		}
		return v, nil

	case *MetricRef:
		if ctx.Metric == nil {
			return nil, fmt.Errorf("condition: metrics are not available in this context")
		}
		v, ok := ctx.Metric(n.Name)
		if !ok {
			// A metric that has not been observed yet reads as zero.
			return float64(0), nil
		}
		return v, nil

	case *Unary:
		return evalUnary(n, ctx)

	case *Binary:
		return evalBinary(n, ctx)

	case *Tuple:
		elems := make([]any, len(n.Elems))
		for i, el := range n.Elems {
			v, err := eval(el, ctx)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		return elems, nil
	}

	return nil, fmt.Errorf("condition: unknown expression node %T", expr)
}

// resolvePath walks nested data objects; a missing segment resolves to nil.
func resolvePath(data map[string]any, path []string) any {
	var current any = data
	for _, seg := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = obj[seg]
		if !ok {
			return nil
		}
	}
	return current
}

func evalUnary(n *Unary, ctx *Context) (any, error) {
	v, err := eval(n.X, ctx)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "not":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf(`condition: "not" requires a boolean, got %T`, v)
		}
		return !b, nil

	case "-":
		f, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf(`condition: "-" requires a number, got %T`, v)
		}
		return -f, nil
	}

	return nil, fmt.Errorf("condition: unknown unary operator %q", n.Op)
}

func evalBinary(n *Binary, ctx *Context) (any, error) {
	// Logical operators short-circuit.
	switch n.Op {
	case "and", "or":
		left, err := EvalBool(n.Left, ctx)
		if err != nil {
			return nil, err
		}
		if n.Op == "and" && !left {
			return false, nil
		}
		if n.Op == "or" && left {
			return true, nil
		}
		return EvalBool(n.Right, ctx)
	}

	left, err := eval(n.Left, ctx)
	if err != nil {
		return nil, err
	}
	right, err := eval(n.Right, ctx)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "<", "<=", ">", ">=":
		return compareOrdered(n.Op, left, right)
	case "in":
		return evalIn(left, right)
	case "+", "-", "*", "/":
		return evalArithmetic(n.Op, left, right)
	}

	return nil, fmt.Errorf("condition: unknown operator %q", n.Op)
}

// toNumber coerces the numeric types JSON decoding produces.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func looseEqual(left, right any) bool {
	if lf, ok := toNumber(left); ok {
		if rf, ok := toNumber(right); ok {
			return lf == rf
		}
		return false
	}

	return left == right
}

func compareOrdered(op string, left, right any) (any, error) {
	lf, lok := toNumber(left)
	rf, rok := toNumber(right)

	if lok && rok {
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}

	return nil, fmt.Errorf("condition: cannot order %T %s %T", left, op, right)
}

func evalIn(left, right any) (any, error) {
	elems, ok := right.([]any)
	if !ok {
		return nil, fmt.Errorf(`condition: "in" requires a tuple or tags on the right, got %T`, right)
	}

	for _, el := range elems {
		if looseEqual(left, el) {
			return true, nil
		}
	}

	return false, nil
}

func evalArithmetic(op string, left, right any) (any, error) {
	lf, lok := toNumber(left)
	rf, rok := toNumber(right)
	if !lok || !rok {
		return nil, fmt.Errorf("condition: arithmetic requires numbers, got %T %s %T", left, op, right)
	}

	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return math.NaN(), nil
		}
		return lf / rf, nil
	}

	return nil, fmt.Errorf("condition: unknown arithmetic operator %q", op)
}
