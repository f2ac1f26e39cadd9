package engine

import (
	"strconv"

	"github.com/roach88/ncd/internal/ir"
	"github.com/roach88/ncd/internal/value"
)

// Args are a statement's evaluated arguments.
type Args struct {
	vals []ir.Value
}

// NewArgs wraps already evaluated values.
func NewArgs(vals ...ir.Value) Args {
	return Args{vals: vals}
}

// Len returns the argument count.
func (a Args) Len() int {
	return len(a.vals)
}

// Values returns all arguments.
func (a Args) Values() []ir.Value {
	return a.vals
}

// Value returns argument n.
func (a Args) Value(n int) ir.Value {
	return a.vals[n]
}

// Count checks the argument count is within [min, max]; max < 0 means no
// upper bound.
func (a Args) Count(min, max int) error {
	if len(a.vals) < min || (max >= 0 && len(a.vals) > max) {
		if min == max {
			return ArgError("want %d arguments, got %d", min, len(a.vals))
		}
		if max < 0 {
			return ArgError("want at least %d arguments, got %d", min, len(a.vals))
		}
		return ArgError("want %d to %d arguments, got %d", min, max, len(a.vals))
	}
	return nil
}

// String returns argument n, which must be a string.
func (a Args) String(n int) (string, error) {
	s, ok := a.vals[n].(ir.String)
	if !ok {
		return "", ArgError("argument %d: want string, got %s", n, a.vals[n].Kind())
	}
	return string(s), nil
}

// Int returns argument n parsed as a decimal integer.
func (a Args) Int(n int) (int64, error) {
	s, err := a.String(n)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ArgError("argument %d: %q is not an integer", n, s)
	}
	return v, nil
}

// Bool returns argument n, which must be "true" or "false".
func (a Args) Bool(n int) (bool, error) {
	s, err := a.String(n)
	if err != nil {
		return false, err
	}
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, ArgError("argument %d: %q is not a boolean", n, s)
}

// List returns argument n, which must be a list.
func (a Args) List(n int) (ir.List, error) {
	l, ok := a.vals[n].(ir.List)
	if !ok {
		return nil, ArgError("argument %d: want list, got %s", n, a.vals[n].Kind())
	}
	return l, nil
}

// StringList returns argument n as a list of strings. A plain string is
// accepted as a one-element list.
func (a Args) StringList(n int) ([]string, error) {
	if s, ok := a.vals[n].(ir.String); ok {
		return []string{string(s)}, nil
	}
	l, err := a.List(n)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(l))
	for i, el := range l {
		s, ok := el.(ir.String)
		if !ok {
			return nil, ArgError("argument %d: element %d is not a string", n, i)
		}
		out[i] = string(s)
	}
	return out, nil
}

// evaluator turns argument expressions into values through the value
// builder. Variable references resolve in the owning process, before the
// statement being created.
type evaluator struct {
	b    *value.Builder
	proc *Process
	at   int
}

func (e *evaluator) eval(x ir.Expr) (value.Item, error) {
	switch x.Kind {
	case ir.ExprString:
		return value.Of(ir.String(x.Str)), nil
	case ir.ExprVar:
		v, err := e.proc.ResolveVar(e.at, x.Str)
		if err != nil {
			return value.Item{}, err
		}
		return value.Of(v), nil
	case ir.ExprList:
		l := e.b.NewList()
		for i := len(x.Elems) - 1; i >= 0; i-- {
			el, err := e.eval(x.Elems[i])
			if err != nil {
				e.b.Discard(&l)
				return value.Item{}, err
			}
			if err := e.b.Prepend(&l, el); err != nil {
				e.b.Discard(&el)
				e.b.Discard(&l)
				return value.Item{}, ArgError("list: %v", err)
			}
		}
		return l, nil
	case ir.ExprMap:
		m := e.b.NewMap()
		for _, en := range x.Entries {
			k, err := e.eval(en.Key)
			if err != nil {
				e.b.Discard(&m)
				return value.Item{}, err
			}
			v, err := e.eval(en.Value)
			if err != nil {
				e.b.Discard(&k)
				e.b.Discard(&m)
				return value.Item{}, err
			}
			if err := e.b.Insert(&m, k, v); err != nil {
				e.b.Discard(&k)
				e.b.Discard(&v)
				e.b.Discard(&m)
				return value.Item{}, ArgError("map: %v", err)
			}
		}
		return m, nil
	default:
		return value.Item{}, ArgError("unknown expression kind %s", x.Kind)
	}
}

func (e *evaluator) evalAll(exprs []ir.Expr) (Args, error) {
	vals := make([]ir.Value, len(exprs))
	for i, x := range exprs {
		it, err := e.eval(x)
		if err != nil {
			return Args{}, err
		}
		v, err := e.b.Complete(&it)
		if err != nil {
			e.b.Discard(&it)
			return Args{}, ArgError("argument %d: %v", i, err)
		}
		vals[i] = v
	}
	return Args{vals: vals}, nil
}
