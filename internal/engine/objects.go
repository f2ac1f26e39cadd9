package engine

import (
	"strconv"

	"github.com/roach88/ncd/internal/ir"
	"github.com/roach88/ncd/internal/strtab"
)

// ValueObject exposes a constant value. Var("") is the value itself;
// "length" is its length.
type ValueObject struct {
	Value ir.Value
}

func (o ValueObject) Type() string { return "value" }

func (o ValueObject) Var(name string) (ir.Value, bool) {
	return valueVar(o.Value, name)
}

func (o ValueObject) Obj(name string) (Object, bool) {
	return valueObj(o.Value, name)
}

// valueVar implements the variables every value-holding object shares.
func valueVar(v ir.Value, name string) (ir.Value, bool) {
	switch name {
	case "":
		return v, true
	case strtab.WellKnown(strtab.IDLength):
		return ir.String(strconv.Itoa(ir.Length(v))), true
	}
	return nil, false
}

// valueObj exposes list elements by index and map entries by string key.
func valueObj(v ir.Value, name string) (Object, bool) {
	switch val := v.(type) {
	case ir.List:
		n, err := strconv.Atoi(name)
		if err != nil || n < 0 || n >= len(val) {
			return nil, false
		}
		return ValueObject{Value: val[n]}, true
	case ir.Map:
		elem, ok := val.Get(ir.String(name))
		if !ok {
			return nil, false
		}
		return ValueObject{Value: elem}, true
	}
	return nil, false
}

// ValueVar is valueVar for modules that hold a value.
func ValueVar(v ir.Value, name string) (ir.Value, bool) {
	return valueVar(v, name)
}

// ValueObj is valueObj for modules that hold a value.
func ValueObj(v ir.Value, name string) (Object, bool) {
	return valueObj(v, name)
}

// ScopeObject resolves names in a process as seen from one statement
// position. It backs _caller and the objects a provider exposes.
type ScopeObject struct {
	proc *Process
	at   int
	kind string
}

// NewScopeObject returns an object resolving names in p before statement
// at. kind is reported as the object's type.
func NewScopeObject(p *Process, at int, kind string) *ScopeObject {
	return &ScopeObject{proc: p, at: at, kind: kind}
}

func (o *ScopeObject) Type() string { return o.kind }

func (o *ScopeObject) Var(name string) (ir.Value, bool) {
	if name == "" {
		return nil, false
	}
	v, err := o.proc.ResolveVar(o.at, name)
	return v, err == nil
}

func (o *ScopeObject) Obj(name string) (Object, bool) {
	obj, err := o.proc.ResolveObject(o.at, name)
	return obj, err == nil
}

// specialArgs builds _args and _arg0.._arg9 for a template process.
func specialArgs(args []ir.Value) map[string]Object {
	special := map[string]Object{
		strtab.WellKnown(strtab.IDArgs): ValueObject{Value: ir.List(args)},
	}
	for n, a := range args {
		id, ok := strtab.ArgID(n)
		if !ok {
			break
		}
		special[strtab.WellKnown(id)] = ValueObject{Value: a}
	}
	return special
}
