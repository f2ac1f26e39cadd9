// Package modules implements the built-in statements.
//
// Every statement kind is an engine.Descriptor. Register adds the whole set
// to a registry; programs see them as plain commands ("var") and methods
// ("var::set").
package modules

import (
	"fmt"

	"github.com/roach88/ncd/internal/engine"
)

// All returns a descriptor for every built-in statement.
func All() []*engine.Descriptor {
	var ds []*engine.Descriptor
	ds = append(ds, basic()...)
	ds = append(ds, dependDescriptors()...)
	ds = append(ds, blockerDescriptors()...)
	ds = append(ds, spawnDescriptors()...)
	ds = append(ds, doDescriptors()...)
	return ds
}

// Register adds every built-in statement to reg.
func Register(reg *engine.Registry) error {
	for _, d := range All() {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in statements.
func NewRegistry() *engine.Registry {
	reg := engine.NewRegistry()
	reg.MustRegister(All()...)
	return reg
}

// receiver returns the module of type T behind a method statement's
// receiver: either a statement instance or a special object wrapping one.
func receiver[T any](i *engine.Instance) (T, error) {
	var zero T
	var mod any
	switch r := i.Receiver().(type) {
	case *engine.Instance:
		mod = r.Module()
	case interface{ module() any }:
		mod = r.module()
	}
	m, ok := mod.(T)
	if !ok {
		return zero, engine.NewError(engine.ErrCodeUnresolvedObject,
			"receiver is not a %T", zero)
	}
	return m, nil
}

// dieNow is embedded by modules that finish terminating as soon as they
// are asked to.
type dieNow struct {
	inst *engine.Instance
}

func (d dieNow) Die() {
	d.inst.Dead()
}

func upNow(i *engine.Instance) dieNow {
	i.Up()
	return dieNow{inst: i}
}

func errorf(format string, args ...any) error {
	return engine.NewError(engine.ErrCodeConstructFailed, "%s", fmt.Sprintf(format, args...))
}
