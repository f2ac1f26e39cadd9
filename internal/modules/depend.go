package modules

import (
	"github.com/roach88/ncd/internal/depend"
	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/ir"
)

const (
	globalDepend = "depend"
	globalMulti  = "multidepend"
)

func dependDescriptors() []*engine.Descriptor {
	return []*engine.Descriptor{
		{Type: "provide", New: newProvide(global(globalDepend), false)},
		{Type: "provide_event", New: newProvide(global(globalDepend), true)},
		{Type: "depend", New: newDepend(global(globalDepend))},
		{Type: "multiprovide", New: newMultiProvide},
		{Type: "multidepend", New: newDepend(global(globalMulti))},
		{Type: "depend_scope", New: newScope},
		{Type: "depend_scope::provide", New: newProvide(scoped, false)},
		{Type: "depend_scope::provide_event", New: newProvide(scoped, true)},
		{Type: "depend_scope::depend", New: newDepend(scoped)},
	}
}

type registryOf func(i *engine.Instance) (*depend.Registry, error)

// global returns the interpreter-wide registry stored under key.
func global(key string) registryOf {
	return func(i *engine.Instance) (*depend.Registry, error) {
		r := i.Interp().ModuleState(key, func() any { return depend.New() })
		return r.(*depend.Registry), nil
	}
}

func scoped(i *engine.Instance) (*depend.Registry, error) {
	s, err := receiver[*scopeMod](i)
	if err != nil {
		return nil, err
	}
	return s.reg, nil
}

// providedObject is what consumers see: names resolved in the provider's
// process as of the provide statement.
func providedObject(i *engine.Instance) engine.Object {
	return engine.NewScopeObject(i.Process(), i.Index(), "provide")
}

// provide(name) and provide_event(name).
type provideMod struct {
	inst *engine.Instance
	p    *depend.Provider
}

func newProvide(regOf registryOf, queue bool) func(*engine.Instance, engine.Args) (engine.Module, error) {
	return func(i *engine.Instance, args engine.Args) (engine.Module, error) {
		if err := args.Count(1, 1); err != nil {
			return nil, err
		}
		name, err := args.String(0)
		if err != nil {
			return nil, err
		}
		reg, err := regOf(i)
		if err != nil {
			return nil, err
		}
		p, err := reg.Provide(name, providedObject(i), depend.ProvideOptions{Queue: queue})
		if err != nil {
			return nil, err
		}
		i.Up()
		return &provideMod{inst: i, p: p}, nil
	}
}

func (m *provideMod) Die() {
	m.p.Die(m.inst.Dead)
}

// multiprovide(names [, order]) provides under every name at once, queued
// by order.
type multiProvideMod struct {
	inst    *engine.Instance
	ps      []*depend.Provider
	pending int
}

func newMultiProvide(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(1, 2); err != nil {
		return nil, err
	}
	names, err := args.StringList(0)
	if err != nil {
		return nil, err
	}
	var order int64
	if args.Len() == 2 {
		if order, err = args.Int(1); err != nil {
			return nil, err
		}
	}
	reg, _ := global(globalMulti)(i)
	m := &multiProvideMod{inst: i}
	obj := providedObject(i)
	for _, name := range names {
		p, err := reg.Provide(name, obj, depend.ProvideOptions{Queue: true, Order: int(order)})
		if err != nil {
			return nil, err
		}
		m.ps = append(m.ps, p)
	}
	i.Up()
	return m, nil
}

func (m *multiProvideMod) Die() {
	m.pending = len(m.ps)
	if m.pending == 0 {
		m.inst.Dead()
		return
	}
	for _, p := range m.ps {
		p.Die(m.providerDone)
	}
}

func (m *multiProvideMod) providerDone() {
	m.pending--
	if m.pending == 0 {
		m.inst.Dead()
	}
}

// depend(names), multidepend(names) and depend_scope::depend(names).
type dependMod struct {
	inst *engine.Instance
	c    *depend.Consumer
}

func newDepend(regOf registryOf) func(*engine.Instance, engine.Args) (engine.Module, error) {
	return func(i *engine.Instance, args engine.Args) (engine.Module, error) {
		if err := args.Count(1, 1); err != nil {
			return nil, err
		}
		names, err := args.StringList(0)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, engine.ArgError("depend: no names")
		}
		reg, err := regOf(i)
		if err != nil {
			return nil, err
		}
		m := &dependMod{inst: i}
		m.c = reg.Depend(names, m)
		return m, nil
	}
}

func (m *dependMod) ProviderUp()   { m.inst.Up() }
func (m *dependMod) ProviderDown() { m.inst.Down() }

// Clean tells the provider backtracking past this statement is done.
func (m *dependMod) Clean() {
	m.c.Settled()
}

func (m *dependMod) Die() {
	m.c.Close()
	m.inst.Dead()
}

func (m *dependMod) Var(name string) (ir.Value, bool) {
	if name == "" {
		return nil, false
	}
	return m.c.Var(name)
}

func (m *dependMod) Obj(name string) (engine.Object, bool) {
	return m.c.Obj(name)
}

// depend_scope() owns a private registry shared by its methods. The
// registry lives until the scope and every provider and consumer in it are
// gone.
type scopeMod struct {
	inst *engine.Instance
	reg  *depend.Registry
}

func newScope(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(0, 0); err != nil {
		return nil, err
	}
	i.Up()
	return &scopeMod{inst: i, reg: depend.New()}, nil
}

func (s *scopeMod) Die() {
	if !s.reg.Release() {
		// Providers or consumers elsewhere still hold it; the last of them
		// closes it.
		s.inst.Log().Debug("depend scope outlives its statement", "refs", s.reg.Refs())
	}
	s.inst.Dead()
}
