package modules

import (
	"slices"

	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/ir"
)

func blockerDescriptors() []*engine.Descriptor {
	return []*engine.Descriptor{
		{Type: "blocker", New: newBlocker},
		{Type: "blocker::up", New: newBlockerSet(func(b *blockerMod) { b.set(true) })},
		{Type: "blocker::down", New: newBlockerSet(func(b *blockerMod) { b.set(false) })},
		{Type: "blocker::downup", New: newBlockerSet((*blockerMod).downup)},
		{Type: "blocker::rdownup", New: newRdownup},
		{Type: "blocker::use", New: newUse},
	}
}

// blocker([initial]) is a gate. use statements are up exactly while the
// gate is up.
type blockerMod struct {
	inst  *engine.Instance
	up    bool
	users []*useMod
}

func newBlocker(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(0, 1); err != nil {
		return nil, err
	}
	b := &blockerMod{inst: i}
	if args.Len() == 1 {
		up, err := args.Bool(0)
		if err != nil {
			return nil, err
		}
		b.up = up
	}
	i.Up()
	return b, nil
}

func (b *blockerMod) set(up bool) {
	if b.up == up {
		return
	}
	b.up = up
	for _, u := range slices.Clone(b.users) {
		if up {
			u.inst.Up()
		} else {
			u.inst.Down()
		}
	}
}

// downup lowers and raises the gate in one step. Users that were up see a
// down and an up back to back, so nothing after them settles in between.
func (b *blockerMod) downup() {
	if !b.up {
		b.set(true)
		return
	}
	for _, u := range slices.Clone(b.users) {
		u.inst.Down()
		u.inst.Up()
	}
}

func (b *blockerMod) Var(name string) (ir.Value, bool) {
	if name == "" {
		return ir.FromBool(b.up), true
	}
	return nil, false
}

func (b *blockerMod) Die() {
	for _, u := range b.users {
		u.b = nil
	}
	b.users = nil
	b.inst.Dead()
}

func newBlockerSet(op func(*blockerMod)) func(*engine.Instance, engine.Args) (engine.Module, error) {
	return func(i *engine.Instance, args engine.Args) (engine.Module, error) {
		if err := args.Count(0, 0); err != nil {
			return nil, err
		}
		b, err := receiver[*blockerMod](i)
		if err != nil {
			return nil, err
		}
		op(b)
		return upNow(i), nil
	}
}

// blocker::rdownup() runs downup on the gate when it is asked to die.
type rdownupMod struct {
	inst *engine.Instance
	b    *blockerMod
}

func newRdownup(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(0, 0); err != nil {
		return nil, err
	}
	b, err := receiver[*blockerMod](i)
	if err != nil {
		return nil, err
	}
	i.Up()
	return &rdownupMod{inst: i, b: b}, nil
}

func (m *rdownupMod) Die() {
	if m.b.inst.State() != engine.StateDead {
		m.b.downup()
	}
	m.inst.Dead()
}

// blocker::use() waits for the gate.
type useMod struct {
	inst *engine.Instance
	b    *blockerMod
}

func newUse(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(0, 0); err != nil {
		return nil, err
	}
	b, err := receiver[*blockerMod](i)
	if err != nil {
		return nil, err
	}
	u := &useMod{inst: i, b: b}
	b.users = append(b.users, u)
	if b.up {
		i.Up()
	}
	return u, nil
}

func (u *useMod) Die() {
	if u.b != nil {
		u.b.users = slices.DeleteFunc(u.b.users, func(o *useMod) bool { return o == u })
		u.b = nil
	}
	u.inst.Dead()
}
