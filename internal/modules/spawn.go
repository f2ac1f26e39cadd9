package modules

import (
	"errors"
	"slices"

	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/ir"
	"github.com/roach88/ncd/internal/strtab"
)

func spawnDescriptors() []*engine.Descriptor {
	return []*engine.Descriptor{
		{Type: "spawn", New: newSpawn},
		{Type: "spawn::join", New: newJoin},
		{Type: "call", New: newCall},
	}
}

// errChildTerminated is reported when a child process ends without being
// asked to.
var errChildTerminated = errors.New("child process terminated")

// templateArgs splits (template, args...) arguments.
func templateArgs(args engine.Args) (string, []ir.Value, error) {
	if err := args.Count(1, -1); err != nil {
		return "", nil, err
	}
	name, err := args.String(0)
	if err != nil {
		return "", nil, err
	}
	return name, args.Values()[1:], nil
}

func callerSpecial(i *engine.Instance) map[string]engine.Object {
	return map[string]engine.Object{
		strtab.WellKnown(strtab.IDCaller): engine.NewScopeObject(i.Process(), i.Index(), "caller"),
	}
}

// spawn(template, args...) runs a template as a child process. The spawn
// statement is up as soon as the child exists; join statements follow the
// child's own up and down.
type spawnMod struct {
	inst  *engine.Instance
	child *engine.Process
	up    bool
	dying bool
	joins []*joinMod

	// settling counts joins that were brought down and have not yet
	// reported clean.
	settling    int
	afterSettle func()
}

func newSpawn(i *engine.Instance, args engine.Args) (engine.Module, error) {
	tmpl, targs, err := templateArgs(args)
	if err != nil {
		return nil, err
	}
	s := &spawnMod{inst: i}
	child, err := i.Interp().NewProcess(tmpl, targs, callerSpecial(i), s)
	if err != nil {
		return nil, err
	}
	s.child = child
	i.Up()
	return s, nil
}

func (s *spawnMod) ProcessUp(*engine.Process) {
	s.up = true
	if s.dying {
		return
	}
	for _, j := range s.joins {
		j.inst.Up()
	}
}

func (s *spawnMod) ProcessDown(*engine.Process) {
	s.up = false
	if s.dying {
		return
	}
	s.lowerJoins(func() { s.child.Continue() })
}

func (s *spawnMod) ProcessTerminated(_ *engine.Process, err error) {
	s.child = nil
	if !s.dying {
		if err == nil {
			err = errChildTerminated
		}
		s.inst.DeadError(err)
		return
	}
	if err != nil {
		s.inst.DeadError(err)
		return
	}
	s.inst.Dead()
}

// lowerJoins brings every up join down and runs then once all of them have
// settled or gone.
func (s *spawnMod) lowerJoins(then func()) {
	for _, j := range s.joins {
		if j.inst.IsUp() {
			j.settling = true
			s.settling++
			j.inst.Down()
		}
	}
	s.afterSettle = then
	s.checkSettled()
}

func (s *spawnMod) checkSettled() {
	if s.settling > 0 || s.afterSettle == nil {
		return
	}
	then := s.afterSettle
	s.afterSettle = nil
	then()
}

func (s *spawnMod) joinSettled(j *joinMod) {
	if !j.settling {
		return
	}
	j.settling = false
	s.settling--
	s.checkSettled()
}

func (s *spawnMod) Die() {
	s.dying = true
	s.lowerJoins(func() { s.child.Terminate() })
}

// spawn::join() is up while the spawned child is up, and resolves names in
// the child.
type joinMod struct {
	inst     *engine.Instance
	s        *spawnMod
	settling bool
}

func newJoin(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(0, 0); err != nil {
		return nil, err
	}
	s, err := receiver[*spawnMod](i)
	if err != nil {
		return nil, err
	}
	j := &joinMod{inst: i, s: s}
	s.joins = append(s.joins, j)
	if s.up && !s.dying {
		i.Up()
	}
	return j, nil
}

func (j *joinMod) Clean() {
	j.s.joinSettled(j)
}

func (j *joinMod) Die() {
	s := j.s
	s.joins = slices.DeleteFunc(s.joins, func(o *joinMod) bool { return o == j })
	s.joinSettled(j)
	j.inst.Dead()
}

func (j *joinMod) Obj(name string) (engine.Object, bool) {
	if !j.inst.IsUp() || j.s.child == nil {
		return nil, false
	}
	obj, err := j.s.child.Resolve(name)
	return obj, err == nil
}

func (j *joinMod) Var(name string) (ir.Value, bool) {
	obj, ok := j.Obj(name)
	if !ok {
		return nil, false
	}
	return obj.Var("")
}

// call(template, args...) runs a template in step with the caller: it is up
// exactly while the child is up, and the child backtracks only once the
// statements after the call have.
type callMod struct {
	inst  *engine.Instance
	child *engine.Process
	dying bool
}

func newCall(i *engine.Instance, args engine.Args) (engine.Module, error) {
	tmpl, targs, err := templateArgs(args)
	if err != nil {
		return nil, err
	}
	c := &callMod{inst: i}
	child, err := i.Interp().NewProcess(tmpl, targs, callerSpecial(i), c)
	if err != nil {
		return nil, err
	}
	c.child = child
	return c, nil
}

func (c *callMod) ProcessUp(*engine.Process) {
	if !c.dying {
		c.inst.Up()
	}
}

func (c *callMod) ProcessDown(p *engine.Process) {
	if c.dying {
		return
	}
	if c.inst.IsUp() {
		c.inst.Down()
		return
	}
	p.Continue()
}

// Clean lets the child backtrack once everything after the call has.
func (c *callMod) Clean() {
	if c.child != nil {
		c.child.Continue()
	}
}

func (c *callMod) ProcessTerminated(_ *engine.Process, err error) {
	c.child = nil
	if err == nil && !c.dying {
		err = errChildTerminated
	}
	if err != nil {
		c.inst.DeadError(err)
		return
	}
	c.inst.Dead()
}

func (c *callMod) Die() {
	c.dying = true
	c.child.Terminate()
}

func (c *callMod) Obj(name string) (engine.Object, bool) {
	if !c.inst.IsUp() || c.child == nil {
		return nil, false
	}
	obj, err := c.child.Resolve(name)
	return obj, err == nil
}

func (c *callMod) Var(name string) (ir.Value, bool) {
	obj, ok := c.Obj(name)
	if !ok {
		return nil, false
	}
	return obj.Var("")
}
