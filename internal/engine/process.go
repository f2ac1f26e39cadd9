package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/ncd/internal/compiler"
	"github.com/roach88/ncd/internal/ir"
	"github.com/roach88/ncd/internal/job"
)

// ProcessHandler receives a process's state changes. Top-level processes use
// the interpreter's own handler; template processes report to whichever
// module created them (spawn, call, do).
type ProcessHandler interface {
	// ProcessUp is called when every statement is up.
	ProcessUp(p *Process)

	// ProcessDown is called when a process that was up starts backtracking.
	// A waiting process does nothing further until Continue.
	ProcessDown(p *Process)

	// ProcessTerminated is called once, after the last statement is dead.
	// err is the failure that caused termination, or nil.
	ProcessTerminated(p *Process, err error)
}

type processState uint8

const (
	procWorking processState = iota
	procUp
	procWaiting
	procTerminating
	procTerminated
)

func (s processState) String() string {
	switch s {
	case procWorking:
		return "working"
	case procUp:
		return "up"
	case procWaiting:
		return "waiting"
	case procTerminating:
		return "terminating"
	case procTerminated:
		return "terminated"
	}
	return fmt.Sprintf("processState(%d)", uint8(s))
}

// Process runs the statements of one compiled table.
//
// Statements [0, ap-1) are up, statement ap-1 is up or down, statements
// [fp, n) do not exist, and ap <= fp. The work job restores these bounds
// after every event: it tears down from the back while ap < fp and creates
// statement ap once everything before it is up.
type Process struct {
	interp  *Interpreter
	id      int
	table   *compiler.Table[*Descriptor]
	stmts   []*Instance
	ap, fp  int
	state   processState
	handler ProcessHandler
	canWait bool
	special map[string]Object
	work    *job.Job
	arena   []byte
	err     error
	log     *slog.Logger
}

func newProcess(in *Interpreter, t *compiler.Table[*Descriptor], special map[string]Object, h ProcessHandler, canWait bool) *Process {
	in.nextPID++
	p := &Process{
		interp:  in,
		id:      in.nextPID,
		table:   t,
		stmts:   make([]*Instance, t.Len()),
		state:   procWorking,
		handler: h,
		canWait: canWait,
		special: special,
		arena:   t.TakeArena(),
	}
	p.log = in.logger.With("process", t.Name, "pid", p.id)
	p.work = in.jobs.NewJob("process "+t.Name, p.doWork)
	return p
}

// Name returns the process or template name.
func (p *Process) Name() string {
	return p.table.Name
}

// PID returns the process id, unique within an interpreter.
func (p *Process) PID() int {
	return p.id
}

// Len returns the number of statements.
func (p *Process) Len() int {
	return p.table.Len()
}

// Err returns the error the process is terminating with, if any.
func (p *Process) Err() error {
	return p.err
}

// IsUp reports whether every statement is up.
func (p *Process) IsUp() bool {
	return p.state == procUp
}

// Terminated reports whether the process has finished.
func (p *Process) Terminated() bool {
	return p.state == procTerminated
}

// Instance returns statement i, or nil when it does not exist.
func (p *Process) Instance(i int) *Instance {
	return p.stmts[i]
}

// Continue lets a waiting process resume backtracking after ProcessDown.
// Ignored unless the process is waiting.
func (p *Process) Continue() {
	if p.state != procWaiting {
		return
	}
	p.state = procWorking
	p.trace(-1, TraceProcessContinue, "")
	p.work.Schedule()
}

// Terminate tears the process down from its last statement. The handler's
// ProcessTerminated reports completion.
func (p *Process) Terminate() {
	if p.state == procTerminating || p.state == procTerminated {
		return
	}
	p.state = procTerminating
	p.trace(-1, TraceProcessTerminate, "")
	p.work.Schedule()
}

// Resolve resolves a dotted object path as seen after the last statement.
func (p *Process) Resolve(path string) (Object, error) {
	return p.ResolveObject(p.table.Len(), path)
}

// ResolveObject resolves a dotted object path as seen from statement at:
// the first component names a statement before at or a special object.
func (p *Process) ResolveObject(at int, path string) (Object, error) {
	comps := strings.Split(path, ".")
	obj, err := p.resolveFirst(at, comps[0])
	if err != nil {
		return nil, err
	}
	for _, comp := range comps[1:] {
		next, ok := obj.Obj(comp)
		if !ok {
			return nil, NewError(ErrCodeUnresolvedObject, "%s: no object %q", path, comp)
		}
		obj = next
	}
	return obj, nil
}

// ResolveVar resolves a dotted variable path as seen from statement at. The
// last component is tried as an object first and as a variable second.
func (p *Process) ResolveVar(at int, path string) (ir.Value, error) {
	comps := strings.Split(path, ".")
	obj, err := p.resolveFirst(at, comps[0])
	if err != nil {
		return nil, err
	}
	for k, comp := range comps[1:] {
		next, ok := obj.Obj(comp)
		if ok {
			obj = next
			continue
		}
		if k == len(comps)-2 {
			if v, ok := obj.Var(comp); ok {
				return v, nil
			}
		}
		return nil, NewError(ErrCodeUnresolvedObject, "%s: no variable %q", path, comp)
	}
	v, ok := obj.Var("")
	if !ok {
		return nil, NewError(ErrCodeUnresolvedObject, "%s: object has no value", path)
	}
	return v, nil
}

func (p *Process) resolveFirst(at int, name string) (Object, error) {
	if name == "" {
		return nil, NewError(ErrCodeUnresolvedObject, "empty name")
	}
	if id, ok := p.interp.strs.Lookup(name); ok {
		if idx := p.table.FindStatement(at, id); idx != compiler.NoStatement {
			inst := p.stmts[idx]
			if inst == nil || !inst.resolvable() {
				return nil, NewError(ErrCodeUnresolvedObject, "statement %q is not available", name)
			}
			return inst, nil
		}
	}
	if obj, ok := p.special[name]; ok {
		return obj, nil
	}
	return nil, NewError(ErrCodeUnresolvedObject, "unknown name %q", name)
}

func (p *Process) cmd(i int) string {
	return p.table.Statement(i).Source.Cmd
}

func (p *Process) instanceUp(i *Instance) {
	i.state = StateUp
	i.cleanPending = false
	p.trace(i.index, TraceUp, "")
	p.work.Schedule()
}

func (p *Process) instanceDown(i *Instance) {
	i.state = StateDown
	i.cleanPending = true
	p.trace(i.index, TraceDown, "")
	if p.ap > i.index+1 {
		p.ap = i.index + 1
	}
	p.work.Schedule()
}

func (p *Process) instanceDead(i *Instance, err error) {
	requested := i.state == StateDying
	i.state = StateDead
	if err != nil {
		p.trace(i.index, TraceError, err.Error())
	} else {
		p.trace(i.index, TraceDead, "")
	}

	p.stmts[i.index] = nil
	if p.ap > i.index {
		p.ap = i.index
	}
	for p.fp > 0 && p.stmts[p.fp-1] == nil {
		p.fp--
	}

	switch {
	case err != nil:
		p.fail(withLocation(err, p.Name(), i.index))
	case !requested:
		i.log.Debug("statement died unrequested, recreating")
	}
	p.work.Schedule()
}

func (p *Process) fail(err error) {
	if p.err == nil {
		p.err = err
		p.log.Error("process failed", "error", err)
	}
	if p.state != procTerminated && p.state != procTerminating {
		p.state = procTerminating
		p.trace(-1, TraceProcessTerminate, err.Error())
	}
}

func (p *Process) doWork() {
	switch p.state {
	case procWaiting, procTerminated:
		return
	case procTerminating:
		if p.fp == 0 {
			p.finish()
			return
		}
		p.kill(p.fp - 1)
		return
	}

	n := p.table.Len()
	if p.state == procUp && !(p.ap == n && p.fp == n && (n == 0 || p.stmts[n-1].IsUp())) {
		p.trace(-1, TraceProcessDown, "")
		if p.canWait {
			p.state = procWaiting
			p.handler.ProcessDown(p)
			return
		}
		p.state = procWorking
		p.handler.ProcessDown(p)
		if p.state != procWorking {
			return
		}
	}

	if p.ap < p.fp {
		p.kill(p.fp - 1)
		return
	}

	if p.ap > 0 {
		last := p.stmts[p.ap-1]
		if last.state == StateDown {
			if last.cleanPending {
				last.cleanPending = false
				if c, ok := last.mod.(Cleaner); ok {
					p.trace(last.index, TraceClean, "")
					c.Clean()
				}
			}
			return
		}
	}

	if p.ap == n {
		if p.state != procUp {
			p.state = procUp
			p.trace(-1, TraceProcessUp, "")
			p.handler.ProcessUp(p)
		}
		return
	}

	p.create(p.ap)
}

func (p *Process) kill(idx int) {
	inst := p.stmts[idx]
	if inst.state == StateDying {
		return
	}
	inst.state = StateDying
	if p.ap > idx {
		p.ap = idx
	}
	p.trace(idx, TraceDie, "")
	inst.mod.Die()
}

func (p *Process) create(idx int) {
	st := p.table.Statement(idx)
	p.trace(idx, TraceCreate, "")

	desc := st.Module
	var recv Object
	if st.IsMethod() {
		var err error
		recv, err = p.receiver(idx, st)
		if err != nil {
			p.createFailed(idx, err)
			return
		}
		d, ok := p.interp.reg.Method(recv.Type(), st.MethodID)
		if !ok {
			p.createFailed(idx, NewError(ErrCodeUnknownMethod, "%s has no method %q", recv.Type(), st.Source.Cmd))
			return
		}
		desc = d
	}

	ev := evaluator{b: p.interp.builder, proc: p, at: idx}
	args, err := ev.evalAll(st.Args)
	if err != nil {
		p.createFailed(idx, err)
		return
	}

	if size := desc.StateSize; size > 0 {
		p.table.BumpAllocSize(idx, size)
	}
	offsets, total := p.table.Layout()
	if total > len(p.arena) {
		p.arena = make([]byte, total)
	}
	size := p.table.AllocSize(idx)
	mem := p.arena[offsets[idx] : offsets[idx]+size : offsets[idx]+size]
	clear(mem)

	inst := &Instance{
		proc:         p,
		index:        idx,
		desc:         desc,
		state:        StateDown,
		receiver:     recv,
		mem:          mem,
		cleanPending: true,
		log:          p.log.With("statement", idx, "cmd", st.Source.Cmd),
	}
	p.stmts[idx] = inst
	p.ap, p.fp = idx+1, idx+1

	mod, err := desc.New(inst, args)
	if err != nil {
		p.stmts[idx] = nil
		p.ap, p.fp = idx, idx
		p.createFailed(idx, err)
		return
	}
	if p.stmts[idx] != inst {
		// The constructor already reported the instance dead.
		return
	}
	inst.mod = mod
}

func (p *Process) receiver(idx int, st *compiler.Statement[*Descriptor]) (Object, error) {
	strs := p.interp.strs
	first := st.Object[0]
	var obj Object
	if at := p.table.FindStatement(idx, first); at != compiler.NoStatement {
		inst := p.stmts[at]
		if inst == nil || !inst.resolvable() {
			return nil, NewError(ErrCodeUnresolvedObject, "statement %q is not available", strs.Value(first))
		}
		obj = inst
	} else if sp, ok := p.special[strs.Value(first)]; ok {
		obj = sp
	} else {
		return nil, NewError(ErrCodeUnresolvedObject, "unknown name %q", strs.Value(first))
	}
	for _, id := range st.Object[1:] {
		next, ok := obj.Obj(strs.Value(id))
		if !ok {
			return nil, NewError(ErrCodeUnresolvedObject, "%s: no object %q",
				strings.Join(st.Source.Object, "."), strs.Value(id))
		}
		obj = next
	}
	return obj, nil
}

func (p *Process) createFailed(idx int, err error) {
	located := withLocation(err, p.Name(), idx)
	p.trace(idx, TraceError, located.Error())
	p.fail(located)
	p.work.Schedule()
}

func (p *Process) finish() {
	p.state = procTerminated
	p.work.Free()
	p.table.PutArena(p.arena)
	p.arena = nil
	detail := ""
	if p.err != nil {
		detail = p.err.Error()
	}
	p.trace(-1, TraceProcessTerminated, detail)
	p.handler.ProcessTerminated(p, p.err)
}

func (p *Process) trace(stmt int, kind TraceKind, detail string) {
	cmd := ""
	if stmt >= 0 {
		cmd = p.cmd(stmt)
	}
	p.interp.emit(TraceEvent{
		PID:       p.id,
		Process:   p.Name(),
		Statement: stmt,
		Cmd:       cmd,
		Kind:      kind,
		Detail:    detail,
	})
}
