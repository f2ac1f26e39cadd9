package modules

import (
	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/ir"
	"github.com/roach88/ncd/internal/strtab"
)

func doDescriptors() []*engine.Descriptor {
	return []*engine.Descriptor{
		{Type: "do", New: newDo},
		{Type: "try", New: newTry},
		{Type: "do::break", New: newBreak},
		{Type: "do::assert", New: newDoAssert},
		{Type: "try::assert", New: newDoAssert},
	}
}

type doState uint8

const (
	doRunning doState = iota
	// doStopping: break or a failed assert asked the main process to stop.
	doStopping
	// doFinishing: try's main process came up and is being torn down.
	doFinishing
	doDone
	doDying
)

// doObject is the _do or _try special object seen by the main process. Its
// methods reach the do statement through module().
type doObject struct {
	d    *doMod
	kind string
}

func (o doObject) Type() string                     { return o.kind }
func (o doObject) Var(string) (ir.Value, bool)      { return nil, false }
func (o doObject) Obj(string) (engine.Object, bool) { return nil, false }
func (o doObject) module() any                      { return o.d }

// doMod runs a template speculatively. do(template [, interrupt]) is up
// with succeeded=true once the main process comes up and keeps it running;
// try(template, args...) tears the main process down first. A break or a
// failed assert stops the main process and the statement comes up with
// succeeded=false.
//
// While the main process has not come up, stopping it goes through the
// interrupt template when one is given: the interrupt runs until it is up
// (or terminates), is torn down, and only then is the main process
// terminated.
type doMod struct {
	inst      *engine.Instance
	kind      string
	state     doState
	main      *engine.Process
	interrupt string
	intProc   *engine.Process
	mainErr   error
	succeeded bool
	// mainWasUp is set once the main process first comes up. The interrupt
	// is only used before that.
	mainWasUp bool
}

func newDo(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(1, 2); err != nil {
		return nil, err
	}
	tmpl, err := args.String(0)
	if err != nil {
		return nil, err
	}
	d := &doMod{inst: i, kind: "do"}
	if args.Len() == 2 {
		if d.interrupt, err = args.String(1); err != nil {
			return nil, err
		}
	}
	return d, d.start(tmpl, nil)
}

func newTry(i *engine.Instance, args engine.Args) (engine.Module, error) {
	tmpl, targs, err := templateArgs(args)
	if err != nil {
		return nil, err
	}
	d := &doMod{inst: i, kind: "try"}
	return d, d.start(tmpl, targs)
}

func (d *doMod) special() map[string]engine.Object {
	id := strtab.IDDo
	if d.kind == "try" {
		id = strtab.IDTry
	}
	return map[string]engine.Object{
		strtab.WellKnown(id): doObject{d: d, kind: d.kind},
	}
}

func (d *doMod) start(tmpl string, args []ir.Value) error {
	p, err := d.inst.Interp().NewProcess(tmpl, args, d.special(), mainHandler{d})
	if err != nil {
		return err
	}
	d.main = p
	return nil
}

// stop ends the attempt unsuccessfully. Ignored once the outcome is known.
func (d *doMod) stop() {
	if d.state != doRunning {
		return
	}
	d.state = doStopping
	d.terminateMain()
}

func (d *doMod) terminateMain() {
	if d.main == nil || d.intProc != nil {
		return
	}
	if d.interrupt != "" && !d.mainWasUp {
		p, err := d.inst.Interp().NewProcess(d.interrupt, nil, d.special(), interruptHandler{d})
		if err == nil {
			d.intProc = p
			return
		}
		d.inst.Log().Warn("interrupt not started", "template", d.interrupt, "error", err)
	}
	d.main.Terminate()
}

// settle decides the outcome once the main process is gone.
func (d *doMod) settle() {
	if d.intProc != nil {
		d.intProc.Terminate()
		return
	}
	switch {
	case d.state == doDying:
		if d.mainErr != nil {
			d.inst.DeadError(d.mainErr)
			return
		}
		d.inst.Dead()
	case d.mainErr != nil:
		d.inst.DeadError(d.mainErr)
	case d.state == doStopping:
		d.finish(false)
	case d.state == doFinishing:
		d.finish(true)
	default:
		d.inst.DeadError(errChildTerminated)
	}
}

func (d *doMod) finish(ok bool) {
	d.state = doDone
	d.succeeded = ok
	d.inst.Up()
}

func (d *doMod) Die() {
	prev := d.state
	d.state = doDying
	if d.main == nil && d.intProc == nil {
		d.inst.Dead()
		return
	}
	if prev == doStopping || prev == doFinishing {
		// Already on its way down.
		return
	}
	d.terminateMain()
}

func (d *doMod) Var(name string) (ir.Value, bool) {
	if name == strtab.WellKnown(strtab.IDSucceeded) && d.state == doDone {
		return ir.FromBool(d.succeeded), true
	}
	return nil, false
}

type mainHandler struct{ d *doMod }

func (h mainHandler) ProcessUp(p *engine.Process) {
	d := h.d
	d.mainWasUp = true
	if d.state != doRunning {
		return
	}
	if d.kind == "try" {
		d.state = doFinishing
		p.Terminate()
		return
	}
	d.finish(true)
}

func (h mainHandler) ProcessDown(p *engine.Process) {
	p.Continue()
}

func (h mainHandler) ProcessTerminated(_ *engine.Process, err error) {
	d := h.d
	d.main = nil
	d.mainErr = err
	d.settle()
}

type interruptHandler struct{ d *doMod }

func (h interruptHandler) ProcessUp(p *engine.Process) {
	p.Terminate()
}

func (h interruptHandler) ProcessDown(p *engine.Process) {
	p.Continue()
}

func (h interruptHandler) ProcessTerminated(_ *engine.Process, err error) {
	d := h.d
	d.intProc = nil
	if err != nil {
		d.inst.Log().Warn("interrupt failed", "template", d.interrupt, "error", err)
	}
	if d.main != nil {
		d.main.Terminate()
		return
	}
	d.settle()
}

// do::break() stops the attempt. It never comes up, so nothing after it in
// the main process runs.
func newBreak(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(0, 0); err != nil {
		return nil, err
	}
	d, err := receiver[*doMod](i)
	if err != nil {
		return nil, err
	}
	d.stop()
	return dieNow{inst: i}, nil
}

// do::assert(cond) and try::assert(cond) stop the attempt when cond is
// false.
func newDoAssert(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(1, 1); err != nil {
		return nil, err
	}
	d, err := receiver[*doMod](i)
	if err != nil {
		return nil, err
	}
	if !ir.Bool(args.Value(0)) {
		d.stop()
		return dieNow{inst: i}, nil
	}
	return upNow(i), nil
}
