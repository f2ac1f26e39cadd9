package engine

import (
	"fmt"
	"log/slog"

	"github.com/roach88/ncd/internal/ir"
)

// InstanceState is a module instance's lifecycle state.
type InstanceState uint8

const (
	StateDown InstanceState = iota + 1
	StateUp
	StateDying
	StateDead
)

func (s InstanceState) String() string {
	switch s {
	case StateDown:
		return "down"
	case StateUp:
		return "up"
	case StateDying:
		return "dying"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Instance is one live statement. Modules receive it in their constructor
// and use it to signal transitions and to reach the rest of the program.
//
// All methods must be called on the reactor goroutine.
type Instance struct {
	proc     *Process
	index    int
	desc     *Descriptor
	mod      Module
	state    InstanceState
	receiver Object
	mem      []byte
	log      *slog.Logger

	// cleanPending is set when the instance is created or goes down and
	// cleared when it goes up or its Clean has been delivered.
	cleanPending bool
}

// Up signals that the instance is available to later statements.
// Panics unless the instance is down.
func (i *Instance) Up() {
	if i.state != StateDown {
		panic(fmt.Sprintf("engine: %s: up while %s", i, i.state))
	}
	i.proc.instanceUp(i)
}

// Down signals that the instance is no longer available. Statements after
// it are torn down, then the instance receives Clean. Panics unless the
// instance is up.
func (i *Instance) Down() {
	if i.state != StateUp {
		panic(fmt.Sprintf("engine: %s: down while %s", i, i.state))
	}
	i.proc.instanceDown(i)
}

// Dead reports that the instance has finished terminating. Without a prior
// Die this is an unrequested death: the process backtracks and creates the
// statement again.
func (i *Instance) Dead() {
	i.dead(nil)
}

// DeadError reports termination with an error. The owning process unwinds
// and terminates with err.
func (i *Instance) DeadError(err error) {
	if err == nil {
		err = fmt.Errorf("statement died with an error")
	}
	i.dead(err)
}

func (i *Instance) dead(err error) {
	if i.state == StateDead {
		panic(fmt.Sprintf("engine: %s: dead twice", i))
	}
	i.proc.instanceDead(i, err)
}

// State returns the lifecycle state.
func (i *Instance) State() InstanceState {
	return i.state
}

// IsUp reports whether the instance is up.
func (i *Instance) IsUp() bool {
	return i.state == StateUp
}

// Index returns the statement position in its process.
func (i *Instance) Index() int {
	return i.index
}

// Process returns the owning process.
func (i *Instance) Process() *Process {
	return i.proc
}

// Interp returns the interpreter.
func (i *Instance) Interp() *Interpreter {
	return i.proc.interp
}

// Module returns the module implementation, or nil while the constructor
// runs.
func (i *Instance) Module() Module {
	return i.mod
}

// Receiver returns the object a method statement was called on, or nil
// for plain commands.
func (i *Instance) Receiver() Object {
	return i.receiver
}

// Resolve resolves a dotted object path as seen from this statement.
func (i *Instance) Resolve(path string) (Object, error) {
	return i.proc.ResolveObject(i.index, path)
}

// ResolveVar resolves a dotted variable path as seen from this statement.
func (i *Instance) ResolveVar(path string) (ir.Value, error) {
	return i.proc.ResolveVar(i.index, path)
}

// Mem returns the instance's scratch memory, sized by the descriptor's
// StateSize or a later GrowMem.
func (i *Instance) Mem() []byte {
	return i.mem
}

// GrowMem makes Mem at least n bytes long. Future instances of the same
// statement start with the larger size.
func (i *Instance) GrowMem(n int) []byte {
	i.proc.table.BumpAllocSize(i.index, n)
	if len(i.mem) < n {
		i.mem = make([]byte, n)
	}
	return i.mem
}

// Log returns a logger tagged with process, statement and command.
func (i *Instance) Log() *slog.Logger {
	return i.log
}

// Type implements Object: the statement's descriptor type.
func (i *Instance) Type() string {
	return i.desc.Type
}

// Var implements Object by forwarding to the module.
func (i *Instance) Var(name string) (ir.Value, bool) {
	if r, ok := i.mod.(VarReader); ok {
		return r.Var(name)
	}
	return nil, false
}

// Obj implements Object by forwarding to the module.
func (i *Instance) Obj(name string) (Object, bool) {
	if r, ok := i.mod.(ObjReader); ok {
		return r.Obj(name)
	}
	return nil, false
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s[%d] %s", i.proc.Name(), i.index, i.proc.cmd(i.index))
}

// resolvable reports whether later statements may see this instance.
func (i *Instance) resolvable() bool {
	if i.mod == nil {
		return false
	}
	return i.state == StateUp || (i.state == StateDown && i.desc.Flags&CanResolveWhenDown != 0)
}
