package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/roach88/ncd/internal/ir"
	"github.com/roach88/ncd/internal/method"
	"github.com/roach88/ncd/internal/strtab"
)

// Module is a live statement implementation. Die is a termination request:
// the module answers, now or later, with Instance.Dead or DeadError.
type Module interface {
	Die()
}

// Cleaner is implemented by modules that want to know when backtracking past
// them has settled: every statement after them is gone and they are still
// down.
type Cleaner interface {
	Clean()
}

// VarReader is implemented by modules that expose variables. The empty name
// is the module's own value.
type VarReader interface {
	Var(name string) (ir.Value, bool)
}

// ObjReader is implemented by modules that expose sub-objects.
type ObjReader interface {
	Obj(name string) (Object, bool)
}

// Object is anything a name can resolve to: a statement, a special object
// such as _caller, or a value.
type Object interface {
	// Type selects methods: "var" objects accept var::set and so on.
	Type() string
	Var(name string) (ir.Value, bool)
	Obj(name string) (Object, bool)
}

// Flags are descriptor capability bits.
type Flags uint8

const (
	// CanResolveWhenDown lets later statements resolve this statement's
	// objects while it is down.
	CanResolveWhenDown Flags = 1 << iota
)

// Descriptor registers one statement kind. Type is a plain command ("var")
// or a method ("var::set").
type Descriptor struct {
	Type      string
	New       func(i *Instance, args Args) (Module, error)
	StateSize int
	Flags     Flags
}

// IsMethod reports whether the descriptor registers a method.
func (d *Descriptor) IsMethod() bool {
	return strings.Contains(d.Type, "::")
}

func (d *Descriptor) split() (base, name string) {
	base, name, _ = strings.Cut(d.Type, "::")
	return base, name
}

// Registry holds every statement kind available to a program. It is
// read-only once interpreters start using it and may be shared between
// them.
type Registry struct {
	types   *strtab.Table
	cmds    map[string]*Descriptor
	methods *method.Index[*Descriptor]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types:   strtab.New(),
		cmds:    make(map[string]*Descriptor),
		methods: method.New[*Descriptor](),
	}
}

// Register adds d.
func (r *Registry) Register(d *Descriptor) error {
	if d.New == nil {
		return fmt.Errorf("register %q: descriptor has no constructor", d.Type)
	}
	if !d.IsMethod() {
		if _, ok := r.cmds[d.Type]; ok {
			return fmt.Errorf("register %q: duplicate command", d.Type)
		}
		r.cmds[d.Type] = d
		return nil
	}

	base, name := d.split()
	if base == "" || name == "" {
		return fmt.Errorf("register %q: malformed method type", d.Type)
	}
	typeID, err := r.types.Intern(base)
	if err != nil {
		return fmt.Errorf("register %q: %w", d.Type, err)
	}
	return r.methods.Register(typeID, name, d)
}

// MustRegister registers every descriptor and panics on error. Use for
// static module tables.
func (r *Registry) MustRegister(ds ...*Descriptor) {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Command returns the descriptor for a plain command.
func (r *Registry) Command(name string) (*Descriptor, bool) {
	d, ok := r.cmds[name]
	return d, ok
}

// unknownMethod is the id of every method name no module registered. It
// never resolves.
const unknownMethod = math.MaxInt32

// MethodName returns the id of a method name. Names nothing registered get
// an id that never resolves, so compiling never writes to the registry.
func (r *Registry) MethodName(name string) (int, error) {
	if id, ok := r.methods.LookupName(name); ok {
		return id, nil
	}
	return unknownMethod, nil
}

// Method resolves methodID on objects of typeName.
func (r *Registry) Method(typeName string, methodID int) (*Descriptor, bool) {
	typeID, ok := r.types.Lookup(typeName)
	if !ok {
		return nil, false
	}
	return r.methods.Resolve(typeID, methodID)
}

// Commands returns the number of plain commands registered.
func (r *Registry) Commands() int {
	return len(r.cmds)
}
