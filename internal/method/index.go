// Package method maps (object type, method name) pairs to implementations.
//
// Method names live in their own id namespace, separate from object type
// ids, so "set" has one id no matter how many object types define it. Each
// method-name id heads a chain of (type, implementation) entries; resolving
// walks only the chain for that one name.
package method

import (
	"errors"
	"fmt"

	"github.com/roach88/ncd/internal/strtab"
)

// ErrDuplicate is returned when a (type, method) pair is registered twice.
var ErrDuplicate = errors.New("method: duplicate registration")

const none = -1

type entry[M any] struct {
	typeID int
	impl   M
	next   int
}

// Index resolves methods. It is read-only after registration and may then be
// shared by every interpreter built from the same registry.
type Index[M any] struct {
	names   *strtab.Table
	heads   []int // method-name id -> first entry, or none
	entries []entry[M]
}

// New creates an empty index.
func New[M any]() *Index[M] {
	return &Index[M]{names: strtab.New()}
}

// NameID interns a method name in the method namespace.
func (x *Index[M]) NameID(name string) (int, error) {
	id, err := x.names.Intern(name)
	if err != nil {
		return 0, fmt.Errorf("method name %q: %w", name, err)
	}
	x.grow(id)
	return id, nil
}

// LookupName returns the id for an already-known method name.
func (x *Index[M]) LookupName(name string) (int, bool) {
	return x.names.Lookup(name)
}

// Name returns the method name for id.
func (x *Index[M]) Name(id int) string {
	return x.names.Value(id)
}

// Register binds impl to methodName on objects of type typeID. The new
// entry is chained in front of existing entries for the same name.
func (x *Index[M]) Register(typeID int, methodName string, impl M) error {
	nameID, err := x.NameID(methodName)
	if err != nil {
		return err
	}
	for e := x.heads[nameID]; e != none; e = x.entries[e].next {
		if x.entries[e].typeID == typeID {
			return fmt.Errorf("register type %d method %q: %w", typeID, methodName, ErrDuplicate)
		}
	}
	x.entries = append(x.entries, entry[M]{typeID: typeID, impl: impl, next: x.heads[nameID]})
	x.heads[nameID] = len(x.entries) - 1
	return nil
}

// Resolve returns the implementation of method nameID for type typeID.
func (x *Index[M]) Resolve(typeID, nameID int) (M, bool) {
	var zero M
	if nameID < 0 || nameID >= len(x.heads) {
		return zero, false
	}
	for e := x.heads[nameID]; e != none; e = x.entries[e].next {
		if x.entries[e].typeID == typeID {
			return x.entries[e].impl, true
		}
	}
	return zero, false
}

// ChainLen returns how many object types implement method nameID.
func (x *Index[M]) ChainLen(nameID int) int {
	if nameID < 0 || nameID >= len(x.heads) {
		return 0
	}
	n := 0
	for e := x.heads[nameID]; e != none; e = x.entries[e].next {
		n++
	}
	return n
}

func (x *Index[M]) grow(id int) {
	for len(x.heads) <= id {
		x.heads = append(x.heads, none)
	}
}
