// Package strtab interns strings to small integer ids.
//
// Statement names, command names and object-path components are interned
// once at program load so the hot path compares ints instead of strings.
// A fixed set of well-known strings is interned first, in a fixed order, so
// their ids are compile-time constants.
package strtab

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Well-known string ids. The order matches wellKnown below.
const (
	IDEmpty = iota
	IDCaller
	IDArgs
	IDArg0
	IDArg1
	IDArg2
	IDArg3
	IDArg4
	IDArg5
	IDArg6
	IDArg7
	IDArg8
	IDArg9
	IDDo
	IDTry
	IDSucceeded
	IDTrue
	IDFalse
	IDLength
	IDExists

	numWellKnown
)

var wellKnown = [numWellKnown]string{
	IDEmpty:     "",
	IDCaller:    "_caller",
	IDArgs:      "_args",
	IDArg0:      "_arg0",
	IDArg1:      "_arg1",
	IDArg2:      "_arg2",
	IDArg3:      "_arg3",
	IDArg4:      "_arg4",
	IDArg5:      "_arg5",
	IDArg6:      "_arg6",
	IDArg7:      "_arg7",
	IDArg8:      "_arg8",
	IDArg9:      "_arg9",
	IDDo:        "_do",
	IDTry:       "_try",
	IDSucceeded: "succeeded",
	IDTrue:      "true",
	IDFalse:     "false",
	IDLength:    "length",
	IDExists:    "exists",
}

// ErrCapacity is returned when the table cannot hold another string.
var ErrCapacity = errors.New("strtab: capacity exhausted")

// Table maps strings to ids and back. The zero value is not usable; call New.
type Table struct {
	mu     sync.RWMutex
	byName map[string]int
	byID   []string
	limit  int
}

// Option configures a Table.
type Option func(*Table)

// WithLimit caps the number of distinct strings. Well-known strings count
// against the limit.
func WithLimit(n int) Option {
	return func(t *Table) {
		t.limit = n
	}
}

// New creates a table with the well-known strings pre-interned.
func New(opts ...Option) *Table {
	t := &Table{
		byName: make(map[string]int, 256),
		byID:   make([]string, 0, 256),
		limit:  math.MaxInt32,
	}
	for _, opt := range opts {
		opt(t)
	}
	for id, s := range wellKnown {
		t.byName[s] = id
		t.byID = append(t.byID, s)
	}
	return t
}

// Intern returns the id for s, inserting it if absent.
// On error the table is unchanged.
func (t *Table) Intern(s string) (int, error) {
	t.mu.RLock()
	if id, ok := t.byName[s]; ok {
		t.mu.RUnlock()
		return id, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring the write lock
	if id, ok := t.byName[s]; ok {
		return id, nil
	}
	if len(t.byID) >= t.limit {
		return 0, fmt.Errorf("intern %q: %w", s, ErrCapacity)
	}

	id := len(t.byID)
	t.byName[s] = id
	t.byID = append(t.byID, s)
	return id, nil
}

// InternBytes is Intern for a byte slice. The bytes are copied.
func (t *Table) InternBytes(b []byte) (int, error) {
	return t.Intern(string(b))
}

// MustIntern is like Intern but panics on error. Use for static setup only.
func (t *Table) MustIntern(s string) int {
	id, err := t.Intern(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Lookup returns the id for s without inserting.
func (t *Table) Lookup(s string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byName[s]
	return id, ok
}

// Value returns the string for id. It panics on an id this table never
// returned.
func (t *Table) Value(id int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id < 0 || id >= len(t.byID) {
		panic(fmt.Sprintf("strtab: invalid id %d", id))
	}
	return t.byID[id]
}

// Len returns the number of interned strings, well-known ones included.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// WellKnown returns the string for a well-known id.
func WellKnown(id int) string {
	return wellKnown[id]
}

// ArgID returns the well-known id of "_argN" for n in [0, 9].
func ArgID(n int) (int, bool) {
	if n < 0 || n > 9 {
		return 0, false
	}
	return IDArg0 + n, true
}
