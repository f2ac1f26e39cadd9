package ir

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies a runtime value kind. The numeric order is the sort order
// between kinds.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a sealed interface over String, List and Map.
type Value interface {
	Kind() Kind
	value() // Sealed - only these types implement it
}

// String is a string value.
type String string

func (String) Kind() Kind { return KindString }
func (String) value()     {}

// List is an ordered list of values. Lists are not modified after
// construction.
type List []Value

func (List) Kind() Kind { return KindList }
func (List) value()     {}

// MapEntry is one key/value pair of a Map.
type MapEntry struct {
	Key   Value
	Value Value
}

// Map is an immutable map with entries sorted by key (see Compare).
type Map struct {
	entries []MapEntry
}

func (Map) Kind() Kind { return KindMap }
func (Map) value()     {}

// ErrDuplicateKey is returned by NewMap when two entries share a key.
var ErrDuplicateKey = errors.New("duplicate map key")

// NewMap builds a Map from entries in any order.
func NewMap(entries ...MapEntry) (Map, error) {
	sorted := make([]MapEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Compare(sorted[i].Key, sorted[j].Key) < 0
	})
	for i := 1; i < len(sorted); i++ {
		if Compare(sorted[i-1].Key, sorted[i].Key) == 0 {
			return Map{}, fmt.Errorf("key %s: %w", Format(sorted[i].Key), ErrDuplicateKey)
		}
	}
	return Map{entries: sorted}, nil
}

// MustMap is like NewMap but panics on error. Use in tests and static setup.
func MustMap(entries ...MapEntry) Map {
	m, err := NewMap(entries...)
	if err != nil {
		panic(err)
	}
	return m
}

// E is shorthand for a MapEntry.
func E(key, val Value) MapEntry {
	return MapEntry{Key: key, Value: val}
}

// Len returns the number of entries.
func (m Map) Len() int {
	return len(m.entries)
}

// Entries returns the entries in key order. The slice must not be modified.
func (m Map) Entries() []MapEntry {
	return m.entries
}

// Get looks up key.
func (m Map) Get(key Value) (Value, bool) {
	i := sort.Search(len(m.entries), func(i int) bool {
		return Compare(m.entries[i].Key, key) >= 0
	})
	if i < len(m.entries) && Compare(m.entries[i].Key, key) == 0 {
		return m.entries[i].Value, true
	}
	return nil, false
}

// Compare orders values: strings before lists before maps; strings by
// bytes, lists element-wise then by length, maps entry-wise then by length.
func Compare(a, b Value) int {
	if a.Kind() != b.Kind() {
		if a.Kind() < b.Kind() {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case String:
		return strings.Compare(string(av), string(b.(String)))
	case List:
		bv := b.(List)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := Compare(av[i], bv[i]); c != 0 {
				return c
			}
		}
		return compareInt(len(av), len(bv))
	case Map:
		bv := b.(Map)
		for i := 0; i < len(av.entries) && i < len(bv.entries); i++ {
			if c := Compare(av.entries[i].Key, bv.entries[i].Key); c != 0 {
				return c
			}
			if c := Compare(av.entries[i].Value, bv.entries[i].Value); c != 0 {
				return c
			}
		}
		return compareInt(len(av.entries), len(bv.entries))
	default:
		panic(fmt.Sprintf("ir: unknown value type %T", a))
	}
}

// Equal reports whether a and b are the same value.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Length returns the string length in bytes, or the element count.
func Length(v Value) int {
	switch val := v.(type) {
	case String:
		return len(val)
	case List:
		return len(val)
	case Map:
		return val.Len()
	default:
		return 0
	}
}

// Format renders v in program literal syntax: strings quoted, lists as
// {a, b}, maps as [k:v, ...].
func Format(v Value) string {
	var buf bytes.Buffer
	format(&buf, v)
	return buf.String()
}

func format(buf *bytes.Buffer, v Value) {
	switch val := v.(type) {
	case String:
		buf.WriteString(strconv.Quote(string(val)))
	case List:
		buf.WriteByte('{')
		for i, elem := range val {
			if i > 0 {
				buf.WriteString(", ")
			}
			format(buf, elem)
		}
		buf.WriteByte('}')
	case Map:
		buf.WriteByte('[')
		for i, e := range val.entries {
			if i > 0 {
				buf.WriteString(", ")
			}
			format(buf, e.Key)
			buf.WriteByte(':')
			format(buf, e.Value)
		}
		buf.WriteByte(']')
	default:
		buf.WriteString("<invalid>")
	}
}

// Text renders v for output statements: strings verbatim, other kinds in
// literal syntax.
func Text(v Value) string {
	if s, ok := v.(String); ok {
		return string(s)
	}
	return Format(v)
}

// Bool interprets v as a boolean: only the string "true" is true.
func Bool(v Value) bool {
	s, ok := v.(String)
	return ok && s == "true"
}

// FromBool returns "true" or "false".
func FromBool(b bool) String {
	if b {
		return "true"
	}
	return "false"
}
