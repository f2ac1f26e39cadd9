// Package value builds list and map values incrementally.
//
// A Builder hands out Items. An Item is either a finished ir.Value or an
// incomplete list or map whose elements live in the builder's pool. Pool
// links are int32 indices, so the pool may grow (and move) without
// invalidating any outstanding Item. Complete flattens an incomplete Item
// into an immutable ir.Value.
package value

import (
	"errors"
	"fmt"

	"github.com/roach88/ncd/internal/ir"
)

// ErrorKind classifies construction failures.
type ErrorKind string

const (
	ErrAlloc        ErrorKind = "alloc"
	ErrLimit        ErrorKind = "limit"
	ErrDuplicateKey ErrorKind = "duplicate_key"
)

// Error is returned by every failing Builder operation. A failed operation
// leaves the target Item unchanged and never touches completed values.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("value %s: %s", e.Kind, e.Message)
}

// IsKind reports whether err is a value Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind == kind
	}
	return false
}

// Limits bounds what one Builder may construct. Zero fields mean no limit.
type Limits struct {
	MaxDepth    int `toml:"max_depth"`
	MaxElements int `toml:"max_elements"`
	MaxPool     int `toml:"max_pool"`
}

// DefaultLimits are used when none are configured.
var DefaultLimits = Limits{MaxDepth: 32, MaxElements: 4096, MaxPool: 1 << 16}

type itemKind uint8

const (
	kindValue itemKind = iota
	kindList
	kindMap
)

const noLink int32 = -1

// Item is a value under construction. The zero Item is invalid.
type Item struct {
	kind  itemKind
	val   ir.Value
	first int32 // head of the element chain in the pool
	count int
	depth int
	id    uint32
}

// Of wraps a finished value.
func Of(v ir.Value) Item {
	return Item{kind: kindValue, val: v, depth: depthOf(v)}
}

// Complete reports whether the item needs no further materialization.
func (it Item) Complete() bool {
	return it.kind == kindValue
}

// Len returns the element count of an incomplete list or map.
func (it Item) Len() int {
	if it.kind == kindValue {
		return ir.Length(it.val)
	}
	return it.count
}

type elem struct {
	key  ir.Value // nil for list elements
	val  ir.Value
	next int32
}

// Builder owns the temporary pool for incomplete items.
type Builder struct {
	limits Limits
	pool   []elem
	open   int
	nextID uint32
	live   map[uint32]struct{}
}

// NewBuilder creates a builder with the given limits.
func NewBuilder(limits Limits) *Builder {
	return &Builder{limits: limits, live: make(map[uint32]struct{})}
}

// NewList returns an empty incomplete list.
func (b *Builder) NewList() Item {
	return b.newItem(kindList)
}

// NewMap returns an empty incomplete map.
func (b *Builder) NewMap() Item {
	return b.newItem(kindMap)
}

func (b *Builder) newItem(kind itemKind) Item {
	b.nextID++
	b.live[b.nextID] = struct{}{}
	b.open++
	return Item{kind: kind, first: noLink, depth: 1, id: b.nextID}
}

// Prepend links elem in front of list. Prepending a then b completes to
// [b, a].
func (b *Builder) Prepend(list *Item, el Item) error {
	if err := b.checkOpen(list, kindList); err != nil {
		return err
	}
	v, err := b.force(el)
	if err != nil {
		return err
	}
	if err := b.checkGrowth(list, depthOf(v)); err != nil {
		return err
	}
	idx, err := b.alloc(elem{val: v, next: list.first})
	if err != nil {
		return err
	}
	list.first = idx
	list.count++
	list.depth = max(list.depth, depthOf(v)+1)
	return nil
}

// Insert adds key/val to m. Duplicate keys are rejected.
func (b *Builder) Insert(m *Item, key, val Item) error {
	if err := b.checkOpen(m, kindMap); err != nil {
		return err
	}
	k, err := b.force(key)
	if err != nil {
		return err
	}
	v, err := b.force(val)
	if err != nil {
		return err
	}
	for i := m.first; i != noLink; i = b.pool[i].next {
		if ir.Equal(b.pool[i].key, k) {
			return &Error{Kind: ErrDuplicateKey, Message: fmt.Sprintf("key %s", ir.Format(k))}
		}
	}
	d := max(depthOf(k), depthOf(v))
	if err := b.checkGrowth(m, d); err != nil {
		return err
	}
	idx, err := b.alloc(elem{key: k, val: v, next: m.first})
	if err != nil {
		return err
	}
	m.first = idx
	m.count++
	m.depth = max(m.depth, d+1)
	return nil
}

// Complete materializes it. Completing an already complete item returns
// its value. After completion the incomplete item must not be used again.
// A failed completion abandons the item.
func (b *Builder) Complete(it *Item) (ir.Value, error) {
	v, err := b.force(*it)
	if err != nil {
		return nil, err
	}
	*it = Of(v)
	return v, nil
}

// Discard abandons an incomplete item.
func (b *Builder) Discard(it *Item) {
	if it.kind != kindValue {
		b.close(it.id)
	}
	*it = Item{}
}

// PoolLen returns the number of pool slots in use.
func (b *Builder) PoolLen() int {
	return len(b.pool)
}

func (b *Builder) force(it Item) (ir.Value, error) {
	switch it.kind {
	case kindValue:
		if it.val == nil {
			return nil, &Error{Kind: ErrLimit, Message: "invalid item"}
		}
		return it.val, nil
	case kindList:
		if _, ok := b.live[it.id]; !ok {
			return nil, &Error{Kind: ErrLimit, Message: "list already completed"}
		}
		out := make(ir.List, 0, it.count)
		for i := it.first; i != noLink; i = b.pool[i].next {
			out = append(out, b.pool[i].val)
		}
		b.close(it.id)
		return out, nil
	case kindMap:
		if _, ok := b.live[it.id]; !ok {
			return nil, &Error{Kind: ErrLimit, Message: "map already completed"}
		}
		entries := make([]ir.MapEntry, 0, it.count)
		for i := it.first; i != noLink; i = b.pool[i].next {
			entries = append(entries, ir.E(b.pool[i].key, b.pool[i].val))
		}
		m, err := ir.NewMap(entries...)
		if err != nil {
			b.close(it.id)
			return nil, &Error{Kind: ErrDuplicateKey, Message: err.Error()}
		}
		b.close(it.id)
		return m, nil
	default:
		return nil, &Error{Kind: ErrLimit, Message: "unknown item kind"}
	}
}

func (b *Builder) close(id uint32) {
	if _, ok := b.live[id]; !ok {
		return
	}
	delete(b.live, id)
	b.open--
	if b.open == 0 {
		b.pool = b.pool[:0]
	}
}

func (b *Builder) checkOpen(it *Item, kind itemKind) error {
	if it.kind != kind {
		return &Error{Kind: ErrLimit, Message: "wrong item kind"}
	}
	if _, ok := b.live[it.id]; !ok {
		return &Error{Kind: ErrLimit, Message: "item already completed"}
	}
	return nil
}

func (b *Builder) checkGrowth(it *Item, childDepth int) error {
	if b.limits.MaxElements > 0 && it.count+1 > b.limits.MaxElements {
		return &Error{Kind: ErrLimit, Message: fmt.Sprintf("more than %d elements", b.limits.MaxElements)}
	}
	if b.limits.MaxDepth > 0 && childDepth+1 > b.limits.MaxDepth {
		return &Error{Kind: ErrLimit, Message: fmt.Sprintf("deeper than %d", b.limits.MaxDepth)}
	}
	return nil
}

func (b *Builder) alloc(e elem) (int32, error) {
	if b.limits.MaxPool > 0 && len(b.pool) >= b.limits.MaxPool {
		return noLink, &Error{Kind: ErrAlloc, Message: fmt.Sprintf("pool exhausted at %d slots", len(b.pool))}
	}
	b.pool = append(b.pool, e)
	return int32(len(b.pool) - 1), nil
}

// depthOf returns the nesting depth of v: 0 for strings.
func depthOf(v ir.Value) int {
	switch val := v.(type) {
	case ir.List:
		d := 0
		for _, el := range val {
			d = max(d, depthOf(el))
		}
		return d + 1
	case ir.Map:
		d := 0
		for _, e := range val.Entries() {
			d = max(d, depthOf(e.Key), depthOf(e.Value))
		}
		return d + 1
	default:
		return 0
	}
}
