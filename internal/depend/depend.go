// Package depend matches named providers with consumers.
//
// Each name has at most one active provider. Further providers for the name
// wait in a queue ordered by their order value, then by arrival. A consumer
// lists one or more names in preference order and is bound to the active
// provider of the most preferred name that has one.
//
// Unbinding is two-phase. When a bound provider is asked to die, or a
// better provider appears, the consumer is told ProviderDown and stays
// bound until it calls Settled (or Close). A dying provider reports done
// only once every consumer has let go, then the next queued provider is
// promoted and waiting consumers bind to it.
//
// Nothing here is safe for concurrent use; the interpreter's reactor owns
// every registry.
package depend

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/ir"
)

// ErrDuplicate is wrapped by the error Provide returns when a non-queueing
// provider meets an active one.
var ErrDuplicate = errors.New("depend: duplicate provider")

// Registry is one namespace of providers and consumers. The interpreter
// holds a global one; depend_scope statements create scoped ones.
type Registry struct {
	entries map[string]*entry
	seq     uint64
	refs    int
	closed  bool
}

type entry struct {
	active    *Provider
	queue     []*Provider
	consumers []*Consumer // every consumer listing this name
}

// New returns an empty registry holding one reference.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry), refs: 1}
}

// Acquire adds a reference.
func (r *Registry) Acquire() {
	r.refs++
}

// Release drops a reference and reports whether it was the last one. The
// last release closes the registry: every provider and consumer is gone by
// then, and using the registry again panics. Releasing an unreferenced
// registry panics.
func (r *Registry) Release() bool {
	if r.refs <= 0 {
		panic("depend: release of unreferenced registry")
	}
	r.refs--
	if r.refs > 0 {
		return false
	}
	if len(r.entries) > 0 {
		panic(fmt.Sprintf("depend: last reference released with %d live name(s)", len(r.entries)))
	}
	r.closed = true
	return true
}

// Closed reports whether the last reference has been released.
func (r *Registry) Closed() bool {
	return r.closed
}

func (r *Registry) checkOpen() {
	if r.closed {
		panic("depend: registry used after its last release")
	}
}

// Refs returns the current reference count.
func (r *Registry) Refs() int {
	return r.refs
}

// Active returns the active provider for name, if any.
func (r *Registry) Active(name string) (*Provider, bool) {
	e := r.entries[name]
	if e == nil || e.active == nil {
		return nil, false
	}
	return e.active, true
}

// Queued returns how many providers wait behind the active one for name.
func (r *Registry) Queued(name string) int {
	if e := r.entries[name]; e != nil {
		return len(e.queue)
	}
	return 0
}

func (r *Registry) entry(name string) *entry {
	e := r.entries[name]
	if e == nil {
		e = &entry{}
		r.entries[name] = e
	}
	return e
}

// gc drops an entry nobody refers to any more.
func (r *Registry) gc(name string) {
	e := r.entries[name]
	if e != nil && e.active == nil && len(e.queue) == 0 && len(e.consumers) == 0 {
		delete(r.entries, name)
	}
}

// ProvideOptions configure a provider.
type ProvideOptions struct {
	// Queue makes a provider wait behind an active one instead of failing.
	Queue bool

	// Order ranks queued providers; lower values are promoted first. Equal
	// values keep arrival order.
	Order int
}

type providerState uint8

const (
	providerQueued providerState = iota
	providerActive
	providerDying
	providerDone
)

// Provider offers obj under a name.
type Provider struct {
	reg   *Registry
	name  string
	order int
	seq   uint64
	obj   engine.Object
	state providerState

	bound  []*Consumer
	onDone func()
}

// Provide registers obj under name. Without opts.Queue it fails when name
// already has an active provider that is not dying; otherwise the provider
// waits its turn. Consumers of the name may be bound, and their ProviderUp
// called, before Provide returns.
func (r *Registry) Provide(name string, obj engine.Object, opts ProvideOptions) (*Provider, error) {
	r.checkOpen()
	e := r.entry(name)
	if !opts.Queue && e.active != nil && e.active.state == providerActive {
		r.gc(name)
		return nil, &engine.RuntimeError{
			Code:      engine.ErrCodeDuplicateProvider,
			Message:   fmt.Sprintf("%q is already provided", name),
			Statement: -1,
			Err:       ErrDuplicate,
		}
	}

	r.seq++
	p := &Provider{reg: r, name: name, order: opts.Order, seq: r.seq, obj: obj}
	r.Acquire()
	if e.active == nil {
		r.activate(e, p)
		return p, nil
	}

	p.state = providerQueued
	i, _ := slices.BinarySearchFunc(e.queue, p, func(a, b *Provider) int {
		if a.order != b.order {
			return a.order - b.order
		}
		// Never equal: a later arrival sorts after every earlier one.
		if a.seq < b.seq {
			return -1
		}
		return 1
	})
	e.queue = slices.Insert(e.queue, i, p)
	return p, nil
}

func (r *Registry) activate(e *entry, p *Provider) {
	p.state = providerActive
	e.active = p
	for _, c := range slices.Clone(e.consumers) {
		c.reconsider()
	}
}

// Name returns the provided name.
func (p *Provider) Name() string {
	return p.name
}

// Active reports whether p is the active provider and not dying.
func (p *Provider) Active() bool {
	return p.state == providerActive
}

// Bound returns the number of consumers bound to p.
func (p *Provider) Bound() int {
	return len(p.bound)
}

// Die withdraws p. Bound consumers are told ProviderDown; onDone runs once
// all of them have settled or closed, immediately when none are bound or p
// was only queued.
func (p *Provider) Die(onDone func()) {
	e := p.reg.entries[p.name]
	switch p.state {
	case providerQueued:
		e.queue = slices.DeleteFunc(e.queue, func(q *Provider) bool { return q == p })
		p.state = providerDone
		p.reg.gc(p.name)
		p.reg.Release()
		onDone()
		return
	case providerActive:
	default:
		panic(fmt.Sprintf("depend: provider %q: die while %d", p.name, p.state))
	}

	p.state = providerDying
	p.onDone = onDone
	for _, c := range slices.Clone(p.bound) {
		c.collapse()
	}
	p.checkDone()
}

func (p *Provider) unbind(c *Consumer) {
	p.bound = slices.DeleteFunc(p.bound, func(b *Consumer) bool { return b == c })
	p.checkDone()
}

func (p *Provider) checkDone() {
	if p.state != providerDying || len(p.bound) > 0 {
		return
	}
	p.state = providerDone
	e := p.reg.entries[p.name]
	e.active = nil
	done := p.onDone
	p.onDone = nil
	done()

	if len(e.queue) > 0 {
		next := e.queue[0]
		e.queue = e.queue[1:]
		p.reg.activate(e, next)
	}
	p.reg.gc(p.name)
	p.reg.Release()
}

// ConsumerEvents receive a consumer's binding changes.
type ConsumerEvents interface {
	// ProviderUp reports that the consumer is bound.
	ProviderUp()

	// ProviderDown reports that the bound provider is going away or a more
	// preferred one appeared. The consumer stays bound until Settled.
	ProviderDown()
}

// Consumer waits for a provider under one of several names.
type Consumer struct {
	reg        *Registry
	names      []string
	events     ConsumerEvents
	bound      *Provider
	rank       int
	collapsing bool
	closed     bool
}

// Depend registers a consumer for names, most preferred first. If a
// provider is active it is bound, and events.ProviderUp called, before
// Depend returns.
func (r *Registry) Depend(names []string, events ConsumerEvents) *Consumer {
	r.checkOpen()
	c := &Consumer{reg: r, names: slices.Clone(names), events: events}
	r.Acquire()
	for _, name := range c.names {
		e := r.entry(name)
		e.consumers = append(e.consumers, c)
	}
	c.reconsider()
	return c
}

// Bound reports whether c is bound to a provider that is not dying.
func (c *Consumer) Bound() bool {
	return c.bound != nil && c.bound.state == providerActive
}

// Provider returns the bound provider, or nil.
func (c *Consumer) Provider() *Provider {
	return c.bound
}

// BoundName returns the name c is bound under, or "".
func (c *Consumer) BoundName() string {
	if c.bound == nil {
		return ""
	}
	return c.bound.name
}

// Obj forwards to the bound provider's object while it is usable.
func (c *Consumer) Obj(name string) (engine.Object, bool) {
	if !c.Bound() || c.bound.obj == nil {
		return nil, false
	}
	return c.bound.obj.Obj(name)
}

// Var forwards to the bound provider's object while it is usable.
func (c *Consumer) Var(name string) (ir.Value, bool) {
	if !c.Bound() || c.bound.obj == nil {
		return nil, false
	}
	return c.bound.obj.Var(name)
}

// Settled acknowledges a ProviderDown: c lets go of its provider and binds
// to the best one available. A no-op unless a ProviderDown is pending.
func (c *Consumer) Settled() {
	if c.closed || !c.collapsing {
		return
	}
	c.collapsing = false
	p := c.bound
	c.bound = nil
	p.unbind(c)
	c.reconsider()
}

// Close removes c from the registry, releasing its provider.
func (c *Consumer) Close() {
	if c.closed {
		return
	}
	c.closed = true
	for _, name := range c.names {
		e := c.reg.entries[name]
		e.consumers = slices.DeleteFunc(e.consumers, func(o *Consumer) bool { return o == c })
	}
	if p := c.bound; p != nil {
		c.bound = nil
		c.collapsing = false
		p.unbind(c)
	}
	for _, name := range c.names {
		c.reg.gc(name)
	}
	c.reg.Release()
}

func (c *Consumer) collapse() {
	if c.collapsing {
		return
	}
	c.collapsing = true
	c.events.ProviderDown()
}

// best returns the most preferred usable provider and its rank.
func (c *Consumer) best() (*Provider, int) {
	for rank, name := range c.names {
		if e := c.reg.entries[name]; e != nil && e.active != nil && e.active.state == providerActive {
			return e.active, rank
		}
	}
	return nil, -1
}

func (c *Consumer) reconsider() {
	if c.closed || c.collapsing {
		return
	}
	p, rank := c.best()
	if p == nil {
		return
	}
	if c.bound == nil {
		c.bound = p
		c.rank = rank
		p.bound = append(p.bound, c)
		c.events.ProviderUp()
		return
	}
	if rank < c.rank {
		c.collapse()
	}
}
