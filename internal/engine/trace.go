package engine

import (
	"sync"
)

// TraceKind names a lifecycle transition.
type TraceKind string

const (
	TraceCreate            TraceKind = "create"
	TraceUp                TraceKind = "up"
	TraceDown              TraceKind = "down"
	TraceClean             TraceKind = "clean"
	TraceDie               TraceKind = "die"
	TraceDead              TraceKind = "dead"
	TraceError             TraceKind = "error"
	TraceProcessUp         TraceKind = "process_up"
	TraceProcessDown       TraceKind = "process_down"
	TraceProcessContinue   TraceKind = "process_continue"
	TraceProcessTerminate  TraceKind = "process_terminate"
	TraceProcessTerminated TraceKind = "process_terminated"
)

// TraceEvent is one observable transition. Statement is -1 for process
// level events.
type TraceEvent struct {
	Seq       int64     `json:"seq"`
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	Process   string    `json:"process"`
	Statement int       `json:"statement"`
	Cmd       string    `json:"cmd,omitempty"`
	Kind      TraceKind `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
}

// Tracer receives every transition, on the reactor goroutine.
type Tracer interface {
	Trace(ev TraceEvent)
}

// TracerFunc adapts a function to Tracer.
type TracerFunc func(TraceEvent)

func (f TracerFunc) Trace(ev TraceEvent) { f(ev) }

// MultiTracer fans events out to several tracers in order.
type MultiTracer []Tracer

func (m MultiTracer) Trace(ev TraceEvent) {
	for _, t := range m {
		t.Trace(ev)
	}
}

// Collector keeps every event in memory. Safe to read from other
// goroutines.
type Collector struct {
	mu     sync.Mutex
	events []TraceEvent
}

// Trace implements Tracer.
func (c *Collector) Trace(ev TraceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of the collected events.
func (c *Collector) Events() []TraceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TraceEvent, len(c.events))
	copy(out, c.events)
	return out
}

// Filter returns the events for which keep returns true.
func (c *Collector) Filter(keep func(TraceEvent) bool) []TraceEvent {
	var out []TraceEvent
	for _, ev := range c.Events() {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}
