package engine

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ncd/internal/compiler"
	"github.com/roach88/ncd/internal/ir"
)

// probeSet records every lifecycle callback of the probe statements in a
// test program and gives the test a handle on each live probe.
//
//	probe(name [, mode])   mode "hold" stays down; "slow" ignores Die
//	probe::ping(name)      method on a probe, up immediately
//	echo(args...)          records its evaluated arguments, up immediately
//	broken(msg)            constructor fails
type probeSet struct {
	events []string
	live   map[string]*probe
}

type probe struct {
	set  *probeSet
	inst *Instance
	name string
	slow bool
	val  ir.Value
}

func (p *probe) record(what string) {
	p.set.events = append(p.set.events, p.name+":"+what)
}

func (p *probe) Die() {
	p.record("die")
	if p.slow {
		return
	}
	delete(p.set.live, p.name)
	p.inst.Dead()
}

func (p *probe) Clean() {
	p.record("clean")
}

func (p *probe) Var(name string) (ir.Value, bool) {
	if name == "" {
		return p.val, true
	}
	return nil, false
}

func newProbeSet() *probeSet {
	return &probeSet{live: make(map[string]*probe)}
}

func (s *probeSet) registry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister(
		&Descriptor{Type: "probe", New: s.newProbe},
		&Descriptor{Type: "probe::ping", New: s.newPing},
		&Descriptor{Type: "echo", New: s.newEcho},
		&Descriptor{Type: "broken", New: func(i *Instance, args Args) (Module, error) {
			msg, err := args.String(0)
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%s", msg)
		}},
	)
	return reg
}

func (s *probeSet) newProbe(i *Instance, args Args) (Module, error) {
	if err := args.Count(1, 2); err != nil {
		return nil, err
	}
	name, err := args.String(0)
	if err != nil {
		return nil, err
	}
	mode := ""
	if args.Len() == 2 {
		mode, _ = args.String(1)
	}
	p := &probe{set: s, inst: i, name: name, slow: mode == "slow", val: ir.String(name)}
	s.live[name] = p
	p.record("new")
	if mode != "hold" {
		i.Up()
	}
	return p, nil
}

func (s *probeSet) newPing(i *Instance, args Args) (Module, error) {
	name, err := args.String(0)
	if err != nil {
		return nil, err
	}
	recv := i.Receiver().(*Instance).Module().(*probe)
	p := &probe{set: s, inst: i, name: name, val: ir.String(recv.name)}
	s.live[name] = p
	p.record("ping " + recv.name)
	i.Up()
	return p, nil
}

func (s *probeSet) newEcho(i *Instance, args Args) (Module, error) {
	parts := make([]string, args.Len())
	for n, v := range args.Values() {
		parts[n] = ir.Format(v)
	}
	p := &probe{set: s, inst: i, name: "echo", val: ir.List(args.Values())}
	p.record(strings.Join(parts, " "))
	i.Up()
	return p, nil
}

// get returns the live probe called name.
func (s *probeSet) get(t *testing.T, name string) *probe {
	t.Helper()
	p, ok := s.live[name]
	require.True(t, ok, "probe %q is not live", name)
	return p
}

// take returns and clears the recorded events.
func (s *probeSet) take() []string {
	ev := s.events
	s.events = nil
	return ev
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestInterp loads src, compiles it against the probe registry and
// starts it with a deterministic run id and a trace collector.
func newTestInterp(t *testing.T, src string, opts ...Option) (*Interpreter, *probeSet, *Collector) {
	t.Helper()
	prog, err := compiler.LoadProgramString("test.cue", src)
	require.NoError(t, err)

	set := newProbeSet()
	col := &Collector{}
	base := []Option{
		WithRunID("run-1"),
		WithTracer(col),
		WithLogger(discardLogger()),
		WithOutput(&bytes.Buffer{}),
	}
	in, err := New(prog, set.registry(t), append(base, opts...)...)
	require.NoError(t, err)
	return in, set, col
}

// kinds returns "process[stmt] kind" for every traced event.
func kinds(events []TraceEvent) []string {
	out := make([]string, len(events))
	for n, ev := range events {
		if ev.Statement < 0 {
			out[n] = ev.Process + " " + string(ev.Kind)
		} else {
			out[n] = fmt.Sprintf("%s[%d] %s", ev.Process, ev.Statement, ev.Kind)
		}
	}
	return out
}
