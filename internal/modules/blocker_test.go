package modules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/ir"
)

// The gate lives in one process and is reached from two others through the
// global registry.
const sharedGate = `
	process: gate: [
		{name: "b", cmd: "blocker"},
		{cmd: "provide", args: ["gate"]},
	]
	process: user: [
		{name: "d", cmd: "depend", args: [["gate"]]},
		{name: "u", obj: "d.b", cmd: "use"},
		{cmd: "println", args: ["through"]},
	]
	process: ctl: [
		{name: "g", cmd: "depend", args: ["gate"]},
		{obj: "g.b", cmd: "up"},
		{obj: "g.b", cmd: "downup"},
	]
`

func TestBlocker_SharedGate(t *testing.T) {
	f := newFixture(t, sharedGate)
	f.step()

	assert.Equal(t, []string{"create", "up", "down", "up"}, f.kinds("user", 1))
	assert.Contains(t, f.out.String(), "through\n")
	for _, name := range []string{"gate", "user", "ctl"} {
		assert.True(t, f.top(t, name).IsUp(), name)
	}

	f.in.RequestExit(0)
	f.in.Drain()
	assert.True(t, f.in.Done())
	assert.Empty(t, f.in.Processes())
}

// Two observers in separate processes share one gate owned by a third.
func gateWithObservers(initial string) string {
	return `
		process: gate: [
			{name: "b", cmd: "blocker", args: [` + initial + `]},
			{cmd: "provide", args: ["gate"]},
		]
		process: first: [
			{name: "d", cmd: "depend", args: ["gate"]},
			{obj: "d.b", cmd: "use"},
			{cmd: "println", args: ["first"]},
		]
		process: second: [
			{name: "d", cmd: "depend", args: ["gate"]},
			{obj: "d.b", cmd: "use"},
			{cmd: "println", args: ["second"]},
		]
	`
}

func TestBlocker_DownupRaisesLoweredGateOnce(t *testing.T) {
	f := newFixture(t, gateWithObservers("false"))
	f.step()
	require.Empty(t, f.out.String())
	for _, name := range []string{"first", "second"} {
		require.Equal(t, []string{"create"}, f.kinds(name, 1), name)
	}

	f.top(t, "gate").Instance(0).Module().(*blockerMod).downup()
	f.in.Drain()

	for _, name := range []string{"first", "second"} {
		assert.Equal(t, []string{"create", "up"}, f.kinds(name, 1), name)
		assert.True(t, f.top(t, name).IsUp(), name)
	}
	assert.Contains(t, f.out.String(), "first\n")
	assert.Contains(t, f.out.String(), "second\n")
}

func TestBlocker_DownupOnRaisedGateIsBackToBack(t *testing.T) {
	f := newFixture(t, gateWithObservers("true"))
	f.step()
	for _, name := range []string{"first", "second"} {
		require.Equal(t, []string{"create", "up"}, f.kinds(name, 1), name)
	}

	f.top(t, "gate").Instance(0).Module().(*blockerMod).downup()
	f.in.Drain()

	for _, name := range []string{"first", "second"} {
		assert.Equal(t, []string{"create", "up", "down", "up"}, f.kinds(name, 1), name)
		down := f.lastIndex(name, 1, engine.TraceDown)
		up := f.lastIndex(name, 1, engine.TraceUp)
		assert.Equal(t, down+1, up, "%s: events between down and up", name)
		assert.Equal(t, -1, f.index(name, 1, engine.TraceClean), name)
		assert.True(t, f.top(t, name).IsUp(), name)
	}
}

func TestBlocker_DownHoldsUsers(t *testing.T) {
	f := newFixture(t, `
		process: main: [
			{name: "b", cmd: "blocker", args: [true]},
			{name: "u", obj: "b", cmd: "use"},
			{cmd: "println", args: ["open"]},
		]
	`)
	f.step()
	require.Equal(t, "open\n", f.out.String())

	b := f.top(t, "main").Instance(0).Module().(*blockerMod)
	b.set(false)
	f.in.Drain()
	assert.Equal(t, []string{"create", "up", "down"}, f.kinds("main", 1))
	assert.Equal(t, []string{"create", "up", "die", "dead"}, f.kinds("main", 2))
	v, ok := f.top(t, "main").Instance(0).Var("")
	require.True(t, ok)
	assert.Equal(t, ir.FromBool(false), v)

	b.set(true)
	f.in.Drain()
	assert.Equal(t, "open\nopen\n", f.out.String())
}

func TestBlocker_RdownupOnTeardown(t *testing.T) {
	f := newFixture(t, `
		process: main: [
			{name: "b", cmd: "blocker", args: [true]},
			{name: "u", obj: "b", cmd: "use"},
			{cmd: "println", args: ["open"]},
			{name: "r", obj: "b", cmd: "rdownup"},
			{name: "h", cmd: "blocker"},
			{obj: "h", cmd: "use"},
		]
	`)
	f.step()
	require.Equal(t, "open\n", f.out.String())

	// Backtracking past rdownup bounces the gate under the earlier use.
	f.top(t, "main").Instance(2).Down()
	f.in.Drain()
	assert.Equal(t, []string{"create", "up", "down", "up"}, f.kinds("main", 1))
	assert.Equal(t, "open\nopen\n", f.out.String())
}
