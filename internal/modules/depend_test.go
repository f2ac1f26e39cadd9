package modules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncd/internal/depend"
	"github.com/roach88/ncd/internal/engine"
)

func TestDepend_ResolvesThroughProvider(t *testing.T) {
	f := newFixture(t, `
		process: server: [
			{name: "addr", cmd: "value", args: ["127.0.0.1"]},
			{cmd: "provide", args: ["net"]},
		]
		process: client: [
			{name: "n", cmd: "depend", args: ["net"]},
			{cmd: "println", args: ["dial ", {var: "n.addr"}]},
		]
	`, engine.WithExitWhenIdle(true))
	require.NoError(t, f.run(t))
	assert.Equal(t, "dial 127.0.0.1\n", f.out.String())
}

func TestDepend_WaitsForProvider(t *testing.T) {
	f := newFixture(t, `
		process: client: [
			{name: "n", cmd: "depend", args: ["late"]},
			{cmd: "println", args: ["bound"]},
		]
		process: server: [
			{name: "g", cmd: "blocker"},
			{obj: "g", cmd: "use"},
			{cmd: "provide", args: ["late"]},
		]
	`)
	f.step()
	assert.Empty(t, f.out.String())

	f.top(t, "server").Instance(0).Module().(*blockerMod).set(true)
	f.in.Drain()
	assert.Equal(t, "bound\n", f.out.String())

	// Withdrawing the provider takes the consumer down; the provider is
	// dead only after the consumer settled.
	f.top(t, "server").Instance(0).Module().(*blockerMod).set(false)
	f.in.Drain()
	assert.Equal(t, []string{"create", "clean", "up", "down", "clean"}, f.kinds("client", 0))
	assert.Less(t, f.lastIndex("client", 0, engine.TraceClean), f.index("server", 2, engine.TraceDead))
}

func TestProvide_DuplicateFails(t *testing.T) {
	f := newFixture(t, `
		process: a: [{cmd: "provide", args: ["x"]}]
		process: b: [{cmd: "provide", args: ["x"]}]
	`)
	err := f.run(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, depend.ErrDuplicate)
	assert.Contains(t, err.Error(), "DUPLICATE_PROVIDER")
}

func TestProvideEvent_QueuesBehindActive(t *testing.T) {
	f := newFixture(t, `
		process: first: [
			{name: "who", cmd: "value", args: ["first"]},
			{cmd: "provide_event", args: ["x"]},
		]
		process: second: [
			{name: "who", cmd: "value", args: ["second"]},
			{cmd: "provide_event", args: ["x"]},
		]
		process: client: [
			{name: "d", cmd: "depend", args: ["x"]},
			{cmd: "println", args: [{var: "d.who"}]},
		]
	`)
	f.step()
	require.Equal(t, "first\n", f.out.String())

	f.top(t, "first").Terminate()
	f.in.Drain()
	assert.Equal(t, "first\nsecond\n", f.out.String())
}

func TestDependScope_PrivateRegistry(t *testing.T) {
	f := newFixture(t, `
		process: main: [
			{name: "sc", cmd: "depend_scope"},
			{name: "v", cmd: "value", args: ["shared"]},
			{obj: "sc", cmd: "provide", args: ["x"]},
			{name: "d", obj: "sc", cmd: "depend", args: [["x"]]},
			{cmd: "println", args: [{var: "d.v"}]},
			{name: "g", cmd: "depend", args: ["x"]},
			{cmd: "println", args: ["global"]},
		]
	`)
	f.step()

	// The scoped name is invisible to the global registry.
	assert.Equal(t, "shared\n", f.out.String())
	assert.Equal(t, []string{"create", "clean"}, f.kinds("main", 5))

	sc := f.top(t, "main").Instance(0).Module().(*scopeMod)
	reg := sc.reg
	assert.Equal(t, 3, reg.Refs())

	f.in.RequestExit(0)
	f.in.Drain()
	assert.True(t, f.in.Done())
	assert.Equal(t, 0, reg.Refs())
	assert.True(t, reg.Closed())
}

func TestMultidepend_PrefersEarlierName(t *testing.T) {
	f := newFixture(t, `
		process: backup: [
			{name: "who", cmd: "value", args: ["backup"]},
			{cmd: "multiprovide", args: [["backup"]]},
		]
		process: client: [
			{name: "d", cmd: "multidepend", args: [["primary", "backup"]]},
			{cmd: "println", args: [{var: "d.who"}]},
		]
		process: primary: [
			{name: "g", cmd: "blocker"},
			{obj: "g", cmd: "use"},
			{name: "who", cmd: "value", args: ["primary"]},
			{cmd: "multiprovide", args: [["primary", "main"], 1]},
		]
	`)
	f.step()
	require.Equal(t, "backup\n", f.out.String())

	f.top(t, "primary").Instance(0).Module().(*blockerMod).set(true)
	f.in.Drain()
	assert.Equal(t, "backup\nprimary\n", f.out.String())

	f.in.RequestExit(0)
	f.in.Drain()
	assert.True(t, f.in.Done())
}
