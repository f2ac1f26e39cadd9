package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncd/internal/compiler"
)

func TestInterpreter_New_UnknownCommand(t *testing.T) {
	prog, err := compiler.LoadProgramString("t.cue", `process: main: [{cmd: "nosuch"}]`)
	require.NoError(t, err)

	_, err = New(prog, NewRegistry(), WithLogger(discardLogger()), WithRunID("r"))
	require.Error(t, err)
	assert.Equal(t, ErrCodeUnknownCommand, ErrorCode(err))
	assert.True(t, errors.Is(err, compiler.ErrUnknownCommand))
}

func TestInterpreter_RunExitWhenIdle(t *testing.T) {
	in, set, _ := newTestInterp(t, threeProbes, WithExitWhenIdle(true))

	err := in.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a:new", "b:new", "c:new", "c:die", "b:die", "a:die"}, set.take())
	assert.Equal(t, 0, in.ExitCode())
}

func TestInterpreter_RunReturnsProcessFailure(t *testing.T) {
	in, set, _ := newTestInterp(t, `
		process: ok: [{cmd: "probe", args: ["a"]}]
		process: bad: [{cmd: "broken", args: ["boom"]}]
	`)

	err := in.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsProcessFailed(err))
	assert.Equal(t, 1, in.ExitCode())

	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "bad", re.Process)
	assert.Equal(t, []string{"a:new", "a:die"}, set.take(), "the healthy process is shut down")
}

func TestInterpreter_RunCancelled(t *testing.T) {
	in, set, _ := newTestInterp(t, threeProbes)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := in.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, in.ExitCode())
	assert.Equal(t, []string{"a:new", "b:new", "c:new", "c:die", "b:die", "a:die"}, set.take())
}

func TestInterpreter_PostFromAnotherGoroutine(t *testing.T) {
	in, _, _ := newTestInterp(t, threeProbes)

	go func() {
		in.Post(func() { in.RequestExit(4) })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, in.Run(ctx))
	assert.Equal(t, 4, in.ExitCode())
	assert.False(t, in.Post(func() {}), "post after stop")
}

func TestInterpreter_AfterKeepsIdleInterpreterAlive(t *testing.T) {
	in, _, _ := newTestInterp(t, threeProbes, WithExitWhenIdle(true))

	fired := false
	in.After(10*time.Millisecond, func() {
		fired = true
		in.RequestExit(3)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, in.Run(ctx))
	assert.True(t, fired)
	assert.Equal(t, 3, in.ExitCode())
}

func TestInterpreter_AfterCancel(t *testing.T) {
	in, _, _ := newTestInterp(t, threeProbes, WithExitWhenIdle(true))

	fired := false
	stop := in.After(time.Hour, func() { fired = true })
	stop()
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, in.Run(ctx))
	assert.False(t, fired)
	assert.Zero(t, in.timers)
}

func TestInterpreter_StalledShutdown(t *testing.T) {
	in, _, _ := newTestInterp(t, `
		process: main: [{cmd: "probe", args: ["a", "slow"]}]
	`, WithExitWhenIdle(true))

	err := in.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stalled")
}

func TestInterpreter_TraceStamps(t *testing.T) {
	in, _, col := newTestInterp(t, threeProbes, WithClock(NewClockAt(100)))
	in.Start()
	in.Drain()

	events := col.Events()
	require.NotEmpty(t, events)
	for n, ev := range events {
		assert.Equal(t, int64(101+n), ev.Seq)
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, 1, ev.PID)
		assert.Equal(t, "main", ev.Process)
	}
}

func TestInterpreter_RunIDGenerator(t *testing.T) {
	prog, err := compiler.LoadProgramString("t.cue", threeProbes)
	require.NoError(t, err)
	set := newProbeSet()

	in, err := New(prog, set.registry(t),
		WithLogger(discardLogger()),
		WithRunIDGenerator(NewFixedGenerator("fixed-7")))
	require.NoError(t, err)
	assert.Equal(t, "fixed-7", in.RunID())
}

func TestInterpreter_ModuleState(t *testing.T) {
	in, _, _ := newTestInterp(t, threeProbes)

	calls := 0
	init := func() any {
		calls++
		return &calls
	}
	first := in.ModuleState("k", init)
	second := in.ModuleState("k", init)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestInstance_Mem(t *testing.T) {
	prog, err := compiler.LoadProgramString("t.cue", `
		process: main: [
			{cmd: "scratch"},
			{cmd: "scratch"},
		]
	`)
	require.NoError(t, err)

	var mems [][]byte
	reg := NewRegistry()
	reg.MustRegister(&Descriptor{
		Type:      "scratch",
		StateSize: 12,
		New: func(i *Instance, _ Args) (Module, error) {
			mems = append(mems, i.Mem())
			if i.Index() == 1 {
				mems = append(mems, i.GrowMem(40))
			}
			i.Up()
			return dieNow{i}, nil
		},
	})

	in, err := New(prog, reg, WithLogger(discardLogger()), WithRunID("r"))
	require.NoError(t, err)
	in.Start()
	in.Drain()

	require.Len(t, mems, 3)
	assert.Len(t, mems[0], 12)
	assert.Len(t, mems[1], 12)
	assert.Len(t, mems[2], 40)
	assert.Equal(t, 40, in.top[0].table.AllocSize(1))

	_, total := in.top[0].table.Layout()
	assert.Equal(t, 16+40, total)
}

type dieNow struct{ i *Instance }

func (d dieNow) Die() { d.i.Dead() }

func TestInstance_SignalPanics(t *testing.T) {
	in, set, _ := newTestInterp(t, threeProbes)
	in.Start()
	in.Drain()

	a := set.get(t, "a")
	assert.Panics(t, func() { a.inst.Up() }, "up while up")

	in.RequestExit(0)
	in.Drain()
	assert.Panics(t, func() { a.inst.Dead() }, "dead twice")
}
