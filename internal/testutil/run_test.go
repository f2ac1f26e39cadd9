package testutil

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncd/internal/compiler"
	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/modules"
)

func TestStableLogger_OmitsTime(t *testing.T) {
	var buf bytes.Buffer
	log := StableLogger(&buf, slog.LevelInfo)

	log.Debug("hidden")
	log.Info("shown", "k", "v")

	assert.Equal(t, "level=INFO msg=shown k=v\n", buf.String())
}

func TestRunIDs_InOrder(t *testing.T) {
	gen := RunIDs("run", 3)

	assert.Equal(t, "run-1", gen.Generate())
	assert.Equal(t, "run-2", gen.Generate())
	assert.Equal(t, "run-3", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestDeterministic_SameTraceTwice(t *testing.T) {
	prog, err := compiler.LoadProgramString("hello.cue", `
		process: main: [
			{name: "x", cmd: "var", args: ["hello"]},
			{cmd: "println", args: [{var: "x"}]},
		]
	`)
	require.NoError(t, err)

	run := func() ([]engine.TraceEvent, string) {
		var out bytes.Buffer
		col := &engine.Collector{}
		opts := append(Deterministic("", &out, col), engine.WithExitWhenIdle(true))
		in, err := engine.New(prog, modules.NewRegistry(), opts...)
		require.NoError(t, err)
		assert.Equal(t, DefaultRunID, in.RunID())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, in.Run(ctx))
		return col.Events(), out.String()
	}

	firstTrace, firstOut := run()
	secondTrace, secondOut := run()
	require.NotEmpty(t, firstTrace)
	assert.Equal(t, int64(1), firstTrace[0].Seq)
	assert.Equal(t, firstTrace, secondTrace)
	assert.Equal(t, "hello\n", firstOut)
	assert.Equal(t, firstOut, secondOut)
}
