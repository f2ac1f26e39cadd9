package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/testutil"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
	require.NoError(t, err)
	return s
}

func TestRun_Fixtures(t *testing.T) {
	for _, name := range []string{"hello", "exit_code", "process_failure", "spawn_join", "do_break"} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(context.Background(), loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
			assert.NotEmpty(t, result.Trace)
		})
	}
}

func TestRun_TraceComesFromStore(t *testing.T) {
	result, err := Run(context.Background(), loadTestScenario(t, "hello"))
	require.NoError(t, err)

	assert.Equal(t, testutil.DefaultRunID, result.RunID)
	assert.Equal(t, "hello world\n", result.Output)
	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq, "seq is dense from 1")
		assert.Equal(t, testutil.DefaultRunID, ev.RunID)
	}
	first := result.Trace[0]
	assert.Equal(t, "main", first.Process)
	assert.Equal(t, engine.TraceKind("create"), first.Kind)
}

func TestRun_ReportsUnmetExpectations(t *testing.T) {
	s := &Scenario{
		Name:        "unmet",
		Description: "everything here is wrong",
		Source:      `process: main: [{cmd: "exit", args: [4]}]`,
		ExitCode:    0,
		Error:       "PROCESS_FAILED",
		Assertions: []Assertion{
			{Type: AssertOutputContains, Text: "never printed"},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "expected run error PROCESS_FAILED, run succeeded")
	assert.Contains(t, result.Errors[1], "exit code = 4, want 0")
	assert.Contains(t, result.Errors[2], "never printed")
}

func TestRun_UnexpectedError(t *testing.T) {
	s := &Scenario{
		Name:        "fails",
		Description: "assert false fails main",
		Source:      `process: main: [{cmd: "assert", args: [false]}]`,
		ExitCode:    1,
		Assertions:  []Assertion{{Type: AssertTraceCount, EventMatch: EventMatch{Kind: "error"}, Count: 1}},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected run error: PROCESS_FAILED")
	assert.Contains(t, result.RunError, "assertion failed")
}

func TestRun_Timeout(t *testing.T) {
	s := &Scenario{
		Name:        "slow",
		Description: "sleeps past its timeout",
		Source:      `process: main: [{cmd: "sleep", args: [60000]}]`,
		Timeout:     50 * time.Millisecond,
		Assertions:  []Assertion{{Type: AssertTraceCount, EventMatch: EventMatch{Kind: "up"}, Count: 0}},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "did not finish within 50ms")
}

func TestRun_ScenarioErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		errMsg string
	}{
		{"cue syntax", `process: main: [`, "load program"},
		{"invalid program", `template: t: [{cmd: "println"}]`, "invalid program"},
		{"unknown command", `process: main: [{cmd: "teleport"}]`, "UNKNOWN_COMMAND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), &Scenario{
				Name:        tt.name,
				Description: "broken",
				Source:      tt.source,
				Assertions:  []Assertion{{Type: AssertOutputContains, Text: "x"}},
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestHarness_CustomRegistry(t *testing.T) {
	reg := engine.NewRegistry()
	h := &Harness{Registry: reg, Logger: testutil.DiscardLogger()}

	_, err := h.Run(context.Background(), &Scenario{
		Name:        "empty registry",
		Description: "println is not registered",
		Source:      `process: main: [{cmd: "println", args: ["x"]}]`,
		Assertions:  []Assertion{{Type: AssertOutputContains, Text: "x"}},
	})
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeUnknownCommand, engine.ErrorCode(err))
}
