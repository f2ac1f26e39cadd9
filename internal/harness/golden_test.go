package harness

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncd/internal/engine"
)

func TestAssertDeterministic_Fixtures(t *testing.T) {
	for _, name := range []string{"hello", "exit_code", "spawn_join", "do_break"} {
		t.Run(name, func(t *testing.T) {
			result := AssertDeterministic(t, loadTestScenario(t, name))
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunWithGolden_WritesThenMatches(t *testing.T) {
	dir := t.TempDir()
	s := loadTestScenario(t, "hello")

	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	data, err := NewSnapshot(s.Name, first).Canonical()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, s.Name+".golden"), data, 0o644))

	result := RunWithGolden(t, dir, s)
	assert.True(t, result.Pass)
}

func TestSnapshot_Canonical(t *testing.T) {
	snap := TraceSnapshot{
		ScenarioName: "s",
		RunID:        "r",
		ExitCode:     0,
		Output:       "hi\n",
		Trace: []engine.TraceEvent{
			{Seq: 1, RunID: "r", PID: 1, Process: "main", Statement: 0, Cmd: "println", Kind: engine.TraceCreate},
			{Seq: 2, RunID: "r", PID: 1, Process: "main", Statement: -1, Kind: engine.TraceProcessUp, Detail: "x"},
		},
	}

	data, err := snap.Canonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"exit_code":0,"output":"hi\n","run_id":"r","scenario_name":"s","trace":[`+
			`{"cmd":"println","kind":"create","pid":1,"process":"main","seq":1,"statement":0},`+
			`{"detail":"x","kind":"process_up","pid":1,"process":"main","seq":2,"statement":-1}]}`,
		string(data))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded), "canonical output is valid JSON")

	h1, err := snap.Hash()
	require.NoError(t, err)
	snap.Output = "bye\n"
	h2, err := snap.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestCheck_StableScenarioPasses(t *testing.T) {
	h := &Harness{}
	result, err := h.Check(context.Background(), loadTestScenario(t, "spawn_join"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
