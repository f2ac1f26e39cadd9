package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncd/internal/compiler"
	"github.com/roach88/ncd/internal/ir"
)

func TestCompileText(t *testing.T) {
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), "testdata/hello")
	require.NoError(t, err)

	prog, err := compiler.LoadProgramDir("testdata/hello")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Compiled hello: 1 process(es), 1 template(s), 3 statement(s)")
	assert.Contains(t, out, "process  main: 2 statement(s)")
	assert.Contains(t, out, "template greet: 1 statement(s)")
	assert.Contains(t, out, "hash "+ir.MustProgramHash(prog))
	assert.NotContains(t, out, "Wrote")
}

func TestCompileImageRoundTrip(t *testing.T) {
	image := filepath.Join(t.TempDir(), "hello.ncdb")

	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "json"}), "-o", image, "testdata/hello.cue")
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, image, resp.Data.Output)
	assert.Equal(t, 2, resp.Data.Stats.StatementCount)

	data, err := os.ReadFile(image)
	require.NoError(t, err)
	assert.True(t, ir.IsImage(data))
	assert.Equal(t, len(data), resp.Data.ImageBytes)

	// The image runs like the source and keeps its hash.
	runOut, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), "--exit-when-idle", image)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", runOut)

	prog, err := compiler.LoadProgramPath(image)
	require.NoError(t, err)
	assert.Equal(t, resp.Data.Hash, ir.MustProgramHash(prog))
}

func TestCompileInvalidProgram(t *testing.T) {
	image := filepath.Join(t.TempDir(), "bad.ncdb")
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), "-o", image, "testdata/invalid.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.NoFileExists(t, image)
}

func TestCompileWriteFailure(t *testing.T) {
	image := filepath.Join(t.TempDir(), "no", "such", "dir", "hello.ncdb")
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), "-o", image, "testdata/hello.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E007]")
}

func TestCalculateStats(t *testing.T) {
	prog := &ir.Program{Processes: []*ir.Process{
		{Name: "main", Statements: make([]ir.Statement, 3)},
		{Name: "t1", Template: true, Statements: make([]ir.Statement, 1)},
		{Name: "t2", Template: true, Statements: make([]ir.Statement, 2)},
	}}
	assert.Equal(t, CompilationStats{ProcessCount: 1, TemplateCount: 2, StatementCount: 6}, calculateStats(prog))
}
