package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncd/internal/compiler"
)

func TestValidateValidProgram(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), "testdata/hello.cue")
	require.NoError(t, err)
	assert.Equal(t, "✓ hello is valid (1 process(es), 0 template(s))\n", out)
}

func TestValidatePackageDirectory(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), "testdata/hello")
	require.NoError(t, err)
	assert.Contains(t, out, "(1 process(es), 1 template(s))")
}

func TestValidateValidProgramJSON(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), "testdata/hello.cue")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 1, resp.Data.Processes)
}

func TestValidateReportsEveryError(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), "testdata/invalid.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)

	codes := make([]string, len(resp.Data.Errors))
	for i, e := range resp.Data.Errors {
		codes[i] = e.Code
	}
	assert.Equal(t, []string{compiler.ErrInvalidName, ErrCodeUnknownCommand}, codes)
	assert.Equal(t, "main[0].cmd", resp.Data.Errors[1].Field)
	assert.Equal(t, 2, resp.Data.Errors[1].Line)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		exitCode int
		want     string
	}{
		{"syntax error", "testdata/syntax.cue", ExitFailure, ErrCodeLoadFailed},
		{"missing", "testdata/nowhere", ExitCommandError, "Error [E005]"},
		{"no cue files", "testdata/empty", ExitCommandError, "Error [E003]"},
		{"not an image", "testdata/junk.bin", ExitCommandError, "Error [E006]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), tt.path)
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, GetExitCode(err))
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestValidateRequiresArg(t *testing.T) {
	_, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestFindCUEFiles(t *testing.T) {
	files, err := FindCUEFiles("testdata/hello")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	files, err = FindCUEFiles("testdata/empty")
	require.NoError(t, err)
	assert.Empty(t, files)
}
