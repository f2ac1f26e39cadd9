package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ncd/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario|dir>",
		Short: "Run scenario files",
		Long: `Run YAML scenario files against the interpreter.

Each scenario runs its program twice with a fixed run id and clock.
Both traces must be identical, the expected exit code and error must
match, and every assertion must hold. A scenario with a .golden file
next to it must also reproduce that snapshot exactly.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  ncd test ./scenarios
  ncd test ./scenarios --filter "spawn*"
  ncd test ./scenarios --update
  ncd test ./scenarios/hello.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose file name matches this glob")

	return cmd
}

func runTests(opts *TestOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	h := &harness.Harness{Logger: opts.logger(), UpdateGoldens: opts.Update}
	suite, err := h.RunSuite(ctx, path, opts.Filter)
	if err != nil {
		var nf *harness.ScenarioNotFoundError
		if errors.As(err, &nf) {
			return commandError(formatter, ErrCodeNotFound, err)
		}
		return commandError(formatter, ErrCodeScanError, err)
	}

	if formatter.Format == "json" {
		if err := writeJSON(formatter.Writer, CLIResponse{Status: testStatus(suite), Data: suite}); err != nil {
			return err
		}
	} else {
		outputTestText(formatter.Writer, suite)
	}

	if suite.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", suite.Failed, suite.Total))
	}
	return nil
}

func testStatus(suite *harness.SuiteResult) string {
	if suite.Failed > 0 {
		return "error"
	}
	return "ok"
}

func outputTestText(w io.Writer, suite *harness.SuiteResult) {
	if suite.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}

	for _, r := range suite.Results {
		if r.Pass {
			if r.Golden == "updated" {
				fmt.Fprintf(w, "✓ %s (golden updated)\n", r.Name)
			} else {
				fmt.Fprintf(w, "✓ %s\n", r.Name)
			}
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", r.Name)
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d passed, %d failed, %d total\n", suite.Passed, suite.Failed, suite.Total)
}
