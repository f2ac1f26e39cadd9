package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ncd/internal/compiler"
	"github.com/roach88/ncd/internal/ir"
	"github.com/roach88/ncd/internal/modules"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Program   string                     `json:"program,omitempty"`
	Valid     bool                       `json:"valid"`
	Processes int                        `json:"processes,omitempty"`
	Templates int                        `json:"templates,omitempty"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <program>",
		Short: "Check a program without running it",
		Long: `Check a program without running it.

Loads the program, checks its structure (empty or duplicate processes,
missing commands, bad statement names and template references) and that
every plain command is provided by a built-in module. All problems are
reported, not just the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	prog, err := LoadProgram(path)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Code == ErrCodeLoadFailed {
			// Source errors are problems with the program, not the command.
			return outputValidationErrors(formatter, path, []compiler.ValidationError{{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    lineOf(loadErr),
			}})
		}
		return outputValidateError(formatter, loadErrorCode(err), err.Error())
	}
	formatter.VerboseLog("Loaded %s: %d process(es) and template(s)", prog.Name, len(prog.Processes))

	errs := ValidateProgram(prog)
	if len(errs) > 0 {
		return outputValidationErrors(formatter, path, errs)
	}
	return outputValidateSuccess(formatter, prog)
}

// ValidateProgram runs the structural checks and the command check against
// the built-in modules.
func ValidateProgram(prog *ir.Program) []compiler.ValidationError {
	errs := compiler.Validate(prog)
	return append(errs, checkCommands(prog, modules.NewRegistry())...)
}

func lineOf(e *LoadError) int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

func outputValidateSuccess(formatter *OutputFormatter, prog *ir.Program) error {
	result := ValidationResult{Program: prog.Name, Valid: true}
	for _, p := range prog.Processes {
		if p.Template {
			result.Templates++
		} else {
			result.Processes++
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ %s is valid (%d process(es), %d template(s))\n",
		prog.Name, result.Processes, result.Templates)
	return nil
}

// outputValidateError reports a command-level failure (exit code 2).
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors reports program errors (exit code 1).
func outputValidationErrors(formatter *OutputFormatter, path string, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Program: path, Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}
		if err := writeJSON(formatter.Writer, response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s line %d\n", path, err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

// writeJSON writes v indented, for output meant to be read by people as
// well as tools.
func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
