package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/ncd/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult describes a compiled program.
type CompilationResult struct {
	Program    string           `json:"program"`
	Hash       string           `json:"hash"`
	Processes  []ProcessSummary `json:"processes"`
	Stats      CompilationStats `json:"stats"`
	Output     string           `json:"output,omitempty"`
	ImageBytes int              `json:"image_bytes,omitempty"`
}

// ProcessSummary is one process or template of a compiled program.
type ProcessSummary struct {
	Name       string `json:"name"`
	Template   bool   `json:"template,omitempty"`
	Statements int    `json:"statements"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	ProcessCount   int `json:"process_count"`
	TemplateCount  int `json:"template_count"`
	StatementCount int `json:"statement_count"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <program>",
		Short: "Compile a program to an image",
		Long: `Compile a CUE program to a binary image.

The program is loaded and validated like "ncd validate". With -o the
program is written as a CBOR image that "ncd run" loads without CUE.
The program hash printed here is the one recorded for every run.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "image file to write")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	prog, err := LoadProgram(path)
	if err != nil {
		return outputCompileError(formatter, loadErrorCode(err), err.Error())
	}
	formatter.VerboseLog("Loaded %s from %s", prog.Name, path)

	if errs := ValidateProgram(prog); len(errs) > 0 {
		return outputValidationErrors(formatter, path, errs)
	}

	hash, err := ir.ProgramHash(prog)
	if err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, err.Error())
	}
	result := &CompilationResult{Program: prog.Name, Hash: hash}
	for _, p := range prog.Processes {
		result.Processes = append(result.Processes, ProcessSummary{
			Name:       p.Name,
			Template:   p.Template,
			Statements: len(p.Statements),
		})
	}
	result.Stats = calculateStats(prog)

	if opts.Output != "" {
		n, err := writeImage(prog, opts.Output)
		if err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
		result.Output = opts.Output
		result.ImageBytes = n
	}

	return outputCompileSuccess(formatter, result)
}

func calculateStats(prog *ir.Program) CompilationStats {
	var stats CompilationStats
	for _, p := range prog.Processes {
		if p.Template {
			stats.TemplateCount++
		} else {
			stats.ProcessCount++
		}
		stats.StatementCount += len(p.Statements)
	}
	return stats
}

func writeImage(prog *ir.Program, path string) (int, error) {
	data, err := ir.MarshalProgram(prog)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, err
	}
	return len(data), nil
}

func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %s: %d process(es), %d template(s), %d statement(s)\n\n",
		result.Program, result.Stats.ProcessCount, result.Stats.TemplateCount, result.Stats.StatementCount)

	for _, p := range result.Processes {
		kind := "process"
		if p.Template {
			kind = "template"
		}
		fmt.Fprintf(formatter.Writer, "  %-8s %s: %d statement(s)\n", kind, p.Name, p.Statements)
	}
	fmt.Fprintf(formatter.Writer, "\nhash %s\n", result.Hash)

	if result.Output != "" {
		fmt.Fprintf(formatter.Writer, "Wrote %d byte image to %s\n", result.ImageBytes, result.Output)
	}
	return nil
}

// outputCompileError reports a command-level failure (exit code 2).
func outputCompileError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}
