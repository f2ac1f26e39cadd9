package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/ncd/internal/compiler"
	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/ir"
	"github.com/roach88/ncd/internal/modules"
	"github.com/roach88/ncd/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	RunID        string
	ExitWhenIdle bool

	// RunIDGenerator overrides run id generation (for testing). Ignored
	// when RunID is set.
	RunIDGenerator engine.RunIDGenerator
}

// RunResult is the JSON payload of a finished run.
type RunResult struct {
	RunID       string `json:"run_id"`
	Program     string `json:"program"`
	ProgramHash string `json:"program_hash"`
	ExitCode    int    `json:"exit_code"`
	Error       string `json:"error,omitempty"`
	Output      string `json:"output"`
	Transitions int    `json:"transitions,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Run a program",
		Long: `Run a program until it exits.

<program> is a CUE package directory, a .cue file or an image written by
"ncd compile". Program output goes to stdout. With --format json it is
collected into the final JSON result instead.

When a trace database is configured every transition is recorded to it
and can be read back with "ncd trace".

The exit status is the program's exit code. SIGINT and SIGTERM shut the
program down with exit code 1.

Examples:
  ncd run ./hello
  ncd run --trace-db ./runs.db --exit-when-idle ./pipeline.cue
  ncd run --format json ./hello.ncdb`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id (default: generated UUIDv7)")
	cmd.Flags().BoolVar(&opts.ExitWhenIdle, "exit-when-idle", false, "exit once nothing is left to do (default from interp.exit_when_idle)")

	return cmd
}

func runProgram(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	cfg := opts.resolvedConfig()
	logger := opts.logger()

	prog, err := LoadProgram(path)
	if err != nil {
		return commandError(formatter, loadErrorCode(err), err)
	}
	reg := modules.NewRegistry()
	verrs := append(compiler.Validate(prog), checkCommands(prog, reg)...)
	if len(verrs) > 0 {
		return outputValidationErrors(formatter, path, verrs)
	}
	hash, err := ir.ProgramHash(prog)
	if err != nil {
		return commandError(formatter, ErrCodeGeneric, err)
	}

	exitWhenIdle := cfg.Interp.ExitWhenIdle
	if cmd.Flags().Changed("exit-when-idle") {
		exitWhenIdle = opts.ExitWhenIdle
	}

	var (
		out     io.Writer = cmd.OutOrStdout()
		jsonOut bytes.Buffer
	)
	if formatter.Format == "json" {
		out = &jsonOut
	}

	clock := engine.NewClock()
	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithOutput(out),
		engine.WithLimits(cfg.Limits),
		engine.WithClock(clock),
		engine.WithExitWhenIdle(exitWhenIdle),
	}
	if opts.RunID != "" {
		engineOpts = append(engineOpts, engine.WithRunID(opts.RunID))
	} else if opts.RunIDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithRunIDGenerator(opts.RunIDGenerator))
	}

	var (
		st  *store.Store
		rec *store.Recorder
	)
	if db := cfg.Trace.Database; db != "" {
		logger.Debug("opening trace database", "path", db)
		st, err = store.Open(db)
		if err != nil {
			return commandError(formatter, ErrCodeDatabase, err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing trace database", "error", closeErr)
			}
		}()
		rec = store.NewRecorder(st, cfg.Trace.BatchSize)
		engineOpts = append(engineOpts, engine.WithTracer(rec))
	}

	in, err := engine.New(prog, reg, engineOpts...)
	if err != nil {
		return commandError(formatter, runErrorCode(err), err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	if st != nil {
		run := store.Run{ID: in.RunID(), Program: prog.Name, ProgramHash: hash, StartedSeq: clock.Current()}
		if err := st.BeginRun(parentCtx, run); err != nil {
			return commandError(formatter, ErrCodeDatabase, err)
		}
	}

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := in.Run(ctx)
	code := in.ExitCode()

	result := RunResult{
		RunID:       in.RunID(),
		Program:     prog.Name,
		ProgramHash: hash,
		ExitCode:    code,
		Output:      jsonOut.String(),
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	if st != nil {
		// The run context may be cancelled by now; the record still has
		// to land.
		finishCtx := context.WithoutCancel(parentCtx)
		if err := rec.Flush(finishCtx); err != nil {
			logger.Error("recording transitions failed", "error", err)
		}
		if err := st.FinishRun(finishCtx, in.RunID(), code, runErr); err != nil {
			logger.Error("recording run result failed", "error", err)
		}
		result.Transitions = rec.Written()
	}

	return outputRunResult(formatter, result, runErr)
}

func outputRunResult(formatter *OutputFormatter, result RunResult, runErr error) error {
	if formatter.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result, RunID: result.RunID}
		if runErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: runErrorCode(runErr), Message: runErr.Error()}
		}
		if err := writeJSON(formatter.Writer, resp); err != nil {
			return err
		}
	} else {
		if runErr != nil {
			_ = formatter.Error(runErrorCode(runErr), runErr.Error(), nil)
		}
		formatter.VerboseLog("run %s exited with code %d", result.RunID, result.ExitCode)
		if result.Transitions > 0 {
			formatter.VerboseLog("recorded %d transitions", result.Transitions)
		}
	}

	if result.ExitCode != ExitSuccess {
		return NewExitError(result.ExitCode, "")
	}
	return nil
}

func runErrorCode(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "INTERRUPTED"
	}
	if code := engine.ErrorCode(err); code != "" {
		return string(code)
	}
	return ErrCodeGeneric
}
