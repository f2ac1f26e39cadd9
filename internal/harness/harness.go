package harness

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/ncd/internal/compiler"
	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/ir"
	"github.com/roach88/ncd/internal/modules"
	"github.com/roach88/ncd/internal/store"
	"github.com/roach88/ncd/internal/testutil"
)

// Harness runs scenarios. The zero value is ready to use.
type Harness struct {
	// Registry supplies the statements programs may use. Nil means the
	// built-in set from modules.NewRegistry.
	Registry *engine.Registry

	// Logger receives the harness's own progress messages. Programs always
	// log to a discarding logger so their output cannot vary between runs.
	Logger *slog.Logger

	// UpdateGoldens makes RunSuite rewrite each scenario's golden file
	// instead of comparing against it.
	UpdateGoldens bool
}

// Run executes a scenario with the default harness.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	return (&Harness{}).Run(ctx, scenario)
}

// Run executes scenario and evaluates its expectations.
//
// Each run gets a fresh in-memory store. The interpreter records every
// transition into it through a store.Recorder, and Result.Trace is read
// back from the store, so assertions see exactly what `ncd trace` would.
//
// The returned error is reserved for problems with the scenario itself
// (an unloadable program, a store failure). A program that misbehaves
// yields a failing Result.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	logger := h.Logger
	if logger == nil {
		logger = testutil.DiscardLogger()
	}
	reg := h.Registry
	if reg == nil {
		reg = modules.NewRegistry()
	}

	prog, err := loadProgram(scenario)
	if err != nil {
		return nil, err
	}
	hash, err := ir.ProgramHash(prog)
	if err != nil {
		return nil, fmt.Errorf("hash program: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	runID := scenario.RunID
	if runID == "" {
		runID = testutil.DefaultRunID
	}
	if err := st.BeginRun(ctx, store.Run{ID: runID, Program: prog.Name, ProgramHash: hash}); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	rec := store.NewRecorder(st, store.DefaultBatchSize)
	opts := append(testutil.Deterministic(runID, &out, rec), engine.WithExitWhenIdle(true))
	in, err := engine.New(prog, reg, opts...)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, scenario.timeout())
	runErr := in.Run(runCtx)
	timedOut := runCtx.Err() != nil
	cancel()
	logger.Debug("scenario ran", "scenario", scenario.Name, "exit_code", in.ExitCode(), "error", runErr)

	if err := rec.Flush(ctx); err != nil {
		return nil, fmt.Errorf("record trace: %w", err)
	}
	if err := st.FinishRun(ctx, runID, in.ExitCode(), runErr); err != nil {
		return nil, err
	}

	result := NewResult()
	result.RunID = runID
	result.ExitCode = in.ExitCode()
	result.Output = out.String()
	if runErr != nil {
		result.RunError = runErr.Error()
	}
	result.Trace, err = st.ReadTrace(ctx, runID, store.TraceFilter{})
	if err != nil {
		return nil, err
	}

	checkOutcome(result, scenario, runErr, timedOut)
	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions, st) {
		result.AddError(msg)
	}
	return result, nil
}

// checkOutcome compares how the run ended with what the scenario expects.
func checkOutcome(result *Result, scenario *Scenario, runErr error, timedOut bool) {
	if timedOut {
		result.AddError(fmt.Sprintf("run did not finish within %v", scenario.timeout()))
		return
	}
	switch {
	case scenario.Error == "" && runErr != nil:
		result.AddError(fmt.Sprintf("unexpected run error: %v", runErr))
	case scenario.Error != "" && runErr == nil:
		result.AddError(fmt.Sprintf("expected run error %s, run succeeded", scenario.Error))
	case scenario.Error != "" && string(engine.ErrorCode(runErr)) != scenario.Error:
		result.AddError(fmt.Sprintf("expected run error %s, got %v", scenario.Error, runErr))
	}
	if result.ExitCode != scenario.ExitCode {
		result.AddError(fmt.Sprintf("exit code = %d, want %d", result.ExitCode, scenario.ExitCode))
	}
}

func loadProgram(s *Scenario) (*ir.Program, error) {
	var (
		prog *ir.Program
		err  error
	)
	if s.Source != "" {
		prog, err = compiler.LoadProgramString(s.Name+".cue", s.Source)
	} else {
		prog, err = compiler.LoadProgramPath(s.Program)
	}
	if err != nil {
		return nil, fmt.Errorf("scenario %s: load program: %w", s.Name, err)
	}

	if verrs := compiler.Validate(prog); len(verrs) > 0 {
		return nil, fmt.Errorf("scenario %s: invalid program: %w", s.Name, verrs[0])
	}
	return prog, nil
}
