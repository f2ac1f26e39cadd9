package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/ncd/internal/compiler"
	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/ir"
	"github.com/roach88/ncd/internal/modules"
)

func TestRecorder_BatchesAndFlushes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, s, "run-1")

	r := NewRecorder(s, 2)
	r.Trace(ev("run-1", 1, "main", 0, engine.TraceCreate))
	if r.Written() != 0 {
		t.Fatalf("Written() = %d before the batch filled", r.Written())
	}
	r.Trace(ev("run-1", 2, "main", 0, engine.TraceUp))
	if r.Written() != 2 {
		t.Fatalf("Written() = %d after a full batch, want 2", r.Written())
	}
	r.Trace(ev("run-1", 3, "main", 1, engine.TraceCreate))
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if r.Written() != 3 {
		t.Errorf("Written() = %d after flush, want 3", r.Written())
	}
}

func TestRecorder_KeepsFirstError(t *testing.T) {
	s := createTestStore(t)

	r := NewRecorder(s, 1)
	r.Trace(ev("missing-run", 1, "main", 0, engine.TraceCreate))
	r.Trace(ev("missing-run", 2, "main", 0, engine.TraceUp))
	if err := r.Flush(context.Background()); err == nil {
		t.Error("Flush() = nil, want foreign key error")
	}
	if r.Written() != 0 {
		t.Errorf("Written() = %d, want 0", r.Written())
	}
}

func TestRecorder_RecordsInterpreterRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	prog, err := compiler.LoadProgramString("hello.cue", `
		process: main: [
			{name: "x", cmd: "var", args: ["hello"]},
			{cmd: "exit", args: [0]},
		]
	`)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.BeginRun(ctx, Run{ID: "run-1", Program: "hello.cue", ProgramHash: ir.MustProgramHash(prog)}); err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}

	r := NewRecorder(s, 0)
	col := &engine.Collector{}
	in, err := engine.New(prog, modules.NewRegistry(),
		engine.WithRunID("run-1"),
		engine.WithTracer(r),
		engine.WithTracer(col),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithOutput(io.Discard),
	)
	if err != nil {
		t.Fatalf("engine.New() failed: %v", err)
	}
	runErr := in.Run(ctx)
	if runErr != nil {
		t.Fatalf("Run() failed: %v", runErr)
	}
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if err := s.FinishRun(ctx, "run-1", in.ExitCode(), runErr); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	got, err := s.ReadTrace(ctx, "run-1", TraceFilter{})
	if err != nil {
		t.Fatalf("ReadTrace() failed: %v", err)
	}
	if diff := cmp.Diff(col.Events(), got); diff != "" {
		t.Errorf("stored trace differs from live trace (-live +stored):\n%s", diff)
	}

	run, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}
	if !run.Finished || run.ExitCode != 0 {
		t.Errorf("run = %+v, want finished with code 0", run)
	}
}
