package harness

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/ir"
)

// TraceSnapshot is the part of a result that must not change between two
// runs of the same scenario.
type TraceSnapshot struct {
	ScenarioName string
	RunID        string
	ExitCode     int
	Output       string
	Trace        []engine.TraceEvent
}

// NewSnapshot takes the snapshot of a result.
func NewSnapshot(name string, res *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioName: name,
		RunID:        res.RunID,
		ExitCode:     res.ExitCode,
		Output:       res.Output,
		Trace:        res.Trace,
	}
}

// toCanonicalMap converts the snapshot to the shapes ir.MarshalCanonical
// accepts. Empty optional fields are left out.
func (s TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":       ev.Seq,
			"pid":       ev.PID,
			"process":   ev.Process,
			"statement": ev.Statement,
			"kind":      string(ev.Kind),
		}
		if ev.Cmd != "" {
			m["cmd"] = ev.Cmd
		}
		if ev.Detail != "" {
			m["detail"] = ev.Detail
		}
		trace[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"run_id":        s.RunID,
		"exit_code":     s.ExitCode,
		"output":        s.Output,
		"trace":         trace,
	}
}

// Canonical returns the snapshot as canonical JSON.
func (s TraceSnapshot) Canonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// Hash returns the domain-separated hash of the canonical snapshot.
func (s TraceSnapshot) Hash() (string, error) {
	data, err := s.Canonical()
	if err != nil {
		return "", err
	}
	return ir.TraceHash(data), nil
}

// Check runs scenario twice and fails the second result when its snapshot
// differs from the first. It returns the second result.
func (h *Harness) Check(ctx context.Context, scenario *Scenario) (*Result, error) {
	first, err := h.Run(ctx, scenario)
	if err != nil {
		return nil, err
	}
	second, err := h.Run(ctx, scenario)
	if err != nil {
		return nil, err
	}

	a, err := NewSnapshot(scenario.Name, first).Canonical()
	if err != nil {
		return nil, err
	}
	b, err := NewSnapshot(scenario.Name, second).Canonical()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(a, b) {
		second.AddError(fmt.Sprintf("nondeterministic: trace of run 2 differs from run 1 (%d vs %d events)",
			len(second.Trace), len(first.Trace)))
	}
	return second, nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// {dir}/{scenario.Name}.golden. Run tests with -update to regenerate.
func RunWithGolden(t *testing.T, dir string, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	AssertGolden(t, dir, scenario.Name, result)
	return result
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, dir, name string, result *Result) {
	t.Helper()

	data, err := NewSnapshot(name, result).Canonical()
	if err != nil {
		t.Fatalf("snapshot %s: %v", name, err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

// AssertDeterministic runs scenario twice. The first snapshot is written as
// the golden fixture in a temporary directory and the second is asserted
// against it, so any difference shows up as a goldie diff.
func AssertDeterministic(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	dir := t.TempDir()
	g := goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)

	first, err := Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	data, err := NewSnapshot(scenario.Name, first).Canonical()
	if err != nil {
		t.Fatalf("snapshot %s: %v", scenario.Name, err)
	}
	if err := g.Update(t, scenario.Name, data); err != nil {
		t.Fatalf("write golden %s: %v", scenario.Name, err)
	}

	second, err := Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("rerun scenario %s: %v", scenario.Name, err)
	}
	AssertGolden(t, dir, scenario.Name, second)
	return second
}
