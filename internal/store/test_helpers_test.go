package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/ncd/internal/engine"
)

// createTestStore creates a new store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// beginTestRun inserts a run with minimal fields.
func beginTestRun(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.BeginRun(context.Background(), Run{ID: id, Program: "test.cue", ProgramHash: "hash-" + id})
	if err != nil {
		t.Fatalf("BeginRun(%q) failed: %v", id, err)
	}
}

// ev builds a statement-level trace event.
func ev(runID string, seq int64, process string, stmt int, kind engine.TraceKind) engine.TraceEvent {
	return engine.TraceEvent{
		Seq:       seq,
		RunID:     runID,
		PID:       1,
		Process:   process,
		Statement: stmt,
		Cmd:       "probe",
		Kind:      kind,
	}
}
