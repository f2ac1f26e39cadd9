package store

import (
	"context"
	"fmt"

	"github.com/roach88/ncd/internal/engine"
)

// Run is one interpreter run.
type Run struct {
	ID          string `json:"id"`
	Program     string `json:"program"`
	ProgramHash string `json:"program_hash"`
	StartedSeq  int64  `json:"started_seq"`
	Finished    bool   `json:"finished"`
	ExitCode    int    `json:"exit_code"`
	Error       string `json:"error,omitempty"`
}

// BeginRun inserts a run record. Uses ON CONFLICT(id) DO NOTHING so a
// retried begin is harmless.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, program, program_hash, started_seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Program,
		run.ProgramHash,
		run.StartedSeq,
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun records how a run ended. runErr may be nil.
func (s *Store) FinishRun(ctx context.Context, runID string, exitCode int, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished = 1, exit_code = ?, error = ?
		WHERE id = ?
	`, exitCode, msg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %q: %w", runID, ErrRunNotFound)
	}
	return nil
}

// WriteTransitions inserts trace events in one transaction. Events already
// stored under the same (run_id, seq) are skipped.
//
// Note: the run each event references must exist (foreign key constraint).
func (s *Store) WriteTransitions(ctx context.Context, events []engine.TraceEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write transitions: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transitions
		(run_id, seq, pid, process, statement, cmd, kind, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write transitions: prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		_, err := stmt.ExecContext(ctx,
			ev.RunID,
			ev.Seq,
			ev.PID,
			ev.Process,
			ev.Statement,
			ev.Cmd,
			string(ev.Kind),
			ev.Detail,
		)
		if err != nil {
			return fmt.Errorf("write transitions: seq %d: %w", ev.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write transitions: commit: %w", err)
	}
	return nil
}
