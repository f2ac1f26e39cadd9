package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ncd/internal/engine"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// TraceFilter narrows ReadTrace. Zero fields match everything.
type TraceFilter struct {
	Process string
	Kind    engine.TraceKind
}

// ReadTrace returns the transitions of a run in seq order.
//
// Returns an empty slice (not nil) if the run has no transitions.
func (s *Store) ReadTrace(ctx context.Context, runID string, filter TraceFilter) ([]engine.TraceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, pid, process, statement, cmd, kind, detail
		FROM transitions
		WHERE run_id = ?
		  AND (? = '' OR process = ?)
		  AND (? = '' OR kind = ?)
		ORDER BY seq ASC
	`, runID, filter.Process, filter.Process, string(filter.Kind), string(filter.Kind))
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	events := []engine.TraceEvent{}
	for rows.Next() {
		var ev engine.TraceEvent
		var kind string
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.PID, &ev.Process, &ev.Statement, &ev.Cmd, &kind, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		ev.Kind = engine.TraceKind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return events, nil
}

// GetRun returns one run, or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, program, program_hash, started_seq, finished, exit_code, error
		FROM runs
		WHERE id = ?
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run %q: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %q: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns every run ordered by id. UUIDv7 ids make this start
// order.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, program, program_hash, started_seq, finished, exit_code, error
		FROM runs
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the run with the greatest id, or ErrRunNotFound when
// the store is empty.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, program, program_hash, started_seq, finished, exit_code, error
		FROM runs
		ORDER BY id COLLATE BINARY DESC
		LIMIT 1
	`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// CountTransitions returns how many transitions of each kind a run has.
func (s *Store) CountTransitions(ctx context.Context, runID string) (map[engine.TraceKind]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*)
		FROM transitions
		WHERE run_id = ?
		GROUP BY kind
		ORDER BY kind COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("count transitions: %w", err)
	}
	defer rows.Close()

	counts := make(map[engine.TraceKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[engine.TraceKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var finished int
	err := row.Scan(&run.ID, &run.Program, &run.ProgramHash, &run.StartedSeq, &finished, &run.ExitCode, &run.Error)
	if err != nil {
		return Run{}, err
	}
	run.Finished = finished != 0
	return run, nil
}
