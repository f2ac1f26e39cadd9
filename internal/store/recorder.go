package store

import (
	"context"
	"sync"

	"github.com/roach88/ncd/internal/engine"
)

// DefaultBatchSize is how many events a Recorder buffers before writing.
const DefaultBatchSize = 256

// Recorder is an engine.Tracer that writes transitions to a Store in
// batches. Trace never blocks on a failed write: the first error is kept
// and returned by Flush.
type Recorder struct {
	store *Store
	batch int

	mu      sync.Mutex
	pending []engine.TraceEvent
	written int
	err     error
}

// NewRecorder returns a recorder writing to s. batch <= 0 uses
// DefaultBatchSize.
func NewRecorder(s *Store, batch int) *Recorder {
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Recorder{store: s, batch: batch}
}

// Trace implements engine.Tracer.
func (r *Recorder) Trace(ev engine.TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, ev)
	if len(r.pending) >= r.batch {
		r.flushLocked(context.Background())
	}
}

// Flush writes every buffered event and returns the first write error seen
// since the recorder was created.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked(ctx)
	return r.err
}

// Written returns how many events reached the store.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

func (r *Recorder) flushLocked(ctx context.Context) {
	if len(r.pending) == 0 || r.err != nil {
		return
	}
	if err := r.store.WriteTransitions(ctx, r.pending); err != nil {
		r.err = err
		return
	}
	r.written += len(r.pending)
	r.pending = r.pending[:0]
}
