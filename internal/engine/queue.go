package engine

import "sync"

// eventQueue is the reactor's inbox: a thread-safe FIFO of callbacks posted
// from other goroutines (timers, I/O, signal handlers). The reactor drains
// it between job-queue passes, so every callback runs on the reactor
// goroutine.
//
// The queue is unbounded; Post never blocks. A buffered signal channel of
// size 1 lets the Run loop wait for work together with ctx.Done().
type eventQueue struct {
	mu     sync.Mutex
	events []func()
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]func(), 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds fn to the back of the queue. Returns false if the queue is
// closed. Safe from any goroutine.
func (q *eventQueue) Enqueue(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, fn)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front callback without blocking.
func (q *eventQueue) TryDequeue() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil, false
	}
	fn := q.events[0]
	// Drop the reference so the closure can be collected.
	q.events[0] = nil
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return fn, true
}

// Wait returns a channel that signals when callbacks may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further callbacks and wakes any waiter.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
