// Package job implements the deferred job queue that sequences every state
// transition inside the interpreter.
//
// A Job is a zero-argument callback plus a scheduled flag. Scheduling a job
// places it at the head of the ready set; the driver always runs the head,
// so the set behaves like a stack: a job scheduled while another job runs is
// eligible before older pending jobs. Rescheduling a pending job moves it to
// the head instead of adding a second entry.
//
// The queue is not safe for concurrent use. It is owned by exactly one
// reactor goroutine; anything arriving from other goroutines goes through the
// engine's event queue first.
package job

import "fmt"

// Queue is the ready set of scheduled jobs.
type Queue struct {
	head *Job
	n    int
}

// Job is a handle for a deferred callback owned by a Queue.
type Job struct {
	q         *Queue
	fn        func()
	prev      *Job
	next      *Job
	scheduled bool
	freed     bool
	name      string
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// NewJob creates an unscheduled job bound to q. The name is only used in
// panic messages.
func (q *Queue) NewJob(name string, fn func()) *Job {
	if fn == nil {
		panic("job: nil callback")
	}
	return &Job{q: q, fn: fn, name: name}
}

// Len returns the number of scheduled jobs.
func (q *Queue) Len() int {
	return q.n
}

// Empty reports whether no job is scheduled.
func (q *Queue) Empty() bool {
	return q.head == nil
}

// RunOne pops the most recently scheduled job and runs it.
// The job's scheduled flag is cleared before the callback runs so the
// callback may schedule itself again. Returns false if the queue was empty.
func (q *Queue) RunOne() bool {
	j := q.head
	if j == nil {
		return false
	}
	q.unlink(j)
	j.fn()
	return true
}

// Drain runs jobs until none is scheduled and returns how many ran.
func (q *Queue) Drain() int {
	ran := 0
	for q.RunOne() {
		ran++
	}
	return ran
}

// Schedule makes j the head of its queue. Already-scheduled jobs are moved,
// never duplicated.
func (j *Job) Schedule() {
	j.check()
	q := j.q
	if j.scheduled {
		if q.head == j {
			return
		}
		q.unlink(j)
	}
	j.next = q.head
	if q.head != nil {
		q.head.prev = j
	}
	q.head = j
	j.scheduled = true
	q.n++
}

// Cancel removes j from the ready set. No-op when j is not scheduled.
func (j *Job) Cancel() {
	j.check()
	if j.scheduled {
		j.q.unlink(j)
	}
}

// IsScheduled reports whether j is pending.
func (j *Job) IsScheduled() bool {
	j.check()
	return j.scheduled
}

// Free cancels j and invalidates the handle. Any later use panics.
func (j *Job) Free() {
	j.check()
	if j.scheduled {
		j.q.unlink(j)
	}
	j.freed = true
	j.fn = nil
}

func (j *Job) check() {
	if j.freed {
		panic(fmt.Sprintf("job: use of freed job %q", j.name))
	}
}

func (q *Queue) unlink(j *Job) {
	if j.prev != nil {
		j.prev.next = j.next
	} else {
		q.head = j.next
	}
	if j.next != nil {
		j.next.prev = j.prev
	}
	j.prev = nil
	j.next = nil
	j.scheduled = false
	q.n--
}
