package job

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recorder(log *[]string, name string) func() {
	return func() { *log = append(*log, name) }
}

func TestQueue_MostRecentFirst(t *testing.T) {
	q := New()
	var log []string

	a := q.NewJob("a", recorder(&log, "a"))
	b := q.NewJob("b", recorder(&log, "b"))
	c := q.NewJob("c", recorder(&log, "c"))

	a.Schedule()
	b.Schedule()
	c.Schedule()
	require.Equal(t, 3, q.Len())

	assert.Equal(t, 3, q.Drain())
	assert.Equal(t, []string{"c", "b", "a"}, log)
	assert.True(t, q.Empty())
}

func TestQueue_RescheduleMovesToHead(t *testing.T) {
	q := New()
	var log []string

	a := q.NewJob("a", recorder(&log, "a"))
	b := q.NewJob("b", recorder(&log, "b"))

	a.Schedule()
	b.Schedule()
	a.Schedule() // reorder, not duplicate

	assert.Equal(t, 2, q.Len())
	q.Drain()
	assert.Equal(t, []string{"a", "b"}, log)
}

func TestQueue_JobScheduledByJobRunsBeforeOlderJobs(t *testing.T) {
	q := New()
	var log []string

	older := q.NewJob("older", recorder(&log, "older"))
	child := q.NewJob("child", recorder(&log, "child"))
	parent := q.NewJob("parent", func() {
		log = append(log, "parent")
		child.Schedule()
	})

	older.Schedule()
	parent.Schedule()
	q.Drain()

	assert.Equal(t, []string{"parent", "child", "older"}, log)
}

func TestQueue_FlagClearedBeforeCallback(t *testing.T) {
	q := New()
	runs := 0
	var self *Job
	self = q.NewJob("self", func() {
		assert.False(t, self.IsScheduled())
		runs++
		if runs < 3 {
			self.Schedule()
		}
	})

	self.Schedule()
	q.Drain()
	assert.Equal(t, 3, runs)
}

func TestQueue_Cancel(t *testing.T) {
	q := New()
	var log []string

	a := q.NewJob("a", recorder(&log, "a"))
	b := q.NewJob("b", recorder(&log, "b"))

	a.Cancel() // not scheduled: no-op
	a.Schedule()
	b.Schedule()
	a.Cancel()

	assert.False(t, a.IsScheduled())
	assert.True(t, b.IsScheduled())
	q.Drain()
	assert.Equal(t, []string{"b"}, log)
}

func TestQueue_FreedJobPanics(t *testing.T) {
	q := New()
	j := q.NewJob("gone", func() {})
	j.Schedule()
	j.Free()

	assert.True(t, q.Empty(), "free must cancel a pending job")
	assert.Panics(t, func() { j.Schedule() })
	assert.Panics(t, func() { j.IsScheduled() })
}

func TestQueue_RunOneEmpty(t *testing.T) {
	q := New()
	assert.False(t, q.RunOne())
}

// The pending set after any sequence of schedule/cancel/run equals the jobs
// whose latest operation was schedule and which have not run since.
func TestQueue_PendingSetProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		q := New()
		const n = 8
		jobs := make([]*Job, n)
		want := make(map[int]bool)
		for i := 0; i < n; i++ {
			i := i
			jobs[i] = q.NewJob("j", func() { delete(want, i) })
		}

		for step := 0; step < 200; step++ {
			i := rng.Intn(n)
			switch rng.Intn(3) {
			case 0:
				jobs[i].Schedule()
				want[i] = true
			case 1:
				jobs[i].Cancel()
				delete(want, i)
			case 2:
				q.RunOne()
			}
		}

		require.Equal(t, len(want), q.Len())
		for i, j := range jobs {
			assert.Equal(t, want[i], j.IsScheduled(), "job %d", i)
		}
	}
}
