package pipeline

import (
	"sync"
	"time"
)

// Job is an item that has left the pending queue and occupies a worker slot
type Job[T any] struct {
	ID        string
	Item      T
	StartedAt time.Time
}

// Queue is a FIFO of pending items plus the set of in-flight jobs taken from it.
// The number of in-flight jobs never exceeds the limit. Safe for concurrent use.
type Queue[T any] struct {
	mu       sync.Mutex
	limit    int
	idOf     func(T) string
	pending  []T
	inFlight map[string]*Job[T]
}

// NewQueue creates a queue admitting at most limit concurrent jobs
func NewQueue[T any](limit int, idOf func(T) string) *Queue[T] {
	if limit <= 0 {
		limit = 1
	}
	return &Queue[T]{
		limit:    limit,
		idOf:     idOf,
		inFlight: make(map[string]*Job[T]),
	}
}

// Push appends an item to the tail of the pending queue
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.pending = append(q.pending, item)
	q.mu.Unlock()
}

// Next moves the head item into the in-flight set if a slot is free
func (q *Queue[T]) Next(now time.Time) (*Job[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.inFlight) >= q.limit || len(q.pending) == 0 {
		return nil, false
	}

	item := q.pending[0]
	var zero T
	q.pending[0] = zero
	q.pending = q.pending[1:]

	job := &Job[T]{ID: q.idOf(item), Item: item, StartedAt: now}
	q.inFlight[job.ID] = job
	return job, true
}

// Done removes a job from the in-flight set, freeing its slot
func (q *Queue[T]) Done(job *Job[T]) {
	q.mu.Lock()
	if current, ok := q.inFlight[job.ID]; ok && current == job {
		delete(q.inFlight, job.ID)
	}
	q.mu.Unlock()
}

// Clear drops every pending item and returns them. In-flight jobs are untouched.
func (q *Queue[T]) Clear() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := q.pending
	q.pending = nil
	return dropped
}

// Counts returns the number of pending and in-flight items
func (q *Queue[T]) Counts() (pending, active int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.inFlight)
}

// Limit returns the concurrency ceiling
func (q *Queue[T]) Limit() int {
	return q.limit
}
