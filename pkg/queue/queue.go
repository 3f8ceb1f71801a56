package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/freestream/pkg/alert"
)

const DefaultCapacity = 50

var (
	ErrFull   = errors.New("queue: full")
	ErrClosed = errors.New("queue: closed")
)

type Stats struct {
	Enqueued int64 `json:"enqueued"`
	Dropped  int64 `json:"dropped"`
	Dequeued int64 `json:"dequeued"`
	Cleared  int64 `json:"cleared"`
}

// Queue is a bounded FIFO of alert jobs with any number of producers and a
// single consumer. Enqueue never blocks; a full queue rejects the new job.
type Queue struct {
	mu       sync.Mutex
	items    []alert.Job
	capacity int
	closed   bool
	stats    Stats
	onChange func()

	notify chan struct{}
	done   chan struct{}
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:    make([]alert.Job, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Enqueue appends job or returns ErrFull / ErrClosed without waiting.
func (q *Queue) Enqueue(job alert.Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if len(q.items) >= q.capacity {
		q.stats.Dropped++
		q.mu.Unlock()
		return ErrFull
	}
	q.items = append(q.items, job)
	q.stats.Enqueued++
	changed := q.onChange
	q.mu.Unlock()
	q.wake()
	if changed != nil {
		changed()
	}
	return nil
}

// OnChange registers fn to run after every enqueue, dequeue and non-empty
// clear. fn runs on the caller's goroutine without the queue lock held.
func (q *Queue) OnChange(fn func()) {
	q.mu.Lock()
	q.onChange = fn
	q.mu.Unlock()
}

// Dequeue waits for the oldest job. It returns ErrClosed once the queue is
// closed, or the context error.
func (q *Queue) Dequeue(ctx context.Context) (alert.Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return alert.Job{}, ErrClosed
		}
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = alert.Job{}
			q.items = q.items[1:]
			q.stats.Dequeued++
			more := len(q.items) > 0
			changed := q.onChange
			q.mu.Unlock()
			if more {
				q.wake()
			}
			if changed != nil {
				changed()
			}
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.done:
			return alert.Job{}, ErrClosed
		case <-ctx.Done():
			return alert.Job{}, ctx.Err()
		}
	}
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Clear removes every waiting job and returns them oldest first.
func (q *Queue) Clear() []alert.Job {
	q.mu.Lock()
	out := append([]alert.Job(nil), q.items...)
	q.items = make([]alert.Job, 0, q.capacity)
	q.stats.Cleared += int64(len(out))
	changed := q.onChange
	q.mu.Unlock()
	if changed != nil && len(out) > 0 {
		changed()
	}
	return out
}

// Snapshot copies the waiting jobs, oldest first.
func (q *Queue) Snapshot() []alert.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]alert.Job(nil), q.items...)
}

// Close wakes the consumer and rejects further jobs. Waiting jobs stay
// available to Clear.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Cap() int { return q.capacity }

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}
