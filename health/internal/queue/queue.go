// Package queue runs jobs one at a time, in submission order, on a single
// goroutine. The health client uses it as its main context for permission
// flows and authorization state updates.
package queue

import (
	"context"
	"sync"
)

type Job struct {
	Run    func(ctx context.Context) error
	OnFail func(error)
}

type Queue struct {
	jobs chan Job

	mu      sync.Mutex
	closed  bool
	started bool
	done    chan struct{}
}

func NewQueue(size int) *Queue {
	return &Queue{
		jobs: make(chan Job, size),
		done: make(chan struct{}),
	}
}

// Enqueue adds a job without blocking; it reports false when the queue is
// full or stopped.
func (q *Queue) Enqueue(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// Start launches the runner. Jobs see ctx; cancelling it makes pending jobs
// observe a cancelled context but they are still drained.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	go func() {
		defer close(q.done)
		for job := range q.jobs {
			if err := job.Run(ctx); err != nil {
				if job.OnFail != nil {
					job.OnFail(err)
				}
			}
		}
	}()
}

// Stop refuses further jobs and waits for the queued ones to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	started := q.started
	q.mu.Unlock()

	if started {
		<-q.done
	}
}
