package params

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned once the queue's Run loop has stopped.
var ErrQueueClosed = errors.New("parameters queue closed")

// Queue serialises mutations of a Parameters onto the goroutine running Run.
type Queue struct {
	p    *Parameters
	ops  chan func(*Parameters)
	done chan struct{}
	once sync.Once
}

// NewQueue returns a queue owning p. Run must be started for posted
// functions to execute.
func NewQueue(p *Parameters) *Queue {
	return &Queue{
		p:    p,
		ops:  make(chan func(*Parameters), 64),
		done: make(chan struct{}),
	}
}

// Run executes posted functions in order until ctx ends.
func (q *Queue) Run(ctx context.Context) {
	defer q.once.Do(func() { close(q.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-q.ops:
			fn(q.p)
		}
	}
}

// Post schedules fn without waiting for it. It reports false when the queue
// no longer runs.
func (q *Queue) Post(fn func(*Parameters)) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ops <- fn:
		return true
	case <-q.done:
		return false
	}
}

// Do runs fn on the owning goroutine and waits for it to finish.
func (q *Queue) Do(ctx context.Context, fn func(*Parameters)) error {
	finished := make(chan struct{})
	if !q.Post(func(p *Parameters) {
		defer close(finished)
		fn(p)
	}) {
		return ErrQueueClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrQueueClosed
		}
	}
}
