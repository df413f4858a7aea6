package timeline

import (
	"context"
	"sync"
	"time"
)

// mutationTimeout bounds how long one queued write may run.
const mutationTimeout = 10 * time.Second

// mutationQueue is a single-consumer work queue for fire-and-forget
// writes. One worker drains it in submission order, so per-entity
// ordering holds by construction instead of caller discipline.
type mutationQueue struct {
	work chan func(context.Context)

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newMutationQueue(depth int) *mutationQueue {
	q := &mutationQueue{
		work: make(chan func(context.Context), depth),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *mutationQueue) run() {
	defer close(q.done)
	for fn := range q.work {
		ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
		fn(ctx)
		cancel()
	}
}

// enqueue submits a write. It blocks when the queue is full; after
// Close it drops the write. The send happens under the lock so Close
// cannot close the channel out from under a pending send.
func (q *mutationQueue) enqueue(fn func(context.Context)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.work <- fn
}

// Close stops accepting work and waits for queued writes to finish.
func (q *mutationQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.work)
	q.mu.Unlock()
	<-q.done
}
