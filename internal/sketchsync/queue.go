package sketchsync

import (
	"context"
	"sync"
)

// Ticket is a queued sync. It completes when the sync ran, was skipped
// because its context was cancelled before its turn, or the engine closed.
type Ticket struct {
	done   chan struct{}
	report Report
	err    error
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{})}
}

func (t *Ticket) complete(report Report, err error) {
	t.report = report
	t.err = err
	close(t.done)
}

// Done is closed when the sync has finished.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the sync has finished or ctx is done. Cancelling ctx
// stops the wait, not the queued sync.
func (t *Ticket) Wait(ctx context.Context) (Report, error) {
	select {
	case <-t.done:
		return t.report, t.err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

type job struct {
	ctx    context.Context
	name   string
	run    func(ctx context.Context) (Report, error)
	ticket *Ticket
}

// jobQueue is an unbounded FIFO of sync jobs drained by a single consumer,
// so at most one sync is in flight per engine.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []*job
	closed bool
	signal chan struct{} // buffered, size 1
	done   chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]*job, 0, 16),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// enqueue adds j to the back of the queue. It returns false once the queue
// is closed.
func (q *jobQueue) enqueue(j *job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *jobQueue) tryDequeue() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, false
	}
	j := q.jobs[0]
	q.jobs[0] = nil
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// run processes jobs in order until the queue is closed. Jobs still queued
// at close are completed with ErrEngineClosed.
func (q *jobQueue) run() {
	defer close(q.done)
	for {
		if j, ok := q.tryDequeue(); ok {
			q.process(j)
			continue
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		<-q.signal
	}
}

func (q *jobQueue) process(j *job) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		j.ticket.complete(Report{}, ErrEngineClosed)
		return
	}
	if err := j.ctx.Err(); err != nil {
		j.ticket.complete(Report{}, err)
		return
	}
	report, err := j.run(j.ctx)
	j.ticket.complete(report, err)
}

// close stops accepting jobs and waits for the consumer to exit. The job in
// flight finishes first.
func (q *jobQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.signal)
	q.mu.Unlock()
	<-q.done
}

func (q *jobQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
