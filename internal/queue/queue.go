package queue

import (
	"container/heap"
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrQueueFull is returned by Enqueue when capacity is reached under the
	// reject policy.
	ErrQueueFull = errors.New("queue full")
	// ErrClosed is returned once the queue is shut down (and, for Dequeue,
	// drained).
	ErrClosed = errors.New("queue closed")
)

// FullPolicy selects what Enqueue does when the queue is at capacity.
type FullPolicy string

const (
	FullReject FullPolicy = "reject"
	FullBlock  FullPolicy = "block"
)

// Options configures a Queue. Capacity <= 0 means unbounded.
type Options struct {
	Capacity   int
	FullPolicy FullPolicy
}

type entry struct {
	job *Job
	seq uint64
}

type jobHeap []entry

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, k int) bool {
	if h[i].job.Priority() != h[k].job.Priority() {
		return h[i].job.Priority() > h[k].job.Priority()
	}
	return h[i].seq < h[k].seq
}

func (h jobHeap) Swap(i, k int) { h[i], h[k] = h[k], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}

// Queue is a bounded priority FIFO of pending jobs. Equal priorities leave in
// enqueue order.
type Queue struct {
	mu       sync.Mutex
	items    jobHeap
	seq      uint64
	capacity int
	policy   FullPolicy
	closed   bool
	changed  chan struct{}
}

// New constructs an empty queue.
func New(opts Options) *Queue {
	policy := opts.FullPolicy
	if policy == "" {
		policy = FullReject
	}
	return &Queue{
		capacity: opts.Capacity,
		policy:   policy,
		changed:  make(chan struct{}),
	}
}

// broadcast wakes every waiter. Caller holds q.mu.
func (q *Queue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Enqueue adds job. On a full queue it fails with ErrQueueFull or, under the
// block policy, waits for space or ctx.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.capacity <= 0 || len(q.items) < q.capacity {
			break
		}
		if q.policy != FullBlock {
			q.mu.Unlock()
			return ErrQueueFull
		}
		wait := q.changed
		q.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		q.mu.Lock()
	}
	q.seq++
	heap.Push(&q.items, entry{job: job, seq: q.seq})
	q.broadcast()
	q.mu.Unlock()
	return nil
}

// Dequeue removes the next job, blocking until one is available. After
// Shutdown it keeps returning queued jobs and then ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	q.mu.Lock()
	for len(q.items) == 0 {
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		wait := q.changed
		q.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		q.mu.Lock()
	}
	e := heap.Pop(&q.items).(entry)
	q.broadcast()
	q.mu.Unlock()
	return e.job, nil
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Shutdown rejects further enqueues and wakes every waiter. Idempotent.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

// Closed reports whether Shutdown was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drain removes and returns every queued job in dequeue order.
func (q *Queue) Drain() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, 0, len(q.items))
	for len(q.items) > 0 {
		out = append(out, heap.Pop(&q.items).(entry).job)
	}
	q.broadcast()
	return out
}

// Remove takes the job with id out of the queue.
func (q *Queue) Remove(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.items {
		if e.job.ID() == id {
			heap.Remove(&q.items, i)
			q.broadcast()
			return e.job, true
		}
	}
	return nil, false
}

// Find returns the queued job with id.
func (q *Queue) Find(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.items {
		if e.job.ID() == id {
			return e.job, true
		}
	}
	return nil, false
}

// Pending counts queued jobs for lineID.
func (q *Queue) Pending(lineID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, e := range q.items {
		if strings.EqualFold(e.job.LineID(), lineID) {
			count++
		}
	}
	return count
}

// Snapshot returns records of queued jobs in dequeue order.
func (q *Queue) Snapshot() []Record {
	q.mu.Lock()
	ordered := make(jobHeap, len(q.items))
	copy(ordered, q.items)
	q.mu.Unlock()

	out := make([]Record, 0, len(ordered))
	for ordered.Len() > 0 {
		out = append(out, heap.Pop(&ordered).(entry).job.Snapshot())
	}
	return out
}
