package workflow

import (
	"context"
	"testing"
	"time"

	"ytauto/internal/queue"
)

func doomedCount(p *WorkerPool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.doomed)
}

func TestPoolCancelLeavesNoStaleEntries(t *testing.T) {
	q := queue.New(queue.Options{})
	pool := NewWorkerPool(q, func(string) (Producer, bool) { return nil, false }, PoolOptions{Concurrency: 1})

	if pool.Cancel(queue.NewJob("facts")) {
		t.Fatal("stopped pool reported a job in flight")
	}
	if n := doomedCount(pool); n != 0 {
		t.Fatalf("stopped pool kept %d cancellations", n)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	finished := queue.NewJob("facts")
	now := time.Now()
	if err := finished.Start(now); err != nil {
		t.Fatalf("Start job: %v", err)
	}
	if err := finished.Succeed(now, "done"); err != nil {
		t.Fatalf("Succeed: %v", err)
	}
	pool.Cancel(finished)
	if n := doomedCount(pool); n != 0 {
		t.Fatalf("finished job left %d cancellations", n)
	}

	pool.Cancel(queue.NewJob("facts"))
	if n := doomedCount(pool); n != 1 {
		t.Fatalf("expected pending cancellation to be held, got %d", n)
	}
	pool.Stop(false)
	if n := doomedCount(pool); n != 0 {
		t.Fatalf("Stop kept %d cancellations", n)
	}
}
