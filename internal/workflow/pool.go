package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/WatchBeam/clock"

	"ytauto/internal/logging"
	"ytauto/internal/queue"
	"ytauto/internal/services"
)

// Producer drives a job through a line's stages. *pipeline.Pipeline
// implements it.
type Producer interface {
	LineID() string
	Stages() []string
	Produce(ctx context.Context, job *queue.Job) error
}

// Resolver maps a line id to its producer.
type Resolver func(lineID string) (Producer, bool)

// PoolOptions configures a WorkerPool.
type PoolOptions struct {
	Concurrency int
	Clock       clock.Clock
	Logger      *slog.Logger
	Sink        Sink
}

type activeJob struct {
	job    *queue.Job
	cancel context.CancelFunc
}

// WorkerPool runs a fixed set of executors over a queue.
type WorkerPool struct {
	queue       *queue.Queue
	resolve     Resolver
	concurrency int
	clock       clock.Clock
	logger      *slog.Logger
	sink        Sink

	mu          sync.Mutex
	running     bool
	active      map[string]activeJob
	doomed      map[string]struct{}
	stopDequeue context.CancelFunc
	stopRun     context.CancelFunc
	wg          sync.WaitGroup
}

// NewWorkerPool builds a pool. Concurrency below one is raised to one.
func NewWorkerPool(q *queue.Queue, resolve Resolver, opts PoolOptions) *WorkerPool {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.C
	}
	return &WorkerPool{
		queue:       q,
		resolve:     resolve,
		concurrency: concurrency,
		clock:       clk,
		logger:      logging.NewComponentLogger(opts.Logger, "worker-pool"),
		sink:        opts.Sink,
		active:      make(map[string]activeJob),
		doomed:      make(map[string]struct{}),
	}
}

// Concurrency reports the number of executors.
func (p *WorkerPool) Concurrency() int { return p.concurrency }

// Start launches the executors. Cancelling ctx cancels in-flight jobs the
// same way a forced stop does.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}
	if p.queue == nil || p.resolve == nil {
		return errors.New("worker pool requires a queue and a resolver")
	}
	runCtx, stopRun := context.WithCancel(ctx)
	dequeueCtx, stopDequeue := context.WithCancel(runCtx)
	p.stopRun = stopRun
	p.stopDequeue = stopDequeue
	p.running = true

	p.wg.Add(p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		go p.work(runCtx, dequeueCtx, i)
	}
	p.logger.Info("worker pool started",
		logging.String(logging.FieldEventType, "pool_started"),
		logging.Int("concurrency", p.concurrency),
	)
	return nil
}

// Stop ends dequeuing and waits for every executor to exit. A graceful stop
// lets in-flight jobs finish; a forced stop cancels them. Either way no job
// this pool started is Running once Stop returns.
func (p *WorkerPool) Stop(force bool) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.running = false
	stopDequeue, stopRun := p.stopDequeue, p.stopRun
	inFlight := len(p.active)
	p.mu.Unlock()

	p.logger.Info("worker pool stopping",
		logging.String(logging.FieldEventType, "pool_stopping"),
		logging.Bool("force", force),
		logging.Int("in_flight", inFlight),
	)
	stopDequeue()
	if force {
		stopRun()
	}
	p.wg.Wait()
	stopRun()
	p.mu.Lock()
	clear(p.doomed)
	p.mu.Unlock()
	p.logger.Info("worker pool stopped", logging.String(logging.FieldEventType, "pool_stopped"))
}

// CancelAll cancels every in-flight job and returns how many there were. A
// graceful Stop blocked on those jobs returns once they unwind.
func (p *WorkerPool) CancelAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.active {
		a.cancel()
	}
	if p.stopRun != nil {
		p.stopRun()
	}
	return len(p.active)
}

// Cancel cancels job if it is in flight. A job that has been dequeued but
// not yet registered is cancelled as soon as its executor picks it up;
// finished jobs and a stopped pool leave nothing behind. It reports whether
// job was in flight.
func (p *WorkerPool) Cancel(job *queue.Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.active[job.ID()]; ok {
		a.cancel()
		return true
	}
	if p.running && !job.State().Terminal() {
		p.doomed[job.ID()] = struct{}{}
	}
	return false
}

// Active returns snapshots of in-flight jobs, oldest first.
func (p *WorkerPool) Active() []queue.Record {
	p.mu.Lock()
	jobs := make([]*queue.Job, 0, len(p.active))
	for _, a := range p.active {
		jobs = append(jobs, a.job)
	}
	p.mu.Unlock()

	out := make([]queue.Record, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

// ActiveCount reports the number of in-flight jobs.
func (p *WorkerPool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *WorkerPool) work(runCtx, dequeueCtx context.Context, worker int) {
	defer p.wg.Done()
	logger := p.logger.With(logging.Int("worker", worker))
	for {
		// Dequeue hands out queued jobs even on a cancelled context.
		if dequeueCtx.Err() != nil {
			return
		}
		job, err := p.queue.Dequeue(dequeueCtx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && dequeueCtx.Err() == nil {
				logging.ErrorWithContext(logger, "dequeue failed", "dequeue_failed", logging.Error(err))
			}
			return
		}
		p.process(runCtx, logger, job)
	}
}

func (p *WorkerPool) process(runCtx context.Context, logger *slog.Logger, job *queue.Job) {
	if job.State().Terminal() {
		return
	}
	jobCtx, cancel := context.WithCancel(runCtx)
	defer cancel()
	p.register(job, cancel)
	defer p.unregister(job.ID())

	err := p.produce(jobCtx, job)
	if !job.State().Terminal() {
		p.failUnfinished(job, err)
	}
	if err != nil && services.KindOf(err) == services.KindInternal {
		logging.ErrorWithContext(logger, "job failed with internal error", "job_internal_error",
			logging.JobID(job.ID()),
			logging.Line(job.LineID()),
			logging.String(logging.FieldErrorHint, "this is a defect; the worker continues with the next job"),
			logging.Error(err),
		)
	}
	p.record(runCtx, logger, job)
}

// produce recovers a panic escaping the pipeline and reports it as an
// internal error.
func (p *WorkerPool) produce(ctx context.Context, job *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			snap := job.Snapshot()
			err = services.Wrap(services.KindInternal, snap.CurrentStage, "produce",
				fmt.Sprintf("panic: %v", r), fmt.Errorf("%s", debug.Stack()))
		}
	}()
	producer, ok := p.resolve(job.LineID())
	if !ok {
		return services.Errorf(services.KindConfiguration, "no pipeline for line %q", job.LineID())
	}
	return producer.Produce(ctx, job)
}

func (p *WorkerPool) failUnfinished(job *queue.Job, err error) {
	now := p.clock.Now()
	if job.State() == queue.StatePending {
		_ = job.Start(now)
	}
	if err == nil {
		err = services.New(services.KindInternal, "pipeline returned without finishing the job")
	}
	if services.ClassOf(err) == services.ClassCancelled {
		_ = job.Cancel(now)
		return
	}
	_ = job.Fail(now, err)
}

func (p *WorkerPool) record(runCtx context.Context, logger *slog.Logger, job *queue.Job) {
	if p.sink == nil {
		return
	}
	snap := job.Snapshot()
	if err := p.sink.RecordJobResult(context.WithoutCancel(runCtx), snap); err != nil {
		logging.WarnWithContext(logger, "result sink failed", "sink_failed",
			logging.JobID(snap.ID),
			logging.Line(snap.LineID),
			logging.String("state", string(snap.State)),
			logging.String(logging.FieldImpact, "job outcome may be missing from history or notifications"),
			logging.Error(err),
		)
	}
}

func (p *WorkerPool) register(job *queue.Job, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[job.ID()] = activeJob{job: job, cancel: cancel}
	if _, ok := p.doomed[job.ID()]; ok {
		delete(p.doomed, job.ID())
		cancel()
	}
}

func (p *WorkerPool) unregister(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, id)
}
