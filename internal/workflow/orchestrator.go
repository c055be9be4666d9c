package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/WatchBeam/clock"

	"ytauto/internal/logging"
	"ytauto/internal/queue"
	"ytauto/internal/scheduler"
	"ytauto/internal/services"
)

var (
	// ErrNotRunning is returned by operations that need a started orchestrator.
	ErrNotRunning = errors.New("orchestrator not running")
	// ErrJobNotFound is returned when no live or archived job has the id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job already finished")
)

// DuplicatePolicy decides what a scheduled enqueue does when the line already
// has an unstarted job.
type DuplicatePolicy string

const (
	// DuplicateAllow enqueues every fire.
	DuplicateAllow DuplicatePolicy = "allow"
	// DuplicateSkipPending drops a scheduled fire while the line has a queued
	// job. Manual enqueues are never skipped.
	DuplicateSkipPending DuplicatePolicy = "skip_pending"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

const (
	defaultRunOnceTimeout = time.Hour
	defaultRetainJobs     = 200
)

// Line is one content line the orchestrator can produce.
type Line struct {
	Pipeline       Producer
	Priority       int
	Rules          []scheduler.Rule
	SchedulePaused bool
}

// Archive looks up jobs that are no longer held in memory.
type Archive interface {
	Get(ctx context.Context, id string) (*queue.Record, error)
}

// Options configures an Orchestrator.
type Options struct {
	Concurrency     int
	QueueCapacity   int
	QueueFull       queue.FullPolicy
	DuplicatePolicy DuplicatePolicy
	RunOnceTimeout  time.Duration
	SchedulerPoll   time.Duration
	Location        *time.Location
	Clock           clock.Clock
	Logger          *slog.Logger
	Sinks           []Sink
	Archive         Archive
	// RetainJobs bounds how many finished jobs stay queryable in memory.
	RetainJobs int
}

// LineStats counts terminal outcomes per line since the process started.
type LineStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

type lineState struct {
	Line
	id    string
	stats LineStats
}

// Orchestrator owns the queue, the worker pool, and the scheduler.
type Orchestrator struct {
	opts   Options
	clock  clock.Clock
	logger *slog.Logger
	sinks  Sinks

	mu       sync.RWMutex
	state    State
	lines    map[string]*lineState
	order    []string
	queue    *queue.Queue
	pool     *WorkerPool
	sched    *scheduler.Scheduler
	jobs     map[string]*queue.Job
	finished []string
}

// New validates lines and builds a stopped orchestrator. Duplicate or empty
// line ids and unknown duplicate policies are configuration errors.
func New(lines []Line, opts Options) (*Orchestrator, error) {
	if len(lines) == 0 {
		return nil, services.Errorf(services.KindConfiguration, "no content lines configured")
	}
	switch opts.DuplicatePolicy {
	case "":
		opts.DuplicatePolicy = DuplicateAllow
	case DuplicateAllow, DuplicateSkipPending:
	default:
		return nil, services.Errorf(services.KindConfiguration, "unknown duplicate policy %q", opts.DuplicatePolicy)
	}
	if opts.QueueFull == "" {
		opts.QueueFull = queue.FullReject
	}
	if opts.RunOnceTimeout <= 0 {
		opts.RunOnceTimeout = defaultRunOnceTimeout
	}
	if opts.RetainJobs <= 0 {
		opts.RetainJobs = defaultRetainJobs
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.C
	}

	o := &Orchestrator{
		opts:   opts,
		clock:  clk,
		logger: logging.NewComponentLogger(opts.Logger, "orchestrator"),
		sinks:  Sinks(opts.Sinks),
		state:  StateStopped,
		lines:  make(map[string]*lineState, len(lines)),
		jobs:   make(map[string]*queue.Job),
	}
	for _, l := range lines {
		if l.Pipeline == nil {
			return nil, services.Errorf(services.KindConfiguration, "line without pipeline")
		}
		id := strings.TrimSpace(l.Pipeline.LineID())
		if id == "" {
			return nil, services.Errorf(services.KindConfiguration, "line with empty id")
		}
		key := strings.ToLower(id)
		if _, dup := o.lines[key]; dup {
			return nil, services.Errorf(services.KindConfiguration, "duplicate line %q", id)
		}
		l.Rules = append([]scheduler.Rule(nil), l.Rules...)
		o.lines[key] = &lineState{Line: l, id: id}
		o.order = append(o.order, key)
	}
	return o, nil
}

// Start creates the queue, then starts the pool and the scheduler. Calling
// Start on a running orchestrator does nothing.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case StateRunning:
		return nil
	case StateStopping:
		return errors.New("orchestrator is stopping")
	}

	q := queue.New(queue.Options{Capacity: o.opts.QueueCapacity, FullPolicy: o.opts.QueueFull})
	pool := NewWorkerPool(q, o.producer, PoolOptions{
		Concurrency: o.opts.Concurrency,
		Clock:       o.clock,
		Logger:      o.opts.Logger,
		Sink:        SinkFunc(o.recordResult),
	})
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	sched := scheduler.New(o.scheduleEntriesLocked(), o.enqueueScheduled, scheduler.Options{
		Clock:    o.clock,
		Poll:     o.opts.SchedulerPoll,
		Location: o.opts.Location,
		Logger:   o.opts.Logger,
	})
	o.queue, o.pool, o.sched = q, pool, sched
	o.state = StateRunning
	if err := sched.Start(ctx); err != nil {
		o.state = StateStopped
		pool.Stop(true)
		q.Shutdown()
		return fmt.Errorf("start scheduler: %w", err)
	}

	o.logger.Info("orchestrator started",
		logging.String(logging.FieldEventType, "orchestrator_started"),
		logging.Int("lines", len(o.order)),
		logging.Int("concurrency", pool.Concurrency()),
		logging.String("duplicate_policy", string(o.opts.DuplicatePolicy)),
	)
	return nil
}

// Stop halts the scheduler, then the pool, then the queue. Jobs still queued
// are cancelled and recorded. A graceful stop waits for in-flight jobs until
// ctx ends, then cancels them; force cancels them at once. Idempotent.
func (o *Orchestrator) Stop(ctx context.Context, force bool) {
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return
	}
	o.state = StateStopping
	q, pool, sched := o.queue, o.pool, o.sched
	o.mu.Unlock()

	sched.Stop()
	if force {
		pool.Stop(true)
	} else {
		done := make(chan struct{})
		go func() {
			pool.Stop(false)
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			n := pool.CancelAll()
			logging.WarnWithContext(o.logger, "graceful stop timed out, cancelling in-flight jobs", "stop_escalated",
				logging.Int("in_flight", n),
				logging.String(logging.FieldImpact, "running jobs end as cancelled"),
			)
			<-done
		}
	}

	q.Shutdown()
	drained := q.Drain()
	now := o.clock.Now()
	for _, job := range drained {
		if err := job.Cancel(now); err != nil {
			continue
		}
		_ = o.recordResult(context.WithoutCancel(ctx), job.Snapshot())
	}

	o.mu.Lock()
	o.state = StateStopped
	o.mu.Unlock()
	o.logger.Info("orchestrator stopped",
		logging.String(logging.FieldEventType, "orchestrator_stopped"),
		logging.Bool("force", force),
		logging.Int("drained", len(drained)),
	)
}

// State reports the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Lines returns the configured line ids in declaration order.
func (o *Orchestrator) Lines() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.order))
	for _, key := range o.order {
		out = append(out, o.lines[key].id)
	}
	return out
}

func (o *Orchestrator) line(id string) (*lineState, bool) {
	l, ok := o.lines[strings.ToLower(strings.TrimSpace(id))]
	return l, ok
}

func (o *Orchestrator) producer(lineID string) (Producer, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	l, ok := o.line(lineID)
	if !ok {
		return nil, false
	}
	return l.Pipeline, true
}

func (o *Orchestrator) scheduleEntriesLocked() []scheduler.Entry {
	entries := make([]scheduler.Entry, 0, len(o.order))
	for _, key := range o.order {
		l := o.lines[key]
		if len(l.Rules) == 0 {
			continue
		}
		entries = append(entries, scheduler.Entry{LineID: l.id, Rules: l.Rules, Enabled: !l.SchedulePaused})
	}
	return entries
}

// recordResult updates per-line counters, retires the job from the live set,
// and fans the record out to the configured sinks.
func (o *Orchestrator) recordResult(ctx context.Context, rec queue.Record) error {
	o.mu.Lock()
	if l, ok := o.line(rec.LineID); ok {
		l.stats.Total++
		switch rec.State {
		case queue.StateSucceeded:
			l.stats.Succeeded++
		case queue.StateFailed:
			l.stats.Failed++
		case queue.StateCancelled:
			l.stats.Cancelled++
		}
	}
	o.finished = append(o.finished, rec.ID)
	for len(o.finished) > o.opts.RetainJobs {
		delete(o.jobs, o.finished[0])
		o.finished = o.finished[1:]
	}
	o.mu.Unlock()

	if len(o.sinks) == 0 {
		return nil
	}
	if err := o.sinks.RecordJobResult(ctx, rec); err != nil {
		logging.WarnWithContext(o.logger, "result sink failed", "sink_failed",
			logging.JobID(rec.ID),
			logging.Line(rec.LineID),
			logging.String(logging.FieldImpact, "job outcome may be missing from history or notifications"),
			logging.Error(err),
		)
	}
	return nil
}

func sortRecordsNewestFirst(recs []queue.Record) {
	sort.Slice(recs, func(i, k int) bool {
		if recs[i].CreatedAt.Equal(recs[k].CreatedAt) {
			return recs[i].ID > recs[k].ID
		}
		return recs[i].CreatedAt.After(recs[k].CreatedAt)
	})
}
