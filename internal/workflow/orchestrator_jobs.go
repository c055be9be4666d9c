package workflow

import (
	"context"
	"fmt"
	"time"

	"ytauto/internal/logging"
	"ytauto/internal/queue"
	"ytauto/internal/services"
)

// Enqueue creates a Pending job for lineID and queues it. An unknown line is
// a ConfigurationError and leaves the queue untouched; a stopped
// orchestrator returns ErrNotRunning.
func (o *Orchestrator) Enqueue(ctx context.Context, lineID string, opts ...queue.Option) (string, error) {
	job, err := o.enqueue(ctx, lineID, opts...)
	if err != nil {
		return "", err
	}
	return job.ID(), nil
}

func (o *Orchestrator) enqueue(ctx context.Context, lineID string, opts ...queue.Option) (*queue.Job, error) {
	o.mu.Lock()
	l, ok := o.line(lineID)
	if !ok {
		o.mu.Unlock()
		return nil, services.Errorf(services.KindConfiguration, "unknown line %q", lineID)
	}
	if o.state != StateRunning {
		o.mu.Unlock()
		return nil, ErrNotRunning
	}
	base := []queue.Option{
		queue.WithPriority(l.Priority),
		queue.WithCreatedAt(o.clock.Now()),
	}
	job := queue.NewJob(l.id, append(base, opts...)...)
	o.jobs[job.ID()] = job
	q := o.queue
	o.mu.Unlock()

	if err := q.Enqueue(ctx, job); err != nil {
		o.mu.Lock()
		delete(o.jobs, job.ID())
		o.mu.Unlock()
		return nil, fmt.Errorf("enqueue %s: %w", l.id, err)
	}
	snap := job.Snapshot()
	o.logger.Info("job enqueued",
		logging.String(logging.FieldEventType, "job_enqueued"),
		logging.JobID(snap.ID),
		logging.Line(snap.LineID),
		logging.String("trigger", string(snap.Trigger)),
		logging.Int("priority", snap.Priority),
		logging.Int("queue_size", q.Len()),
	)
	return job, nil
}

// enqueueScheduled is the scheduler callback.
func (o *Orchestrator) enqueueScheduled(ctx context.Context, lineID string) error {
	if o.opts.DuplicatePolicy == DuplicateSkipPending {
		o.mu.RLock()
		q := o.queue
		o.mu.RUnlock()
		if q != nil {
			if n := q.Pending(lineID); n > 0 {
				o.logger.Info("scheduled run skipped, line already has a queued job",
					logging.String(logging.FieldEventType, "schedule_skipped"),
					logging.Line(lineID),
					logging.Int("pending", n),
				)
				return nil
			}
		}
	}
	_, err := o.Enqueue(ctx, lineID, queue.WithTrigger(queue.TriggerSchedule))
	return err
}

// RunOnce enqueues a job for lineID and waits until it ends or timeout
// elapses. On timeout the current snapshot is returned and the job keeps
// running. A timeout of zero uses the configured default.
func (o *Orchestrator) RunOnce(ctx context.Context, lineID string, timeout time.Duration) (queue.Record, error) {
	job, err := o.enqueue(ctx, lineID)
	if err != nil {
		return queue.Record{}, err
	}
	if timeout <= 0 {
		timeout = o.opts.RunOnceTimeout
	}
	o.await(ctx, o.clock.After(timeout), job)
	return job.Snapshot(), nil
}

// RunAll enqueues one job for every line whose schedule is not paused and
// waits for all of them, sharing one timeout.
func (o *Orchestrator) RunAll(ctx context.Context, timeout time.Duration) ([]queue.Record, error) {
	o.mu.RLock()
	ids := make([]string, 0, len(o.order))
	for _, key := range o.order {
		if l := o.lines[key]; !l.SchedulePaused {
			ids = append(ids, l.id)
		}
	}
	o.mu.RUnlock()

	jobs := make([]*queue.Job, 0, len(ids))
	for _, id := range ids {
		job, err := o.enqueue(ctx, id)
		if err != nil {
			return snapshots(jobs), err
		}
		jobs = append(jobs, job)
	}
	if timeout <= 0 {
		timeout = o.opts.RunOnceTimeout
	}
	deadline := o.clock.After(timeout)
	for _, job := range jobs {
		if !o.await(ctx, deadline, job) {
			break
		}
	}
	return snapshots(jobs), nil
}

// await reports whether job finished before the deadline or ctx fired.
func (o *Orchestrator) await(ctx context.Context, deadline <-chan time.Time, job *queue.Job) bool {
	select {
	case <-job.Done():
		return true
	case <-deadline:
		return false
	case <-ctx.Done():
		return false
	}
}

func snapshots(jobs []*queue.Job) []queue.Record {
	out := make([]queue.Record, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	return out
}

// Job returns the record for id, consulting the archive for jobs no longer
// held in memory.
func (o *Orchestrator) Job(ctx context.Context, id string) (queue.Record, error) {
	o.mu.RLock()
	job, ok := o.jobs[id]
	o.mu.RUnlock()
	if ok {
		return job.Snapshot(), nil
	}
	if o.opts.Archive != nil {
		rec, err := o.opts.Archive.Get(ctx, id)
		if err != nil {
			return queue.Record{}, fmt.Errorf("archive lookup: %w", err)
		}
		if rec != nil {
			return *rec, nil
		}
	}
	return queue.Record{}, ErrJobNotFound
}

// RecentJobs lists jobs held in memory, newest first. limit <= 0 returns all.
func (o *Orchestrator) RecentJobs(limit int) []queue.Record {
	o.mu.RLock()
	out := make([]queue.Record, 0, len(o.jobs))
	for _, job := range o.jobs {
		out = append(out, job.Snapshot())
	}
	o.mu.RUnlock()
	sortRecordsNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Cancel ends job id. A queued job is removed and recorded as Cancelled at
// once; an in-flight job is cancelled cooperatively and its worker records
// the outcome.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	o.mu.RLock()
	job, ok := o.jobs[id]
	q, pool := o.queue, o.pool
	o.mu.RUnlock()
	if !ok {
		return ErrJobNotFound
	}
	if job.State().Terminal() {
		return ErrJobFinished
	}
	if q != nil {
		if removed, ok := q.Remove(id); ok {
			if err := removed.Cancel(o.clock.Now()); err != nil {
				return ErrJobFinished
			}
			o.logger.Info("queued job cancelled",
				logging.String(logging.FieldEventType, "job_cancelled"),
				logging.JobID(id),
				logging.Line(removed.LineID()),
			)
			return o.recordResult(context.WithoutCancel(ctx), removed.Snapshot())
		}
	}
	if pool != nil {
		pool.Cancel(job)
	}
	o.logger.Info("cancellation requested for running job",
		logging.String(logging.FieldEventType, "job_cancel_requested"),
		logging.JobID(id),
		logging.Line(job.LineID()),
	)
	return nil
}
