package workflow

import (
	"context"
	"time"

	"ytauto/internal/queue"
	"ytauto/internal/scheduler"
	"ytauto/internal/services"
)

// LineStatus summarizes one line.
type LineStatus struct {
	ID             string    `json:"id"`
	Stages         []string  `json:"stages"`
	Priority       int       `json:"priority"`
	SchedulePaused bool      `json:"schedule_paused"`
	Schedule       []string  `json:"schedule,omitempty"`
	Pending        int       `json:"pending"`
	Stats          LineStats `json:"stats"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State      State            `json:"state"`
	QueueSize  int              `json:"queue_size"`
	ActiveJobs int              `json:"active_jobs"`
	Active     []queue.Record   `json:"active,omitempty"`
	Queued     []queue.Record   `json:"queued,omitempty"`
	Lines      []LineStatus     `json:"lines"`
	NextFires  []scheduler.Fire `json:"next_fires,omitempty"`
	Timezone   string           `json:"timezone,omitempty"`
	Generated  time.Time        `json:"generated"`
}

// Status reports state, queue depth, in-flight jobs, per-line statistics and
// upcoming scheduled fires.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	st := Status{State: o.state, Generated: o.clock.Now()}
	q, pool, sched := o.queue, o.pool, o.sched
	lines := make([]LineStatus, 0, len(o.order))
	for _, key := range o.order {
		l := o.lines[key]
		ls := LineStatus{
			ID:             l.id,
			Stages:         l.Pipeline.Stages(),
			Priority:       l.Priority,
			SchedulePaused: l.SchedulePaused,
			Stats:          l.stats,
		}
		for _, r := range l.Rules {
			ls.Schedule = append(ls.Schedule, r.String())
		}
		lines = append(lines, ls)
	}
	o.mu.RUnlock()

	if q != nil && st.State != StateStopped {
		st.QueueSize = q.Len()
		st.Queued = q.Snapshot()
		for i := range lines {
			lines[i].Pending = q.Pending(lines[i].ID)
		}
	}
	if pool != nil && st.State != StateStopped {
		st.Active = pool.Active()
		st.ActiveJobs = len(st.Active)
	}
	if sched != nil && st.State == StateRunning {
		st.NextFires = sched.NextFireTimes()
		st.Timezone = sched.Location().String()
	}
	st.Lines = lines
	return st
}

// QueueSize reports queued jobs; zero when stopped.
func (o *Orchestrator) QueueSize() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.queue == nil || o.state == StateStopped {
		return 0
	}
	return o.queue.Len()
}

// ActiveCount reports in-flight jobs; zero when stopped.
func (o *Orchestrator) ActiveCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.pool == nil || o.state == StateStopped {
		return 0
	}
	return o.pool.ActiveCount()
}

// Stats returns per-line outcome counters keyed by line id.
func (o *Orchestrator) Stats() map[string]LineStats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]LineStats, len(o.lines))
	for _, l := range o.lines {
		out[l.id] = l.stats
	}
	return out
}

// SetScheduleEnabled pauses or resumes the schedule of lineID. Manual
// enqueues are unaffected.
func (o *Orchestrator) SetScheduleEnabled(lineID string, enabled bool) error {
	o.mu.Lock()
	l, ok := o.line(lineID)
	if !ok {
		o.mu.Unlock()
		return services.Errorf(services.KindConfiguration, "unknown line %q", lineID)
	}
	l.SchedulePaused = !enabled
	sched := o.sched
	running := o.state == StateRunning
	o.mu.Unlock()

	if sched != nil && running && len(l.Rules) > 0 {
		return sched.SetEnabled(l.id, enabled)
	}
	return nil
}

// TickSchedule evaluates the schedule immediately and returns what fired.
func (o *Orchestrator) TickSchedule(ctx context.Context) ([]scheduler.Fire, error) {
	o.mu.RLock()
	sched := o.sched
	running := o.state == StateRunning
	o.mu.RUnlock()
	if !running || sched == nil {
		return nil, ErrNotRunning
	}
	return sched.Tick(ctx), nil
}
