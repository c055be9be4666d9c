package queue

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ytauto/internal/services"
)

// State represents the lifecycle of a job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no transition can leave s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// ParseState normalizes user input into a State.
func ParseState(value string) (State, bool) {
	s := State(strings.ToLower(strings.TrimSpace(value)))
	switch s {
	case StatePending, StateRunning, StateSucceeded, StateFailed, StateCancelled:
		return s, true
	default:
		return "", false
	}
}

// Trigger records what created a job.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerSchedule Trigger = "schedule"
)

// ErrInvalidTransition is returned when a transition would break the
// Pending -> Running -> terminal ordering.
var ErrInvalidTransition = errors.New("invalid job transition")

// StopReason is the failure message recorded for jobs drained at shutdown.
const StopReason = "orchestrator stopped before the job started"

// Failure describes why a job failed.
type Failure struct {
	Stage   string         `json:"stage"`
	Kind    services.Kind  `json:"kind"`
	Class   services.Class `json:"class"`
	Message string         `json:"message"`
	Issues  []string       `json:"issues,omitempty"`
}

// Record is an immutable snapshot of a job.
type Record struct {
	ID           string            `json:"id"`
	LineID       string            `json:"line_id"`
	Priority     int               `json:"priority"`
	Trigger      Trigger           `json:"trigger"`
	State        State             `json:"state"`
	CurrentStage string            `json:"current_stage,omitempty"`
	Attempts     map[string]int    `json:"attempts,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
	Error        *Failure          `json:"error,omitempty"`
	Result       string            `json:"result,omitempty"`
	Artifacts    map[string]string `json:"artifacts,omitempty"`
}

// Duration returns run time, or zero when the job has not finished.
func (r Record) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

func (r Record) clone() Record {
	out := r
	out.Attempts = maps.Clone(r.Attempts)
	out.Artifacts = maps.Clone(r.Artifacts)
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	if r.Error != nil {
		f := *r.Error
		f.Issues = slices.Clone(r.Error.Issues)
		out.Error = &f
	}
	return out
}

// Job is one production run of one line. Transitions are serialized by the
// job's own lock; only the worker executing the job drives them, apart from
// cancellation of a job that never started.
type Job struct {
	mu   sync.Mutex
	rec  Record
	done chan struct{}
}

// Option customizes a new job.
type Option func(*Record)

// WithPriority sets the scheduling priority. Higher runs first.
func WithPriority(p int) Option {
	return func(r *Record) { r.Priority = p }
}

// WithTrigger records what created the job.
func WithTrigger(t Trigger) Option {
	return func(r *Record) { r.Trigger = t }
}

// WithCreatedAt overrides the creation timestamp.
func WithCreatedAt(at time.Time) Option {
	return func(r *Record) { r.CreatedAt = at }
}

// WithID overrides the generated identifier.
func WithID(id string) Option {
	return func(r *Record) {
		if id != "" {
			r.ID = id
		}
	}
}

// NewJob creates a Pending job for lineID.
func NewJob(lineID string, opts ...Option) *Job {
	rec := Record{
		ID:        uuid.NewString(),
		LineID:    lineID,
		Trigger:   TriggerManual,
		State:     StatePending,
		CreatedAt: time.Now().UTC(),
		Attempts:  map[string]int{},
		Artifacts: map[string]string{},
	}
	for _, opt := range opts {
		opt(&rec)
	}
	return &Job{rec: rec, done: make(chan struct{})}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.rec.ID }

// LineID returns the content line the job produces for.
func (j *Job) LineID() string { return j.rec.LineID }

// Priority returns the scheduling priority.
func (j *Job) Priority() int { return j.rec.Priority }

// Snapshot returns a deep copy of the current record.
func (j *Job) Snapshot() Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec.clone()
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec.State
}

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Start moves a Pending job to Running.
func (j *Job) Start(now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rec.State != StatePending {
		return j.invalid(StateRunning)
	}
	j.rec.State = StateRunning
	at := now.UTC()
	j.rec.StartedAt = &at
	return nil
}

// EnterStage records the stage now executing.
func (j *Job) EnterStage(stage string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rec.State != StateRunning {
		return fmt.Errorf("%w: enter stage %q while %s", ErrInvalidTransition, stage, j.rec.State)
	}
	j.rec.CurrentStage = stage
	return nil
}

// AddAttempts adds n attempts to the stage counter.
func (j *Job) AddAttempts(stage string, n int) {
	if n <= 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rec.State.Terminal() {
		return
	}
	j.rec.Attempts[stage] += n
}

// RecordArtifact stores the reference produced by a completed stage.
func (j *Job) RecordArtifact(stage, ref string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rec.State.Terminal() {
		return
	}
	j.rec.Artifacts[stage] = ref
}

// Succeed finishes a Running job with its result reference.
func (j *Job) Succeed(now time.Time, result string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rec.State != StateRunning {
		return j.invalid(StateSucceeded)
	}
	j.rec.Result = result
	j.finish(StateSucceeded, now)
	return nil
}

// Fail finishes a Running job. The failure names the stage from err, falling
// back to the current stage.
func (j *Job) Fail(now time.Time, err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rec.State != StateRunning {
		return j.invalid(StateFailed)
	}
	d := services.Describe(err)
	if d.Kind == "" {
		d = services.Describe(services.New(services.KindInternal, "job failed without an error"))
	}
	stage := d.Stage
	if stage == "" {
		stage = j.rec.CurrentStage
	}
	j.rec.Error = &Failure{
		Stage:   stage,
		Kind:    d.Kind,
		Class:   d.Class,
		Message: failureMessage(d),
		Issues:  d.Issues,
	}
	j.finish(StateFailed, now)
	return nil
}

// Cancel finishes a Pending or Running job as Cancelled.
func (j *Job) Cancel(now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rec.State.Terminal() {
		return j.invalid(StateCancelled)
	}
	j.finish(StateCancelled, now)
	return nil
}

func (j *Job) finish(state State, now time.Time) {
	j.rec.State = state
	at := now.UTC()
	j.rec.FinishedAt = &at
	close(j.done)
}

func (j *Job) invalid(to State) error {
	return fmt.Errorf("%w: %s -> %s for job %s", ErrInvalidTransition, j.rec.State, to, j.rec.ID)
}

func failureMessage(d services.Details) string {
	parts := make([]string, 0, 3)
	if d.Provider != "" {
		parts = append(parts, d.Provider)
	}
	if d.Message != "" {
		parts = append(parts, d.Message)
	}
	if d.Cause != "" && d.Cause != d.Message {
		parts = append(parts, d.Cause)
	}
	return strings.Join(parts, ": ")
}
