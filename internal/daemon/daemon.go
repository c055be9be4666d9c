package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"ytauto/internal/config"
	"ytauto/internal/history"
	"ytauto/internal/logging"
	"ytauto/internal/metrics"
	"ytauto/internal/notifications"
	"ytauto/internal/preflight"
	"ytauto/internal/queue"
	"ytauto/internal/workflow"
)

// ErrAlreadyRunning is returned by Start when the orchestrator is running or
// another process holds the lock.
var ErrAlreadyRunning = errors.New("daemon already running")

// Deps bundles the collaborators assembled by the runtime.
type Deps struct {
	Orchestrator *workflow.Orchestrator
	History      *history.Store
	Notifier     notifications.Service
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Daemon coordinates the orchestrator lifecycle and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	orch     *workflow.Orchestrator
	history  *history.Store
	notifier notifications.Service
	metrics  *metrics.Metrics

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt atomic.Pointer[time.Time]

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	DryRun       bool               `json:"dry_run"`
	LockPath     string             `json:"lock_path"`
	HistoryPath  string             `json:"history_path,omitempty"`
	Orchestrator workflow.Status    `json:"orchestrator"`
	Preflight    []preflight.Result `json:"preflight,omitempty"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Deps) (*Daemon, error) {
	if cfg == nil || deps.Orchestrator == nil {
		return nil, errors.New("daemon requires config and orchestrator")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(&config.Config{})
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		orch:     deps.Orchestrator,
		history:  deps.History,
		notifier: notifier,
		metrics:  deps.Metrics,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		shutdown: make(chan struct{}),
	}, nil
}

// Start acquires the daemon lock and starts the orchestrator.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return ErrAlreadyRunning
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another ytauto daemon instance is already running: %w", ErrAlreadyRunning)
	}

	for _, r := range preflight.Failed(preflight.RunAll(ctx, d.cfg, preflight.Options{})) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, "jobs that need this check may fail"),
		)
	}

	if err := d.orch.Start(context.WithoutCancel(ctx)); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start orchestrator: %w", err)
	}
	if d.metrics != nil {
		d.metrics.Track(d.orch)
	}

	now := time.Now()
	d.startedAt.Store(&now)
	d.running.Store(true)
	d.logger.Info("ytauto daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Bool("dry_run", d.cfg.Orchestrator.DryRun),
	)
	return nil
}

// Stop stops the orchestrator and releases the daemon lock. A graceful stop
// waits for in-flight jobs until ctx ends; force cancels them at once.
func (d *Daemon) Stop(ctx context.Context, force bool) {
	if !d.running.Load() {
		return
	}

	d.orch.Stop(ctx, force)
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.startedAt.Store(nil)
	d.logger.Info("ytauto daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
		logging.Bool("force", force),
	)
}

// RequestShutdown asks the hosting process to exit. The runtime stops the
// daemon as part of its own teardown.
func (d *Daemon) RequestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdown) })
}

// ShutdownRequested is closed once RequestShutdown has been called.
func (d *Daemon) ShutdownRequested() <-chan struct{} {
	return d.shutdown
}

// Close stops the daemon and releases the history store.
func (d *Daemon) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.Stop(ctx, false)
	if d.history != nil {
		return d.history.Close()
	}
	return nil
}

// Running reports whether the orchestrator is running under this daemon.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Enqueue adds a manual job for the line.
func (d *Daemon) Enqueue(ctx context.Context, lineID string) (string, error) {
	id, err := d.orch.Enqueue(ctx, strings.TrimSpace(lineID))
	if err != nil {
		return "", err
	}
	d.logger.Info("job queued",
		logging.String(logging.FieldEventType, "job_queued"),
		logging.JobID(id),
		logging.Line(lineID),
	)
	return id, nil
}

// Run enqueues a job and waits for it to finish or for timeout.
func (d *Daemon) Run(ctx context.Context, lineID string, timeout time.Duration) (queue.Record, error) {
	return d.orch.RunOnce(ctx, strings.TrimSpace(lineID), timeout)
}

// RunAll runs one job per unpaused line, sharing timeout, and sends a run
// summary notification.
func (d *Daemon) RunAll(ctx context.Context, timeout time.Duration) ([]queue.Record, error) {
	started := time.Now()
	recs, err := d.orch.RunAll(ctx, timeout)
	if err != nil {
		return recs, err
	}
	if nerr := d.notifier.NotifyRunSummary(context.WithoutCancel(ctx), recs, time.Since(started)); nerr != nil {
		d.logger.Warn("run summary notification failed", logging.Error(nerr))
	}
	return recs, nil
}

// Cancel cancels a queued or running job.
func (d *Daemon) Cancel(ctx context.Context, id string) error {
	return d.orch.Cancel(ctx, strings.TrimSpace(id))
}

// Job looks up a live or archived job.
func (d *Daemon) Job(ctx context.Context, id string) (queue.Record, error) {
	return d.orch.Job(ctx, strings.TrimSpace(id))
}

// Jobs lists recent jobs, newest first. Jobs still held in memory are merged
// with the history store when one is configured.
func (d *Daemon) Jobs(ctx context.Context, lineID string, limit int) ([]queue.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	lineID = strings.ToLower(strings.TrimSpace(lineID))

	var out []queue.Record
	seen := make(map[string]struct{})
	for _, rec := range d.orch.RecentJobs(0) {
		if lineID != "" && !strings.EqualFold(rec.LineID, lineID) {
			continue
		}
		out = append(out, rec)
		seen[rec.ID] = struct{}{}
	}
	if d.history != nil {
		archived, err := d.history.Recent(ctx, history.Filter{LineID: lineID, Limit: limit})
		if err != nil {
			return nil, fmt.Errorf("list job history: %w", err)
		}
		for _, rec := range archived {
			if _, dup := seen[rec.ID]; !dup {
				out = append(out, rec)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b queue.Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetSchedule pauses or resumes a line's schedule.
func (d *Daemon) SetSchedule(lineID string, enabled bool) error {
	if err := d.orch.SetScheduleEnabled(strings.TrimSpace(lineID), enabled); err != nil {
		return err
	}
	d.logger.Info("line schedule updated",
		logging.String(logging.FieldEventType, "schedule_updated"),
		logging.Line(lineID),
		logging.Bool("enabled", enabled),
	)
	return nil
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Metrics returns the metrics registry, or nil when metrics are disabled.
func (d *Daemon) Metrics() *metrics.Metrics {
	return d.metrics
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    d.startedAt.Load(),
		DryRun:       d.cfg.Orchestrator.DryRun,
		LockPath:     d.lockPath,
		Orchestrator: d.orch.Status(),
		Preflight:    preflight.RunAll(ctx, d.cfg, preflight.Options{}),
	}
	if d.history != nil {
		st.HistoryPath = d.history.Path()
	}
	return st
}
