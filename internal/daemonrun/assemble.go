package daemonrun

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/WatchBeam/clock"

	"ytauto/internal/config"
	"ytauto/internal/history"
	"ytauto/internal/logging"
	"ytauto/internal/metrics"
	"ytauto/internal/notifications"
	"ytauto/internal/providers"
	"ytauto/internal/queue"
	"ytauto/internal/stages"
	"ytauto/internal/workflow"
)

// Components is the wired production runtime shared by the daemon and the
// in-process CLI run.
type Components struct {
	Orchestrator *workflow.Orchestrator
	History      *history.Store
	Notifier     notifications.Service
	Metrics      *metrics.Metrics
	Providers    *providers.Registry
}

// AssembleOptions tweaks component construction.
type AssembleOptions struct {
	Clock clock.Clock
	// Providers carries provider overrides such as a command runner.
	Providers providers.Options
	// SkipHistory leaves the SQLite store closed.
	SkipHistory bool
}

// Assemble builds providers, line pipelines and the orchestrator, with the
// history store, ntfy and metrics registered as result sinks. The caller owns
// Close on the returned history store.
func Assemble(cfg *config.Config, logger *slog.Logger, opts AssembleOptions) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.C
	}

	providerOpts := opts.Providers
	providerOpts.Clock = clk
	reg, err := providers.Build(cfg, providerOpts)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}

	comps := &Components{
		Notifier:  notifications.NewService(cfg),
		Metrics:   metrics.New(),
		Providers: reg,
	}
	stageOpts := stages.Options{Clock: clk, Logger: logger, Observer: comps.Metrics}
	var archive workflow.Archive
	if !opts.SkipHistory {
		store, err := history.Open(cfg.HistoryPath())
		if err != nil {
			return nil, fmt.Errorf("open job history: %w", err)
		}
		comps.History = store
		archive = store
		stageOpts.Titles = store
	}

	lines, err := stages.BuildLines(cfg, reg, stageOpts)
	if err != nil {
		comps.close()
		return nil, fmt.Errorf("build lines: %w", err)
	}
	sinks := []workflow.Sink{comps.Metrics, comps.Notifier}
	if comps.History != nil {
		sinks = append([]workflow.Sink{comps.History}, sinks...)
	}

	loc, err := time.LoadLocation(cfg.Orchestrator.Timezone)
	if err != nil {
		comps.close()
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	orch, err := workflow.New(lines, workflow.Options{
		Concurrency:     cfg.Orchestrator.Concurrency,
		QueueCapacity:   cfg.Orchestrator.QueueCapacity,
		QueueFull:       queue.FullPolicy(cfg.Orchestrator.QueueFullPolicy),
		DuplicatePolicy: workflow.DuplicatePolicy(cfg.Orchestrator.DuplicatePolicy),
		RunOnceTimeout:  time.Duration(cfg.Orchestrator.RunOnceTimeoutSeconds) * time.Second,
		SchedulerPoll:   time.Duration(cfg.Orchestrator.SchedulerPollSeconds) * time.Second,
		Location:        loc,
		Clock:           clk,
		Logger:          logger,
		Sinks:           sinks,
		Archive:         archive,
	})
	if err != nil {
		comps.close()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	comps.Orchestrator = orch
	comps.Metrics.Track(orch)
	return comps, nil
}

func (c *Components) close() {
	if c.History != nil {
		_ = c.History.Close()
	}
}
