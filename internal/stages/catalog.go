package stages

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WatchBeam/clock"

	"ytauto/internal/capability"
	"ytauto/internal/config"
	"ytauto/internal/fallback"
	"ytauto/internal/logging"
	"ytauto/internal/pipeline"
	"ytauto/internal/providers"
	"ytauto/internal/retry"
	"ytauto/internal/scheduler"
	"ytauto/internal/services"
	"ytauto/internal/workflow"
)

const titleLookupTimeout = 5 * time.Second

// TitleSource reports the titles a line has already published, newest first.
type TitleSource interface {
	RecentTitles(ctx context.Context, lineID string, limit int) ([]string, error)
}

// Options carries the runtime collaborators shared by every pipeline.
type Options struct {
	Clock    clock.Clock
	Logger   *slog.Logger
	Observer pipeline.Observer
	// Titles feeds the script title novelty check. Nil disables it.
	Titles TitleSource
}

// BuildLines assembles one orchestrator line per configured line. Schedule
// rules that do not parse, stages ordered before their inputs and chains that
// name providers lacking the capability are all ConfigurationErrors. In
// dry-run mode every chain is replaced by the simulator.
func BuildLines(cfg *config.Config, reg *providers.Registry, opts Options) ([]workflow.Line, error) {
	if cfg == nil || reg == nil {
		return nil, services.New(services.KindConfiguration, "stages: config and provider registry are required")
	}
	logger := logging.NewComponentLogger(opts.Logger, "stages")
	lines := make([]workflow.Line, 0, len(cfg.Lines))
	for _, lc := range cfg.Lines {
		line, err := buildLine(cfg, reg, lc, opts)
		if err != nil {
			return nil, err
		}
		logger.Debug("line pipeline built",
			logging.Line(lc.ID),
			logging.Any("stages", lc.Stages),
			logging.Bool("dry_run", cfg.Orchestrator.DryRun),
		)
		lines = append(lines, line)
	}
	return lines, nil
}

func buildLine(cfg *config.Config, reg *providers.Registry, lc config.Line, opts Options) (workflow.Line, error) {
	if err := checkOrder(lc); err != nil {
		return workflow.Line{}, err
	}
	timeout := time.Duration(cfg.Orchestrator.StageTimeoutSeconds) * time.Second
	specs := make([]pipeline.StageSpec, 0, len(lc.Stages))
	for _, stage := range lc.Stages {
		build, ok := builders[capability.Name(stage)]
		if !ok {
			return workflow.Line{}, services.Errorf(services.KindConfiguration, "line %q: unknown stage %q", lc.ID, stage)
		}
		names := lc.Providers[stage]
		if cfg.Orchestrator.DryRun {
			names = []string{reg.Simulator()}
		}
		spec, err := build(reg, names, lc, opts)
		if err != nil {
			return workflow.Line{}, services.Annotate(err, func(e *services.Error) {
				e.Stage = stage
				e.Message = fmt.Sprintf("line %q: %s", lc.ID, e.Message)
			})
		}
		spec.Chain = fallback.Chain{Stage: stage, Providers: names, Policy: Policy(cfg.StagePolicy(stage))}
		spec.Timeout = timeout
		specs = append(specs, spec)
	}

	p, err := pipeline.New(lc.ID, Brief(lc), specs, pipeline.Options{
		Clock:    opts.Clock,
		Logger:   opts.Logger,
		Observer: opts.Observer,
		WorkRoot: cfg.Paths.OutputDir,
	})
	if err != nil {
		return workflow.Line{}, err
	}
	rules, err := Rules(lc)
	if err != nil {
		return workflow.Line{}, err
	}
	return workflow.Line{
		Pipeline:       p,
		Priority:       lc.Priority,
		Rules:          rules,
		SchedulePaused: lc.SchedulePaused,
	}, nil
}

// Rules parses a line's schedule expressions.
func Rules(lc config.Line) ([]scheduler.Rule, error) {
	rules := make([]scheduler.Rule, 0, len(lc.Schedule))
	for _, expr := range lc.Schedule {
		rule, err := scheduler.ParseRule(expr)
		if err != nil {
			return nil, services.Wrap(services.KindConfiguration, "", "parse schedule",
				fmt.Sprintf("line %q: schedule %q", lc.ID, expr), err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Brief derives the capability brief from line settings.
func Brief(lc config.Line) capability.Brief {
	return capability.Brief{
		LineID:         lc.ID,
		DisplayName:    lc.DisplayName,
		Topics:         append([]string(nil), lc.Topics...),
		BannedTopics:   append([]string(nil), lc.BannedTopics...),
		Style:          lc.Style,
		VoiceID:        lc.VoiceID,
		ThumbnailStyle: lc.ThumbnailStyle,
		Tags:           append([]string(nil), lc.Tags...),
		TargetDuration: time.Duration(lc.TargetMinutes * float64(time.Minute)),
		MinWords:       lc.Script.MinWords,
		MaxWords:       lc.Script.MaxWords,
	}
}

// Policy converts a configured retry policy.
func Policy(rp config.RetryPolicy) retry.Policy {
	kinds := make([]services.Kind, 0, len(rp.Retryable))
	for _, k := range rp.Retryable {
		kinds = append(kinds, services.Kind(k))
	}
	return retry.Policy{
		MaxAttempts: rp.MaxAttempts,
		BaseDelay:   seconds(rp.BaseDelaySeconds),
		Multiplier:  rp.Multiplier,
		MaxDelay:    seconds(rp.MaxDelaySeconds),
		Retryable:   kinds,
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func checkOrder(lc config.Line) error {
	seen := make(map[capability.Name]bool, len(lc.Stages))
	for _, stage := range lc.Stages {
		name := capability.Name(stage)
		for _, dep := range requires[name] {
			if !seen[dep] {
				return services.Errorf(services.KindConfiguration,
					"line %q: stage %q needs %q to run before it", lc.ID, stage, dep)
			}
		}
		seen[name] = true
	}
	return nil
}
