package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/WatchBeam/clock"

	"ytauto/internal/capability"
	"ytauto/internal/fallback"
	"ytauto/internal/logging"
	"ytauto/internal/queue"
	"ytauto/internal/retry"
	"ytauto/internal/services"
)

// Output is what one successful provider invocation yields.
type Output struct {
	Value any
	// Ref is the artifact reference recorded on the job (a path, URL, or id).
	Ref string
}

// Invoke runs one provider for a stage. ctx is detached from job
// cancellation; it only carries values and the optional stage timeout.
type Invoke func(ctx context.Context, provider string, prod *Production) (Output, error)

// Gate inspects a stage output. A false result fails the job with a
// ValidationError listing issues.
type Gate func(value any) (ok bool, issues []string)

// StageSpec is one ordered stage of a line's pipeline.
type StageSpec struct {
	Name     string
	Chain    fallback.Chain
	Invoke   Invoke
	Validate Gate
	// Timeout bounds a single invocation. Zero disables it.
	Timeout time.Duration
}

// Step builds a StageSpec from typed invoke and validation functions.
func Step[T any](name string, invoke func(ctx context.Context, provider string, prod *Production) (T, string, error), validate func(T) (bool, []string)) StageSpec {
	spec := StageSpec{
		Name: name,
		Invoke: func(ctx context.Context, provider string, prod *Production) (Output, error) {
			value, ref, err := invoke(ctx, provider, prod)
			if err != nil {
				return Output{}, err
			}
			return Output{Value: value, Ref: ref}, nil
		},
	}
	if validate != nil {
		spec.Validate = func(value any) (bool, []string) {
			typed, ok := value.(T)
			if !ok {
				return false, []string{fmt.Sprintf("unexpected output type %T", value)}
			}
			return validate(typed)
		}
	}
	return spec
}

// Observer receives stage outcomes. Implementations must not block.
type Observer interface {
	StageCompleted(line, stage, provider string, attempts int, elapsed time.Duration, err error)
	StageRetried(line, stage, provider string, err error)
}

// Options configures a Pipeline.
type Options struct {
	Clock    clock.Clock
	Logger   *slog.Logger
	Observer Observer
	// WorkRoot is the parent of per-job working directories.
	WorkRoot string
}

// Pipeline is the fixed, ordered stage list of one line.
type Pipeline struct {
	lineID   string
	brief    capability.Brief
	stages   []StageSpec
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer
	workRoot string
}

// New validates and freezes the stage list. A pipeline without stages, or
// with a stage that has no providers or no invoke function, is a
// ConfigurationError.
func New(lineID string, brief capability.Brief, stages []StageSpec, opts Options) (*Pipeline, error) {
	lineID = strings.TrimSpace(lineID)
	if len(stages) == 0 {
		return nil, services.Errorf(services.KindConfiguration, "line %q: pipeline has no stages", lineID)
	}
	frozen := make([]StageSpec, len(stages))
	seen := make(map[string]struct{}, len(stages))
	for i, s := range stages {
		if strings.TrimSpace(s.Name) == "" {
			return nil, services.Errorf(services.KindConfiguration, "line %q: stage %d has no name", lineID, i)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, services.Errorf(services.KindConfiguration, "line %q: duplicate stage %q", lineID, s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Invoke == nil {
			return nil, services.Errorf(services.KindConfiguration, "line %q: stage %q has no invoke function", lineID, s.Name)
		}
		if len(s.Chain.Providers) == 0 {
			return nil, services.Errorf(services.KindConfiguration, "line %q: stage %q has no providers", lineID, s.Name)
		}
		s.Chain.Stage = s.Name
		s.Chain.Providers = append([]string(nil), s.Chain.Providers...)
		frozen[i] = s
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.C
	}
	brief.LineID = lineID
	return &Pipeline{
		lineID:   lineID,
		brief:    brief,
		stages:   frozen,
		clock:    clk,
		logger:   logging.NewComponentLogger(opts.Logger, "pipeline"),
		observer: opts.Observer,
		workRoot: opts.WorkRoot,
	}, nil
}

// LineID returns the line this pipeline produces for.
func (p *Pipeline) LineID() string { return p.lineID }

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Brief returns the line parameters handed to every capability.
func (p *Pipeline) Brief() capability.Brief { return p.brief }

// Produce drives job from Pending to a terminal state. Stages run strictly in
// order; the first irrecoverable failure fails the job at that stage and no
// later stage runs. Cancellation of ctx is observed at stage boundaries and
// while a provider is in flight; the job becomes Cancelled and any late
// provider result is discarded. The returned error is the failure recorded
// on the job, or nil on success.
func (p *Pipeline) Produce(ctx context.Context, job *queue.Job) error {
	if err := job.Start(p.clock.Now()); err != nil {
		return services.Wrap(services.KindInternal, "", "start job", "job is not pending", err)
	}
	ctx = services.WithJobID(ctx, job.ID())
	ctx = services.WithLine(ctx, p.lineID)
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_started"),
		logging.Int("stages", len(p.stages)),
	)

	brief := p.brief
	if p.workRoot != "" {
		brief.WorkDir = filepath.Join(p.workRoot, p.lineID, job.ID())
	}
	prod := NewProduction(brief)

	var result string
	for _, stage := range p.stages {
		if err := job.EnterStage(stage.Name); err != nil {
			return services.Wrap(services.KindInternal, stage.Name, "enter stage", "job left running state", err)
		}
		if err := ctx.Err(); err != nil {
			return p.cancel(logger, job, stage.Name, err)
		}
		sctx := services.WithStage(ctx, stage.Name)
		out, err := p.runStage(sctx, job, stage, prod)
		if err != nil {
			if ctx.Err() != nil || services.ClassOf(err) == services.ClassCancelled {
				return p.cancel(logger, job, stage.Name, err)
			}
			_ = job.Fail(p.clock.Now(), err)
			d := services.Describe(err)
			logging.ErrorWithContext(logger, "job failed", "job_failed",
				logging.Stage(stage.Name),
				logging.String(logging.FieldErrorKind, string(d.Kind)),
				logging.String(logging.FieldErrorHint, hintFor(d.Class)),
				logging.Error(err),
			)
			return err
		}
		result = out.Ref
	}

	if err := job.Succeed(p.clock.Now(), result); err != nil {
		return services.Wrap(services.KindInternal, "", "finish job", "job left running state", err)
	}
	snap := job.Snapshot()
	logger.Info("job succeeded",
		logging.String(logging.FieldEventType, "job_succeeded"),
		logging.String("result", result),
		logging.Duration("elapsed", snap.Duration()),
	)
	return nil
}

func (p *Pipeline) cancel(logger *slog.Logger, job *queue.Job, stage string, cause error) error {
	_ = job.Cancel(p.clock.Now())
	logger.Info("job cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"),
		logging.Stage(stage),
	)
	if services.KindOf(cause) == services.KindCancelled {
		return cause
	}
	return services.Wrap(services.KindCancelled, stage, "produce", "job cancelled", cause)
}

func (p *Pipeline) runStage(ctx context.Context, job *queue.Job, stage StageSpec, prod *Production) (Output, error) {
	logger := logging.WithContext(ctx, p.logger)
	started := p.clock.Now()

	chain := stage.Chain
	configured := chain.Policy.OnRetry
	chain.Policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		provider := services.Describe(err).Provider
		logging.WarnWithContext(logger, "stage attempt failed, retrying", "stage_retry",
			logging.Provider(provider),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Duration("delay", delay),
			logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
			logging.String(logging.FieldImpact, "stage delayed"),
			logging.Error(err),
		)
		if p.observer != nil {
			p.observer.StageRetried(p.lineID, stage.Name, provider, err)
		}
		if configured != nil {
			configured(attempt, err, delay)
		}
	}

	out, outcome, err := fallback.Execute(ctx, chain, func(_ int, provider string) retry.Operation[Output] {
		return func(actx context.Context, _ int) (Output, error) {
			return p.invoke(actx, stage, provider, prod)
		}
	})
	job.AddAttempts(stage.Name, outcome.TotalAttempts())

	if err == nil && stage.Validate != nil {
		if ok, issues := stage.Validate(out.Value); !ok {
			err = services.Annotate(services.Validation(stage.Name, issues), func(e *services.Error) {
				e.Provider = outcome.Provider
				e.Attempts = outcome.TotalAttempts()
			})
		}
	}
	if p.observer != nil {
		p.observer.StageCompleted(p.lineID, stage.Name, outcome.Provider, outcome.TotalAttempts(), p.clock.Now().Sub(started), err)
	}
	if err != nil {
		return Output{}, err
	}

	prod.Set(stage.Name, out.Value)
	job.RecordArtifact(stage.Name, out.Ref)
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_completed"),
		logging.Provider(outcome.Provider),
		logging.Int("attempts", outcome.TotalAttempts()),
		logging.String("artifact", out.Ref),
	)
	return out, nil
}

type invokeResult struct {
	out Output
	err error
}

// invoke runs the provider on a context detached from cancellation so an
// in-flight call is never killed; when ctx ends first the result is dropped.
func (p *Pipeline) invoke(ctx context.Context, stage StageSpec, provider string, prod *Production) (Output, error) {
	ictx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if stage.Timeout > 0 {
		ictx, cancel = context.WithTimeout(ictx, stage.Timeout)
	}

	ch := make(chan invokeResult, 1)
	go func() {
		defer cancel()
		var res invokeResult
		defer func() {
			if r := recover(); r != nil {
				res = invokeResult{err: services.Wrap(services.KindInternal, stage.Name, "invoke",
					fmt.Sprintf("provider panicked: %v", r), fmt.Errorf("%s", debug.Stack()))}
			}
			ch <- res
		}()
		out, err := stage.Invoke(ictx, provider, prod)
		if err != nil && stage.Timeout > 0 && errors.Is(ictx.Err(), context.DeadlineExceeded) {
			err = services.Wrap(services.KindProviderUnavailable, stage.Name, "invoke",
				fmt.Sprintf("timed out after %s", stage.Timeout), err)
		}
		res = invokeResult{out: out, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return Output{}, services.Annotate(res.err, func(e *services.Error) {
				if e.Stage == "" {
					e.Stage = stage.Name
				}
				if e.Provider == "" {
					e.Provider = provider
				}
			})
		}
		return res.out, nil
	case <-ctx.Done():
		return Output{}, &services.Error{
			Kind:     services.KindCancelled,
			Stage:    stage.Name,
			Provider: provider,
			Message:  "cancelled while provider call was in flight",
			Err:      ctx.Err(),
		}
	}
}

func hintFor(class services.Class) string {
	switch class {
	case services.ClassTransient:
		return "provider kept failing; check quotas and availability, then re-run the line"
	case services.ClassPermanent:
		return "provider rejected the request; review line settings and provider logs"
	case services.ClassValidation:
		return "stage output failed its validation gate; see issues"
	case services.ClassConfiguration:
		return "fix the configuration and restart"
	default:
		return "unexpected failure; check logs for details"
	}
}
