package testsupport

import (
	"context"
	"testing"
	"time"

	"ytauto/internal/capability"
	"ytauto/internal/fallback"
	"ytauto/internal/pipeline"
	"ytauto/internal/retry"
)

// FastPolicy retries with millisecond delays.
func FastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: 5 * time.Millisecond}
}

// ScriptedFunc answers one provider call with an artifact reference.
type ScriptedFunc func(ctx context.Context, provider string) (string, error)

// Stage builds a stage over providers whose calls are answered by fn. The
// artifact value and reference are the returned string.
func Stage(name string, providers []string, fn ScriptedFunc) pipeline.StageSpec {
	spec := pipeline.Step(name, func(ctx context.Context, provider string, _ *pipeline.Production) (string, string, error) {
		ref, err := fn(ctx, provider)
		if err != nil {
			return "", "", err
		}
		return ref, ref, nil
	}, nil)
	spec.Chain = fallback.Chain{Providers: providers, Policy: FastPolicy(2)}
	return spec
}

// Succeed is a ScriptedFunc that returns ref.
func Succeed(ref string) ScriptedFunc {
	return func(context.Context, string) (string, error) { return ref, nil }
}

// Block is a ScriptedFunc that signals started, then waits for release or
// for ctx to end.
func Block(started chan<- string, release <-chan struct{}) ScriptedFunc {
	return func(ctx context.Context, provider string) (string, error) {
		if started != nil {
			started <- provider
		}
		select {
		case <-release:
			return "released", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// MustPipeline builds a pipeline for line or fails the test.
func MustPipeline(t testing.TB, line string, stages ...pipeline.StageSpec) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(line, capability.Brief{LineID: line}, stages, pipeline.Options{})
	if err != nil {
		t.Fatalf("pipeline.New(%s): %v", line, err)
	}
	return p
}
