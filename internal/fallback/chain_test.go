package fallback_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ytauto/internal/fallback"
	"ytauto/internal/retry"
	"ytauto/internal/services"
)

func chain(providers ...string) fallback.Chain {
	return fallback.Chain{
		Stage:     "speech",
		Providers: providers,
		Policy:    retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2},
	}
}

func TestExecuteTriesEveryProviderInOrder(t *testing.T) {
	var order []string
	_, outcome, err := fallback.Execute(context.Background(), chain("elevenlabs", "edge", "local"), func(i int, provider string) retry.Operation[string] {
		return func(ctx context.Context, attempt int) (string, error) {
			order = append(order, provider)
			return "", services.New(services.KindProviderUnavailable, provider+" down")
		}
	})
	if err == nil {
		t.Fatal("expected aggregate error")
	}
	want := []string{"elevenlabs", "elevenlabs", "edge", "edge", "local", "local"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("call order mismatch (-want +got):\n%s", diff)
	}
	for _, name := range []string{"elevenlabs", "edge", "local"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("aggregate error missing %q: %v", name, err)
		}
	}
	d := services.Describe(err)
	if len(d.Issues) != 3 || d.Attempts != 6 {
		t.Fatalf("unexpected aggregate details: %+v", d)
	}
	if outcome.Provider != "" || outcome.TotalAttempts() != 6 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient class, got %v", err)
	}
}

func TestExecuteStopsAtFirstSuccess(t *testing.T) {
	var calls atomic.Int32
	value, outcome, err := fallback.Execute(context.Background(), chain("a", "b", "c"), func(i int, provider string) retry.Operation[int] {
		return func(ctx context.Context, attempt int) (int, error) {
			calls.Add(1)
			if provider == "a" {
				return 0, services.New(services.KindContentRejected, "filtered")
			}
			return i * 10, nil
		}
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if value != 10 || outcome.Provider != "b" || outcome.Index != 1 {
		t.Fatalf("value=%d outcome=%+v", value, outcome)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2 (permanent failure is not retried, c never called)", calls.Load())
	}
}

func TestExecuteValidationStopsChain(t *testing.T) {
	seen := map[string]int{}
	_, _, err := fallback.Execute(context.Background(), chain("a", "b"), func(i int, provider string) retry.Operation[int] {
		return func(ctx context.Context, attempt int) (int, error) {
			seen[provider]++
			return 0, services.New(services.KindValidation, "bad output")
		}
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if seen["b"] != 0 {
		t.Fatal("provider b should not be called after validation failure")
	}
	if d := services.Describe(err); d.Provider != "a" || d.Stage != "speech" {
		t.Fatalf("expected provider and stage annotation, got %+v", d)
	}
}

func TestExecuteCancelledStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	seen := map[string]int{}
	_, _, err := fallback.Execute(ctx, chain("a", "b"), func(i int, provider string) retry.Operation[int] {
		return func(ctx context.Context, attempt int) (int, error) {
			seen[provider]++
			cancel()
			return 0, services.New(services.KindRateLimited, "429")
		}
	})
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if seen["b"] != 0 {
		t.Fatal("provider b should not run after cancellation")
	}
}

func TestExecuteWithoutProvidersIsConfigurationError(t *testing.T) {
	_, _, err := fallback.Execute(context.Background(), chain(), func(i int, provider string) retry.Operation[int] {
		t.Fatal("factory should not be called")
		return nil
	})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestExecuteProviderContextIsTagged(t *testing.T) {
	_, _, err := fallback.Execute(context.Background(), chain("only"), func(i int, provider string) retry.Operation[string] {
		return func(ctx context.Context, attempt int) (string, error) {
			got, ok := services.ProviderFromContext(ctx)
			if !ok || got != "only" {
				t.Errorf("provider in context = %q %v", got, ok)
			}
			return "done", nil
		}
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
}
