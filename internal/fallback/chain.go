package fallback

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"ytauto/internal/retry"
	"ytauto/internal/services"
)

// Chain is an ordered list of interchangeable providers for one stage. Each
// provider is attempted under Policy before the chain moves on.
type Chain struct {
	Stage     string
	Providers []string
	Policy    retry.Policy
}

// Factory returns the operation bound to the provider at index.
type Factory[T any] func(index int, provider string) retry.Operation[T]

// Attempt records the final outcome of one provider.
type Attempt struct {
	Provider string
	Attempts int
	Err      error
}

// Outcome summarizes a chain execution.
type Outcome struct {
	// Provider is the name of the provider that produced the result. Empty
	// when every provider failed.
	Provider string
	Index    int
	Tried    []Attempt
}

// TotalAttempts sums attempts across every provider tried.
func (o Outcome) TotalAttempts() int {
	total := 0
	for _, a := range o.Tried {
		total += a.Attempts
	}
	return total
}

// Execute tries providers strictly in order, one at a time. A provider whose
// policy is exhausted hands over to the next one. Cancelled, validation,
// configuration and internal failures stop the chain immediately. When every
// provider fails the error aggregates the final failure of each.
func Execute[T any](ctx context.Context, c Chain, factory Factory[T]) (T, Outcome, error) {
	var zero T
	outcome := Outcome{Index: -1}
	if len(c.Providers) == 0 {
		return zero, outcome, services.Wrap(services.KindConfiguration, c.Stage, "fallback", "no providers configured", nil)
	}

	var (
		merr *multierror.Error
		last error
	)
	for i, provider := range c.Providers {
		pctx := services.WithProvider(ctx, provider)
		value, attempts, err := retry.Execute(pctx, c.Policy, factory(i, provider))
		if err == nil {
			outcome.Provider = provider
			outcome.Index = i
			outcome.Tried = append(outcome.Tried, Attempt{Provider: provider, Attempts: attempts})
			return value, outcome, nil
		}
		err = services.Annotate(err, func(e *services.Error) {
			if e.Stage == "" {
				e.Stage = c.Stage
			}
			if e.Provider == "" {
				e.Provider = provider
			}
		})
		outcome.Tried = append(outcome.Tried, Attempt{Provider: provider, Attempts: attempts, Err: err})
		if !advances(err) {
			return zero, outcome, err
		}
		merr = multierror.Append(merr, fmt.Errorf("%s: %w", provider, err))
		last = err
	}

	merr.ErrorFormat = listFormat
	issues := make([]string, 0, len(outcome.Tried))
	for _, a := range outcome.Tried {
		issues = append(issues, fmt.Sprintf("%s: %s", a.Provider, services.Describe(a.Err).Message))
	}
	return zero, outcome, &services.Error{
		Kind:     services.KindOf(last),
		Stage:    c.Stage,
		Message:  fmt.Sprintf("all %d providers failed", len(c.Providers)),
		Attempts: outcome.TotalAttempts(),
		Issues:   issues,
		Err:      merr,
	}
}

func advances(err error) bool {
	switch services.ClassOf(err) {
	case services.ClassTransient, services.ClassPermanent:
		return true
	default:
		return false
	}
}

func listFormat(errs []error) string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	out := fmt.Sprintf("%d providers failed:", len(errs))
	for _, err := range errs {
		out += "\n\t* " + err.Error()
	}
	return out
}
