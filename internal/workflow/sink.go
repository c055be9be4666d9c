package workflow

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"ytauto/internal/queue"
)

// Sink receives every job once it reaches a terminal state.
type Sink interface {
	RecordJobResult(ctx context.Context, rec queue.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec queue.Record) error

// RecordJobResult calls f.
func (f SinkFunc) RecordJobResult(ctx context.Context, rec queue.Record) error { return f(ctx, rec) }

// Sinks fans a record out to every member. All members are called even when
// an earlier one fails; the failures are aggregated.
type Sinks []Sink

// RecordJobResult implements Sink.
func (s Sinks) RecordJobResult(ctx context.Context, rec queue.Record) error {
	var merr *multierror.Error
	for i, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.RecordJobResult(ctx, rec); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("sink %d (%T): %w", i, sink, err))
		}
	}
	return merr.ErrorOrNil()
}
