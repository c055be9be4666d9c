package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/WatchBeam/clock"

	"ytauto/internal/pipeline"
	"ytauto/internal/scheduler"
	"ytauto/internal/testsupport"
	"ytauto/internal/workflow"
)

const waitTimeout = 5 * time.Second

func startOrchestrator(t *testing.T, lines []workflow.Line, opts workflow.Options) *workflow.Orchestrator {
	t.Helper()
	o, err := workflow.New(lines, opts)
	if err != nil {
		t.Fatalf("workflow.New: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { o.Stop(context.Background(), true) })
	return o
}

func line(t *testing.T, id string, stages ...pipeline.StageSpec) workflow.Line {
	t.Helper()
	return workflow.Line{Pipeline: testsupport.MustPipeline(t, id, stages...)}
}

func scheduledLine(t *testing.T, id, rule string, stages ...pipeline.StageSpec) workflow.Line {
	t.Helper()
	l := line(t, id, stages...)
	l.Rules = []scheduler.Rule{scheduler.MustParseRule(rule)}
	return l
}

func mockClockAt(at time.Time) clock.Clock {
	mock := clock.NewMockClock()
	mock.AddTime(at.Sub(mock.Now()))
	return mock
}

func advance(c clock.Clock, to time.Time) {
	c.(interface{ AddTime(time.Duration) }).AddTime(to.Sub(c.Now()))
}

func waitStarted(t *testing.T, started <-chan string, n int) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for i := 0; i < n; i++ {
		select {
		case <-started:
		case <-deadline:
			t.Fatalf("timed out waiting for %d provider calls, saw %d", n, i)
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
