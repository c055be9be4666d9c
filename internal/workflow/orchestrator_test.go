package workflow_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ytauto/internal/capability"
	"ytauto/internal/fallback"
	"ytauto/internal/pipeline"
	"ytauto/internal/queue"
	"ytauto/internal/services"
	"ytauto/internal/testsupport"
	"ytauto/internal/workflow"
)

func TestConcurrencyBoundsInFlightJobs(t *testing.T) {
	var inFlight, peak atomic.Int32
	started := make(chan string, 10)
	release := make(chan struct{})
	work := func(ctx context.Context, provider string) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		return testsupport.Block(started, release)(ctx, provider)
	}
	sink := testsupport.NewRecordingSink()
	o := startOrchestrator(t, []workflow.Line{
		line(t, "facts", testsupport.Stage("script", []string{"p"}, work)),
	}, workflow.Options{Concurrency: 2, Sinks: []workflow.Sink{sink}})

	for i := 0; i < 5; i++ {
		if _, err := o.Enqueue(context.Background(), "facts"); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	waitStarted(t, started, 2)
	time.Sleep(30 * time.Millisecond)
	if got := o.ActiveCount(); got != 2 {
		t.Fatalf("expected 2 active jobs, got %d", got)
	}
	if got := o.QueueSize(); got != 3 {
		t.Fatalf("expected 3 queued jobs, got %d", got)
	}

	close(release)
	recs := sink.WaitFor(t, 5, waitTimeout)
	for _, rec := range recs {
		if rec.State != queue.StateSucceeded {
			t.Fatalf("expected every job to succeed, got %s for %s", rec.State, rec.ID)
		}
	}
	if got := peak.Load(); got != 2 {
		t.Fatalf("expected peak concurrency 2, got %d", got)
	}
}

func TestGracefulStopFinishesInFlightAndCancelsQueued(t *testing.T) {
	started := make(chan string, 4)
	release := make(chan struct{})
	sink := testsupport.NewRecordingSink()
	o := startOrchestrator(t, []workflow.Line{
		line(t, "horror", testsupport.Stage("script", []string{"p"}, testsupport.Block(started, release))),
	}, workflow.Options{Concurrency: 1, Sinks: []workflow.Sink{sink}})

	running, err := o.Enqueue(context.Background(), "horror")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitStarted(t, started, 1)
	queued, err := o.Enqueue(context.Background(), "horror")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		o.Stop(context.Background(), false)
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("graceful stop returned while a job was in flight")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	select {
	case <-stopped:
	case <-time.After(waitTimeout):
		t.Fatal("graceful stop did not return")
	}

	if rec, _ := sink.Find(running); rec.State != queue.StateSucceeded {
		t.Fatalf("in-flight job should finish, got %q", rec.State)
	}
	if rec, _ := sink.Find(queued); rec.State != queue.StateCancelled {
		t.Fatalf("queued job should be cancelled, got %q", rec.State)
	}
	if o.State() != workflow.StateStopped {
		t.Fatalf("expected stopped, got %s", o.State())
	}
}

func TestForcedStopCancelsInFlight(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})
	defer close(release)
	sink := testsupport.NewRecordingSink()
	o := startOrchestrator(t, []workflow.Line{
		line(t, "facts", testsupport.Stage("speech", []string{"p"}, testsupport.Block(started, release))),
	}, workflow.Options{Concurrency: 1, Sinks: []workflow.Sink{sink}})

	id, err := o.Enqueue(context.Background(), "facts")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitStarted(t, started, 1)
	o.Stop(context.Background(), true)

	rec, ok := sink.Find(id)
	if !ok || rec.State != queue.StateCancelled {
		t.Fatalf("expected cancelled record, got %+v", rec)
	}
	if rec.CurrentStage != "speech" {
		t.Fatalf("expected cancellation at speech, got %q", rec.CurrentStage)
	}
}

func TestGracefulStopEscalatesWhenContextEnds(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})
	defer close(release)
	sink := testsupport.NewRecordingSink()
	o := startOrchestrator(t, []workflow.Line{
		line(t, "facts", testsupport.Stage("clips", []string{"p"}, testsupport.Block(started, release))),
	}, workflow.Options{Concurrency: 1, Sinks: []workflow.Sink{sink}})

	id, err := o.Enqueue(context.Background(), "facts")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitStarted(t, started, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	o.Stop(ctx, false)

	if rec, _ := sink.Find(id); rec.State != queue.StateCancelled {
		t.Fatalf("expected escalation to cancel the job, got %q", rec.State)
	}
}

func TestEnqueueUnknownLineIsConfigurationError(t *testing.T) {
	o, err := workflow.New([]workflow.Line{
		line(t, "facts", testsupport.Stage("script", []string{"p"}, testsupport.Succeed("ok"))),
	}, workflow.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := o.Enqueue(context.Background(), "cooking"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error before start, got %v", err)
	}
	if _, err := o.Enqueue(context.Background(), "facts"); !errors.Is(err, workflow.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop(context.Background(), true)
	if _, err := o.Enqueue(context.Background(), "cooking"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if got := o.QueueSize(); got != 0 {
		t.Fatalf("queue must stay untouched, has %d", got)
	}
	if got := len(o.RecentJobs(0)); got != 0 {
		t.Fatalf("no job should be registered, have %d", got)
	}
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	o, err := workflow.New([]workflow.Line{
		line(t, "facts", testsupport.Stage("script", []string{"p"}, testsupport.Succeed("ok"))),
	}, workflow.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := o.Start(context.Background()); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
	}
	o.Stop(context.Background(), false)
	o.Stop(context.Background(), false)
	if o.State() != workflow.StateStopped {
		t.Fatalf("expected stopped, got %s", o.State())
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	o.Stop(context.Background(), true)
}

// Mirrors the production failure where the script provider is throttled
// twice, narration succeeds, and the composed video fails its gate.
func TestHorrorLineFailsAtComposeValidation(t *testing.T) {
	var scriptCalls atomic.Int32
	script := testsupport.Stage("script", []string{"primary"}, func(context.Context, string) (string, error) {
		if scriptCalls.Add(1) <= 2 {
			return "", services.New(services.KindRateLimited, "429 too many requests")
		}
		return "script.json", nil
	})
	script.Chain.Policy = testsupport.FastPolicy(3)
	audio := testsupport.Stage("audio", []string{"tts"}, testsupport.Succeed("narration.mp3"))
	compose := pipeline.Step("compose", func(context.Context, string, *pipeline.Production) (capability.VideoArtifact, string, error) {
		return capability.VideoArtifact{Path: "final.mp4"}, "final.mp4", nil
	}, func(v capability.VideoArtifact) (bool, []string) {
		if v.Bytes == 0 {
			return false, []string{"composed video is empty"}
		}
		return true, nil
	})
	compose.Chain = fallback.Chain{Providers: []string{"ffmpeg"}, Policy: testsupport.FastPolicy(2)}

	o := startOrchestrator(t, []workflow.Line{line(t, "horror", script, audio, compose)}, workflow.Options{Concurrency: 1})
	rec, err := o.RunOnce(context.Background(), "horror", waitTimeout)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rec.State != queue.StateFailed {
		t.Fatalf("expected failed, got %s", rec.State)
	}
	if rec.CurrentStage != "compose" {
		t.Fatalf("expected current stage compose, got %q", rec.CurrentStage)
	}
	if rec.Error == nil || rec.Error.Class != services.ClassValidation || rec.Error.Stage != "compose" {
		t.Fatalf("expected ValidationError at compose, got %+v", rec.Error)
	}
	if diff := cmp.Diff(map[string]int{"script": 3, "audio": 1, "compose": 1}, rec.Attempts); diff != "" {
		t.Fatalf("attempts mismatch (-want +got):\n%s", diff)
	}
	if stats := o.Stats()["horror"]; stats.Failed != 1 || stats.Total != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestFinanceScheduleFiresOnceAtNine(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	clk := mockClockAt(time.Date(2026, 3, 2, 8, 59, 30, 0, loc))
	sink := testsupport.NewRecordingSink()
	o := startOrchestrator(t, []workflow.Line{
		scheduledLine(t, "finance", "daily 09:00", testsupport.Stage("script", []string{"p"}, testsupport.Succeed("ok"))),
	}, workflow.Options{
		Clock:         clk,
		Location:      loc,
		SchedulerPoll: 1000 * time.Hour,
		Sinks:         []workflow.Sink{sink},
	})

	advance(clk, time.Date(2026, 3, 2, 9, 0, 0, 0, loc))
	fires, err := o.TickSchedule(context.Background())
	if err != nil {
		t.Fatalf("TickSchedule: %v", err)
	}
	if len(fires) != 1 || fires[0].LineID != "finance" {
		t.Fatalf("expected one finance fire at 09:00, got %v", fires)
	}
	advance(clk, time.Date(2026, 3, 2, 9, 1, 0, 0, loc))
	if fires, _ := o.TickSchedule(context.Background()); len(fires) != 0 {
		t.Fatalf("expected no fire at 09:01, got %v", fires)
	}

	recs := sink.WaitFor(t, 1, waitTimeout)
	if recs[0].Trigger != queue.TriggerSchedule || recs[0].LineID != "finance" {
		t.Fatalf("unexpected record %+v", recs[0])
	}
	if got := len(o.RecentJobs(0)); got != 1 {
		t.Fatalf("expected exactly one job, got %d", got)
	}
}

func TestDuplicatePolicy(t *testing.T) {
	cases := []struct {
		name        string
		policy      workflow.DuplicatePolicy
		wantPending int
	}{
		{name: "allow", policy: workflow.DuplicateAllow, wantPending: 3},
		{name: "skip pending", policy: workflow.DuplicateSkipPending, wantPending: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
			clk := mockClockAt(base)
			started := make(chan string, 10)
			release := make(chan struct{})
			o := startOrchestrator(t, []workflow.Line{
				scheduledLine(t, "facts", "every 1m", testsupport.Stage("script", []string{"p"}, testsupport.Block(started, release))),
			}, workflow.Options{
				Concurrency:     1,
				Clock:           clk,
				Location:        time.UTC,
				SchedulerPoll:   1000 * time.Hour,
				DuplicatePolicy: tc.policy,
			})
			defer close(release)

			if _, err := o.Enqueue(context.Background(), "facts"); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
			waitStarted(t, started, 1)

			for i := 1; i <= 2; i++ {
				advance(clk, base.Add(time.Duration(i)*time.Minute))
				if fires, err := o.TickSchedule(context.Background()); err != nil || len(fires) != 1 {
					t.Fatalf("tick %d: fires=%v err=%v", i, fires, err)
				}
			}
			if _, err := o.Enqueue(context.Background(), "facts"); err != nil {
				t.Fatalf("manual enqueue must always go through: %v", err)
			}
			if got := o.QueueSize(); got != tc.wantPending {
				t.Fatalf("expected %d queued jobs, got %d", tc.wantPending, got)
			}
		})
	}
}

func TestCancelQueuedAndRunningJobs(t *testing.T) {
	started := make(chan string, 4)
	release := make(chan struct{})
	defer close(release)
	sink := testsupport.NewRecordingSink()
	o := startOrchestrator(t, []workflow.Line{
		line(t, "facts", testsupport.Stage("images", []string{"p"}, testsupport.Block(started, release))),
	}, workflow.Options{Concurrency: 1, Sinks: []workflow.Sink{sink}})
	ctx := context.Background()

	running, _ := o.Enqueue(ctx, "facts")
	waitStarted(t, started, 1)
	queued, _ := o.Enqueue(ctx, "facts")

	if err := o.Cancel(ctx, queued); err != nil {
		t.Fatalf("cancel queued: %v", err)
	}
	if rec, ok := sink.Find(queued); !ok || rec.State != queue.StateCancelled {
		t.Fatalf("queued job should be recorded cancelled at once, got %+v", rec)
	}
	if err := o.Cancel(ctx, running); err != nil {
		t.Fatalf("cancel running: %v", err)
	}
	sink.WaitFor(t, 2, waitTimeout)
	if rec, _ := sink.Find(running); rec.State != queue.StateCancelled {
		t.Fatalf("running job should end cancelled, got %q", rec.State)
	}
	if err := o.Cancel(ctx, running); !errors.Is(err, workflow.ErrJobFinished) {
		t.Fatalf("expected ErrJobFinished, got %v", err)
	}
	if err := o.Cancel(ctx, "missing"); !errors.Is(err, workflow.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if stats := o.Stats()["facts"]; stats.Cancelled != 2 {
		t.Fatalf("expected two cancellations counted, got %+v", stats)
	}
}

func TestSinkFailureDoesNotChangeJobState(t *testing.T) {
	failing := testsupport.NewRecordingSink()
	failing.Err = errors.New("disk full")
	healthy := testsupport.NewRecordingSink()
	o := startOrchestrator(t, []workflow.Line{
		line(t, "facts", testsupport.Stage("script", []string{"p"}, testsupport.Succeed("ok"))),
	}, workflow.Options{Sinks: []workflow.Sink{failing, healthy}})

	rec, err := o.RunOnce(context.Background(), "facts", waitTimeout)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rec.State != queue.StateSucceeded {
		t.Fatalf("expected succeeded, got %s", rec.State)
	}
	healthy.WaitFor(t, 1, waitTimeout)
	if got, _ := o.Job(context.Background(), rec.ID); got.State != queue.StateSucceeded {
		t.Fatalf("job state changed after sink failure: %s", got.State)
	}
}

func TestRunOnceTimeoutReturnsSnapshotWithoutCancelling(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})
	sink := testsupport.NewRecordingSink()
	o := startOrchestrator(t, []workflow.Line{
		line(t, "facts", testsupport.Stage("script", []string{"p"}, testsupport.Block(started, release))),
	}, workflow.Options{Sinks: []workflow.Sink{sink}})

	rec, err := o.RunOnce(context.Background(), "facts", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rec.State.Terminal() {
		t.Fatalf("expected a live snapshot, got %s", rec.State)
	}
	close(release)
	sink.WaitFor(t, 1, waitTimeout)
	if got, _ := sink.Find(rec.ID); got.State != queue.StateSucceeded {
		t.Fatalf("job should keep running after RunOnce times out, got %s", got.State)
	}
}

func TestRunAllSkipsPausedLines(t *testing.T) {
	paused := line(t, "finance", testsupport.Stage("script", []string{"p"}, testsupport.Succeed("f")))
	paused.SchedulePaused = true
	o := startOrchestrator(t, []workflow.Line{
		line(t, "horror", testsupport.Stage("script", []string{"p"}, testsupport.Succeed("h"))),
		line(t, "facts", testsupport.Stage("script", []string{"p"}, testsupport.Succeed("x"))),
		paused,
	}, workflow.Options{Concurrency: 2})

	recs, err := o.RunAll(context.Background(), waitTimeout)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	var lines []string
	for _, rec := range recs {
		if rec.State != queue.StateSucceeded {
			t.Fatalf("expected success for %s, got %s", rec.LineID, rec.State)
		}
		lines = append(lines, rec.LineID)
	}
	if diff := cmp.Diff([]string{"horror", "facts"}, lines); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusReportsLinesAndSchedule(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	o := startOrchestrator(t, []workflow.Line{
		scheduledLine(t, "finance", "daily 09:00", testsupport.Stage("script", []string{"p"}, testsupport.Succeed("ok"))),
		line(t, "facts", testsupport.Stage("script", []string{"p"}, testsupport.Succeed("ok"))),
	}, workflow.Options{Clock: mockClockAt(base), Location: time.UTC, SchedulerPoll: 1000 * time.Hour})

	st := o.Status()
	if st.State != workflow.StateRunning {
		t.Fatalf("expected running, got %s", st.State)
	}
	if len(st.Lines) != 2 || st.Lines[0].ID != "finance" {
		t.Fatalf("unexpected lines %+v", st.Lines)
	}
	if len(st.NextFires) != 1 || !st.NextFires[0].At.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected next fires %+v", st.NextFires)
	}

	if err := o.SetScheduleEnabled("FINANCE", false); err != nil {
		t.Fatalf("SetScheduleEnabled: %v", err)
	}
	st = o.Status()
	if !st.Lines[0].SchedulePaused || len(st.NextFires) != 0 {
		t.Fatalf("expected paused schedule, got %+v / %+v", st.Lines[0], st.NextFires)
	}
	if err := o.SetScheduleEnabled("cooking", true); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewRejectsDuplicateLines(t *testing.T) {
	stage := testsupport.Stage("script", []string{"p"}, testsupport.Succeed("ok"))
	_, err := workflow.New([]workflow.Line{line(t, "facts", stage), line(t, "FACTS", stage)}, workflow.Options{})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := workflow.New(nil, workflow.Options{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for no lines, got %v", err)
	}
}
