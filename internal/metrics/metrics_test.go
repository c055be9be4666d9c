package metrics_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"ytauto/internal/metrics"
	"ytauto/internal/pipeline"
	"ytauto/internal/queue"
	"ytauto/internal/services"
	"ytauto/internal/workflow"
)

var (
	_ pipeline.Observer = (*metrics.Metrics)(nil)
	_ workflow.Sink     = (*metrics.Metrics)(nil)
)

type fixedSource struct{ queued, active int }

func (f fixedSource) QueueSize() int   { return f.queued }
func (f fixedSource) ActiveCount() int { return f.active }

func TestStageObservations(t *testing.T) {
	m := metrics.New()
	m.StageRetried("horror", "speech", "tts", services.New(services.KindRateLimited, "slow down"))
	m.StageRetried("horror", "speech", "tts", services.New(services.KindRateLimited, "slow down"))
	m.StageCompleted("horror", "speech", "tts", 3, 2*time.Second, nil)
	m.StageCompleted("horror", "script", "", 1, time.Second, services.New(services.KindContentRejected, "gate"))
	m.StageCompleted("horror", "script", "writer", 1, time.Second, errors.New("boom"))

	const want = `
# HELP ytauto_stage_outcomes_total Completed stage runs by result kind. Successful runs use kind "ok".
# TYPE ytauto_stage_outcomes_total counter
ytauto_stage_outcomes_total{kind="content_rejected",line="horror",stage="script"} 1
ytauto_stage_outcomes_total{kind="ok",line="horror",stage="speech"} 1
ytauto_stage_outcomes_total{kind="unknown",line="horror",stage="script"} 1
# HELP ytauto_stage_retries_total Retries scheduled after a retryable stage failure.
# TYPE ytauto_stage_retries_total counter
ytauto_stage_retries_total{kind="rate_limited",line="horror",stage="speech"} 2
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want),
		"ytauto_stage_outcomes_total", "ytauto_stage_retries_total"); err != nil {
		t.Fatal(err)
	}
	if got, err := testutil.GatherAndCount(m.Registry(), "ytauto_stage_attempts_total"); err != nil || got != 3 {
		t.Fatalf("expected 3 attempt series, got %d (%v)", got, err)
	}
}

func TestJobResultsAndGauges(t *testing.T) {
	m := metrics.New()
	start := time.Now()
	end := start.Add(90 * time.Second)
	for _, rec := range []queue.Record{
		{LineID: "facts", State: queue.StateSucceeded, StartedAt: &start, FinishedAt: &end},
		{LineID: "facts", State: queue.StateFailed, StartedAt: &start, FinishedAt: &end},
		{LineID: "facts", State: queue.StateRunning},
	} {
		if err := m.RecordJobResult(context.Background(), rec); err != nil {
			t.Fatalf("RecordJobResult: %v", err)
		}
	}
	if got, err := testutil.GatherAndCount(m.Registry(), "ytauto_jobs_total"); err != nil || got != 2 {
		t.Fatalf("expected 2 job series, got %d (%v)", got, err)
	}

	const gauges = `
# HELP ytauto_active_jobs Jobs currently running.
# TYPE ytauto_active_jobs gauge
ytauto_active_jobs %d
# HELP ytauto_queue_depth Jobs waiting for a worker.
# TYPE ytauto_queue_depth gauge
ytauto_queue_depth %d
`
	expect := func(queued, active int) io.Reader {
		return strings.NewReader(fmt.Sprintf(gauges, active, queued))
	}
	if err := testutil.GatherAndCompare(m.Registry(), expect(0, 0), "ytauto_active_jobs", "ytauto_queue_depth"); err != nil {
		t.Fatalf("untracked gauges: %v", err)
	}
	m.Track(fixedSource{queued: 4, active: 2})
	if err := testutil.GatherAndCompare(m.Registry(), expect(4, 2), "ytauto_active_jobs", "ytauto_queue_depth"); err != nil {
		t.Fatalf("tracked gauges: %v", err)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	m := metrics.New()
	m.StageCompleted("finance", "upload", "uploader", 1, time.Second, nil)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `ytauto_stage_attempts_total{line="finance",provider="uploader",stage="upload"} 1`) {
		t.Fatalf("exposition missing stage attempts:\n%s", body)
	}
}
