package notifications_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ytauto/internal/notifications"
	"ytauto/internal/queue"
	"ytauto/internal/services"
	"ytauto/internal/testsupport"
)

type captured struct {
	Title    string
	Tags     string
	Priority string
	Click    string
	Body     string
}

type ntfyRecorder struct {
	mu       sync.Mutex
	requests []captured
	status   int
}

func (r *ntfyRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.requests = append(r.requests, captured{
		Title:    req.Header.Get("Title"),
		Tags:     req.Header.Get("Tags"),
		Priority: req.Header.Get("Priority"),
		Click:    req.Header.Get("Click"),
		Body:     string(body),
	})
	status := r.status
	r.mu.Unlock()
	if status != 0 {
		http.Error(w, "topic closed", status)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (r *ntfyRecorder) all() []captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]captured(nil), r.requests...)
}

func newService(t *testing.T, extra string) (notifications.Service, *ntfyRecorder) {
	t.Helper()
	rec := &ntfyRecorder{}
	server := httptest.NewServer(rec)
	t.Cleanup(server.Close)
	cfg := testsupport.NewConfig(t, testsupport.WithTOML(fmt.Sprintf(`
[notifications]
ntfy_topic = %q
%s

[[lines]]
id = "horror"
display_name = "Midnight Tales"
`, server.URL, extra)))
	return notifications.NewService(cfg), rec
}

func finished(id string, state queue.State) queue.Record {
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(95 * time.Second)
	return queue.Record{
		ID:         id,
		LineID:     "horror",
		State:      state,
		StartedAt:  &start,
		FinishedAt: &end,
	}
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := notifications.NewService(cfg)
	if err := svc.RecordJobResult(context.Background(), finished("a", queue.StateSucceeded)); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop test notification: %v", err)
	}
}

func TestSucceededJobPublishesVideoLink(t *testing.T) {
	svc, rec := newService(t, "")
	r := finished("0f3c9a1e-aaaa", queue.StateSucceeded)
	r.Result = "https://youtu.be/abc123"
	r.Artifacts = map[string]string{"script": "The Lighthouse Keeper"}

	if err := svc.RecordJobResult(context.Background(), r); err != nil {
		t.Fatalf("RecordJobResult: %v", err)
	}
	want := []captured{{
		Title: "ytauto - Video Ready",
		Tags:  "ytauto,horror,succeeded",
		Click: "https://youtu.be/abc123",
		Body:  "✅ Published on Midnight Tales: The Lighthouse Keeper\nTook 1m35s",
	}}
	if diff := cmp.Diff(want, rec.all()); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestFailedJobCarriesStageKindAndIssues(t *testing.T) {
	svc, rec := newService(t, "")
	r := finished("b", queue.StateFailed)
	r.Error = &queue.Failure{
		Stage:   "script",
		Kind:    services.KindContentRejected,
		Message: "script failed quality checks",
		Issues:  []string{"script too short: 90 words (min 1200)", "body lacks section breaks"},
	}

	if err := svc.RecordJobResult(context.Background(), r); err != nil {
		t.Fatalf("RecordJobResult: %v", err)
	}
	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("expected one request, got %d", len(got))
	}
	if got[0].Title != "ytauto - Job Failed" || got[0].Priority != "high" {
		t.Fatalf("unexpected headers %+v", got[0])
	}
	for _, want := range []string{"Midnight Tales job failed at script", string(services.KindContentRejected), "\n- script too short", "\n- body lacks section breaks"} {
		if !strings.Contains(got[0].Body, want) {
			t.Fatalf("body %q should contain %q", got[0].Body, want)
		}
	}
}

func TestStateFlagsGatePublishing(t *testing.T) {
	svc, rec := newService(t, "job_cancelled = false\njob_succeeded = false")

	cancelled := finished("c", queue.StateCancelled)
	cancelled.CurrentStage = "speech"
	for _, r := range []queue.Record{cancelled, finished("d", queue.StateSucceeded), finished("e", queue.StateRunning)} {
		if err := svc.RecordJobResult(context.Background(), r); err != nil {
			t.Fatalf("RecordJobResult(%s): %v", r.State, err)
		}
	}
	if got := rec.all(); len(got) != 0 {
		t.Fatalf("expected nothing published, got %+v", got)
	}
}

func TestCancelledJobWhenEnabled(t *testing.T) {
	svc, rec := newService(t, "job_cancelled = true")
	r := finished("0123456789abcdef", queue.StateCancelled)
	r.CurrentStage = "speech"
	if err := svc.RecordJobResult(context.Background(), r); err != nil {
		t.Fatalf("RecordJobResult: %v", err)
	}
	got := rec.all()
	if len(got) != 1 || got[0].Body != "⏹️ Midnight Tales job 01234567 cancelled during speech" {
		t.Fatalf("unexpected requests %+v", got)
	}
}

func TestRunSummaryAndTestNotification(t *testing.T) {
	svc, rec := newService(t, "")
	recs := []queue.Record{
		finished("a", queue.StateSucceeded),
		finished("b", queue.StateSucceeded),
		finished("c", queue.StateFailed),
	}
	if err := svc.NotifyRunSummary(context.Background(), recs, 125*time.Second); err != nil {
		t.Fatalf("NotifyRunSummary: %v", err)
	}
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	want := []captured{
		{
			Title: "ytauto - Run Complete (with errors)",
			Tags:  "ytauto,run,completed",
			Body:  "Run complete: 2 succeeded, 1 failed in 2m5s",
		},
		{
			Title:    "ytauto - Test",
			Tags:     "ytauto,test",
			Priority: "low",
			Body:     "🧪 Notification system test",
		},
	}
	if diff := cmp.Diff(want, rec.all()); diff != "" {
		t.Fatalf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestServerErrorIsReported(t *testing.T) {
	svc, rec := newService(t, "")
	rec.status = http.StatusInternalServerError
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected status error, got %v", err)
	}
}
