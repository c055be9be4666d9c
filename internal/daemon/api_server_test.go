package daemon_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ytauto/internal/daemon"
	"ytauto/internal/queue"
	"ytauto/internal/testsupport"
)

func newAPI(t *testing.T, start bool) *httptest.Server {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithDryRun())
	cfg.Paths.APIToken = "s3cret"
	d := newDaemon(t, cfg)
	if start {
		if err := d.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	api := daemon.NewAPIServer(d, nil)
	if api == nil {
		t.Fatal("expected api server for configured bind")
	}
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestAPIRequiresToken(t *testing.T) {
	srv := newAPI(t, true)
	if resp := do(t, http.MethodGet, srv.URL+"/api/status", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/status", "s3cret"); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAPIEnqueueAndLookup(t *testing.T) {
	srv := newAPI(t, true)

	resp := do(t, http.MethodPost, srv.URL+"/api/lines/horror/jobs", "s3cret")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var enq daemon.EnqueueResponse
	if err := json.NewDecoder(resp.Body).Decode(&enq); err != nil {
		t.Fatalf("decode enqueue: %v", err)
	}
	if enq.ID == "" || enq.Line != "horror" {
		t.Fatalf("unexpected enqueue response: %+v", enq)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/jobs/"+enq.ID, "s3cret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var rec queue.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if rec.ID != enq.ID || rec.LineID != "horror" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/jobs?line=horror&limit=5", "s3cret")
	var jobs daemon.JobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs.Jobs) != 1 || jobs.Jobs[0].ID != enq.ID {
		t.Fatalf("unexpected jobs: %+v", jobs.Jobs)
	}
}

func TestAPIErrorStatuses(t *testing.T) {
	running := newAPI(t, true)
	if resp := do(t, http.MethodGet, running.URL+"/api/jobs/missing", "s3cret"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodDelete, running.URL+"/api/jobs/missing", "s3cret"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 cancelling unknown job, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPost, running.URL+"/api/lines/cooking/jobs", "s3cret"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown line, got %d", resp.StatusCode)
	}

	stopped := newAPI(t, false)
	if resp := do(t, http.MethodPost, stopped.URL+"/api/lines/horror/jobs", "s3cret"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while stopped, got %d", resp.StatusCode)
	}
}

func TestAPIMetricsUnauthenticated(t *testing.T) {
	srv := newAPI(t, true)
	resp := do(t, http.MethodGet, srv.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), "ytauto_queue_depth") {
		t.Fatalf("expected queue depth gauge in exposition:\n%s", body)
	}
}
