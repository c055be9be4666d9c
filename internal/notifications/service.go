package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ytauto/internal/config"
	"ytauto/internal/queue"
)

const userAgent = "ytauto/0.1.0"

// Service is the notification surface used by the orchestrator and the CLI.
// It implements the orchestrator's result sink.
type Service interface {
	RecordJobResult(ctx context.Context, rec queue.Record) error
	NotifyRunSummary(ctx context.Context, recs []queue.Record, elapsed time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		notify: map[queue.State]bool{
			queue.StateSucceeded: cfg.Notifications.JobSucceeded,
			queue.StateFailed:    cfg.Notifications.JobFailed,
			queue.StateCancelled: cfg.Notifications.JobCancelled,
		},
		names: displayNames(cfg),
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
	click    string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	notify   map[queue.State]bool
	names    map[string]string
}

// RecordJobResult publishes terminal jobs whose state is enabled in
// [notifications].
func (n *ntfyService) RecordJobResult(ctx context.Context, rec queue.Record) error {
	if !rec.State.Terminal() || !n.notify[rec.State] {
		return nil
	}
	name := n.lineName(rec.LineID)
	var data payload
	switch rec.State {
	case queue.StateSucceeded:
		message := fmt.Sprintf("✅ Published: %s", name)
		if title := rec.Artifacts["script"]; title != "" {
			message = fmt.Sprintf("✅ Published on %s: %s", name, title)
		}
		if d := rec.Duration().Round(time.Second); d > 0 {
			message += fmt.Sprintf("\nTook %s", d)
		}
		data = payload{
			title:   "ytauto - Video Ready",
			message: message,
			tags:    []string{"ytauto", rec.LineID, "succeeded"},
		}
		if strings.HasPrefix(rec.Result, "http") {
			data.click = rec.Result
		}
	case queue.StateFailed:
		var b strings.Builder
		fmt.Fprintf(&b, "❌ %s job failed", name)
		if f := rec.Error; f != nil {
			if f.Stage != "" {
				fmt.Fprintf(&b, " at %s", f.Stage)
			}
			fmt.Fprintf(&b, " (%s): %s", f.Kind, strings.TrimSpace(f.Message))
			for _, issue := range f.Issues {
				fmt.Fprintf(&b, "\n- %s", issue)
			}
		}
		data = payload{
			title:    "ytauto - Job Failed",
			message:  b.String(),
			tags:     []string{"ytauto", rec.LineID, "error"},
			priority: "high",
		}
	case queue.StateCancelled:
		message := fmt.Sprintf("⏹️ %s job %s cancelled", name, shortID(rec.ID))
		if rec.CurrentStage != "" {
			message += " during " + rec.CurrentStage
		}
		data = payload{
			title:   "ytauto - Job Cancelled",
			message: message,
			tags:    []string{"ytauto", rec.LineID, "cancelled"},
		}
	}
	return n.send(ctx, data)
}

// NotifyRunSummary reports the outcome of a batch run.
func (n *ntfyService) NotifyRunSummary(ctx context.Context, recs []queue.Record, elapsed time.Duration) error {
	var succeeded, failed int
	for _, rec := range recs {
		switch rec.State {
		case queue.StateSucceeded:
			succeeded++
		case queue.StateFailed, queue.StateCancelled:
			failed++
		}
	}
	elapsed = elapsed.Round(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	data := payload{
		title:   "ytauto - Run Complete",
		message: fmt.Sprintf("Run complete: %d videos produced in %s", succeeded, elapsed),
		tags:    []string{"ytauto", "run", "completed"},
	}
	if failed > 0 {
		data.title = "ytauto - Run Complete (with errors)"
		data.message = fmt.Sprintf("Run complete: %d succeeded, %d failed in %s", succeeded, failed, elapsed)
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "ytauto - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"ytauto", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}
	if data.click != "" {
		req.Header.Set("Click", data.click)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (n *ntfyService) lineName(id string) string {
	if name := n.names[id]; name != "" {
		return name
	}
	return id
}

func displayNames(cfg *config.Config) map[string]string {
	names := make(map[string]string, len(cfg.Lines))
	for _, line := range cfg.Lines {
		names[line.ID] = line.DisplayName
	}
	return names
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type noopService struct{}

func (noopService) RecordJobResult(context.Context, queue.Record) error                   { return nil }
func (noopService) NotifyRunSummary(context.Context, []queue.Record, time.Duration) error { return nil }
func (noopService) TestNotification(context.Context) error                                { return nil }
