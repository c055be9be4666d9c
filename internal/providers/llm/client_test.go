package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"ytauto/internal/services"
)

func completionServer(t *testing.T, status int, payload any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		w.WriteHeader(status)
		if s, ok := payload.(string); ok {
			_, _ = w.Write([]byte(s))
			return
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func messageChoice(content string) map[string]any {
	return map[string]any{"choices": []any{map[string]any{"message": map[string]any{"content": content}}}}
}

func TestClientHealthCheck(t *testing.T) {
	server := completionServer(t, http.StatusOK, messageChoice(`{"ok":true}`))
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckCodeFence(t *testing.T) {
	server := completionServer(t, http.StatusOK, messageChoice("```json\n{\"ok\":true}\n```"))
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientClassifiesFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload any
		want    services.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, services.KindRateLimited},
		{"server error", http.StatusBadGateway, `upstream down`, services.KindProviderUnavailable},
		{"request timeout", http.StatusRequestTimeout, ``, services.KindProviderUnavailable},
		{"bad request", http.StatusBadRequest, `{"error":"bad model"}`, services.KindInvalidInput},
		{"unauthorized", http.StatusUnauthorized, `nope`, services.KindInvalidInput},
		{"empty content", http.StatusOK, messageChoice(""), services.KindProviderUnavailable},
		{"refusal", http.StatusOK, map[string]any{"choices": []any{map[string]any{
			"message": map[string]any{"content": "", "refusal": "I can't help with that"},
		}}}, services.KindContentRejected},
		{"content filter", http.StatusOK, map[string]any{"choices": []any{map[string]any{
			"message": map[string]any{"content": ""}, "finish_reason": "content_filter",
		}}}, services.KindContentRejected},
		{"garbage body", http.StatusOK, `<html>`, services.KindProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := completionServer(t, tt.status, tt.payload)
			client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
			_, err := client.CompleteJSON(context.Background(), "system", "user", 0)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := services.KindOf(err); got != tt.want {
				t.Fatalf("kind = %s, want %s (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestClassifyStatusTruncatesOnRuneBoundary(t *testing.T) {
	body := []byte(strings.Repeat("é", maxErrorBody+10))
	err := classifyStatus(http.StatusBadGateway, body)
	msg := err.Error()
	if !utf8.ValidString(msg) {
		t.Fatalf("truncated message is not valid UTF-8: %q", msg[len(msg)-8:])
	}
	if !strings.Contains(msg, strings.Repeat("é", maxErrorBody)) || strings.Contains(msg, strings.Repeat("é", maxErrorBody+1)) {
		t.Fatalf("expected exactly %d runes of the body in %d-byte message", maxErrorBody, len(msg))
	}
}

func TestClientMakesSingleAttempt(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	if _, err := client.CompleteJSON(context.Background(), "system", "user", 0); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one request, got %d", calls)
	}
}

func TestClientTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL},
		WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := client.CompleteJSON(context.Background(), "system", "user", 0)
	if services.KindOf(err) != services.KindProviderUnavailable {
		t.Fatalf("expected provider_unavailable, got %v", err)
	}
}

func TestClientCancelledContext(t *testing.T) {
	server := completionServer(t, http.StatusOK, messageChoice(`{}`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	if _, err := client.CompleteJSON(ctx, "system", "user", 0); !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := client.CompleteJSON(context.Background(), "system", "user", 0)
	if services.KindOf(err) != services.KindInvalidInput {
		t.Fatalf("expected invalid_input, got %v", err)
	}
}

func TestDecodeJSONToleratesProse(t *testing.T) {
	var out struct {
		Title string `json:"title"`
	}
	if err := DecodeJSON("Sure! Here it is:\n{\"title\":\"The Door\"}\nEnjoy.", &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if out.Title != "The Door" {
		t.Fatalf("unexpected title %q", out.Title)
	}
	if err := DecodeJSON("no json here", &out); err == nil || !strings.Contains(err.Error(), "payload snippet") {
		t.Fatalf("expected snippet in error, got %v", err)
	}
}
