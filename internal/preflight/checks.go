package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"ytauto/internal/config"
	"ytauto/internal/deps"
	"ytauto/internal/providers/llm"
	"ytauto/internal/services"
)

// CheckLLM verifies that an LLM provider has credentials and, when probe is
// set, that the API answers a ping. It uses a 30-second timeout and the
// client's single attempt.
func CheckLLM(ctx context.Context, p config.Provider, probe bool) Result {
	name := fmt.Sprintf("LLM provider %s", p.Name)
	if strings.TrimSpace(p.APIKey) == "" {
		env := p.APIKeyEnv
		if env == "" {
			env = "api_key"
		}
		return Result{Name: name, Detail: fmt.Sprintf("API key missing (set %s)", env)}
	}
	if !probe {
		return Result{Name: name, Passed: true, Detail: "API key present"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKey:         p.APIKey,
		BaseURL:        p.BaseURL,
		Model:          p.Model,
		Referer:        p.Referer,
		Title:          p.Title,
		TimeoutSeconds: p.TimeoutSeconds,
	})
	if err := client.HealthCheck(checkCtx); err != nil {
		if services.KindOf(err) == services.KindRateLimited {
			return Result{Name: name, Passed: true, Detail: "API reachable (rate limited)"}
		}
		return Result{Name: name, Detail: summarizeLLMError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckCommand verifies that a command provider's binary resolves on PATH.
// With probe set, the provider's probe_args are executed as well.
func CheckCommand(ctx context.Context, p config.Provider, probe bool) Result {
	name := fmt.Sprintf("Command provider %s", p.Name)
	st := deps.Check(ctx, []deps.Requirement{{
		Name:        p.Name,
		Command:     p.Command,
		Description: "Serves " + strings.Join(p.Capabilities, ", "),
		ProbeArgs:   p.ProbeArgs,
	}}, probe)[0]
	switch {
	case !st.Available:
		return Result{Name: name, Detail: st.Detail}
	case st.Version != "":
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", st.Path, st.Version)}
	default:
		return Result{Name: name, Passed: true, Detail: st.Path}
	}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// summarizeLLMError produces a human-readable summary for LLM health check failures.
func summarizeLLMError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (LLM API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (LLM API unreachable)"
	}
	return err.Error()
}
