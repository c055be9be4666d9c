package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ytauto/internal/config"
	"ytauto/internal/daemon"
	"ytauto/internal/daemonrun"
	"ytauto/internal/ipc"
	"ytauto/internal/logging"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	daemon     *daemon.Daemon
}

// writeCLIConfig writes a dry-run config rooted in a temp directory and
// returns its path.
func writeCLIConfig(t *testing.T, extra string) string {
	t.Helper()
	for _, key := range []string{"DRY_RUN", "LOG_LEVEL", "LOG_FORMAT", "OUTPUT_DIR", "SCHEDULE_TIMEZONE", "NTFY_TOPIC", "YTAUTO_API_TOKEN"} {
		t.Setenv(key, "")
	}
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))

	doc := fmt.Sprintf(`[paths]
output_dir = %q
log_dir = %q
state_dir = %q
api_bind = "127.0.0.1:0"
env_file = %q

[orchestrator]
dry_run = true
%s
`,
		filepath.Join(base, "output"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "state"),
		filepath.Join(base, "missing.env"),
		extra,
	)
	path := filepath.Join(base, "config.toml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// setupCLITestEnv serves a started dry-run daemon on the config's socket.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	configPath := writeCLIConfig(t, "")
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	logger := logging.NewNop()
	comps, err := daemonrun.Assemble(cfg, logger, daemonrun.AssembleOptions{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	d, err := daemon.New(cfg, daemon.Deps{
		Orchestrator: comps.Orchestrator,
		History:      comps.History,
		Notifier:     comps.Notifier,
		Metrics:      comps.Metrics,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI daemon test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
	})
	return &cliTestEnv{cfg: cfg, configPath: configPath, daemon: d}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\n%s", needle, haystack)
	}
}
