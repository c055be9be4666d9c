package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ytauto/internal/config"
	"ytauto/internal/logging"
)

func TestPruneRemovesOldWorkspaces(t *testing.T) {
	configPath := writeCLIConfig(t, "")
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	old := filepath.Join(cfg.Paths.OutputDir, "horror", "old-job")
	fresh := filepath.Join(cfg.Paths.OutputDir, "horror", "fresh-job")
	for _, dir := range []string{old, fresh} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	at := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(old, at, at); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	out, _, err := runCLI(t, configPath, "prune", "--older-than", "24h", "--dry-run")
	if err != nil {
		t.Fatalf("prune dry-run: %v", err)
	}
	requireContains(t, out, "would remove "+old)
	if strings.Contains(out, fresh) {
		t.Fatalf("fresh workspace listed for removal:\n%s", out)
	}

	out, _, err = runCLI(t, configPath, "prune", "--older-than", "24h")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	requireContains(t, out, "1 workspaces")
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected %s removed", old)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected %s kept: %v", fresh, err)
	}
}

func TestLogsFiltersByJob(t *testing.T) {
	configPath := writeCLIConfig(t, "")
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	path := logging.FilePath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := `{"msg":"job queued","job_id":"abc","line":"horror"}
{"msg":"job queued","job_id":"def","line":"facts"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, configPath, "logs", "--job", "abc")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, `"job_id":"abc"`)
	if strings.Contains(out, "def") {
		t.Fatalf("expected other jobs filtered out:\n%s", out)
	}
}
