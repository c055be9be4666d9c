package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ytauto/internal/queue"
)

func TestConfigInitValidateShow(t *testing.T) {
	configPath := writeCLIConfig(t, "")

	out, _, err := runCLI(t, configPath, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v\n%s", err, out)
	}
	requireContains(t, out, "Lines: horror, facts, finance")
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "sample.toml")
	out, _, err = runCLI(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}

	secret := writeCLIConfig(t, "")
	data, err := os.ReadFile(secret)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	doc := strings.Replace(string(data), "[paths]\n", "[paths]\napi_token = \"hunter2\"\n", 1)
	if err := os.WriteFile(secret, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	out, _, err = runCLI(t, secret, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "hunter2") {
		t.Fatalf("expected api token to be redacted:\n%s", out)
	}
	requireContains(t, out, redacted)
}

func TestRunDryRunInProcess(t *testing.T) {
	configPath := writeCLIConfig(t, "")

	out, _, err := runCLI(t, configPath, "run", "horror", "--dry-run")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	requireContains(t, out, "Line:     horror")
	requireContains(t, out, "State:    succeeded")

	out, _, err = runCLI(t, configPath, "--json", "run", "--dry-run")
	if err != nil {
		t.Fatalf("run all: %v\n%s", err, out)
	}
	var recs []queue.Record
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("decode run output: %v\n%s", err, out)
	}
	if len(recs) != 3 {
		t.Fatalf("expected one job per line, got %d", len(recs))
	}

	if _, _, err := runCLI(t, configPath, "run", "cooking", "--dry-run"); err == nil {
		t.Fatal("expected unknown line to fail")
	}
}

func TestExecuteExitCodes(t *testing.T) {
	configPath := writeCLIConfig(t, "")

	var stderr bytes.Buffer
	if code := execute([]string{"--config", configPath, "--json", "run", "facts", "--dry-run"}, &stderr); code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr %q)", code, stderr.String())
	}
	stderr.Reset()
	if code := execute([]string{"--config", configPath, "run", "cooking", "--dry-run"}, &stderr); code != exitFailure {
		t.Fatalf("exit code = %d, want %d", code, exitFailure)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected error on stderr")
	}
}

func TestCommandsWithoutDaemon(t *testing.T) {
	configPath := writeCLIConfig(t, "")

	_, _, err := runCLI(t, configPath, "jobs")
	if err == nil || !strings.Contains(err.Error(), "ytauto start") {
		t.Fatalf("expected start hint, got %v", err)
	}

	out, _, err := runCLI(t, configPath, "stop")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")

	out, _, err = runCLI(t, configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
	requireContains(t, out, "horror")
}

func TestCommandsAgainstDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "run", "facts", "--timeout", "30s")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	requireContains(t, out, "State:    succeeded")

	out, _, err = runCLI(t, env.configPath, "enqueue", "finance")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	requireContains(t, out, "Queued finance job")

	out, _, err = runCLI(t, env.configPath, "--json", "jobs", "--line", "facts")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	var recs []queue.Record
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("decode jobs: %v\n%s", err, out)
	}
	if len(recs) != 1 || recs[0].LineID != "facts" {
		t.Fatalf("unexpected jobs: %+v", recs)
	}

	out, _, err = runCLI(t, env.configPath, "show", recs[0].ID)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, recs[0].ID)

	out, _, err = runCLI(t, env.configPath, "schedule", "pause", "horror")
	if err != nil {
		t.Fatalf("schedule pause: %v", err)
	}
	requireContains(t, out, "Schedule for horror paused")

	out, _, err = runCLI(t, env.configPath, "schedule", "list")
	if err != nil {
		t.Fatalf("schedule list: %v", err)
	}
	requireContains(t, out, "horror")

	out, _, err = runCLI(t, env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "(paused)")

	out, _, err = runCLI(t, env.configPath, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "ntfy topic not configured")

	if _, _, err := runCLI(t, env.configPath, "cancel", "missing"); err == nil {
		t.Fatal("expected cancel of unknown job to fail")
	}
}
