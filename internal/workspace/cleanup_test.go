package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ytauto/internal/logging"
)

func makeJobDir(t *testing.T, root, line, id string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(root, line, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "script.txt"), []byte("once upon a time"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if age > 0 {
		at := time.Now().Add(-age)
		if err := os.Chtimes(dir, at, at); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	return dir
}

func TestListInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		dirs, err := List(dir)
		if err != nil || len(dirs) != 0 {
			t.Errorf("expected empty result for %q, got %v %v", dir, dirs, err)
		}
	}
}

func TestListReportsJobDirectories(t *testing.T) {
	root := t.TempDir()
	makeJobDir(t, root, "horror", "job-a", 0)
	makeJobDir(t, root, "facts", "job-b", 0)
	if err := os.WriteFile(filepath.Join(root, "stray.txt"), nil, 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	dirs, err := List(root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(dirs) != 2 {
		t.Fatalf("expected 2 job dirs, got %+v", dirs)
	}
	for _, d := range dirs {
		if d.Size != int64(len("once upon a time")) {
			t.Errorf("unexpected size for %s: %d", d.JobID, d.Size)
		}
	}
}

func TestCleanStaleRemovesOldJobs(t *testing.T) {
	root := t.TempDir()
	old := makeJobDir(t, root, "horror", "old", 48*time.Hour)
	kept := makeJobDir(t, root, "horror", "kept", 48*time.Hour)
	recent := makeJobDir(t, root, "horror", "recent", 0)
	lonely := makeJobDir(t, root, "finance", "lonely", 48*time.Hour)

	result := CleanStale(context.Background(), root, 24*time.Hour, map[string]struct{}{"kept": {}}, logging.NewNop())
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}
	if len(result.Removed) != 2 {
		t.Fatalf("expected 2 removals, got %v", result.Removed)
	}
	for _, gone := range []string{old, lonely, filepath.Dir(lonely)} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Errorf("expected %s removed", gone)
		}
	}
	for _, present := range []string{kept, recent} {
		if _, err := os.Stat(present); err != nil {
			t.Errorf("expected %s kept: %v", present, err)
		}
	}
}
