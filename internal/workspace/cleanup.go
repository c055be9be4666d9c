package workspace

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ytauto/internal/logging"
)

// Dir is one job's working directory under output_dir/<line>/<job id>.
type Dir struct {
	Line    string    `json:"line"`
	JobID   string    `json:"job_id"`
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}

// CleanResult contains the outcome of a cleanup pass.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// List returns every job directory below root, grouped by line directory.
func List(root string) ([]Dir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, nil
	}
	lines, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []Dir
	for _, line := range lines {
		if !line.IsDir() {
			continue
		}
		linePath := filepath.Join(root, line.Name())
		jobs, err := os.ReadDir(linePath)
		if err != nil {
			continue
		}
		for _, job := range jobs {
			if !job.IsDir() {
				continue
			}
			info, err := job.Info()
			if err != nil {
				continue
			}
			jobPath := filepath.Join(linePath, job.Name())
			size, _ := dirSize(jobPath)
			dirs = append(dirs, Dir{
				Line:    line.Name(),
				JobID:   job.Name(),
				Path:    jobPath,
				ModTime: info.ModTime(),
				Size:    size,
			})
		}
	}
	return dirs, nil
}

// CleanStale removes job directories older than maxAge, skipping ids in keep.
// Line directories left empty are removed as well.
func CleanStale(ctx context.Context, root string, maxAge time.Duration, keep map[string]struct{}, logger *slog.Logger) CleanResult {
	result := CleanResult{}
	if logger == nil {
		logger = logging.NewNop()
	}

	dirs, err := List(root)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	touched := make(map[string]struct{})
	for _, dir := range dirs {
		if ctx.Err() != nil {
			break
		}
		if _, active := keep[dir.JobID]; active || !dir.ModTime.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir.Path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir.Path, Error: err})
			logger.Warn("failed to remove job workspace",
				logging.String("path", dir.Path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "workspace_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check output_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dir.Path)
		touched[filepath.Dir(dir.Path)] = struct{}{}
		logger.Info("removed job workspace",
			logging.String("path", dir.Path),
			logging.JobID(dir.JobID),
			logging.Line(dir.Line),
			logging.Duration("age", time.Since(dir.ModTime)),
			logging.String(logging.FieldEventType, "workspace_cleanup"),
		)
	}

	for lineDir := range touched {
		if entries, err := os.ReadDir(lineDir); err == nil && len(entries) == 0 {
			_ = os.Remove(lineDir)
		}
	}
	return result
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
