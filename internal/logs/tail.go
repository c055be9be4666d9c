package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	maxLineBytes = 1024 * 1024
	followPoll   = 250 * time.Millisecond
)

// TailOptions controls a Tail call. A negative Offset returns the last Limit
// lines; otherwise reading resumes at Offset. Match, when set, drops lines it
// rejects before Limit is applied.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	Match  func(line string) bool
}

// TailResult carries the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// MatchFields matches JSON log lines whose attributes equal every non-empty
// value in fields. Lines that are not JSON never match.
func MatchFields(fields map[string]string) func(string) bool {
	want := make(map[string]string, len(fields))
	for k, v := range fields {
		if v = strings.TrimSpace(v); v != "" {
			want[k] = v
		}
	}
	if len(want) == 0 {
		return nil
	}
	return func(line string) bool {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return false
		}
		for k, v := range want {
			got, ok := entry[k].(string)
			if !ok || !strings.EqualFold(got, v) {
				return false
			}
		}
		return true
	}
}

// Tail reads the log file at path. A missing file yields an empty result.
// An Offset past the end of the file means the log was rotated, so reading
// restarts at the beginning of the new file.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return TailResult{}, nil
	case err != nil:
		return TailResult{Offset: opts.Offset}, fmt.Errorf("stat log file: %w", err)
	case info.IsDir():
		return TailResult{Offset: opts.Offset}, fmt.Errorf("log path %q is a directory", path)
	}
	opts.Wait = max(opts.Wait, 0)

	var (
		lines []string
		end   int64
	)
	switch {
	case opts.Offset < 0 && opts.Limit <= 0:
		end = info.Size()
	case opts.Offset < 0:
		lines, end, err = scan(path, 0, opts.Match, opts.Limit)
	default:
		offset := opts.Offset
		if offset > info.Size() {
			offset = 0
		}
		lines, end, err = scan(path, offset, opts.Match, 0)
	}
	if err != nil {
		return TailResult{Offset: opts.Offset}, err
	}
	if opts.Follow && opts.Wait > 0 && len(lines) == 0 {
		return follow(ctx, path, end, opts)
	}
	return TailResult{Lines: lines, Offset: end}, nil
}

// scan reads lines from offset to the end of the file and returns the offset
// reached. keep > 0 retains only the last keep matching lines.
func scan(path string, offset int64, match func(string) bool, keep int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var lines []string
	for scanner.Scan() {
		text := scanner.Text()
		if match != nil && !match(text) {
			continue
		}
		lines = append(lines, text)
		if keep > 0 && len(lines) > 2*keep {
			lines = append(lines[:0], lines[len(lines)-keep:]...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}
	if keep > 0 && len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	end, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}
	return lines, end, nil
}

// follow polls for new lines after offset until one arrives, opts.Wait
// elapses or ctx ends.
func follow(ctx context.Context, path string, offset int64, opts TailOptions) (TailResult, error) {
	timer := time.NewTimer(opts.Wait)
	defer timer.Stop()
	ticker := time.NewTicker(followPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return TailResult{Offset: offset}, ctx.Err()
		case <-timer.C:
			return TailResult{Offset: offset}, nil
		case <-ticker.C:
		}
		res, err := Tail(ctx, path, TailOptions{Offset: offset, Match: opts.Match})
		if err != nil {
			return TailResult{Offset: offset}, err
		}
		offset = res.Offset
		if len(res.Lines) > 0 {
			return res, nil
		}
	}
}
