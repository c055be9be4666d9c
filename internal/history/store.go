package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ytauto/internal/queue"
)

// Store persists terminal job records in SQLite. It satisfies the result
// sink contract through RecordJobResult.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Filter narrows Recent listings.
type Filter struct {
	LineID string
	State  queue.State
	Limit  int
}

// LineStats aggregates terminal outcomes for one line.
type LineStats struct {
	LineID    string        `json:"line_id"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
	LastRun   *time.Time    `json:"last_run,omitempty"`
	AvgRun    time.Duration `json:"avg_run"`
}

const defaultRecentLimit = 20

// Open initializes or connects to the history database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// RecordJobResult upserts the terminal snapshot of a job.
func (s *Store) RecordJobResult(ctx context.Context, rec queue.Record) error {
	if !rec.State.Terminal() {
		return fmt.Errorf("record job %s: state %s is not terminal", rec.ID, rec.State)
	}
	attempts, err := marshalOptional(rec.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	artifacts, err := marshalOptional(rec.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	var (
		errStage, errKind, errClass, errMessage, errIssues sql.NullString
	)
	if f := rec.Error; f != nil {
		errStage = nullableString(f.Stage)
		errKind = nullableString(string(f.Kind))
		errClass = nullableString(string(f.Class))
		errMessage = nullableString(f.Message)
		if errIssues, err = marshalOptional(f.Issues); err != nil {
			return fmt.Errorf("marshal issues: %w", err)
		}
	}

	_, err = s.execWithRetry(ctx,
		`INSERT INTO jobs (
            id, line_id, priority, trigger_kind, state, current_stage,
            attempts_json, artifacts_json,
            error_stage, error_kind, error_class, error_message, error_issues_json,
            result, created_at, started_at, finished_at, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            state = excluded.state,
            current_stage = excluded.current_stage,
            attempts_json = excluded.attempts_json,
            artifacts_json = excluded.artifacts_json,
            error_stage = excluded.error_stage,
            error_kind = excluded.error_kind,
            error_class = excluded.error_class,
            error_message = excluded.error_message,
            error_issues_json = excluded.error_issues_json,
            result = excluded.result,
            started_at = excluded.started_at,
            finished_at = excluded.finished_at,
            recorded_at = excluded.recorded_at`,
		rec.ID,
		rec.LineID,
		rec.Priority,
		string(rec.Trigger),
		string(rec.State),
		nullableString(rec.CurrentStage),
		attempts,
		artifacts,
		errStage,
		errKind,
		errClass,
		errMessage,
		errIssues,
		nullableString(rec.Result),
		rec.CreatedAt.UTC().Format(timeLayout),
		nullableTime(rec.StartedAt),
		nullableTime(rec.FinishedAt),
		s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the stored record for id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*queue.Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec, nil
}

// Recent lists records newest first.
func (s *Store) Recent(ctx context.Context, filter Filter) ([]queue.Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	var (
		where []string
		args  []any
	)
	if line := strings.TrimSpace(filter.LineID); line != "" {
		where = append(where, "line_id = ? COLLATE NOCASE")
		args = append(args, line)
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY COALESCE(finished_at, created_at) DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []queue.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// RecentTitles returns the script titles of the line's latest succeeded jobs,
// newest first. The script stage records its title as the artifact ref.
func (s *Store) RecentTitles(ctx context.Context, lineID string, limit int) ([]string, error) {
	recs, err := s.Recent(ctx, Filter{LineID: lineID, State: queue.StateSucceeded, Limit: limit})
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(recs))
	for _, rec := range recs {
		if title := strings.TrimSpace(rec.Artifacts["script"]); title != "" {
			titles = append(titles, title)
		}
	}
	return titles, nil
}

// Stats aggregates outcomes per line, ordered by line id.
func (s *Store) Stats(ctx context.Context) ([]LineStats, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `
        SELECT line_id,
               COUNT(1),
               SUM(CASE WHEN state = ? THEN 1 ELSE 0 END),
               SUM(CASE WHEN state = ? THEN 1 ELSE 0 END),
               SUM(CASE WHEN state = ? THEN 1 ELSE 0 END),
               MAX(finished_at),
               AVG(CASE WHEN started_at IS NOT NULL AND finished_at IS NOT NULL
                        THEN (julianday(finished_at) - julianday(started_at)) * 86400.0 END)
        FROM jobs
        GROUP BY line_id
        ORDER BY line_id`,
		string(queue.StateSucceeded), string(queue.StateFailed), string(queue.StateCancelled))
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var out []LineStats
	for rows.Next() {
		var (
			st      LineStats
			lastRaw sql.NullString
			avgSecs sql.NullFloat64
		)
		if err := rows.Scan(&st.LineID, &st.Total, &st.Succeeded, &st.Failed, &st.Cancelled, &lastRaw, &avgSecs); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		if lastRaw.Valid {
			if t, err := parseTimeString(lastRaw.String); err == nil {
				st.LastRun = &t
			}
		}
		if avgSecs.Valid {
			st.AvgRun = time.Duration(avgSecs.Float64 * float64(time.Second)).Round(time.Millisecond)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Prune deletes records that finished before cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE finished_at IS NOT NULL AND finished_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
