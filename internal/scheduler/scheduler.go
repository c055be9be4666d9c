package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/WatchBeam/clock"

	"ytauto/internal/logging"
)

const defaultPollInterval = 30 * time.Second

// EnqueueFunc is invoked for every rule that fires.
type EnqueueFunc func(ctx context.Context, lineID string) error

// Entry binds rules to a content line.
type Entry struct {
	LineID  string
	Rules   []Rule
	Enabled bool
}

// Fire is one scheduled occurrence.
type Fire struct {
	LineID string    `json:"line_id"`
	At     time.Time `json:"at"`
	Rule   string    `json:"rule"`
}

// Options configures a Scheduler.
type Options struct {
	Clock    clock.Clock
	Poll     time.Duration
	Location *time.Location
	Logger   *slog.Logger
}

// Scheduler polls its rules and enqueues a job for every occurrence that fell
// inside the last poll window. Missed windows are never replayed: the window
// restarts at Start.
type Scheduler struct {
	mu       sync.Mutex
	entries  []Entry
	clock    clock.Clock
	poll     time.Duration
	loc      *time.Location
	logger   *slog.Logger
	enqueue  EnqueueFunc
	lastTick time.Time
	anchor   time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a scheduler over entries. The evaluation window starts now.
func New(entries []Entry, enqueue EnqueueFunc, opts Options) *Scheduler {
	clk := opts.Clock
	if clk == nil {
		clk = clock.C
	}
	poll := opts.Poll
	if poll <= 0 {
		poll = defaultPollInterval
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	copied := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e.Rules = append([]Rule(nil), e.Rules...)
		copied = append(copied, e)
	}
	now := clk.Now()
	return &Scheduler{
		entries:  copied,
		clock:    clk,
		poll:     poll,
		loc:      loc,
		logger:   logging.NewComponentLogger(opts.Logger, "scheduler"),
		enqueue:  enqueue,
		lastTick: now,
		anchor:   now,
	}
}

// Start resets the window to now and launches the poll loop. Calling Start on
// a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	if s.enqueue == nil {
		return fmt.Errorf("scheduler: enqueue callback required")
	}
	now := s.clock.Now()
	s.lastTick = now
	s.anchor = now
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)
	s.logger.Info("scheduler started",
		logging.String(logging.FieldEventType, "scheduler_started"),
		logging.Duration("poll_interval", s.poll),
		logging.String("timezone", s.loc.String()),
		logging.Int("entries", len(s.entries)),
	)
	return nil
}

// Stop halts the poll loop and waits for it to exit. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped", logging.String(logging.FieldEventType, "scheduler_stopped"))
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.poll):
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every enabled rule against (lastTick, now], enqueues once
// per rule that fired, and advances the window. It returns what fired.
func (s *Scheduler) Tick(ctx context.Context) []Fire {
	s.mu.Lock()
	now := s.clock.Now()
	from := s.lastTick
	s.lastTick = now
	var fires []Fire
	if now.After(from) {
		for _, e := range s.entries {
			if !e.Enabled {
				continue
			}
			for _, r := range e.Rules {
				next := r.Next(from, s.anchor, s.loc)
				if next.IsZero() || next.After(now) {
					continue
				}
				fires = append(fires, Fire{LineID: e.LineID, At: next, Rule: r.String()})
			}
		}
	}
	s.mu.Unlock()

	for _, f := range fires {
		if err := s.enqueue(ctx, f.LineID); err != nil {
			logging.WarnWithContext(s.logger, "scheduled enqueue failed", "schedule_enqueue_failed",
				logging.Line(f.LineID),
				logging.String("rule", f.Rule),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the orchestrator is running and the queue has room"),
				logging.String(logging.FieldImpact, "this occurrence is skipped"),
			)
			continue
		}
		s.logger.Info("schedule fired",
			logging.String(logging.FieldEventType, "schedule_fired"),
			logging.Line(f.LineID),
			logging.String("rule", f.Rule),
			logging.Time("occurrence", f.At),
		)
	}
	return fires
}

// NextFireTimes returns the next occurrence of every enabled rule, sorted by
// time.
func (s *Scheduler) NextFireTimes() []Fire {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	var out []Fire
	for _, e := range s.entries {
		if !e.Enabled {
			continue
		}
		for _, r := range e.Rules {
			next := r.Next(now, s.anchor, s.loc)
			if next.IsZero() {
				continue
			}
			out = append(out, Fire{LineID: e.LineID, At: next, Rule: r.String()})
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].At.Before(out[k].At) })
	return out
}

// SetEnabled pauses or resumes every rule of a line.
func (s *Scheduler) SetEnabled(lineID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if strings.EqualFold(s.entries[i].LineID, lineID) {
			s.entries[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("scheduler: no schedule for line %q", lineID)
}

// Entries returns a copy of the schedule table.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		e.Rules = append([]Rule(nil), e.Rules...)
		out = append(out, e)
	}
	return out
}

// Location returns the timezone calendar rules are evaluated in.
func (s *Scheduler) Location() *time.Location { return s.loc }
