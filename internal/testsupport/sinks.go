package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"ytauto/internal/queue"
)

// RecordingSink captures every terminal record it receives.
type RecordingSink struct {
	mu      sync.Mutex
	records []queue.Record
	notify  chan struct{}
	// Err, when set, is returned from every call after recording.
	Err error
}

// NewRecordingSink returns an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{notify: make(chan struct{}, 1)}
}

// RecordJobResult stores rec.
func (s *RecordingSink) RecordJobResult(_ context.Context, rec queue.Record) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	err := s.Err
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return err
}

// Records returns a copy of what has been recorded so far.
func (s *RecordingSink) Records() []queue.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]queue.Record(nil), s.records...)
}

// Find returns the record for id.
func (s *RecordingSink) Find(id string) (queue.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return queue.Record{}, false
}

// WaitFor blocks until at least n records arrived or fails the test after
// timeout.
func (s *RecordingSink) WaitFor(t testing.TB, n int, timeout time.Duration) []queue.Record {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if recs := s.Records(); len(recs) >= n {
			return recs
		}
		select {
		case <-s.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %d records, have %d", n, len(s.Records()))
		}
	}
}
