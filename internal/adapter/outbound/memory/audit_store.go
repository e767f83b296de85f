// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/Sentinel-Gate/querygate/internal/domain/audit"
)

const defaultRecentCap = 1000

// DecisionStore implements audit.DecisionStore writing JSON lines to stdout
// or a file. It also keeps a bounded ring of recent records for queries.
type DecisionStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	// recent is a ring of the most recent records; next is the write slot.
	recent []audit.DecisionRecord
	next   int
	full   bool
}

// resolveCapacity returns the first positive capacity value, or defaultRecentCap.
func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewDecisionStore creates a store writing to stdout.
// An optional capacity parameter sets the ring size (default 1000).
func NewDecisionStore(capacity ...int) *DecisionStore {
	return NewDecisionStoreWithWriter(os.Stdout, capacity...)
}

// NewDecisionStoreWithWriter creates a store writing to w. A nil writer
// keeps records in memory only.
func NewDecisionStoreWithWriter(w io.Writer, capacity ...int) *DecisionStore {
	s := &DecisionStore{
		writer: w,
		recent: make([]audit.DecisionRecord, resolveCapacity(capacity...)),
	}
	if w != nil {
		s.encoder = json.NewEncoder(w)
	}
	return s
}

// Append writes records as JSON lines in order and keeps them in the ring.
func (s *DecisionStore) Append(_ context.Context, records ...audit.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if s.encoder != nil {
			if err := s.encoder.Encode(r); err != nil {
				return err
			}
		}
		s.recent[s.next] = r
		s.next++
		if s.next == len(s.recent) {
			s.next = 0
			s.full = true
		}
	}
	return nil
}

// Flush is a no-op; records are written unbuffered.
func (s *DecisionStore) Flush(context.Context) error {
	return nil
}

// Close closes the output file unless it is stdout or stderr.
func (s *DecisionStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

func (s *DecisionStore) size() int {
	if s.full {
		return len(s.recent)
	}
	return s.next
}

// at returns the i-th newest record. Caller holds mu.
func (s *DecisionStore) at(i int) audit.DecisionRecord {
	idx := s.next - 1 - i
	if idx < 0 {
		idx += len(s.recent)
	}
	return s.recent[idx]
}

// GetRecent returns the n most recent records, newest first.
func (s *DecisionStore) GetRecent(n int) []audit.DecisionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	n = min(n, s.size())
	if n <= 0 {
		return nil
	}
	result := make([]audit.DecisionRecord, n)
	for i := range n {
		result[i] = s.at(i)
	}
	return result
}

// Query returns records from the ring matching filter, newest first.
func (s *DecisionStore) Query(_ context.Context, filter audit.Filter) ([]audit.DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.EffectiveLimit()
	result := []audit.DecisionRecord{}
	for i := 0; i < s.size() && len(result) < limit; i++ {
		if rec := s.at(i); filter.Matches(rec) {
			result = append(result, rec)
		}
	}
	return result, nil
}

// Compile-time interface verification.
var (
	_ audit.DecisionStore = (*DecisionStore)(nil)
	_ audit.QueryStore    = (*DecisionStore)(nil)
)
