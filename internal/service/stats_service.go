package service

import (
	"sync"
	"sync/atomic"

	"github.com/Sentinel-Gate/querygate/internal/domain/audit"
)

// StatsService tracks decision counts using lock-free atomic counters.
// All counter operations are safe for concurrent access from multiple goroutines.
type StatsService struct {
	allowed atomic.Int64
	denied  atomic.Int64
	rows    atomic.Int64

	// Per-reason and per-role counters (mutex-protected maps).
	mu           sync.Mutex
	reasonCounts map[string]int64
	roleCounts   map[string]int64
}

// NewStatsService creates a new StatsService with all counters initialized to zero.
func NewStatsService() *StatsService {
	return &StatsService{
		reasonCounts: make(map[string]int64),
		roleCounts:   make(map[string]int64),
	}
}

// ObserveDecision counts one decision record.
func (s *StatsService) ObserveDecision(rec audit.DecisionRecord) {
	if rec.Allowed() {
		s.allowed.Add(1)
		s.rows.Add(rec.RowCount)
	} else {
		s.denied.Add(1)
	}
	s.mu.Lock()
	if !rec.Allowed() && rec.Reason != "" {
		s.reasonCounts[rec.Reason]++
	}
	if rec.Actor.Role != "" {
		s.roleCounts[rec.Actor.Role]++
	}
	s.mu.Unlock()
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	Allowed      int64            `json:"allowed"`
	Denied       int64            `json:"denied"`
	RowsReturned int64            `json:"rows_returned"`
	DenyReasons  map[string]int64 `json:"deny_reasons"`
	Roles        map[string]int64 `json:"roles"`
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	rc := make(map[string]int64, len(s.reasonCounts))
	for k, v := range s.reasonCounts {
		rc[k] = v
	}
	roles := make(map[string]int64, len(s.roleCounts))
	for k, v := range s.roleCounts {
		roles[k] = v
	}
	s.mu.Unlock()

	return Stats{
		Allowed:      s.allowed.Load(),
		Denied:       s.denied.Load(),
		RowsReturned: s.rows.Load(),
		DenyReasons:  rc,
		Roles:        roles,
	}
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	s.allowed.Store(0)
	s.denied.Store(0)
	s.rows.Store(0)

	s.mu.Lock()
	s.reasonCounts = make(map[string]int64)
	s.roleCounts = make(map[string]int64)
	s.mu.Unlock()
}

// MultiObserver fans one decision out to several observers.
type MultiObserver []DecisionObserver

// ObserveDecision forwards rec to every observer.
func (m MultiObserver) ObserveDecision(rec audit.DecisionRecord) {
	for _, o := range m {
		if o != nil {
			o.ObserveDecision(rec)
		}
	}
}
