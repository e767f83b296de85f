package audit

import (
	"context"
	"time"
)

// Recorder accepts decision records. Implementations must not block the
// request path and must preserve the order records were submitted in.
type Recorder interface {
	Record(rec DecisionRecord)
}

// DecisionStore persists decision records.
// Interface owned by domain per hexagonal architecture.
type DecisionStore interface {
	// Append stores records in order.
	Append(ctx context.Context, records ...DecisionRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for decision queries.
type Filter struct {
	// StartTime and EndTime bound the timestamp (optional).
	StartTime time.Time
	EndTime   time.Time
	// Role filters by actor role (optional).
	Role string
	// Table filters by table (optional).
	Table string
	// Outcome filters by outcome (optional: "allow" or "deny").
	Outcome string
	// Limit is the maximum number of records to return (default 100, max 1000).
	Limit int
}

// EffectiveLimit clamps Limit to [1, 1000], defaulting to 100.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return 100
	case f.Limit > 1000:
		return 1000
	}
	return f.Limit
}

// Matches reports whether rec satisfies the filter.
func (f Filter) Matches(rec DecisionRecord) bool {
	if !f.StartTime.IsZero() && rec.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && rec.Timestamp.After(f.EndTime) {
		return false
	}
	if f.Role != "" && rec.Actor.Role != f.Role {
		return false
	}
	if f.Table != "" && rec.Table != f.Table {
		return false
	}
	if f.Outcome != "" && rec.Outcome != f.Outcome {
		return false
	}
	return true
}

// QueryStore provides read access to decision records, newest first.
// Separate from DecisionStore which handles writes.
type QueryStore interface {
	Query(ctx context.Context, filter Filter) ([]DecisionRecord, error)
}
