// Package audit contains domain types for decision records.
package audit

import "time"

// Outcome constants for decision records.
const (
	// OutcomeAllow indicates the request was executed.
	OutcomeAllow = "allow"
	// OutcomeDeny indicates the request was refused or failed.
	OutcomeDeny = "deny"
)

// Actor identifies who made a request.
type Actor struct {
	UserID   *int64 `json:"user_id,omitempty"`
	Role     string `json:"role"`
	TenantID *int64 `json:"tenant_id,omitempty"`
}

// DecisionRecord is one authorization decision. Exactly one record is
// produced per request, allowed or denied.
type DecisionRecord struct {
	// RequestID correlates the record with logs and responses.
	RequestID string `json:"request_id"`
	// Timestamp is when the request was received (UTC).
	Timestamp time.Time `json:"timestamp"`
	// Actor is the caller.
	Actor Actor `json:"actor"`
	// Table is the target table, empty for raw queries without one.
	Table string `json:"table,omitempty"`
	// Operation is the normalized operation.
	Operation string `json:"operation"`
	// ColumnsRequested are the columns the caller asked for.
	ColumnsRequested []string `json:"columns_requested,omitempty"`
	// ColumnsGranted are the columns the statement touched.
	ColumnsGranted []string `json:"columns_granted,omitempty"`
	// Outcome is OutcomeAllow or OutcomeDeny.
	Outcome string `json:"outcome"`
	// Reason is the specific denial reason, or "ok".
	Reason string `json:"reason"`
	// Detail is the internal error text for denials.
	Detail string `json:"detail,omitempty"`
	// RowCount is the rows returned or affected.
	RowCount int64 `json:"row_count"`
	// SnapshotRevision is the policy revision the decision used.
	SnapshotRevision uint64 `json:"snapshot_revision"`
	// LatencyMicros is the end-to-end latency in microseconds.
	LatencyMicros int64 `json:"latency_micros"`
}

// Allowed reports whether the record is an allow.
func (r DecisionRecord) Allowed() bool {
	return r.Outcome == OutcomeAllow
}
