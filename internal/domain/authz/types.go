// Package authz decides whether a request is allowed and, if so, produces
// the fully resolved query the builder turns into SQL.
package authz

import (
	"time"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
)

// Sort is one ORDER BY term.
type Sort struct {
	Column     string `json:"column"`
	Descending bool   `json:"desc,omitempty"`
}

// Request is a caller request after identity resolution.
type Request struct {
	// Actor is the trusted caller identity.
	Actor policy.Actor
	// Table is the target table. May be empty for admin raw queries.
	Table string
	// Operation is the requested operation. OpWrite is normalized.
	Operation policy.Operation
	// Columns are the requested result columns. Empty means all granted.
	Columns []string
	// Filters are caller equality filters, ANDed with the row filter.
	Filters map[string]any
	// Values are the column values for insert and update.
	Values map[string]any
	// OrderBy is the requested ordering.
	OrderBy []Sort
	// Limit and Offset page the result. Nil means defaults.
	Limit  *int
	Offset *int
	// RawSQL and RawArgs carry an admin raw SELECT.
	RawSQL  string
	RawArgs []any
	// RequestTime is passed to permission conditions. Zero means now.
	RequestTime time.Time
}

// Filter is one caller filter resolved against the schema.
type Filter struct {
	Column string
	Value  any
}

// Value is one insert or update assignment.
type Value struct {
	Column string
	Value  any
}

// Page is the requested page before clamping.
type Page struct {
	Limit  *int
	Offset *int
}

// AuthorizedQuery is the engine's output: everything the builder needs,
// already checked against one snapshot. It is built per request and never
// cached.
type AuthorizedQuery struct {
	SnapshotRevision uint64
	Actor            policy.Actor
	Table            *policy.TableSchema
	Operation        policy.Operation
	// Columns are the resolved result or assignment columns in schema order.
	Columns []string
	// Granted are all columns the role may touch on the table, in schema order.
	Granted []string
	// RowFilter is the bound mandatory predicate, nil when the role has none.
	RowFilter *BoundPredicate
	// Filters are caller filters in schema column order.
	Filters []Filter
	// Values are assignments in schema column order, including forced values.
	Values            []Value
	OrderBy           []Sort
	Page              Page
	AllowUnrestricted bool
	RawSQL            string
	RawArgs           []any
}

// BoundPredicate aliases the policy type so callers need only this package.
type BoundPredicate = policy.BoundPredicate

// TableName returns the target table name, or "" for a raw query without one.
func (q *AuthorizedQuery) TableName() string {
	if q.Table == nil {
		return ""
	}
	return q.Table.Name
}
