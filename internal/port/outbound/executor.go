// Package outbound defines the outbound port interfaces for reaching the
// database and the policy source.
package outbound

import (
	"context"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/domain/query"
)

// ResultSet is what an executor returns for one statement.
type ResultSet struct {
	// Columns are the result column names in result order.
	Columns []string
	// Rows are the result rows keyed by column name.
	Rows []map[string]any
	// RowCount is rows returned by reads and rows affected by mutations,
	// even when Rows is capped.
	RowCount int64
}

// Executor runs exactly one statement per call. It never rewrites SQL.
type Executor interface {
	Execute(ctx context.Context, stmt query.Statement) (*ResultSet, error)

	// Ping checks connectivity for health reporting.
	Ping(ctx context.Context) error

	// Close releases connections.
	Close() error
}

// PolicySource reads the permission configuration.
type PolicySource interface {
	// Read returns the decoded configuration and a fingerprint of its source.
	// Equal fingerprints mean an unchanged source.
	Read(ctx context.Context) (policy.RawConfig, uint64, error)
}
