// Package inbound defines the inbound port the HTTP and MCP adapters call.
package inbound

import (
	"context"

	"github.com/Sentinel-Gate/querygate/internal/domain/authz"
	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
)

// QueryResult is the outcome of an allowed request.
type QueryResult struct {
	RequestID        string           `json:"request_id"`
	Table            string           `json:"table,omitempty"`
	Operation        policy.Operation `json:"operation"`
	Columns          []string         `json:"columns,omitempty"`
	Rows             []map[string]any `json:"data"`
	RowCount         int64            `json:"count"`
	SnapshotRevision uint64           `json:"snapshot_revision"`
}

// ColumnInfo describes a column as visible to one role.
type ColumnInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Sensitive bool   `json:"sensitive,omitempty"`
}

// TableInfo describes a table as visible to one role.
type TableInfo struct {
	Name       string             `json:"name"`
	PrimaryKey string             `json:"primary_key,omitempty"`
	Columns    []ColumnInfo       `json:"columns"`
	Operations []policy.Operation `json:"operations"`
	RowFilter  bool               `json:"row_filtered"`
}

// Permissions summarizes what a role may do.
type Permissions struct {
	Role        string      `json:"role"`
	Description string      `json:"description,omitempty"`
	Tables      []TableInfo `json:"tables"`
	RawQueries  bool        `json:"raw_queries"`
}

// Gateway is the inbound port for query mediation.
type Gateway interface {
	// Execute authorizes, builds, runs and masks one request.
	Execute(ctx context.Context, req authz.Request) (*QueryResult, error)

	// ListTables returns the tables the actor may access.
	ListTables(ctx context.Context, actor policy.Actor) ([]string, error)

	// DescribeTable returns the table as visible to the actor.
	DescribeTable(ctx context.Context, actor policy.Actor, table string) (*TableInfo, error)

	// Permissions summarizes the actor's role.
	Permissions(ctx context.Context, actor policy.Actor) (*Permissions, error)
}
