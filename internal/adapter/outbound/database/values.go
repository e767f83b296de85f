// Package database implements the Executor port over PostgreSQL (pgxpool)
// and database/sql drivers.
package database

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/port/outbound"
)

// mutates reports whether op changes rows. Mutations report rows affected,
// not rows returned.
func mutates(op policy.Operation) bool {
	return op == policy.OpInsert || op == policy.OpUpdate || op == policy.OpDelete
}

// normalizeValue converts driver values into JSON-friendly ones.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	}
	return v
}

// rowCollector accumulates rows up to a cap.
type rowCollector struct {
	columns []string
	rows    []map[string]any
	max     int
}

func newRowCollector(columns []string, max int) *rowCollector {
	return &rowCollector{columns: columns, rows: []map[string]any{}, max: max}
}

// full reports whether the cap has been reached.
func (c *rowCollector) full() bool {
	return c.max > 0 && len(c.rows) >= c.max
}

func (c *rowCollector) add(values []any) error {
	if len(values) != len(c.columns) {
		return fmt.Errorf("row has %d values for %d columns", len(values), len(c.columns))
	}
	row := make(map[string]any, len(values))
	for i, v := range values {
		row[c.columns[i]] = normalizeValue(v)
	}
	c.rows = append(c.rows, row)
	return nil
}

func (c *rowCollector) result() *outbound.ResultSet {
	return &outbound.ResultSet{Columns: c.columns, Rows: c.rows, RowCount: int64(len(c.rows))}
}
