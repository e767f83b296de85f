// Package query turns authorized queries into parameterized SQL. Every
// identifier it emits has been checked against the schema registry and is
// double-quoted; every value is bound as a parameter.
package query

import (
	"fmt"
	"strconv"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
)

// Dialect selects placeholder syntax.
type Dialect string

const (
	// Postgres uses numbered $n placeholders.
	Postgres Dialect = "postgres"
	// SQLite uses positional ? placeholders.
	SQLite Dialect = "sqlite"
)

// ParseDialect validates a dialect name. Empty means Postgres.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case "", Postgres:
		return Postgres, nil
	case SQLite:
		return SQLite, nil
	}
	return "", fmt.Errorf("unknown dialect %q", s)
}

func (d Dialect) placeholder(n int) string {
	if d == SQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// Statement is the builder output handed to an executor.
type Statement struct {
	// SQL is the statement text.
	SQL string
	// Args are the bound parameters in placeholder order.
	Args []any
	// Returning is true when the statement yields rows.
	Returning bool
	// MaxRows caps the rows an executor reads.
	MaxRows int
	// Table is the target table, "" for a raw query without one.
	Table string
	// Operation is the authorized operation.
	Operation policy.Operation
	// Actor is the caller, for executors that set session-scoped context.
	Actor policy.Actor
}

// Limits bounds result sizes.
type Limits struct {
	// DefaultPageSize applies when no limit is requested.
	DefaultPageSize int
	// MaxPageSize clamps requested limits.
	MaxPageSize int
	// HardRowCap is the absolute maximum, applied last.
	HardRowCap int
}

// DefaultLimits mirrors the stock configuration.
func DefaultLimits() Limits {
	return Limits{DefaultPageSize: 100, MaxPageSize: 1000, HardRowCap: 10000}
}

// ErrorKind classifies a build failure.
type ErrorKind string

const (
	InvalidPagination    ErrorKind = "invalid_pagination"
	EmptyAssignment      ErrorKind = "empty_assignment"
	GeneratedColumn      ErrorKind = "generated_column"
	InvalidFilter        ErrorKind = "invalid_filter"
	RawQueryRejected     ErrorKind = "raw_query_rejected"
	UnsupportedOperation ErrorKind = "unsupported_operation"
	MissingPredicate     ErrorKind = "missing_predicate"
)

// BuildError reports a malformed request the builder refused.
type BuildError struct {
	Kind ErrorKind
	Msg  string
}

func (e *BuildError) Error() string {
	return string(e.Kind) + ": " + e.Msg
}

func buildErr(kind ErrorKind, format string, args ...any) error {
	return &BuildError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
