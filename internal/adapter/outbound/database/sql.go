package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Sentinel-Gate/querygate/internal/domain/query"
	"github.com/Sentinel-Gate/querygate/internal/port/outbound"
)

// SQLExecutor runs statements on a database/sql handle. It is used with
// the modernc SQLite driver.
type SQLExecutor struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLExecutor wraps db.
func NewSQLExecutor(db *sql.DB, logger *slog.Logger) *SQLExecutor {
	return &SQLExecutor{db: db, logger: logger}
}

// OpenSQL opens driver with dsn and verifies connectivity.
func OpenSQL(ctx context.Context, driver, dsn string, logger *slog.Logger) (*SQLExecutor, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}
	logger.Info("connected to database", "driver", driver)
	return NewSQLExecutor(db, logger), nil
}

// DB exposes the handle, for schema setup in development.
func (e *SQLExecutor) DB() *sql.DB { return e.db }

// Execute runs one statement.
func (e *SQLExecutor) Execute(ctx context.Context, stmt query.Statement) (*outbound.ResultSet, error) {
	if !stmt.Returning {
		res, err := e.db.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		return &outbound.ResultSet{Rows: []map[string]any{}, RowCount: n}, nil
	}

	rows, err := e.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	c := newRowCollector(cols, stmt.MaxRows)
	for !c.full() && rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := c.add(values); err != nil {
			return nil, err
		}
	}
	res := c.result()
	if mutates(stmt.Operation) {
		for rows.Next() {
			res.RowCount++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Ping checks connectivity.
func (e *SQLExecutor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Close closes the handle.
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

var _ outbound.Executor = (*SQLExecutor)(nil)
