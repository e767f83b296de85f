package database

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/domain/query"
	"github.com/Sentinel-Gate/querygate/internal/port/outbound"
)

// PostgresConfig configures PostgresExecutor.
type PostgresConfig struct {
	// DSN is a libpq-style connection string or URL.
	DSN string
	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32
	// TenantSetting names a session setting (e.g. app.current_tenant) set
	// to the caller's tenant id inside each transaction, for databases
	// that enforce row-level security. Empty disables it.
	TenantSetting string
}

// PostgresExecutor runs statements on a pgx pool. Each statement runs in
// its own transaction; reads and raw queries use a read-only transaction.
type PostgresExecutor struct {
	pool          *pgxpool.Pool
	tenantSetting string
	logger        *slog.Logger
}

// NewPostgresExecutor connects a pool and verifies connectivity.
func NewPostgresExecutor(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresExecutor, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("connected to postgres",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns,
	)
	return &PostgresExecutor{pool: pool, tenantSetting: cfg.TenantSetting, logger: logger}, nil
}

func readOnly(op policy.Operation) bool {
	return op == policy.OpRead || op == policy.OpAdmin
}

// Execute runs one statement.
func (e *PostgresExecutor) Execute(ctx context.Context, stmt query.Statement) (*outbound.ResultSet, error) {
	opts := pgx.TxOptions{}
	if readOnly(stmt.Operation) {
		opts.AccessMode = pgx.ReadOnly
	}
	tx, err := e.pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if e.tenantSetting != "" && stmt.Actor.TenantID != nil {
		if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, e.tenantSetting, strconv.FormatInt(*stmt.Actor.TenantID, 10)); err != nil {
			return nil, fmt.Errorf("set tenant context: %w", err)
		}
	}

	var res *outbound.ResultSet
	if stmt.Returning {
		res, err = e.query(ctx, tx, stmt)
	} else {
		var tag pgconn.CommandTag
		tag, err = tx.Exec(ctx, stmt.SQL, stmt.Args...)
		if err == nil {
			res = &outbound.ResultSet{Rows: []map[string]any{}, RowCount: tag.RowsAffected()}
		}
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func (e *PostgresExecutor) query(ctx context.Context, tx pgx.Tx, stmt query.Statement) (*outbound.ResultSet, error) {
	rows, err := tx.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	c := newRowCollector(cols, stmt.MaxRows)
	for !c.full() && rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if err := c.add(values); err != nil {
			return nil, err
		}
	}
	if c.full() {
		e.logger.Debug("row cap reached", "table", stmt.Table, "max_rows", stmt.MaxRows)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := c.result()
	if mutates(stmt.Operation) {
		res.RowCount = rows.CommandTag().RowsAffected()
	}
	return res, nil
}

// Ping checks connectivity.
func (e *PostgresExecutor) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

// Close closes the pool.
func (e *PostgresExecutor) Close() error {
	e.pool.Close()
	return nil
}

var _ outbound.Executor = (*PostgresExecutor)(nil)
