// Package sqlite persists decision records in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Sentinel-Gate/querygate/internal/domain/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id        TEXT NOT NULL,
	ts                INTEGER NOT NULL,
	role              TEXT NOT NULL,
	user_id           INTEGER,
	tenant_id         INTEGER,
	table_name        TEXT NOT NULL DEFAULT '',
	operation         TEXT NOT NULL,
	columns_requested TEXT NOT NULL DEFAULT '[]',
	columns_granted   TEXT NOT NULL DEFAULT '[]',
	outcome           TEXT NOT NULL,
	reason            TEXT NOT NULL,
	detail            TEXT NOT NULL DEFAULT '',
	row_count         INTEGER NOT NULL DEFAULT 0,
	snapshot_revision INTEGER NOT NULL,
	latency_micros    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts);
CREATE INDEX IF NOT EXISTS idx_decisions_role ON decisions(role, ts);
`

// DecisionStore implements audit.DecisionStore and audit.QueryStore on SQLite.
type DecisionStore struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*DecisionStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; the audit worker is the only producer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &DecisionStore{db: db}, nil
}

// Append inserts records in one transaction, preserving order.
func (s *DecisionStore) Append(ctx context.Context, records ...audit.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO decisions (
		request_id, ts, role, user_id, tenant_id, table_name, operation,
		columns_requested, columns_granted, outcome, reason, detail,
		row_count, snapshot_revision, latency_micros
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		requested, _ := json.Marshal(nonNil(r.ColumnsRequested))
		granted, _ := json.Marshal(nonNil(r.ColumnsGranted))
		if _, err := stmt.ExecContext(ctx,
			r.RequestID, r.Timestamp.UTC().UnixNano(), r.Actor.Role, r.Actor.UserID, r.Actor.TenantID,
			r.Table, r.Operation, string(requested), string(granted), r.Outcome, r.Reason, r.Detail,
			r.RowCount, int64(r.SnapshotRevision), r.LatencyMicros,
		); err != nil {
			return fmt.Errorf("insert decision %s: %w", r.RequestID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Flush is a no-op; every Append commits.
func (s *DecisionStore) Flush(context.Context) error { return nil }

// Close closes the database.
func (s *DecisionStore) Close() error { return s.db.Close() }

// Query returns matching records, newest first.
func (s *DecisionStore) Query(ctx context.Context, f audit.Filter) ([]audit.DecisionRecord, error) {
	var (
		where []string
		args  []any
	)
	if !f.StartTime.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.StartTime.UTC().UnixNano())
	}
	if !f.EndTime.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, f.EndTime.UTC().UnixNano())
	}
	if f.Role != "" {
		where = append(where, "role = ?")
		args = append(args, f.Role)
	}
	if f.Table != "" {
		where = append(where, "table_name = ?")
		args = append(args, f.Table)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}

	q := `SELECT request_id, ts, role, user_id, tenant_id, table_name, operation,
		columns_requested, columns_granted, outcome, reason, detail,
		row_count, snapshot_revision, latency_micros FROM decisions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq DESC LIMIT ?"
	args = append(args, f.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []audit.DecisionRecord{}
	for rows.Next() {
		var (
			r                  audit.DecisionRecord
			ts                 int64
			userID, tenantID   sql.NullInt64
			requested, granted string
			revision           int64
		)
		if err := rows.Scan(&r.RequestID, &ts, &r.Actor.Role, &userID, &tenantID, &r.Table, &r.Operation,
			&requested, &granted, &r.Outcome, &r.Reason, &r.Detail,
			&r.RowCount, &revision, &r.LatencyMicros); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.SnapshotRevision = uint64(revision)
		if userID.Valid {
			r.Actor.UserID = &userID.Int64
		}
		if tenantID.Valid {
			r.Actor.TenantID = &tenantID.Int64
		}
		if err := json.Unmarshal([]byte(requested), &r.ColumnsRequested); err != nil {
			return nil, fmt.Errorf("decode columns_requested: %w", err)
		}
		if err := json.Unmarshal([]byte(granted), &r.ColumnsGranted); err != nil {
			return nil, fmt.Errorf("decode columns_granted: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Compile-time interface verification.
var (
	_ audit.DecisionStore = (*DecisionStore)(nil)
	_ audit.QueryStore    = (*DecisionStore)(nil)
)
