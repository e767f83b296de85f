package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/domain/query"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockExecutor(t *testing.T) (*SQLExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLExecutor(db, discardLogger()), mock
}

func TestSQLExecutor_QueryPassesStatementVerbatim(t *testing.T) {
	t.Parallel()

	exec, mock := newMockExecutor(t)
	stmt := query.Statement{
		SQL:       `SELECT "id", "name" FROM "users" WHERE ("tenant_id" = ?) LIMIT ?`,
		Args:      []any{int64(3), 100},
		Returning: true,
		MaxRows:   100,
		Operation: policy.OpRead,
	}
	mock.ExpectQuery(stmt.SQL).
		WithArgs(int64(3), 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("Ada")).
			AddRow(int64(2), nil))

	res, err := exec.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := []map[string]any{
		{"id": int64(1), "name": "Ada"},
		{"id": int64(2), "name": nil},
	}
	if !reflect.DeepEqual(res.Rows, want) {
		t.Errorf("Rows = %v, want %v", res.Rows, want)
	}
	if res.RowCount != 2 || !reflect.DeepEqual(res.Columns, []string{"id", "name"}) {
		t.Errorf("result = %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLExecutor_StopsAtMaxRows(t *testing.T) {
	t.Parallel()

	exec, mock := newMockExecutor(t)
	rows := sqlmock.NewRows([]string{"n"})
	for i := range 5 {
		rows.AddRow(int64(i))
	}
	mock.ExpectQuery("SELECT n FROM t").WillReturnRows(rows)

	res, err := exec.Execute(context.Background(), query.Statement{SQL: "SELECT n FROM t", Returning: true, MaxRows: 2})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2", res.RowCount)
	}
}

func TestSQLExecutor_ReturningMutationCountsPastMaxRows(t *testing.T) {
	t.Parallel()

	exec, mock := newMockExecutor(t)
	sql := `DELETE FROM "orders" WHERE "status" = ? RETURNING "id"`
	rows := sqlmock.NewRows([]string{"id"})
	for i := range 5 {
		rows.AddRow(int64(i))
	}
	mock.ExpectQuery(sql).WithArgs("stale").WillReturnRows(rows)

	res, err := exec.Execute(context.Background(), query.Statement{
		SQL:       sql,
		Args:      []any{"stale"},
		Returning: true,
		MaxRows:   2,
		Operation: policy.OpDelete,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(res.Rows) != 2 || res.RowCount != 5 {
		t.Errorf("rows = %d, RowCount = %d; want 2 rows and 5 affected", len(res.Rows), res.RowCount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLExecutor_ExecReportsRowsAffected(t *testing.T) {
	t.Parallel()

	exec, mock := newMockExecutor(t)
	sql := `DELETE FROM "orders" WHERE ("user_id" = ?) AND "id" = ?`
	mock.ExpectExec(sql).WithArgs(int64(7), int64(42)).WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := exec.Execute(context.Background(), query.Statement{SQL: sql, Args: []any{int64(7), int64(42)}, Operation: policy.OpDelete})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.RowCount != 1 || len(res.Rows) != 0 {
		t.Errorf("result = %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLExecutor_PropagatesErrors(t *testing.T) {
	t.Parallel()

	exec, mock := newMockExecutor(t)
	boom := errors.New("no such table: ghosts")
	mock.ExpectQuery("SELECT 1").WillReturnError(boom)

	_, err := exec.Execute(context.Background(), query.Statement{SQL: "SELECT 1", Returning: true})
	if !errors.Is(err, boom) {
		t.Errorf("Execute() error = %v, want %v", err, boom)
	}
}

func TestNormalizeValue(t *testing.T) {
	t.Parallel()

	id := [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	tests := []struct {
		in   any
		want any
	}{
		{[]byte("x"), "x"},
		{id, "12345678-9abc-def0-1234-56789abcdef0"},
		{int64(5), int64(5)},
		{nil, nil},
	}
	for _, tt := range tests {
		if got := normalizeValue(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("normalizeValue(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
