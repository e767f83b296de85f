package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Sentinel-Gate/querygate/internal/domain/authz"
	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/domain/query"
)

func TestPublicReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantReason string
		wantPublic string
	}{
		{"hidden column", &authz.Error{Kind: authz.ColumnNotPermitted, Column: "ssn"}, "column_not_permitted", ReasonAccessDenied},
		{"unknown column", &policy.IdentifierError{Table: "users", Column: "no_such_col"}, "unknown_identifier", ReasonAccessDenied},
		{"table not granted", &authz.Error{Kind: authz.TableNotPermitted, Table: "orders"}, "table_not_permitted", ReasonAccessDenied},
		{"unknown table", &policy.IdentifierError{Table: "no_such_table"}, "unknown_identifier", ReasonAccessDenied},
		{"undeclared role", &authz.Error{Kind: authz.RoleNotDeclared}, "role_not_declared", ReasonAccessDenied},
		{"wrapped column denial", fmt.Errorf("query: %w", &authz.Error{Kind: authz.ColumnNotPermitted}), "column_not_permitted", ReasonAccessDenied},
		{"operation", &authz.Error{Kind: authz.OperationNotPermitted}, "operation_not_permitted", "operation_not_permitted"},
		{"row filter violation", &authz.Error{Kind: authz.RowFilterViolation}, "row_filter_violation", "row_filter_violation"},
		{"pagination", &query.BuildError{Kind: query.InvalidPagination, Msg: "limit"}, "invalid_pagination", "invalid_pagination"},
		{"timeout", context.DeadlineExceeded, "timeout", "timeout"},
		{"execution", &ExecutionError{Err: errors.New("boom")}, "execution_failed", "execution_failed"},
		{"nil", nil, ReasonOK, ReasonOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Reason(tt.err); got != tt.wantReason {
				t.Errorf("Reason() = %q, want %q", got, tt.wantReason)
			}
			if got := PublicReason(tt.err); got != tt.wantPublic {
				t.Errorf("PublicReason() = %q, want %q", got, tt.wantPublic)
			}
		})
	}
}

func TestPublicReason_ExistingAndMissingColumnsLookAlike(t *testing.T) {
	t.Parallel()

	hidden := &authz.Error{Kind: authz.ColumnNotPermitted, Column: "ssn"}
	missing := &policy.IdentifierError{Table: "users", Column: "no_such_col"}
	if PublicReason(hidden) != PublicReason(missing) || PublicMessage(hidden) != PublicMessage(missing) {
		t.Errorf("hidden (%q, %q) and missing (%q, %q) differ",
			PublicReason(hidden), PublicMessage(hidden), PublicReason(missing), PublicMessage(missing))
	}
}
