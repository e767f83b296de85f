package authz

import (
	"fmt"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
)

// Kind classifies an authorization denial.
type Kind string

const (
	TableNotPermitted              Kind = "table_not_permitted"
	OperationNotPermitted          Kind = "operation_not_permitted"
	ColumnNotPermitted             Kind = "column_not_permitted"
	MissingContextForRowFilter     Kind = "missing_context_for_row_filter"
	UnrestrictedMutationNotAllowed Kind = "unrestricted_mutation_not_allowed"
	RoleNotDeclared                Kind = "role_not_declared"
	ConditionNotSatisfied          Kind = "condition_not_satisfied"
	RowFilterViolation             Kind = "row_filter_violation"
)

// Error is an authorization denial. Its message is detailed and meant for
// decision records and logs, not for callers.
type Error struct {
	Kind      Kind
	Role      string
	Table     string
	Operation policy.Operation
	Column    string
	Detail    string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: role %q", e.Kind, e.Role)
	if e.Table != "" {
		msg += fmt.Sprintf(" table %q", e.Table)
	}
	if e.Operation != "" {
		msg += fmt.Sprintf(" operation %q", e.Operation)
	}
	if e.Column != "" {
		msg += fmt.Sprintf(" column %q", e.Column)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches another *Error of the same Kind, so the sentinel values below
// work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrTableNotPermitted              = &Error{Kind: TableNotPermitted}
	ErrOperationNotPermitted          = &Error{Kind: OperationNotPermitted}
	ErrColumnNotPermitted             = &Error{Kind: ColumnNotPermitted}
	ErrMissingContextForRowFilter     = &Error{Kind: MissingContextForRowFilter}
	ErrUnrestrictedMutationNotAllowed = &Error{Kind: UnrestrictedMutationNotAllowed}
	ErrRoleNotDeclared                = &Error{Kind: RoleNotDeclared}
	ErrConditionNotSatisfied          = &Error{Kind: ConditionNotSatisfied}
	ErrRowFilterViolation             = &Error{Kind: RowFilterViolation}
)
