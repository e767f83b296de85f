package service

import (
	"context"
	"errors"

	"github.com/Sentinel-Gate/querygate/internal/domain/authz"
	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/domain/query"
)

// ExecutionError wraps a database failure.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return "execution failed: " + e.Err.Error() }

func (e *ExecutionError) Unwrap() error { return e.Err }

// ReasonOK is the reason recorded for allowed requests.
const ReasonOK = "ok"

// Reason returns the machine-readable reason recorded for err.
func Reason(err error) string {
	var (
		authzErr *authz.Error
		idErr    *policy.IdentifierError
		buildErr *query.BuildError
		execErr  *ExecutionError
	)
	switch {
	case err == nil:
		return ReasonOK
	case errors.As(err, &authzErr):
		return string(authzErr.Kind)
	case errors.As(err, &idErr):
		return "unknown_identifier"
	case errors.As(err, &buildErr):
		return string(buildErr.Kind)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &execErr):
		return "execution_failed"
	}
	return "internal_error"
}

// ReasonAccessDenied is the caller-facing reason for unknown identifiers and
// table, column, and role denials.
const ReasonAccessDenied = "access_denied"

// PublicReason is the reason shown to callers. It collapses every denial
// that could reveal whether a table or column exists into
// ReasonAccessDenied. Decision records and metrics keep Reason.
func PublicReason(err error) string {
	var (
		authzErr *authz.Error
		idErr    *policy.IdentifierError
	)
	switch {
	case errors.As(err, &idErr):
		return ReasonAccessDenied
	case errors.As(err, &authzErr):
		switch authzErr.Kind {
		case authz.TableNotPermitted, authz.ColumnNotPermitted, authz.RoleNotDeclared:
			return ReasonAccessDenied
		}
	}
	return Reason(err)
}

// PublicMessage maps err to text that is safe to show callers. Unknown
// identifiers and table, column, and role denials all read "access denied"
// so callers cannot probe which tables or columns exist.
func PublicMessage(err error) string {
	var (
		authzErr *authz.Error
		idErr    *policy.IdentifierError
		buildErr *query.BuildError
		execErr  *ExecutionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &idErr):
		return "access denied"
	case errors.As(err, &authzErr):
		switch authzErr.Kind {
		case authz.OperationNotPermitted:
			return "operation not permitted"
		case authz.MissingContextForRowFilter:
			return "missing identity context for this table"
		case authz.UnrestrictedMutationNotAllowed:
			return "update and delete require a filter"
		case authz.ConditionNotSatisfied:
			return "access denied by policy condition"
		case authz.RowFilterViolation:
			return "value violates row restrictions"
		}
		return "access denied"
	case errors.As(err, &buildErr):
		if buildErr.Kind == query.RawQueryRejected {
			return "raw query rejected: " + buildErr.Msg
		}
		return "invalid request: " + buildErr.Msg
	case errors.Is(err, context.DeadlineExceeded):
		return "query timed out"
	case errors.As(err, &execErr):
		return "query execution failed"
	}
	return "internal error"
}

// IsDenial reports whether err is an authorization or identifier denial.
func IsDenial(err error) bool {
	var (
		authzErr *authz.Error
		idErr    *policy.IdentifierError
	)
	return errors.As(err, &authzErr) || errors.As(err, &idErr)
}

// IsBadRequest reports whether err is a malformed request.
func IsBadRequest(err error) bool {
	var buildErr *query.BuildError
	return errors.As(err, &buildErr)
}
