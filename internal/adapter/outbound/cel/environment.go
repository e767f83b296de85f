package cel

import (
	"path/filepath"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
)

// NewConditionEnvironment creates the CEL environment permission conditions
// are compiled in. Variables:
//   - role, table, operation: strings
//   - user_id, tenant_id: int, or null when the caller has none
//   - columns: requested columns
//   - filters: caller filters
//   - request_time: timestamp
//
// Custom functions: glob(pattern, name).
func NewConditionEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("role", cel.StringType),
		cel.Variable("user_id", cel.DynType),
		cel.Variable("tenant_id", cel.DynType),
		cel.Variable("table", cel.StringType),
		cel.Variable("operation", cel.StringType),
		cel.Variable("columns", cel.ListType(cel.StringType)),
		cel.Variable("filters", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request_time", cel.TimestampType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					n, ok2 := name.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// buildActivation maps a condition input onto environment variables.
func buildActivation(in policy.ConditionInput) map[string]any {
	columns := in.Columns
	if columns == nil {
		columns = []string{}
	}
	filters := in.Filters
	if filters == nil {
		filters = map[string]any{}
	}
	reqTime := in.RequestTime
	if reqTime.IsZero() {
		reqTime = time.Now()
	}
	return map[string]any{
		"role":         in.Actor.Role,
		"user_id":      optionalInt(in.Actor.UserID),
		"tenant_id":    optionalInt(in.Actor.TenantID),
		"table":        in.Table,
		"operation":    string(in.Operation),
		"columns":      columns,
		"filters":      filters,
		"request_time": reqTime.UTC(),
	}
}

func optionalInt(v *int64) any {
	if v == nil {
		return types.NullValue
	}
	return *v
}
