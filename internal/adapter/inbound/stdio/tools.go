package stdio

import (
	"context"
	"math"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sentinel-Gate/querygate/internal/domain/authz"
	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
)

type noArgs struct{}

type tableArgs struct {
	Table string `json:"table" jsonschema:"table name"`
}

type selectArgs struct {
	Table   string         `json:"table" jsonschema:"table name"`
	Columns []string       `json:"columns,omitempty" jsonschema:"columns to return; all permitted columns when empty"`
	Filters map[string]any `json:"filters,omitempty" jsonschema:"column equality filters, ANDed"`
	OrderBy []authz.Sort   `json:"order_by,omitempty" jsonschema:"ordering terms"`
	Limit   *int           `json:"limit,omitempty" jsonschema:"maximum rows"`
	Offset  *int           `json:"offset,omitempty" jsonschema:"rows to skip"`
}

type insertArgs struct {
	Table  string         `json:"table" jsonschema:"table name"`
	Values map[string]any `json:"values" jsonschema:"column values for the new row"`
}

type updateArgs struct {
	Table   string         `json:"table" jsonschema:"table name"`
	Filters map[string]any `json:"filters" jsonschema:"column equality filters selecting the rows"`
	Values  map[string]any `json:"values" jsonschema:"column values to set"`
}

type deleteArgs struct {
	Table   string         `json:"table" jsonschema:"table name"`
	Filters map[string]any `json:"filters" jsonschema:"column equality filters selecting the rows"`
}

type queryArgs struct {
	SQL  string `json:"sql" jsonschema:"a single read-only SELECT statement"`
	Args []any  `json:"args,omitempty" jsonschema:"positional parameters"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_tables",
		Description: "List the tables this identity may access.",
	}, s.listTables)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "describe_table",
		Description: "Describe a table's visible columns and permitted operations.",
	}, s.describeTable)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "select",
		Description: "Read rows. Row restrictions and column masking apply.",
	}, s.selectRows)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "insert",
		Description: "Insert one row.",
	}, s.insertRow)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "update",
		Description: "Update rows matching the filters.",
	}, s.updateRows)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete",
		Description: "Delete rows matching the filters.",
	}, s.deleteRows)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "query",
		Description: "Run a raw read-only SELECT. Requires the admin operation.",
	}, s.rawQuery)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_permissions",
		Description: "Summarize what this identity may do.",
	}, s.getPermissions)
}

func (s *Server) listTables(ctx context.Context, _ *mcp.CallToolRequest, _ noArgs) (*mcp.CallToolResult, any, error) {
	ctx, id := s.withRequest(ctx, "list_tables")
	tables, err := s.gateway.ListTables(ctx, s.actor)
	if err != nil {
		return errorResult(err, id), nil, nil
	}
	return textResult(map[string]any{"tables": tables}), nil, nil
}

func (s *Server) describeTable(ctx context.Context, _ *mcp.CallToolRequest, args tableArgs) (*mcp.CallToolResult, any, error) {
	ctx, id := s.withRequest(ctx, "describe_table")
	info, err := s.gateway.DescribeTable(ctx, s.actor, args.Table)
	if err != nil {
		return errorResult(err, id), nil, nil
	}
	return textResult(info), nil, nil
}

func (s *Server) getPermissions(ctx context.Context, _ *mcp.CallToolRequest, _ noArgs) (*mcp.CallToolResult, any, error) {
	ctx, id := s.withRequest(ctx, "get_permissions")
	perms, err := s.gateway.Permissions(ctx, s.actor)
	if err != nil {
		return errorResult(err, id), nil, nil
	}
	return textResult(perms), nil, nil
}

func (s *Server) selectRows(ctx context.Context, _ *mcp.CallToolRequest, args selectArgs) (*mcp.CallToolResult, any, error) {
	return s.execute(ctx, "select", authz.Request{
		Table:     args.Table,
		Operation: policy.OpRead,
		Columns:   args.Columns,
		Filters:   normalizeMap(args.Filters),
		OrderBy:   args.OrderBy,
		Limit:     args.Limit,
		Offset:    args.Offset,
	})
}

func (s *Server) insertRow(ctx context.Context, _ *mcp.CallToolRequest, args insertArgs) (*mcp.CallToolResult, any, error) {
	return s.execute(ctx, "insert", authz.Request{
		Table:     args.Table,
		Operation: policy.OpInsert,
		Values:    normalizeMap(args.Values),
	})
}

func (s *Server) updateRows(ctx context.Context, _ *mcp.CallToolRequest, args updateArgs) (*mcp.CallToolResult, any, error) {
	return s.execute(ctx, "update", authz.Request{
		Table:     args.Table,
		Operation: policy.OpUpdate,
		Filters:   normalizeMap(args.Filters),
		Values:    normalizeMap(args.Values),
	})
}

func (s *Server) deleteRows(ctx context.Context, _ *mcp.CallToolRequest, args deleteArgs) (*mcp.CallToolResult, any, error) {
	return s.execute(ctx, "delete", authz.Request{
		Table:     args.Table,
		Operation: policy.OpDelete,
		Filters:   normalizeMap(args.Filters),
	})
}

func (s *Server) rawQuery(ctx context.Context, _ *mcp.CallToolRequest, args queryArgs) (*mcp.CallToolResult, any, error) {
	raw := make([]any, len(args.Args))
	for i, v := range args.Args {
		raw[i] = normalizeNumber(v)
	}
	return s.execute(ctx, "query", authz.Request{
		Operation: policy.OpAdmin,
		RawSQL:    args.SQL,
		RawArgs:   raw,
	})
}

func (s *Server) execute(ctx context.Context, tool string, req authz.Request) (*mcp.CallToolResult, any, error) {
	ctx, id := s.withRequest(ctx, tool)
	req.Actor = s.actor
	result, err := s.gateway.Execute(ctx, req)
	if err != nil {
		return errorResult(err, id), nil, nil
	}
	return textResult(result), nil, nil
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeNumber(v)
	}
	return out
}

// normalizeNumber turns integral JSON numbers into int64. Tool arguments
// arrive as float64, which would otherwise bind as REAL parameters.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n)
		}
		return n
	case []any:
		out := make([]any, len(n))
		for i, e := range n {
			out[i] = normalizeNumber(e)
		}
		return out
	case map[string]any:
		return normalizeMap(n)
	}
	return v
}
