// Package stdio exposes the query gateway as MCP tools over stdin/stdout.
//
// The server acts as one fixed identity taken from configuration; MCP
// clients cannot choose a role.
package stdio

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sentinel-Gate/querygate/internal/ctxkey"
	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/port/inbound"
	"github.com/Sentinel-Gate/querygate/internal/service"
)

// ServerName is the MCP implementation name.
const ServerName = "querygate"

// Server is the inbound MCP adapter.
type Server struct {
	gateway inbound.Gateway
	actor   policy.Actor
	logger  *slog.Logger
	server  *mcp.Server
}

// NewServer creates an MCP server whose tools run as actor.
func NewServer(gateway inbound.Gateway, actor policy.Actor, version string, logger *slog.Logger) *Server {
	s := &Server{
		gateway: gateway,
		actor:   actor,
		logger:  logger,
		server: mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, &mcp.ServerOptions{
			Instructions: "Query the database through permission-checked tools. Call get_permissions first to see what this identity may do.",
		}),
	}
	s.registerTools()
	return s
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *mcp.Server { return s.server }

// Start serves MCP over stdin/stdout until ctx is cancelled or stdin closes.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting MCP stdio server", "role", s.actor.Role)
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// withRequest tags ctx with a fresh request id and logger.
func (s *Server) withRequest(ctx context.Context, tool string) (context.Context, string) {
	id := uuid.NewString()
	ctx = ctxkey.WithRequestID(ctx, id)
	ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, s.logger.With("request_id", id, "tool", tool))
	return ctx, id
}

type toolError struct {
	Error     string `json:"error"`
	Reason    string `json:"reason"`
	RequestID string `json:"request_id,omitempty"`
}

// errorResult reports err to the client as a tool error. It carries the
// public message and reason, never the detailed denial.
func errorResult(err error, requestID string) *mcp.CallToolResult {
	res := textResult(toolError{Error: service.PublicMessage(err), Reason: service.PublicReason(err), RequestID: requestID})
	res.IsError = true
	return res
}

func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "internal error: " + err.Error()}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}
}
