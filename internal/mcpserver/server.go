// Package mcpserver implements the Server: a single "execute" tool exposed
// over the Model Context Protocol, bridging the agent's scripts to the
// Sandbox and truncating its output before it reaches the client.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opensrc-dev/opensrc/internal/sandbox"
)

// ServerVersion is reported in the MCP initialize handshake.
const ServerVersion = "0.1.0"

// ExecuteInput is the execute tool's sole argument.
type ExecuteInput struct {
	Code string `json:"code" jsonschema:"an arrow-function script run against the opensrc query API"`
}

// ExecuteOutput carries the truncated, display-formatted script result.
type ExecuteOutput struct {
	Result string `json:"result" jsonschema:"the script's return value, JSON-stringified and truncated to the output budget"`
}

// Server wraps the MCP SDK's server with the opensrc Sandbox and a single
// execute tool, the only capability handed to the agent.
type Server struct {
	mcp     *mcp.Server
	sandbox *sandbox.Sandbox
	logger  *slog.Logger
}

// New builds a Server around sb. Every execute call runs against sb's
// bound API under its own deadline.
func New(sb *sandbox.Sandbox, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sandbox: sb,
		logger:  logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "opensrc",
			Version: ServerVersion,
		},
		nil,
	)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "execute",
		Description: "Run a script against the opensrc query API: list/has/get registered sources, files/tree/read/readMany/grep a source's tree, astGrep/semanticSearch its content, and fetch/remove/clean the registry. Scripts are a restricted JS-like subset — a single async arrow function, e.g. \"async () => opensrc.list()\".",
	}, s.handleExecute)

	return s
}

// handleExecute is the MCP SDK handler for the execute tool: it compiles
// and runs input.Code in the sandbox, then truncates the JSON-rendered
// result to the output budget.
func (s *Server) handleExecute(ctx context.Context, _ *mcp.CallToolRequest, input ExecuteInput) (
	*mcp.CallToolResult,
	ExecuteOutput,
	error,
) {
	result, err := s.sandbox.Run(ctx, input.Code)
	if err != nil {
		s.logger.Warn("execute failed", slog.String("error", err.Error()))
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: truncate(formatError(err))}},
		}, ExecuteOutput{}, nil
	}

	rendered, err := renderResult(result)
	if err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: truncate(formatError(err))}},
		}, ExecuteOutput{}, nil
	}

	out := truncate(rendered)
	return nil, ExecuteOutput{Result: out}, nil
}

// renderResult JSON-encodes a sandbox return value for display. Plain
// strings are returned verbatim rather than quoted, matching how an agent
// expects a text result to read.
func renderResult(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.MarshalIndent(sandbox.ToDisplayJSON(v), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Serve runs the server over stdio until ctx is canceled or the transport
// closes.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting opensrc MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}
