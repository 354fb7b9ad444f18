package app

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/aggregator"
)

// MCPServer exposes the merged tool catalog over stdio. One server instance
// acts on behalf of exactly one user identity.
type MCPServer struct {
	agg    *aggregator.Aggregator
	userID string
	logger *zap.Logger
}

func NewMCPServer(agg *aggregator.Aggregator, userID string, logger *zap.Logger) *MCPServer {
	return &MCPServer{
		agg:    agg,
		userID: userID,
		logger: logger.Named("mcpserver"),
	}
}

// Run discovers the catalog once, registers every available tool under its
// qualified name, and serves until the context is cancelled.
func (s *MCPServer) Run(ctx context.Context) error {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "toolgate",
		Version: Version,
	}, &mcp.ServerOptions{
		HasTools: true,
	})

	catalog := s.agg.Catalog(ctx, s.userID)
	registered := 0
	for _, desc := range catalog {
		schema := toolSchema(desc.InputSchema)
		if schema == nil {
			s.logger.Warn("skip tool with invalid input schema", zap.String("tool", desc.QualifiedName))
			continue
		}
		server.AddTool(&mcp.Tool{
			Name:        desc.QualifiedName,
			Description: desc.Description,
			InputSchema: schema,
		}, s.handler(desc.QualifiedName))
		registered++
	}

	s.logger.Info("gateway starting (stdio transport)",
		zap.String("user", s.userID),
		zap.Int("tools", registered))
	return server.Run(ctx, &mcp.StdioTransport{})
}

func (s *MCPServer) handler(qualifiedName string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := json.RawMessage(req.Params.Arguments)
		result, err := s.agg.Invoke(ctx, s.userID, qualifiedName, args)
		if err != nil {
			return errorResult(err), nil
		}

		res := &mcp.CallToolResult{
			IsError: result.IsError,
			Content: []mcp.Content{&mcp.TextContent{Text: string(result.ResultJSON)}},
		}
		var structured any
		if len(result.ResultJSON) > 0 && json.Unmarshal(result.ResultJSON, &structured) == nil {
			res.StructuredContent = structured
		}
		return res, nil
	}
}

// errorResult reports a gateway-side failure to the caller as a tool error
// with the taxonomy code in front, instead of tearing down the session.
func errorResult(err error) *mcp.CallToolResult {
	text := err.Error()
	if code, ok := domain.CodeFrom(err); ok {
		text = string(code) + ": " + text
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// toolSchema normalizes a discovered input schema for re-registration. MCP
// requires an object schema; tools without one get the permissive default,
// tools with a non-object schema are rejected.
func toolSchema(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return json.RawMessage(`{"type":"object"}`)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	if typ, ok := obj["type"].(string); ok && !strings.EqualFold(typ, "object") {
		return nil
	}
	return raw
}
