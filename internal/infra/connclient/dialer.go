package connclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"toolgate/internal/domain"
)

const clientName = "toolgate"

// StreamableDialer opens MCP sessions over streamable HTTP with the bearer
// credential attached to every request of the session's lifetime.
type StreamableDialer struct {
	logger  *zap.Logger
	version string
}

func NewStreamableDialer(logger *zap.Logger, version string) *StreamableDialer {
	return &StreamableDialer{
		logger:  logger.Named("dial"),
		version: version,
	}
}

func (d *StreamableDialer) Dial(ctx context.Context, conn domain.Connection, bearer string) (domain.ToolServerSession, error) {
	transport := &mcp.StreamableClientTransport{
		Endpoint: conn.BaseAddress,
		HTTPClient: &http.Client{
			Transport: &bearerRoundTripper{base: http.DefaultTransport, bearer: bearer},
		},
	}
	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: d.version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, classifyRemoteError(conn.Name, "dial", err)
	}
	d.logger.Debug("session opened", zap.String("connection", conn.Name))
	return &mcpSession{session: session, connection: conn.Name}, nil
}

// bearerRoundTripper injects the Authorization header and converts a remote
// 401/403 into the unauthorized sentinel so the retry path can see it instead
// of a generic transport failure.
type bearerRoundTripper struct {
	base   http.RoundTripper
	bearer string
}

func (t *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+t.bearer)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", resp.Status, domain.ErrRemoteUnauthorized)
	}
	return resp, nil
}

// mcpSession adapts an MCP client session to the session contract the rest
// of the gateway programs against.
type mcpSession struct {
	session    *mcp.ClientSession
	connection string
}

func (s *mcpSession) ListTools(ctx context.Context) ([]domain.RemoteTool, error) {
	var tools []domain.RemoteTool
	cursor := ""
	for {
		res, err := s.session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, classifyRemoteError(s.connection, "list_tools", err)
		}
		for _, tool := range res.Tools {
			remote := domain.RemoteTool{Name: tool.Name, Description: tool.Description}
			if tool.InputSchema != nil {
				schema, err := json.Marshal(tool.InputSchema)
				if err != nil {
					return nil, domain.E(domain.CodeProtocol, "list_tools",
						fmt.Sprintf("connection %q: tool %q has an unencodable input schema", s.connection, tool.Name), err)
				}
				remote.InputSchema = schema
			}
			tools = append(tools, remote)
		}
		if res.NextCursor == "" {
			return tools, nil
		}
		cursor = res.NextCursor
	}
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args json.RawMessage) (domain.ToolResult, error) {
	var arguments any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return domain.ToolResult{}, domain.E(domain.CodeInvalidArgument, "call_tool",
				fmt.Sprintf("connection %q: arguments are not valid JSON", s.connection), err)
		}
	}
	res, err := s.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return domain.ToolResult{}, classifyRemoteError(s.connection, "call_tool", err)
	}

	payload, err := json.Marshal(resultPayload(res))
	if err != nil {
		return domain.ToolResult{}, domain.E(domain.CodeProtocol, "call_tool",
			fmt.Sprintf("connection %q: tool result is not encodable", s.connection), err)
	}
	return domain.ToolResult{ResultJSON: payload, IsError: res.IsError}, nil
}

func (s *mcpSession) Close() error {
	return s.session.Close()
}

// resultPayload flattens an MCP call result into plain JSON: structured
// content wins, otherwise the content items are reduced to their values.
func resultPayload(res *mcp.CallToolResult) any {
	if res.StructuredContent != nil {
		return res.StructuredContent
	}
	if len(res.Content) == 0 {
		return nil
	}
	if len(res.Content) == 1 {
		return contentValue(res.Content[0])
	}
	items := make([]any, 0, len(res.Content))
	for _, c := range res.Content {
		items = append(items, contentValue(c))
	}
	return items
}

func contentValue(content mcp.Content) any {
	switch c := content.(type) {
	case *mcp.TextContent:
		return c.Text
	case *mcp.ImageContent:
		return map[string]any{"type": "image", "mimeType": c.MIMEType, "data": c.Data}
	case *mcp.AudioContent:
		return map[string]any{"type": "audio", "mimeType": c.MIMEType, "data": c.Data}
	default:
		return content
	}
}
