package domain

import (
	"context"
	"encoding/json"
	"strings"
)

// ToolDescriptor is one entry of the merged catalog. Produced fresh by every
// discovery, never persisted.
type ToolDescriptor struct {
	QualifiedName string          `json:"qualifiedName"`
	Connection    string          `json:"connection"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	InputSchema   json.RawMessage `json:"inputSchema,omitempty"`
}

type Availability string

const (
	AvailabilityOK            Availability = "ok"
	AvailabilityAuthRequired  Availability = "auth_required"
	AvailabilityRevoked       Availability = "revoked"
	AvailabilityUnreachable   Availability = "unreachable"
	AvailabilityProtocolError Availability = "protocol_error"
)

// DiscoveryResult is one connection's contribution to discoverAll: either a
// tool list or a typed unavailability marker, never a silent empty list.
type DiscoveryResult struct {
	Connection   string           `json:"connection"`
	Availability Availability     `json:"availability"`
	Tools        []ToolDescriptor `json:"tools,omitempty"`
	Detail       string           `json:"detail,omitempty"`
}

func (r DiscoveryResult) Available() bool {
	return r.Availability == AvailabilityOK
}

// DiscoveryFailure builds the typed marker for a failed per-connection
// discovery.
func DiscoveryFailure(connection string, err error) DiscoveryResult {
	return DiscoveryResult{
		Connection:   connection,
		Availability: AvailabilityFromError(err),
		Detail:       err.Error(),
	}
}

// AvailabilityFromError maps the error taxonomy onto the status surface.
// Remote rejections of a freshly refreshed token count as auth_required:
// the remedy is the same out-of-band re-authorization.
func AvailabilityFromError(err error) Availability {
	code, ok := CodeFrom(err)
	if !ok {
		return AvailabilityUnreachable
	}
	switch code {
	case CodeAuthRequired, CodeRemoteRejected:
		return AvailabilityAuthRequired
	case CodeRevoked:
		return AvailabilityRevoked
	case CodeProtocol:
		return AvailabilityProtocolError
	default:
		return AvailabilityUnreachable
	}
}

// ConnectionStatus is the status-summary view derived from a DiscoveryResult.
type ConnectionStatus struct {
	Connection   string       `json:"connection"`
	Availability Availability `json:"availability"`
	ToolCount    int          `json:"toolCount"`
	Detail       string       `json:"detail,omitempty"`
}

// ToolResult carries a tool invocation outcome: the marshaled call result
// plus the remote server's own error flag.
type ToolResult struct {
	ResultJSON json.RawMessage `json:"resultJson"`
	IsError    bool            `json:"isError"`
}

// RemoteTool is a tool as reported by one server, before namespacing.
type RemoteTool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolServerSession is one authenticated conversation with a remote tool
// server. The gateway treats the transport underneath as a black box.
type ToolServerSession interface {
	ListTools(ctx context.Context) ([]RemoteTool, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
	Close() error
}

// Dialer opens a session against a connection with the given bearer
// credential attached to every request. An empty bearer sends no
// Authorization header.
type Dialer interface {
	Dial(ctx context.Context, conn Connection, bearer string) (ToolServerSession, error)
}

// QualifyToolName prefixes a local tool name with its connection, making it
// globally unique across the merged catalog.
func QualifyToolName(connection, tool string) string {
	return connection + QualifiedNameSeparator + tool
}

// SplitQualifiedName cuts a qualified name at the first separator. Local
// tool names may themselves contain the separator; connection names may not.
func SplitQualifiedName(qualified string) (connection, tool string, ok bool) {
	connection, tool, ok = strings.Cut(qualified, QualifiedNameSeparator)
	if !ok || connection == "" || tool == "" {
		return "", "", false
	}
	return connection, tool, true
}
