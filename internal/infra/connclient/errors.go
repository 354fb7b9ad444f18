package connclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"toolgate/internal/domain"
)

// classifyRemoteError maps transport and protocol failures from a remote
// tool server onto the gateway error taxonomy.
func classifyRemoteError(connection, op string, err error) error {
	switch {
	case isUnauthorized(err):
		return domain.E(domain.CodeRemoteRejected, op,
			fmt.Sprintf("connection %q rejected the credential", connection), domain.ErrRemoteUnauthorized)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Wrap(domain.CodeDeadlineExceeded, op, err)
	case errors.Is(err, context.Canceled):
		return domain.Wrap(domain.CodeDeadlineExceeded, op, err)
	case isMalformedPayload(err):
		return domain.E(domain.CodeProtocol, op,
			fmt.Sprintf("connection %q returned a malformed response", connection), err)
	default:
		return domain.E(domain.CodeUnavailable, op,
			fmt.Sprintf("connection %q is unreachable", connection), err)
	}
}

// isUnauthorized recognizes the sentinel planted by bearerRoundTripper. The
// error may have crossed layers that stringify instead of wrapping, so the
// message is checked as a fallback.
func isUnauthorized(err error) bool {
	if errors.Is(err, domain.ErrRemoteUnauthorized) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "403") || strings.Contains(msg, "forbidden")
}

func isMalformedPayload(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
