package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeAuthRequired     ErrorCode = "AUTH_REQUIRED"
	CodeRevoked          ErrorCode = "REVOKED"
	CodeRemoteRejected   ErrorCode = "REMOTE_REJECTED"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"
	CodeProtocol         ErrorCode = "PROTOCOL"
	CodeDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED"
	CodeInternal         ErrorCode = "INTERNAL"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrToolNotFound       = errors.New("tool not found")

	// ErrRemoteUnauthorized marks a bearer rejection by a remote tool
	// server. The connection client turns it into exactly one refresh
	// followed by a single retry.
	ErrRemoteUnauthorized = errors.New("remote server rejected credential")
)

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
		}
	}
	return E(code, op, "", err)
}

func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	switch {
	case errors.Is(err, ErrConnectionNotFound), errors.Is(err, ErrToolNotFound):
		return CodeNotFound, true
	case errors.Is(err, ErrCredentialNotFound):
		return CodeAuthRequired, true
	case errors.Is(err, ErrRemoteUnauthorized):
		return CodeRemoteRejected, true
	default:
		return "", false
	}
}

// IsAuthError reports whether err belongs to the credential taxonomy rather
// than the transport one.
func IsAuthError(err error) bool {
	code, ok := CodeFrom(err)
	if !ok {
		return false
	}
	switch code {
	case CodeAuthRequired, CodeRevoked, CodeRemoteRejected:
		return true
	}
	return false
}
