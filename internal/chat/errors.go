package chat

import (
	"errors"
	"fmt"
)

// Error taxonomy of the messaging core.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredential  = fmt.Errorf("%w: invalid credential", ErrUnauthenticated)
	ErrNotAuthorized      = errors.New("not authorized")
	ErrNotFound           = errors.New("not found")
	ErrPersistenceFailure = errors.New("persistence failure")
)

// Request validation and delivery errors.
var (
	ErrInvalidRoom      = errors.New("invalid room key")
	ErrInvalidMessage   = errors.New("invalid message content")
	ErrInvalidReceiver  = errors.New("invalid receiver")
	ErrSlowConsumer     = errors.New("outbound buffer full")
	ErrConnectionClosed = errors.New("connection closed")
)

// Wire codes reported to clients in error events.
const (
	CodeUnauthenticated    = "unauthenticated"
	CodeInvalidCredential  = "invalid_credential"
	CodeNotAuthorized      = "not_authorized"
	CodeNotFound           = "not_found"
	CodePersistenceFailure = "persistence_failure"
	CodeInvalidRequest     = "invalid_request"
	CodeInternal           = "internal"
)

// ErrorCode classifies err into one of the wire codes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredential):
		return CodeInvalidCredential
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrNotAuthorized):
		return CodeNotAuthorized
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPersistenceFailure):
		return CodePersistenceFailure
	case errors.Is(err, ErrInvalidRoom),
		errors.Is(err, ErrInvalidMessage),
		errors.Is(err, ErrInvalidReceiver):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}
