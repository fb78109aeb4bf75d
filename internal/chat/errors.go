package chat

import (
	"errors"
	"fmt"
)

// Error codes reported to clients in error events.
const (
	CodeEmptyContent       = "EMPTY_CONTENT"
	CodeContentTooLong     = "CONTENT_TOO_LONG"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodePersistenceFailed  = "PERSISTENCE_FAILED"
	CodeHistoryUnavailable = "HISTORY_UNAVAILABLE"
	CodeBadRequest         = "BAD_REQUEST"
)

var (
	ErrConnClosed            = errors.New("connection closed")
	ErrSendBufferFull        = errors.New("send buffer full")
	ErrRegistryClosed        = errors.New("registry closed")
	ErrRegistryInconsistency = errors.New("connection not registered")
	ErrInvalidMessage        = errors.New("invalid message")
)

// ValidationError is a rejected send. It is reported to the sender only.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// PersistenceError is a storage-layer failure. Nothing is broadcast when it occurs.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chat store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DeliveryError is a failed enqueue to a single recipient.
type DeliveryError struct {
	ConnID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.ConnID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
