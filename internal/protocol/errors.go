package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrNoIdentity is returned when an operation needs a signing key and none is configured.
	ErrNoIdentity = errors.New("no signing identity configured")
	// ErrNotConnected is returned when an operation needs an open connection.
	ErrNotConnected = errors.New("not connected to relay")
	// ErrTimeout is returned when the relay does not answer before the deadline.
	ErrTimeout = errors.New("timed out waiting for relay")
	// ErrRequestPending is returned when a request of the same kind is still outstanding.
	ErrRequestPending = errors.New("a request of this kind is already pending")
	// ErrConnectionClosed is returned to pending operations when the connection drops.
	ErrConnectionClosed = errors.New("relay connection closed")
	// ErrAlreadyConnected is returned by Connect when the connection is not idle.
	ErrAlreadyConnected = errors.New("connection already open or opening")

	// ErrMalformedMessage is returned for frames that do not decode.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownMessage is returned for frames with an unknown label.
	ErrUnknownMessage = errors.New("unknown message label")
)

// PublishError is returned when the relay acknowledges an event with success=false.
type PublishError struct {
	EventID string
	Message string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("relay rejected event %s: %s", e.EventID, e.Message)
}
