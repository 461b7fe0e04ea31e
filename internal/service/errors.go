package service

import (
	"errors"
	"fmt"

	"github.com/emrgen/docsync/internal/mvcc"
)

var (
	// ErrDocumentNotFound is returned when an update or delete targets an unknown document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrNoIdentity is returned when a mutation is attempted without a signing key.
	ErrNoIdentity = errors.New("no local identity configured")
	// ErrRevisionRejected matches every RevisionRejectedError.
	ErrRevisionRejected = errors.New("revision rejected")
	// ErrNoEventStore is returned by Restore when the service has no persistent store.
	ErrNoEventStore = errors.New("no event store configured")
)

// RevisionRejectedError is returned when a published revision loses admission locally.
// Retrying means deriving a new revision from the current winner.
type RevisionRejectedError struct {
	DocumentID string
	Rejection  *mvcc.Rejection
}

func (e *RevisionRejectedError) Error() string {
	return fmt.Sprintf("revision rejected for document %s: %v", e.DocumentID, e.Rejection)
}

func (e *RevisionRejectedError) Is(target error) bool {
	return target == ErrRevisionRejected
}
