package store

import (
	"context"
	"errors"

	"github.com/emrgen/docsync/internal/model"
)

var (
	ErrEventNotFound = errors.New("event not found")
)

type Store interface {
	EventStore
	CursorStore
	Transaction(ctx context.Context, f func(tx Store) error) error
	Migrate() error
}

// EventStore keeps the admitted events so the document set can be rebuilt offline.
type EventStore interface {
	// SaveEvent stores an admitted event. Saving a known event keeps the stored copy and records a newer seq.
	SaveEvent(ctx context.Context, docID string, seq int64, ev *model.Event) error
	// GetEvent retrieves an event by ID.
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	// ListEvents retrieves every stored event ordered by seq.
	ListEvents(ctx context.Context) ([]*model.Event, error)
	// ListDocumentEvents retrieves the events of one document ordered by seq.
	ListDocumentEvents(ctx context.Context, docID string) ([]*model.Event, error)
	// CountEvents returns the number of stored events.
	CountEvents(ctx context.Context) (int64, error)
	// EraseDocument removes every event of a document.
	EraseDocument(ctx context.Context, docID string) error
	// Reset removes all events and cursors.
	Reset(ctx context.Context) error
}

type CursorStore interface {
	// GetCursor returns the seq stored under name, or 0 when none is stored.
	GetCursor(ctx context.Context, name string) (int64, error)
	// SetCursor stores seq under name.
	SetCursor(ctx context.Context, name string, seq int64) error
}
