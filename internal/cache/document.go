package cache

import (
	"context"

	"github.com/emrgen/docsync/internal/model"
	"github.com/emrgen/docsync/internal/revision"
)

// DocumentCache mirrors materialized documents for readers outside the process.
type DocumentCache interface {
	// GetDocument gets a document from the cache. It returns nil on a miss.
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	// GetDocumentRevision gets the cached winning revision of a document.
	GetDocumentRevision(ctx context.Context, id string) (revision.ID, error)
	// SetDocument sets a document in the cache.
	SetDocument(ctx context.Context, doc *model.Document) error
	// DeleteDocument deletes a document from the cache.
	DeleteDocument(ctx context.Context, id string) error
	// Clear deletes every cached document.
	Clear(ctx context.Context) error
}

// cachedDocument is the json form of a document in the cache.
type cachedDocument struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Revision  string   `json:"rev"`
	Parents   []string `json:"parents,omitempty"`
	CreatedAt int64    `json:"created_at"`
	EventID   string   `json:"event_id"`
	Deleted   bool     `json:"deleted,omitempty"`
}

func fromDocument(doc *model.Document) cachedDocument {
	parents := make([]string, len(doc.Parents))
	for i, p := range doc.Parents {
		parents[i] = p.String()
	}

	return cachedDocument{
		ID:        doc.ID,
		Content:   doc.Content,
		Revision:  doc.Revision.String(),
		Parents:   parents,
		CreatedAt: doc.CreatedAt,
		EventID:   doc.EventID,
		Deleted:   doc.Deleted,
	}
}

func (c cachedDocument) toDocument() (*model.Document, error) {
	rev, err := revision.Parse(c.Revision)
	if err != nil {
		return nil, err
	}

	parents := make([]revision.ID, 0, len(c.Parents))
	for _, p := range c.Parents {
		parent, err := revision.Parse(p)
		if err != nil {
			return nil, err
		}
		parents = append(parents, parent)
	}

	return &model.Document{
		ID:        c.ID,
		Content:   c.Content,
		Revision:  rev,
		Parents:   parents,
		CreatedAt: c.CreatedAt,
		EventID:   c.EventID,
		Deleted:   c.Deleted,
	}, nil
}
