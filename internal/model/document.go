package model

import (
	"github.com/emrgen/docsync/internal/revision"
)

// Revision is one observed version of a document.
type Revision struct {
	ID        revision.ID
	Content   string
	Parents   []revision.ID
	CreatedAt int64
	EventID   string
	Deleted   bool
}

// IsRoot reports whether the revision has no parents.
func (r *Revision) IsRoot() bool {
	return len(r.Parents) == 0
}

// Document is the conflict resolved view of one document id.
// Its fields mirror the winning revision.
type Document struct {
	ID        string
	Content   string
	Revision  revision.ID
	Parents   []revision.ID
	CreatedAt int64
	EventID   string
	Deleted   bool
}

// NewDocument materializes a document from its winning revision.
func NewDocument(id string, winner Revision) *Document {
	parents := make([]revision.ID, len(winner.Parents))
	copy(parents, winner.Parents)

	return &Document{
		ID:        id,
		Content:   winner.Content,
		Revision:  winner.ID,
		Parents:   parents,
		CreatedAt: winner.CreatedAt,
		EventID:   winner.EventID,
		Deleted:   winner.Deleted,
	}
}

// DocumentTags builds the tag list of a document revision event.
func DocumentTags(docID string, id revision.ID, parents []revision.ID, deleted bool) Tags {
	tags := Tags{
		{TagDocumentID, docID},
		{TagRevisionID, id.String()},
	}
	for _, parent := range parents {
		tags = append(tags, []string{TagParent, parent.String()})
	}
	if deleted {
		tags = append(tags, []string{TagDeleted, ""})
	}

	return tags
}

// PurgeTags builds the tag list of a purge event.
func PurgeTags(docID string, kind int) Tags {
	return Tags{
		{TagDocumentID, docID},
		{TagKind, itoa(kind)},
	}
}
