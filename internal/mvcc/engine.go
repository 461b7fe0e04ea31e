package mvcc

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/docsync/internal/model"
	"github.com/emrgen/docsync/internal/revision"
)

// Decode turns a document event into a revision of the document it names.
func Decode(ev *model.Event) (string, model.Revision, *Rejection) {
	docID, ok := ev.Tags.Value(model.TagDocumentID)
	if !ok || docID == "" {
		return "", model.Revision{}, &Rejection{Reason: ReasonMissingDocumentID, Detail: ev.ID}
	}

	revID, ok := ev.Tags.Value(model.TagRevisionID)
	if !ok {
		return docID, model.Revision{}, &Rejection{Reason: ReasonInvalidFormat, DocumentID: docID, Detail: "missing revision id"}
	}

	id, err := revision.Parse(revID)
	if err != nil {
		return docID, model.Revision{}, &Rejection{Reason: ReasonInvalidFormat, DocumentID: docID, Detail: err.Error()}
	}

	var parents []revision.ID
	for _, value := range ev.Tags.Values(model.TagParent) {
		parent, err := revision.Parse(value)
		if err != nil {
			return docID, model.Revision{}, &Rejection{Reason: ReasonInvalidFormat, DocumentID: docID, Detail: err.Error()}
		}
		parents = append(parents, parent)
	}

	return docID, model.Revision{
		ID:        id,
		Content:   ev.Content,
		Parents:   parents,
		CreatedAt: ev.CreatedAt,
		EventID:   ev.ID,
		Deleted:   ev.Tags.Has(model.TagDeleted),
	}, nil
}

// SelectWinner returns the revision with the highest generation, ties broken by the greatest hash.
// It returns false for an empty history.
func SelectWinner(revs []model.Revision) (model.Revision, bool) {
	if len(revs) == 0 {
		return model.Revision{}, false
	}

	winner := revs[0]
	for _, rev := range revs[1:] {
		if revision.Compare(rev.ID, winner.ID) > 0 {
			winner = rev
		}
	}

	return winner, true
}

// InConflict reports whether two revisions branch from the same point:
// they share a parent, or both are roots.
func InConflict(a, b model.Revision) bool {
	if a.IsRoot() && b.IsRoot() {
		return true
	}

	for _, pa := range a.Parents {
		for _, pb := range b.Parents {
			if pa == pb {
				return true
			}
		}
	}

	return false
}

// Admit applies one incoming revision to a document history.
// A redelivered event is reported as duplicate with the history unchanged.
// On rejection the history is returned unchanged.
func Admit(docID string, history []model.Revision, incoming model.Revision) ([]model.Revision, bool, *Rejection) {
	for _, rev := range history {
		if rev.EventID == incoming.EventID {
			return history, true, nil
		}
	}

	referenced := referencedIDs(history, incoming)

	for _, rev := range history {
		if rev.ID.Generation != incoming.ID.Generation {
			continue
		}

		if referenced.Contains(rev.ID) {
			return history, false, &Rejection{
				Reason:     ReasonReferencedAncestor,
				DocumentID: docID,
				Revision:   incoming.ID,
				Existing:   rev.ID,
			}
		}

		if rev.ID.Hash > incoming.ID.Hash {
			return history, false, &Rejection{
				Reason:     ReasonSuperseded,
				DocumentID: docID,
				Revision:   incoming.ID,
				Existing:   rev.ID,
			}
		}
	}

	next := make([]model.Revision, 0, len(history)+1)
	for _, rev := range history {
		dominated := rev.ID.Generation == incoming.ID.Generation &&
			!referenced.Contains(rev.ID) &&
			rev.ID.Hash <= incoming.ID.Hash
		if dominated {
			continue
		}
		next = append(next, rev)
	}
	next = append(next, incoming)

	return next, false, nil
}

// referencedIDs collects every revision id named as a parent in the history or by the incoming revision.
func referencedIDs(history []model.Revision, incoming model.Revision) mapset.Set[revision.ID] {
	referenced := mapset.NewThreadUnsafeSet[revision.ID]()
	for _, rev := range history {
		referenced.Append(rev.Parents...)
	}
	referenced.Append(incoming.Parents...)

	return referenced
}
