package mvcc

import (
	"fmt"

	"github.com/emrgen/docsync/internal/revision"
)

// Reason tells why an incoming revision was not admitted.
type Reason int

const (
	// ReasonInvalidFormat means the event lacks a revision id or carries an unparsable one.
	ReasonInvalidFormat Reason = iota + 1
	// ReasonMissingDocumentID means the event has no document id tag.
	ReasonMissingDocumentID
	// ReasonSuperseded means a revision of the same generation with a greater hash is already stored.
	ReasonSuperseded
	// ReasonReferencedAncestor means a revision of the same generation is a parent in the chain.
	ReasonReferencedAncestor
)

func (r Reason) String() string {
	switch r {
	case ReasonInvalidFormat:
		return "invalid format"
	case ReasonMissingDocumentID:
		return "missing document id"
	case ReasonSuperseded:
		return "superseded by existing winner"
	case ReasonReferencedAncestor:
		return "conflicts with referenced ancestor"
	default:
		return "unknown"
	}
}

// Rejection describes a revision that lost admission.
// Callers treat it as a lost race, not as a failure.
type Rejection struct {
	Reason     Reason
	DocumentID string
	Revision   revision.ID
	// Existing is the stored revision that caused the rejection, if any.
	Existing revision.ID
	Detail   string
}

func (r *Rejection) Error() string {
	switch r.Reason {
	case ReasonSuperseded, ReasonReferencedAncestor:
		return fmt.Sprintf("revision %s of %s rejected: %s %s", r.Revision, r.DocumentID, r.Reason, r.Existing)
	}

	if r.Detail != "" {
		return fmt.Sprintf("event rejected: %s: %s", r.Reason, r.Detail)
	}
	return fmt.Sprintf("event rejected: %s", r.Reason)
}

// IsInvalid reports whether the rejection is about the event shape rather than a lost race.
func (r *Rejection) IsInvalid() bool {
	return r.Reason == ReasonInvalidFormat || r.Reason == ReasonMissingDocumentID
}
