package model

import (
	"encoding/json"
	"strconv"
)

const (
	// KindDocument is the default kind for document revision events.
	KindDocument = 40000
	// KindDocumentMax is the last kind reserved for documents.
	KindDocumentMax = 49999
	// KindPurge marks a hard delete broadcast. It sits outside the document range.
	KindPurge = 50000
)

// tag names used on document and purge events
const (
	TagDocumentID = "d"
	TagRevisionID = "i"
	TagParent     = "v"
	TagDeleted    = "deleted"
	TagKind       = "k"
)

// IsDocumentKind reports whether kind is reserved for document revisions.
func IsDocumentKind(kind int) bool {
	return kind >= KindDocument && kind <= KindDocumentMax
}

// Tags is the ordered tag list of an event. Each tag is [name, values...].
type Tags [][]string

// Value returns the first value of the first tag with the given name.
// A tag that is present without a value reports ok with an empty value.
func (t Tags) Value(name string) (string, bool) {
	for _, tag := range t {
		if len(tag) == 0 || tag[0] != name {
			continue
		}
		if len(tag) == 1 {
			return "", true
		}
		return tag[1], true
	}
	return "", false
}

// Values returns the first value of every tag with the given name.
func (t Tags) Values(name string) []string {
	var values []string
	for _, tag := range t {
		if len(tag) >= 2 && tag[0] == name {
			values = append(values, tag[1])
		}
	}
	return values
}

// Has reports whether a tag with the given name exists.
func (t Tags) Has(name string) bool {
	_, ok := t.Value(name)
	return ok
}

// Event is a signed transport envelope.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Serialize returns the canonical form the event id is derived from.
func (e *Event) Serialize() []byte {
	tags := e.Tags
	if tags == nil {
		tags = Tags{}
	}

	data, _ := json.Marshal([]any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content})
	return data
}

func (e *Event) String() string {
	return "event:" + e.ID + "/kind:" + strconv.Itoa(e.Kind)
}

// EventTemplate is an unsigned event handed to the signer.
type EventTemplate struct {
	Kind      int
	Content   string
	Tags      Tags
	CreatedAt int64
}
