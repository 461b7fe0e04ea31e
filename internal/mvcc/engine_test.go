package mvcc

import (
	"fmt"
	"testing"

	"github.com/emrgen/docsync/internal/model"
	"github.com/emrgen/docsync/internal/revision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func root(content string) model.Revision {
	return model.Revision{
		ID:      revision.New(1, nil, content),
		Content: content,
		EventID: "ev-" + content,
	}
}

func child(parent model.Revision, content string) model.Revision {
	return model.Revision{
		ID:      revision.Next(parent.ID, content),
		Content: content,
		Parents: []revision.ID{parent.ID},
		EventID: "ev-" + content,
	}
}

// admitAll feeds revisions in order and returns the final history and the rejections seen.
func admitAll(t *testing.T, revs ...model.Revision) ([]model.Revision, []*Rejection) {
	t.Helper()

	var history []model.Revision
	var rejections []*Rejection
	for _, rev := range revs {
		next, _, rej := Admit("doc", history, rev)
		if rej != nil {
			rejections = append(rejections, rej)
			continue
		}
		history = next
	}

	return history, rejections
}

func eventIDs(revs []model.Revision) []string {
	ids := make([]string, 0, len(revs))
	for _, rev := range revs {
		ids = append(ids, rev.EventID)
	}
	return ids
}

func permutations(revs []model.Revision) [][]model.Revision {
	if len(revs) <= 1 {
		return [][]model.Revision{revs}
	}

	var out [][]model.Revision
	for i := range revs {
		rest := make([]model.Revision, 0, len(revs)-1)
		rest = append(rest, revs[:i]...)
		rest = append(rest, revs[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]model.Revision{revs[i]}, p...))
		}
	}
	return out
}

func TestDecode(t *testing.T) {
	parent := revision.New(1, nil, "a")
	id := revision.Next(parent, "b")

	tests := []struct {
		name   string
		event  *model.Event
		reason Reason
	}{
		{
			name:   "missing document id",
			event:  &model.Event{ID: "e", Tags: model.Tags{{model.TagRevisionID, id.String()}}},
			reason: ReasonMissingDocumentID,
		},
		{
			name:   "missing revision id",
			event:  &model.Event{ID: "e", Tags: model.Tags{{model.TagDocumentID, "doc"}}},
			reason: ReasonInvalidFormat,
		},
		{
			name:   "bad revision id",
			event:  &model.Event{ID: "e", Tags: model.Tags{{model.TagDocumentID, "doc"}, {model.TagRevisionID, "nodash"}}},
			reason: ReasonInvalidFormat,
		},
		{
			name: "bad parent id",
			event: &model.Event{ID: "e", Tags: model.Tags{
				{model.TagDocumentID, "doc"}, {model.TagRevisionID, id.String()}, {model.TagParent, "bad"},
			}},
			reason: ReasonInvalidFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, rej := Decode(tt.event)
			require.NotNil(t, rej)
			assert.Equal(t, tt.reason, rej.Reason)
			assert.True(t, rej.IsInvalid())
		})
	}

	ev := &model.Event{
		ID:        "e1",
		CreatedAt: 42,
		Content:   "",
		Tags:      model.DocumentTags("doc", id, []revision.ID{parent}, true),
	}
	docID, rev, rej := Decode(ev)
	require.Nil(t, rej)
	assert.Equal(t, "doc", docID)
	assert.Equal(t, id, rev.ID)
	assert.Equal(t, []revision.ID{parent}, rev.Parents)
	assert.Equal(t, int64(42), rev.CreatedAt)
	assert.Equal(t, "e1", rev.EventID)
	assert.True(t, rev.Deleted)
}

func TestSelectWinner(t *testing.T) {
	_, ok := SelectWinner(nil)
	assert.False(t, ok)

	r1 := root("a")
	r2 := child(r1, "b")
	r3 := child(r1, "c")

	want := r2
	if r3.ID.Hash > r2.ID.Hash {
		want = r3
	}

	for _, order := range permutations([]model.Revision{r1, r2, r3}) {
		got, ok := SelectWinner(order)
		require.True(t, ok)
		assert.Equal(t, want.ID, got.ID)
	}
}

func TestInConflict(t *testing.T) {
	r1 := root("a")
	other := root("x")
	r2 := child(r1, "b")
	r3 := child(r1, "c")
	r4 := child(r2, "d")

	assert.True(t, InConflict(r1, other), "two roots conflict")
	assert.True(t, InConflict(r2, r3), "siblings conflict")
	assert.False(t, InConflict(r2, r4), "parent and child do not conflict")
	assert.False(t, InConflict(r1, r2))
}

func TestAdmit_Idempotent(t *testing.T) {
	r1 := root("a")
	r2 := child(r1, "b")

	history, rejections := admitAll(t, r1, r2)
	require.Empty(t, rejections)

	next, duplicate, rej := Admit("doc", history, r2)
	assert.Nil(t, rej)
	assert.True(t, duplicate)
	assert.Equal(t, history, next)
	assert.Len(t, next, 2)
}

func TestAdmit_OrderIndependence(t *testing.T) {
	r1 := root("hello")
	r2 := child(r1, "left")
	r3 := child(r1, "right")

	winner, loser := r2, r3
	if r3.ID.Hash > r2.ID.Hash {
		winner, loser = r3, r2
	}

	for _, order := range permutations([]model.Revision{r1, r2, r3}) {
		name := fmt.Sprint(eventIDs(order))
		t.Run(name, func(t *testing.T) {
			history, rejections := admitAll(t, order...)

			got, ok := SelectWinner(history)
			require.True(t, ok)
			assert.Equal(t, winner.ID, got.ID)
			assert.ElementsMatch(t, []string{r1.EventID, winner.EventID}, eventIDs(history))

			for _, rej := range rejections {
				assert.Equal(t, ReasonSuperseded, rej.Reason)
				assert.Equal(t, loser.ID, rej.Revision)
				assert.Equal(t, winner.ID, rej.Existing)
			}
		})
	}
}

func TestAdmit_ReferencedAncestor(t *testing.T) {
	r1 := root("hello")
	r2 := child(r1, "world")
	r4 := child(r2, "again")

	// find a sibling of r2 that would win the hash tie-break
	var r3 model.Revision
	for i := 0; ; i++ {
		r3 = child(r1, fmt.Sprintf("alt-%d", i))
		if r3.ID.Hash > r2.ID.Hash {
			break
		}
	}

	history, rejections := admitAll(t, r1, r2, r4)
	require.Empty(t, rejections)

	next, _, rej := Admit("doc", history, r3)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonReferencedAncestor, rej.Reason)
	assert.Equal(t, r2.ID, rej.Existing)
	assert.Equal(t, history, next)

	got, _ := SelectWinner(history)
	assert.Equal(t, r4.ID, got.ID)
}

func TestAdmit_PrunesDominatedSibling(t *testing.T) {
	r1 := root("hello")
	r2 := child(r1, "left")
	r3 := child(r1, "right")

	low, high := r2, r3
	if low.ID.Hash > high.ID.Hash {
		low, high = high, low
	}

	history, rejections := admitAll(t, r1, low, high)
	require.Empty(t, rejections)
	assert.Equal(t, []string{r1.EventID, high.EventID}, eventIDs(history))
}

func TestAdmit_IndependentRoots(t *testing.T) {
	a := root("a")
	b := root("b")

	high := a
	if b.ID.Hash > a.ID.Hash {
		high = b
	}

	for _, order := range permutations([]model.Revision{a, b}) {
		history, _ := admitAll(t, order...)
		require.Len(t, history, 1)
		assert.Equal(t, high.ID, history[0].ID)
	}
}

func TestAdmit_SameRevisionNewEnvelope(t *testing.T) {
	first := root("hello")
	again := first
	again.EventID = "ev-hello-republished"

	history, rejections := admitAll(t, first, again)
	assert.Empty(t, rejections)
	require.Len(t, history, 1)
	assert.Equal(t, "ev-hello-republished", history[0].EventID)
}
