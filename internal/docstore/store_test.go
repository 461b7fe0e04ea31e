package docstore

import (
	"sync"
	"testing"
	"time"

	"github.com/emrgen/docsync/internal/model"
	"github.com/emrgen/docsync/internal/mvcc"
	"github.com/emrgen/docsync/internal/revision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docEvent(eventID, docID string, id revision.ID, parents []revision.ID, content string, deleted bool) *model.Event {
	return &model.Event{
		ID:        eventID,
		PubKey:    "alice",
		CreatedAt: 1700000000,
		Kind:      model.KindDocument,
		Tags:      model.DocumentTags(docID, id, parents, deleted),
		Content:   content,
	}
}

func TestStore_AddRevision(t *testing.T) {
	store := New()

	var changes []Change
	store.Subscribe(func(c Change) {
		changes = append(changes, c)
	})

	r1 := revision.New(1, nil, "hello")
	res := store.AddRevision(docEvent("e1", "doc-1", r1, nil, "hello", false))
	require.True(t, res.Accepted())
	assert.Equal(t, "hello", res.Document.Content)

	r2 := revision.Next(r1, "world")
	res = store.AddRevision(docEvent("e2", "doc-1", r2, []revision.ID{r1}, "world", false))
	require.True(t, res.Accepted())

	doc, ok := store.GetDocument("doc-1")
	require.True(t, ok)
	assert.Equal(t, "world", doc.Content)
	assert.Equal(t, r2, doc.Revision)
	assert.Equal(t, []revision.ID{r1}, doc.Parents)
	assert.Equal(t, "e2", doc.EventID)
	assert.Len(t, store.GetRevisions("doc-1"), 2)

	require.Len(t, changes, 2)
	assert.Equal(t, ChangeCreated, changes[0].Kind)
	assert.Equal(t, ChangeUpdated, changes[1].Kind)
	assert.Equal(t, "doc-1", changes[1].DocumentID)
}

func TestStore_AddRevision_Duplicate(t *testing.T) {
	store := New()
	r1 := revision.New(1, nil, "hello")
	ev := docEvent("e1", "doc-1", r1, nil, "hello", false)

	first := store.AddRevision(ev)
	require.True(t, first.Accepted())

	notified := 0
	store.Subscribe(func(Change) { notified++ })

	second := store.AddRevision(ev)
	assert.True(t, second.Accepted())
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Document, second.Document)
	assert.Len(t, store.GetRevisions("doc-1"), 1)
	assert.Equal(t, 0, notified)
}

func TestStore_AddRevision_Invalid(t *testing.T) {
	store := New()
	res := store.AddRevision(&model.Event{ID: "bad", Kind: model.KindDocument})
	require.False(t, res.Accepted())
	assert.Equal(t, mvcc.ReasonMissingDocumentID, res.Rejection.Reason)
	assert.Equal(t, 0, store.Len())
}

func TestStore_AddRevision_Rejected(t *testing.T) {
	store := New()
	r1 := revision.New(1, nil, "hello")
	left := revision.Next(r1, "left")
	right := revision.Next(r1, "right")
	high, low := left, right
	if right.Hash > left.Hash {
		high, low = right, left
	}

	store.AddRevision(docEvent("e1", "doc-1", r1, nil, "hello", false))
	store.AddRevision(docEvent("e-high", "doc-1", high, []revision.ID{r1}, "high", false))
	res := store.AddRevision(docEvent("e-low", "doc-1", low, []revision.ID{r1}, "low", false))

	require.False(t, res.Accepted())
	assert.Equal(t, mvcc.ReasonSuperseded, res.Rejection.Reason)
	doc, _ := store.GetDocument("doc-1")
	assert.Equal(t, high, doc.Revision)
}

func TestStore_Tombstone(t *testing.T) {
	store := New()
	r1 := revision.New(1, nil, "hello")
	store.AddRevision(docEvent("e1", "doc-1", r1, nil, "hello", false))
	store.AddRevision(docEvent("e0", "doc-0", revision.New(1, nil, "other"), nil, "other", false))

	r2 := revision.Next(r1, "")
	res := store.AddRevision(docEvent("e2", "doc-1", r2, []revision.ID{r1}, "", true))
	require.True(t, res.Accepted())

	doc, ok := store.GetDocument("doc-1")
	require.True(t, ok)
	assert.True(t, doc.Deleted)

	listed := store.ListDocuments()
	require.Len(t, listed, 1)
	assert.Equal(t, "doc-0", listed[0].ID)

	history := store.GetRevisions("doc-1")
	require.Len(t, history, 2)
	assert.True(t, history[1].Deleted)
}

func TestStore_Purge(t *testing.T) {
	store := New()
	r1 := revision.New(1, nil, "hello")
	ev := docEvent("e1", "doc-1", r1, nil, "hello", false)
	store.AddRevision(ev)
	store.AddRevision(docEvent("e2", "doc-1", revision.Next(r1, "world"), []revision.ID{r1}, "world", false))

	var kinds []ChangeKind
	store.Subscribe(func(c Change) { kinds = append(kinds, c.Kind) })

	assert.True(t, store.PurgeDocument("doc-1"))
	assert.False(t, store.PurgeDocument("doc-1"))

	_, ok := store.GetDocument("doc-1")
	assert.False(t, ok)
	assert.Empty(t, store.GetRevisions("doc-1"))

	// an old envelope starts a fresh history
	res := store.AddRevision(ev)
	require.True(t, res.Accepted())
	assert.False(t, res.Duplicate)
	assert.Len(t, store.GetRevisions("doc-1"), 1)
	assert.Equal(t, []ChangeKind{ChangePurged, ChangeCreated}, kinds)
}

func TestStore_ListDocuments_Snapshot(t *testing.T) {
	store := New()
	store.AddRevision(docEvent("e1", "b", revision.New(1, nil, "b"), nil, "b", false))
	store.AddRevision(docEvent("e2", "a", revision.New(1, nil, "a"), nil, "a", false))

	first := store.ListDocuments()
	second := store.ListDocuments()
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].ID)
	assert.True(t, &first[0] == &second[0], "snapshot should be reused until the next mutation")

	store.AddRevision(docEvent("e3", "c", revision.New(1, nil, "c"), nil, "c", false))
	third := store.ListDocuments()
	require.Len(t, third, 3)
	assert.False(t, &first[0] == &third[0])
}

func TestStore_ObserverSeesAppliedState(t *testing.T) {
	store := New()
	store.Subscribe(func(c Change) {
		if c.Document == nil {
			return
		}
		doc, ok := store.GetDocument(c.DocumentID)
		require.True(t, ok)
		assert.Equal(t, c.Document, doc)

		history := store.GetRevisions(c.DocumentID)
		assert.Equal(t, c.Document.EventID, history[len(history)-1].EventID)
	})

	r1 := revision.New(1, nil, "hello")
	store.AddRevision(docEvent("e1", "doc-1", r1, nil, "hello", false))
	store.AddRevision(docEvent("e2", "doc-1", revision.Next(r1, "world"), []revision.ID{r1}, "world", false))
}

func TestStore_Clear(t *testing.T) {
	store := New()
	store.AddRevision(docEvent("e1", "doc-1", revision.New(1, nil, "a"), nil, "a", false))

	cleared := false
	cancel := store.Subscribe(func(c Change) { cleared = c.Kind == ChangeCleared })

	store.Clear()
	assert.True(t, cleared)
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, store.ListDocuments())

	cancel()
	cleared = false
	store.Clear()
	assert.False(t, cleared)
}

func TestStore_ObserversSeeMutationOrder(t *testing.T) {
	store := New()

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	store.Subscribe(func(c Change) {
		if c.Document.Content == "hello" {
			close(started)
			<-release
		}
		mu.Lock()
		seen = append(seen, c.Document.Content)
		mu.Unlock()
	})

	r1 := revision.New(1, nil, "hello")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		store.AddRevision(docEvent("e1", "doc-1", r1, nil, "hello", false))
	}()
	<-started

	go func() {
		defer wg.Done()
		store.AddRevision(docEvent("e2", "doc-1", revision.Next(r1, "world"), []revision.ID{r1}, "world", false))
	}()
	require.Eventually(t, func() bool {
		doc, ok := store.GetDocument("doc-1")
		return ok && doc.Content == "world"
	}, time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello", "world"}, seen)
	doc, _ := store.GetDocument("doc-1")
	assert.Equal(t, doc.Content, seen[len(seen)-1])
}
