package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emrgen/docsync/internal/compress"
	"github.com/emrgen/docsync/internal/docstore"
	"github.com/emrgen/docsync/internal/identity"
	"github.com/emrgen/docsync/internal/model"
	"github.com/emrgen/docsync/internal/mvcc"
	"github.com/emrgen/docsync/internal/protocol"
	"github.com/emrgen/docsync/internal/revision"
	"github.com/emrgen/docsync/internal/store"
	"github.com/emrgen/docsync/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	relay  *tester.Relay
	client *protocol.Client
	docs   *docstore.Store
	store  *store.GormStore
	svc    *SyncService
}

func newFixture(t *testing.T, relay *tester.Relay, opts Options) *fixture {
	t.Helper()

	signer, err := identity.Generate()
	require.NoError(t, err)

	return newFixtureWithSigner(t, relay, signer, opts)
}

func newFixtureWithSigner(t *testing.T, relay *tester.Relay, signer protocol.Signer, opts Options) *fixture {
	t.Helper()

	client := protocol.NewClient(relay.URL(), signer, nil)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })

	docs := docstore.New()
	events := store.NewGormStore(tester.TestDB(t), compress.NewGZip())

	return &fixture{
		relay:  relay,
		client: client,
		docs:   docs,
		store:  events,
		svc:    NewSyncService(client, docs, events, opts),
	}
}

func TestCreateThenUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tester.StartRelay(t), Options{})

	created, err := f.svc.CreateDocument(ctx, "doc-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, revision.New(1, nil, "hello"), created.Revision)
	assert.Empty(t, created.Parents)

	updated, err := f.svc.UpdateDocument(ctx, "doc-1", "world")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), updated.Revision.Generation)
	assert.Equal(t, revision.ComputeHash(created.Revision.Hash, "world"), updated.Revision.Hash)
	assert.Equal(t, []revision.ID{created.Revision}, updated.Parents)

	doc, err := f.svc.Document("doc-1")
	require.NoError(t, err)
	assert.Equal(t, "world", doc.Content)
	assert.Len(t, f.docs.GetRevisions("doc-1"), 2)

	history := f.svc.History("doc-1")
	require.Len(t, history, 2)
	assert.Equal(t, updated.Revision, history[0].ID)

	assert.Len(t, f.relay.Events(), 2)
	count, err := f.store.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestDeleteLeavesTombstone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tester.StartRelay(t), Options{})

	_, err := f.svc.CreateDocument(ctx, "x", "content")
	require.NoError(t, err)

	deleted, err := f.svc.DeleteDocument(ctx, "x")
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.Empty(t, deleted.Content)

	assert.Empty(t, f.svc.Documents())
	history := f.svc.History("x")
	require.Len(t, history, 2)
	assert.True(t, history[0].Deleted)
}

func TestMutationsRequireDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tester.StartRelay(t), Options{})

	_, err := f.svc.UpdateDocument(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, err = f.svc.DeleteDocument(ctx, "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Empty(t, f.relay.Events())
}

func TestMutationsRequireIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithSigner(t, tester.StartRelay(t), nil, Options{})

	_, err := f.svc.CreateDocument(ctx, "a", "x")
	assert.ErrorIs(t, err, ErrNoIdentity)
	_, err = f.svc.UpdateDocument(ctx, "a", "x")
	assert.ErrorIs(t, err, ErrNoIdentity)
	_, err = f.svc.DeleteDocument(ctx, "a")
	assert.ErrorIs(t, err, ErrNoIdentity)
	assert.ErrorIs(t, f.svc.PurgeDocument(ctx, "a"), ErrNoIdentity)
}

func TestCreateRejectedByExistingWinner(t *testing.T) {
	ctx := context.Background()
	relay := tester.StartRelay(t)
	f := newFixture(t, relay, Options{})

	// two roots for the same id: the one with the greater hash wins, the other is rejected
	a, b := "alpha", "beta"
	if revision.ComputeHash("", a) < revision.ComputeHash("", b) {
		a, b = b, a
	}

	_, err := f.svc.CreateDocument(ctx, "doc", a)
	require.NoError(t, err)

	_, err = f.svc.CreateDocument(ctx, "doc", b)
	assert.ErrorIs(t, err, ErrRevisionRejected)
	var rejected *RevisionRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, mvcc.ReasonSuperseded, rejected.Rejection.Reason)

	doc, err := f.svc.Document("doc")
	require.NoError(t, err)
	assert.Equal(t, a, doc.Content)
}

func TestPublishFailureIsSurfaced(t *testing.T) {
	relay := tester.StartRelay(t, tester.WithRejection(func(ev *model.Event) string {
		return "blocked: no writes"
	}))
	f := newFixture(t, relay, Options{})

	_, err := f.svc.CreateDocument(context.Background(), "doc", "x")
	var pubErr *protocol.PublishError
	assert.True(t, errors.As(err, &pubErr))
	assert.Zero(t, f.docs.Len())
}

func TestFullSyncThenIncremental(t *testing.T) {
	ctx := context.Background()
	relay := tester.StartRelay(t)
	writer := newFixture(t, relay, Options{})

	_, err := writer.svc.CreateDocument(ctx, "a", "1")
	require.NoError(t, err)
	_, err = writer.svc.UpdateDocument(ctx, "a", "2")
	require.NoError(t, err)
	_, err = writer.svc.CreateDocument(ctx, "b", "3")
	require.NoError(t, err)

	reader := newFixture(t, relay, Options{})
	stats, err := reader.svc.FullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Applied)
	assert.Equal(t, int64(3), reader.svc.LastSeq())

	before := reader.svc.Documents()
	require.Len(t, before, 2)

	stats, err = reader.svc.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Applied)
	assert.Equal(t, int64(3), reader.svc.LastSeq())
	assert.Same(t, &before[0], &reader.svc.Documents()[0])

	_, err = writer.svc.UpdateDocument(ctx, "b", "4")
	require.NoError(t, err)

	stats, err = reader.svc.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Applied)
	assert.Equal(t, int64(4), reader.svc.LastSeq())

	doc, err := reader.svc.Document("b")
	require.NoError(t, err)
	assert.Equal(t, "4", doc.Content)

	cursor, err := reader.store.GetCursor(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(4), cursor)
}

func TestSyncAppliesPurge(t *testing.T) {
	ctx := context.Background()
	relay := tester.StartRelay(t)
	writer := newFixture(t, relay, Options{})

	_, err := writer.svc.CreateDocument(ctx, "keep", "k")
	require.NoError(t, err)
	_, err = writer.svc.CreateDocument(ctx, "gone", "g")
	require.NoError(t, err)

	reader := newFixture(t, relay, Options{})
	_, err = reader.svc.FullSync(ctx)
	require.NoError(t, err)
	require.Len(t, reader.svc.Documents(), 2)

	require.NoError(t, writer.svc.PurgeDocument(ctx, "gone"))
	_, err = writer.svc.Document("gone")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	stats, err := reader.svc.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Purged)
	assert.Empty(t, reader.docs.GetRevisions("gone"))

	events, err := reader.store.ListDocumentEvents(ctx, "gone")
	require.NoError(t, err)
	assert.Empty(t, events)

	// a fresh full sync replays create then purge and ends without the document
	_, err = reader.svc.FullSync(ctx)
	require.NoError(t, err)
	docs := reader.svc.Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, "keep", docs[0].ID)
}

func TestPurgeForOtherKindIsIgnored(t *testing.T) {
	ctx := context.Background()
	relay := tester.StartRelay(t)
	f := newFixture(t, relay, Options{})

	_, err := f.svc.CreateDocument(ctx, "doc", "x")
	require.NoError(t, err)

	other := newFixture(t, relay, Options{Kind: model.KindDocument + 1})
	require.NoError(t, other.svc.PurgeDocument(ctx, "doc"))

	stats, err := f.svc.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Purged)
	_, err = f.svc.Document("doc")
	assert.NoError(t, err)
}

// laggingRemote runs beforeQuery ahead of every changes query.
type laggingRemote struct {
	Remote
	beforeQuery func()
}

func (r *laggingRemote) QueryChanges(ctx context.Context, query model.ChangesQuery) (*model.ChangesResult, error) {
	r.beforeQuery()
	return r.Remote.QueryChanges(ctx, query)
}

func TestIncrementalSyncKeepsNewerCursor(t *testing.T) {
	ctx := context.Background()
	relay := tester.StartRelay(t)
	writer := newFixture(t, relay, Options{})

	_, err := writer.svc.CreateDocument(ctx, "a", "1")
	require.NoError(t, err)

	reader := newFixture(t, relay, Options{})
	reader.svc.remote = &laggingRemote{
		Remote:      reader.client,
		beforeQuery: func() { reader.svc.advanceLastSeq(10) },
	}

	stats, err := reader.svc.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.LastSeq)
	assert.Equal(t, int64(10), reader.svc.LastSeq())

	cursor, err := reader.store.GetCursor(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(10), cursor)
}

func TestPagedSync(t *testing.T) {
	ctx := context.Background()
	relay := tester.StartRelay(t)
	writer := newFixture(t, relay, Options{})

	for i, content := range []string{"a", "b", "c", "d", "e"} {
		_, err := writer.svc.CreateDocument(ctx, string(rune('p'+i)), content)
		require.NoError(t, err)
	}

	reader := newFixture(t, relay, Options{PageSize: 2})
	stats, err := reader.svc.FullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Applied)
	assert.Equal(t, int64(5), stats.LastSeq)
	assert.Len(t, reader.svc.Documents(), 5)
}

func TestRestoreFromEventStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tester.StartRelay(t), Options{})

	_, err := f.svc.CreateDocument(ctx, "a", "1")
	require.NoError(t, err)
	_, err = f.svc.UpdateDocument(ctx, "a", "2")
	require.NoError(t, err)
	_, err = f.svc.IncrementalSync(ctx)
	require.NoError(t, err)

	offline := NewSyncService(f.client, docstore.New(), f.store, Options{})
	restored, err := offline.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)
	assert.Equal(t, int64(2), offline.LastSeq())

	doc, err := offline.Document("a")
	require.NoError(t, err)
	assert.Equal(t, "2", doc.Content)

	_, err = NewSyncService(f.client, docstore.New(), nil, Options{}).Restore(ctx)
	assert.ErrorIs(t, err, ErrNoEventStore)
}

func TestWatchFollowsChanges(t *testing.T) {
	ctx := context.Background()
	relay := tester.StartRelay(t)
	writer := newFixture(t, relay, Options{})
	reader := newFixture(t, relay, Options{})

	_, err := writer.svc.CreateDocument(ctx, "a", "1")
	require.NoError(t, err)

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- reader.svc.Watch(watchCtx)
	}()

	require.Eventually(t, func() bool {
		return reader.svc.LastSeq() == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = writer.svc.UpdateDocument(ctx, "a", "2")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		doc, err := reader.svc.Document("a")
		return err == nil && doc.Content == "2" && reader.svc.LastSeq() == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
