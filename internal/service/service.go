package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/emrgen/docsync/internal/docstore"
	"github.com/emrgen/docsync/internal/model"
	"github.com/emrgen/docsync/internal/protocol"
	"github.com/emrgen/docsync/internal/revision"
	"github.com/emrgen/docsync/internal/store"
)

// Remote is the relay connection the service syncs against.
type Remote interface {
	PublicKey() string
	Publish(ctx context.Context, tmpl model.EventTemplate) (*model.Event, error)
	QueryChanges(ctx context.Context, query model.ChangesQuery) (*model.ChangesResult, error)
	SubscribeChanges(query model.ChangesQuery, handler protocol.ChangesHandler) *protocol.Subscription
}

var _ Remote = (*protocol.Client)(nil)

type Options struct {
	// Kind is the event kind documents are published under.
	Kind int
	// PageSize limits each changes query. Zero fetches everything in one query.
	PageSize int
	// CursorName keys the persisted lastSeq.
	CursorName string
	Now        func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Kind:       model.KindDocument,
		CursorName: "default",
		Now:        time.Now,
	}
}

// SyncService keeps a document store in step with a relay and publishes local edits.
type SyncService struct {
	remote Remote
	docs   *docstore.Store
	store  store.Store
	opts   Options

	// syncMu serializes full and incremental syncs
	syncMu  sync.Mutex
	mu      sync.Mutex
	lastSeq int64
}

// NewSyncService creates a service. events may be nil to run without persistence.
func NewSyncService(remote Remote, docs *docstore.Store, events store.Store, opts Options) *SyncService {
	defaults := DefaultOptions()
	if opts.Kind == 0 {
		opts.Kind = defaults.Kind
	}
	if opts.CursorName == "" {
		opts.CursorName = defaults.CursorName
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}

	return &SyncService{
		remote: remote,
		docs:   docs,
		store:  events,
		opts:   opts,
	}
}

// LastSeq returns the highest changes-feed sequence applied locally.
func (s *SyncService) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Documents returns the current non-deleted documents.
func (s *SyncService) Documents() []*model.Document {
	return s.docs.ListDocuments()
}

// Document returns one document, tombstones included.
func (s *SyncService) Document(id string) (*model.Document, error) {
	doc, ok := s.docs.GetDocument(id)
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// History returns the revisions of a document, newest first.
func (s *SyncService) History(id string) []model.Revision {
	revs := s.docs.GetRevisions(id)
	sort.Slice(revs, func(i, j int) bool {
		return revision.Compare(revs[i].ID, revs[j].ID) > 0
	})
	return revs
}

func (s *SyncService) kinds() []int {
	return []int{s.opts.Kind, model.KindPurge}
}

func (s *SyncService) setLastSeq(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeq = seq
}

// advanceLastSeq moves lastSeq forward only.
func (s *SyncService) advanceLastSeq(seq int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.lastSeq {
		return false
	}
	s.lastSeq = seq
	return true
}
