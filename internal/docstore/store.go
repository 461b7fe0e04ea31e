package docstore

import (
	"sort"
	"sync"

	"github.com/emrgen/docsync/internal/model"
	"github.com/emrgen/docsync/internal/mvcc"
	"github.com/sirupsen/logrus"
)

// ChangeKind tells observers what kind of mutation happened.
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota + 1
	ChangeUpdated
	ChangePurged
	ChangeCleared
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangePurged:
		return "purged"
	case ChangeCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Change is delivered to observers after every successful mutation.
// Document is nil for purges and clears.
type Change struct {
	Kind       ChangeKind
	DocumentID string
	Document   *model.Document
}

// Observer is called synchronously after a mutation has been fully applied.
// Changes are delivered in mutation order. Observers may read the store but
// must not mutate it.
type Observer func(Change)

// Result reports the outcome of AddRevision.
type Result struct {
	DocumentID string
	// Document is the materialized document after admission. It is nil on rejection.
	Document  *model.Document
	Duplicate bool
	Rejection *mvcc.Rejection
}

// Accepted reports whether the event was admitted or was already present.
func (r Result) Accepted() bool {
	return r.Rejection == nil
}

// Store indexes document histories and their materialized documents.
type Store struct {
	mu        sync.RWMutex
	histories map[string][]model.Revision
	documents map[string]*model.Document
	// snapshot caches ListDocuments until the next mutation
	snapshot []*model.Document

	// issued is guarded by mu, delivered by notifyMu
	issued     uint64
	delivered  uint64
	notifyMu   sync.Mutex
	notifyCond *sync.Cond

	observerMu sync.Mutex
	observers  map[int]Observer
	nextID     int
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		histories: make(map[string][]model.Revision),
		documents: make(map[string]*model.Document),
		observers: make(map[int]Observer),
	}
	s.notifyCond = sync.NewCond(&s.notifyMu)

	return s
}

// Subscribe registers an observer. The returned function removes it.
func (s *Store) Subscribe(observer Observer) func() {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = observer

	return func() {
		s.observerMu.Lock()
		defer s.observerMu.Unlock()
		delete(s.observers, id)
	}
}

// AddRevision decodes a document event and admits it into the history of its document.
func (s *Store) AddRevision(ev *model.Event) Result {
	docID, rev, rej := mvcc.Decode(ev)
	if rej != nil {
		logrus.Warnf("dropping invalid document event %s: %v", ev.ID, rej)
		return Result{DocumentID: docID, Rejection: rej}
	}

	s.mu.Lock()
	history, exists := s.histories[docID]
	next, duplicate, rej := mvcc.Admit(docID, history, rev)
	if rej != nil {
		s.mu.Unlock()
		logrus.Debugf("revision rejected: %v", rej)
		return Result{DocumentID: docID, Rejection: rej}
	}
	if duplicate {
		doc := s.documents[docID]
		s.mu.Unlock()
		return Result{DocumentID: docID, Document: doc, Duplicate: true}
	}

	winner, _ := mvcc.SelectWinner(next)
	doc := model.NewDocument(docID, winner)
	s.histories[docID] = next
	s.documents[docID] = doc
	s.snapshot = nil
	ticket := s.issue()
	s.mu.Unlock()

	kind := ChangeUpdated
	if !exists {
		kind = ChangeCreated
	}
	s.notify(ticket, Change{Kind: kind, DocumentID: docID, Document: doc})

	return Result{DocumentID: docID, Document: doc}
}

// GetDocument returns the materialized document, tombstones included.
func (s *Store) GetDocument(id string) (*model.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	return doc, ok
}

// ListDocuments returns the documents that are not deleted, sorted by id.
// The same slice is returned until the next mutation; callers must not modify it.
func (s *Store) ListDocuments() []*model.Document {
	s.mu.RLock()
	if s.snapshot != nil {
		defer s.mu.RUnlock()
		return s.snapshot
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot != nil {
		return s.snapshot
	}

	docs := make([]*model.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		if !doc.Deleted {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].ID < docs[j].ID
	})
	s.snapshot = docs

	return docs
}

// GetRevisions returns a copy of the history of one document in insertion order.
func (s *Store) GetRevisions(id string) []model.Revision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.histories[id]
	revs := make([]model.Revision, len(history))
	copy(revs, history)

	return revs
}

// PurgeDocument erases a document and its history without any conflict check.
// It reports whether the document existed.
func (s *Store) PurgeDocument(id string) bool {
	s.mu.Lock()
	_, ok := s.histories[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.histories, id)
	delete(s.documents, id)
	s.snapshot = nil
	ticket := s.issue()
	s.mu.Unlock()

	s.notify(ticket, Change{Kind: ChangePurged, DocumentID: id})
	return true
}

// Clear drops every document.
func (s *Store) Clear() {
	s.mu.Lock()
	s.histories = make(map[string][]model.Revision)
	s.documents = make(map[string]*model.Document)
	s.snapshot = nil
	ticket := s.issue()
	s.mu.Unlock()

	s.notify(ticket, Change{Kind: ChangeCleared})
}

// Len returns the number of documents, tombstones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.documents)
}

// issue numbers a mutation. Callers must hold mu.
func (s *Store) issue() uint64 {
	s.issued++
	return s.issued
}

// notify waits until every earlier mutation has been delivered, then calls the observers.
func (s *Store) notify(ticket uint64, change Change) {
	s.notifyMu.Lock()
	for s.delivered+1 != ticket {
		s.notifyCond.Wait()
	}
	s.notifyMu.Unlock()

	defer func() {
		s.notifyMu.Lock()
		s.delivered = ticket
		s.notifyCond.Broadcast()
		s.notifyMu.Unlock()
	}()

	s.observerMu.Lock()
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	observers := make([]Observer, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, s.observers[id])
	}
	s.observerMu.Unlock()

	for _, observer := range observers {
		observer(change)
	}
}
