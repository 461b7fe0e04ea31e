package service

import (
	"context"

	"github.com/emrgen/docsync/internal/model"
	"github.com/emrgen/docsync/internal/revision"
	"github.com/sirupsen/logrus"
)

// CreateDocument publishes the first revision of a document.
func (s *SyncService) CreateDocument(ctx context.Context, id, content string) (*model.Document, error) {
	if s.remote.PublicKey() == "" {
		return nil, ErrNoIdentity
	}

	rev := revision.New(1, nil, content)
	return s.publishRevision(ctx, id, rev, nil, content, false)
}

// UpdateDocument publishes a child of the current winner.
func (s *SyncService) UpdateDocument(ctx context.Context, id, content string) (*model.Document, error) {
	if s.remote.PublicKey() == "" {
		return nil, ErrNoIdentity
	}

	doc, ok := s.docs.GetDocument(id)
	if !ok {
		return nil, ErrDocumentNotFound
	}

	rev := revision.Next(doc.Revision, content)
	return s.publishRevision(ctx, id, rev, []revision.ID{doc.Revision}, content, false)
}

// DeleteDocument publishes a tombstone on top of the current winner.
func (s *SyncService) DeleteDocument(ctx context.Context, id string) (*model.Document, error) {
	if s.remote.PublicKey() == "" {
		return nil, ErrNoIdentity
	}

	doc, ok := s.docs.GetDocument(id)
	if !ok {
		return nil, ErrDocumentNotFound
	}

	rev := revision.Next(doc.Revision, "")
	return s.publishRevision(ctx, id, rev, []revision.ID{doc.Revision}, "", true)
}

// PurgeDocument broadcasts a hard delete and erases the document locally.
func (s *SyncService) PurgeDocument(ctx context.Context, id string) error {
	if s.remote.PublicKey() == "" {
		return ErrNoIdentity
	}

	_, err := s.remote.Publish(ctx, model.EventTemplate{
		Kind:      model.KindPurge,
		Tags:      model.PurgeTags(id, s.opts.Kind),
		CreatedAt: s.opts.Now().Unix(),
	})
	if err != nil {
		return err
	}

	s.purge(ctx, id)
	logrus.Infof("purged document %s", id)

	return nil
}

func (s *SyncService) publishRevision(ctx context.Context, id string, rev revision.ID, parents []revision.ID, content string, deleted bool) (*model.Document, error) {
	ev, err := s.remote.Publish(ctx, model.EventTemplate{
		Kind:      s.opts.Kind,
		Content:   content,
		Tags:      model.DocumentTags(id, rev, parents, deleted),
		CreatedAt: s.opts.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}

	res := s.docs.AddRevision(ev)
	if !res.Accepted() {
		return nil, &RevisionRejectedError{DocumentID: id, Rejection: res.Rejection}
	}
	s.persist(ctx, id, 0, ev)

	logrus.Infof("published revision %s of document %s", rev, id)

	return res.Document, nil
}

func (s *SyncService) purge(ctx context.Context, id string) {
	s.docs.PurgeDocument(id)
	if s.store == nil {
		return
	}
	if err := s.store.EraseDocument(ctx, id); err != nil {
		logrus.Errorf("failed to erase stored events of %s: %v", id, err)
	}
}

func (s *SyncService) persist(ctx context.Context, id string, seq int64, ev *model.Event) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveEvent(ctx, id, seq, ev); err != nil {
		logrus.Errorf("failed to store event %s: %v", ev.ID, err)
	}
}
