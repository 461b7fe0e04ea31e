package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/emrgen/docsync/internal/model"
	"github.com/emrgen/docsync/internal/protocol"
	"github.com/sirupsen/logrus"
)

// SyncStats summarizes one sync run.
type SyncStats struct {
	Applied   int
	Duplicate int
	Rejected  int
	Purged    int
	LastSeq   int64
}

func (s SyncStats) String() string {
	return fmt.Sprintf("applied=%d duplicate=%d rejected=%d purged=%d lastSeq=%d",
		s.Applied, s.Duplicate, s.Rejected, s.Purged, s.LastSeq)
}

// FullSync clears local state and replays the whole changes feed.
func (s *SyncService) FullSync(ctx context.Context) (SyncStats, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.docs.Clear()
	if s.store != nil {
		if err := s.store.Reset(ctx); err != nil {
			return SyncStats{}, fmt.Errorf("reset event store: %w", err)
		}
	}
	s.setLastSeq(0)

	stats, err := s.pull(ctx, 0)
	if err != nil {
		return stats, err
	}

	logrus.Infof("full sync done: %s", stats)
	return stats, nil
}

// IncrementalSync applies the changes after LastSeq.
func (s *SyncService) IncrementalSync(ctx context.Context) (SyncStats, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	stats, err := s.pull(ctx, s.LastSeq())
	if err != nil {
		return stats, err
	}

	logrus.Debugf("incremental sync done: %s", stats)
	return stats, nil
}

// pull pages through the changes feed from since and records the relay's lastSeq.
func (s *SyncService) pull(ctx context.Context, since int64) (SyncStats, error) {
	var stats SyncStats

	cursor := since
	for {
		res, err := s.remote.QueryChanges(ctx, model.ChangesQuery{
			Since: cursor,
			Limit: s.opts.PageSize,
			Kinds: s.kinds(),
		})
		if err != nil {
			return stats, fmt.Errorf("query changes since %d: %w", cursor, err)
		}

		for _, entry := range res.Changes {
			s.apply(ctx, entry, &stats)
		}

		if s.opts.PageSize <= 0 || len(res.Changes) < s.opts.PageSize {
			stats.LastSeq = res.LastSeq
			break
		}
		cursor = res.Changes[len(res.Changes)-1].Seq
	}

	// Watch may have moved past the relay's answer while the query was in flight
	s.advanceLastSeq(stats.LastSeq)
	s.saveCursor(ctx, s.LastSeq())

	return stats, nil
}

// Watch follows the changes feed from LastSeq until ctx is done.
func (s *SyncService) Watch(ctx context.Context) error {
	ready := make(chan struct{})
	sub := s.remote.SubscribeChanges(model.ChangesQuery{Since: s.LastSeq(), Kinds: s.kinds()}, protocol.ChangesHandler{
		OnChange: func(entry model.ChangeEntry) {
			var stats SyncStats
			s.apply(ctx, entry, &stats)
			if s.advanceLastSeq(entry.Seq) {
				s.saveCursor(ctx, entry.Seq)
			}
		},
		OnEOSE: func(lastSeq int64) {
			if s.advanceLastSeq(lastSeq) {
				s.saveCursor(ctx, lastSeq)
			}
			close(ready)
		},
	})
	defer sub.Unsubscribe()

	select {
	case <-ready:
		logrus.Infof("watching changes from seq %d", s.LastSeq())
	case <-ctx.Done():
		return nil
	}

	<-ctx.Done()
	return nil
}

// Restore loads the persisted events and cursor into the document store.
func (s *SyncService) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, ErrNoEventStore
	}

	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return 0, err
	}

	seq, err := s.store.GetCursor(ctx, s.opts.CursorName)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, ev := range events {
		if res := s.docs.AddRevision(ev); res.Accepted() && !res.Duplicate {
			restored++
		}
	}
	s.setLastSeq(seq)

	logrus.Infof("restored %d events up to seq %d", restored, seq)
	return restored, nil
}

func (s *SyncService) apply(ctx context.Context, entry model.ChangeEntry, stats *SyncStats) {
	ev := entry.Event
	if ev.Kind == model.KindPurge {
		docID, ok := ev.Tags.Value(model.TagDocumentID)
		if !ok || docID == "" {
			logrus.Warnf("dropping purge %s without document id", ev.ID)
			return
		}
		if kind, ok := ev.Tags.Value(model.TagKind); ok && kind != strconv.Itoa(s.opts.Kind) {
			return
		}
		s.purge(ctx, docID)
		stats.Purged++
		return
	}

	res := s.docs.AddRevision(ev)
	switch {
	case !res.Accepted():
		stats.Rejected++
		return
	case res.Duplicate:
		stats.Duplicate++
	default:
		stats.Applied++
	}
	s.persist(ctx, res.DocumentID, entry.Seq, ev)
}

func (s *SyncService) saveCursor(ctx context.Context, seq int64) {
	if s.store == nil {
		return
	}
	if err := s.store.SetCursor(ctx, s.opts.CursorName, seq); err != nil {
		logrus.Errorf("failed to save cursor %s: %v", s.opts.CursorName, err)
	}
}
