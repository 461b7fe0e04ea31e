package jobs

import (
	"context"
	"time"

	"github.com/emrgen/docsync/internal/service"
	"github.com/sirupsen/logrus"
)

type Syncer interface {
	IncrementalSync(ctx context.Context) (service.SyncStats, error)
}

// IncrementalSyncTask pulls the relay's changes on a schedule.
type IncrementalSyncTask struct {
	syncer  Syncer
	cron    string
	timeout time.Duration
}

func NewIncrementalSyncTask(interval string, timeout time.Duration, syncer Syncer) *IncrementalSyncTask {
	return &IncrementalSyncTask{
		syncer:  syncer,
		cron:    interval,
		timeout: timeout,
	}
}

func (s *IncrementalSyncTask) Name() string {
	return "incremental_sync"
}

func (s *IncrementalSyncTask) Schedule() string {
	return s.cron
}

func (s *IncrementalSyncTask) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	stats, err := s.syncer.IncrementalSync(ctx)
	if err != nil {
		logrus.Errorf("scheduled sync failed: %v", err)
		return
	}
	if stats.Applied > 0 || stats.Purged > 0 {
		logrus.Infof("scheduled sync: %s", stats)
	}
}
