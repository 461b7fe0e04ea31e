package jobs

import (
	"context"
	"time"

	"github.com/emrgen/docsync/internal/cache"
	"github.com/emrgen/docsync/internal/model"
	"github.com/sirupsen/logrus"
)

type DocumentLister interface {
	Documents() []*model.Document
}

// CacheRefreshTask rewrites every live document into the cache so entries do not expire while unchanged.
type CacheRefreshTask struct {
	docs  DocumentLister
	cache cache.DocumentCache
	cron  string
}

func NewCacheRefreshTask(interval string, docs DocumentLister, cache cache.DocumentCache) *CacheRefreshTask {
	return &CacheRefreshTask{
		docs:  docs,
		cache: cache,
		cron:  interval,
	}
}

func (c *CacheRefreshTask) Name() string {
	return "cache_refresh"
}

func (c *CacheRefreshTask) Schedule() string {
	return c.cron
}

func (c *CacheRefreshTask) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	docs := c.docs.Documents()
	for _, doc := range docs {
		if err := c.cache.SetDocument(ctx, doc); err != nil {
			logrus.Errorf("failed to refresh cached document %s: %v", doc.ID, err)
			return
		}
	}
	logrus.Debugf("refreshed %d cached documents", len(docs))
}
