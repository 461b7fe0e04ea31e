package docsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/emrgen/docsync/internal/cache"
	"github.com/emrgen/docsync/internal/compress"
	"github.com/emrgen/docsync/internal/config"
	"github.com/emrgen/docsync/internal/docstore"
	"github.com/emrgen/docsync/internal/identity"
	"github.com/emrgen/docsync/internal/jobs"
	"github.com/emrgen/docsync/internal/protocol"
	"github.com/emrgen/docsync/internal/service"
	"github.com/emrgen/docsync/internal/store"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Client wires a relay connection, the local document store and the persistent event log.
type Client struct {
	*service.SyncService

	Remote *protocol.Client
	Docs   *docstore.Store
	Events store.Store

	cfg      *config.Config
	signer   *identity.LocalSigner
	redis    *redis.Client
	cache    *cache.RedisDocumentCache
	detach   func()
	executor *jobs.TaskExecutor
}

// NewClient builds a disconnected client from cfg.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	var signer *identity.LocalSigner
	if cfg.Identity.Key != "" {
		var err error
		signer, err = identity.FromHex(cfg.Identity.Key)
		if err != nil {
			return nil, fmt.Errorf("load identity: %w", err)
		}
	}

	codec, err := compress.ByName(cfg.Sync.Compression)
	if err != nil {
		return nil, err
	}

	db, err := config.OpenDb(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	events := store.NewGormStore(db, codec)
	if err := events.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	settings := protocol.DefaultSettings()
	settings.HandshakeTimeout = cfg.Relay.HandshakeTimeout
	settings.PublishTimeout = cfg.Relay.PublishTimeout
	settings.ChangesTimeout = cfg.Relay.ChangesTimeout
	settings.LastSeqTimeout = cfg.Relay.LastSeqTimeout

	// a nil *LocalSigner must not become a non-nil Signer
	var remote *protocol.Client
	if signer != nil {
		remote = protocol.NewClient(cfg.Relay.URL, signer, settings)
	} else {
		remote = protocol.NewClient(cfg.Relay.URL, nil, settings)
	}

	docs := docstore.New()
	c := &Client{
		SyncService: service.NewSyncService(remote, docs, events, service.Options{
			Kind:       cfg.Sync.Kind,
			PageSize:   cfg.Sync.PageSize,
			CursorName: cfg.Relay.URL,
		}),
		Remote: remote,
		Docs:   docs,
		Events: events,
		cfg:    cfg,
		signer: signer,
	}

	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		c.redis = client
		c.cache = cache.NewRedisDocumentCache(client, codec, cfg.Redis.TTL)
		c.detach = c.cache.Attach(docs)
	}

	return c, nil
}

// PublicKey returns the local identity, or "" when the client is read-only.
func (c *Client) PublicKey() string {
	if c.signer == nil {
		return ""
	}
	return c.signer.PublicKey()
}

// Open restores the persisted documents and connects to the relay.
func (c *Client) Open(ctx context.Context) error {
	if _, err := c.Restore(ctx); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	return c.Remote.Connect(ctx)
}

// StartScheduler runs the incremental sync, and the cache refresh when redis is enabled, on cron.
func (c *Client) StartScheduler() error {
	cronJobs := []jobs.CronJob{
		jobs.NewIncrementalSyncTask(c.cfg.Sync.Interval, c.cfg.Relay.ChangesTimeout, c.SyncService),
	}
	if c.cache != nil {
		cronJobs = append(cronJobs, jobs.NewCacheRefreshTask("@every 30m", c.SyncService, c.cache))
	}

	c.executor = jobs.NewTaskExecutor(nil, cronJobs)
	return c.executor.Run()
}

func (c *Client) Close() error {
	if c.executor != nil {
		c.executor.Stop()
	}
	if c.detach != nil {
		c.detach()
	}

	var errs []error
	errs = append(errs, c.Remote.Close())
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if gs, ok := c.Events.(*store.GormStore); ok {
		errs = append(errs, gs.Close())
	}

	if err := errors.Join(errs...); err != nil {
		logrus.Warnf("errors while closing client: %v", err)
		return err
	}
	return nil
}
