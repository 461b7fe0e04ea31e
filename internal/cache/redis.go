package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/emrgen/docsync/internal/compress"
	"github.com/emrgen/docsync/internal/docstore"
	"github.com/emrgen/docsync/internal/model"
	"github.com/emrgen/docsync/internal/revision"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	documentRevisionHash = "docsync:document:revision"
	defaultTTL           = time.Hour
	observerTimeout      = 5 * time.Second
)

func documentKey(id string) string {
	return "docsync:document:" + id
}

var _ DocumentCache = (*RedisDocumentCache)(nil)

type RedisDocumentCache struct {
	client  *redis.Client
	encoder compress.Compress
	ttl     time.Duration
}

func NewRedisDocumentCache(client *redis.Client, encoder compress.Compress, ttl time.Duration) *RedisDocumentCache {
	if encoder == nil {
		encoder = compress.NewGZip()
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &RedisDocumentCache{client: client, encoder: encoder, ttl: ttl}
}

// Attach mirrors every change of docs into the cache. The returned function detaches it.
func (r *RedisDocumentCache) Attach(docs *docstore.Store) func() {
	return docs.Subscribe(func(change docstore.Change) {
		ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
		defer cancel()

		var err error
		switch change.Kind {
		case docstore.ChangeCreated, docstore.ChangeUpdated:
			err = r.SetDocument(ctx, change.Document)
		case docstore.ChangePurged:
			err = r.DeleteDocument(ctx, change.DocumentID)
		case docstore.ChangeCleared:
			err = r.Clear(ctx)
		}
		if err != nil {
			logrus.Errorf("failed to mirror %s change of %q to redis: %v", change.Kind, change.DocumentID, err)
		}
	})
}

func (r *RedisDocumentCache) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	res := r.client.Get(ctx, documentKey(id))
	if res.Err() != nil {
		if errors.Is(res.Err(), redis.Nil) {
			return nil, nil
		}
		return nil, res.Err()
	}

	buf, err := res.Bytes()
	if err != nil {
		return nil, err
	}

	buf, err = r.encoder.Decode(buf)
	if err != nil {
		return nil, err
	}

	var cached cachedDocument
	if err := json.Unmarshal(buf, &cached); err != nil {
		return nil, err
	}

	return cached.toDocument()
}

func (r *RedisDocumentCache) GetDocumentRevision(ctx context.Context, id string) (revision.ID, error) {
	res := r.client.HGet(ctx, documentRevisionHash, id)
	if res.Err() != nil {
		return revision.ID{}, res.Err()
	}

	return revision.Parse(res.Val())
}

func (r *RedisDocumentCache) SetDocument(ctx context.Context, doc *model.Document) error {
	marshal, err := json.Marshal(fromDocument(doc))
	if err != nil {
		return err
	}

	encoded, err := r.encoder.Encode(marshal)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if err := p.Set(ctx, documentKey(doc.ID), encoded, r.ttl).Err(); err != nil {
			return err
		}

		return p.HSet(ctx, documentRevisionHash, doc.ID, doc.Revision.String()).Err()
	})

	return err
}

func (r *RedisDocumentCache) DeleteDocument(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if err := p.Del(ctx, documentKey(id)).Err(); err != nil {
			return err
		}

		return p.HDel(ctx, documentRevisionHash, id).Err()
	})

	return err
}

func (r *RedisDocumentCache) Clear(ctx context.Context) error {
	ids := r.client.HKeys(ctx, documentRevisionHash)
	if ids.Err() != nil {
		return ids.Err()
	}

	keys := make([]string, 0, len(ids.Val())+1)
	for _, id := range ids.Val() {
		keys = append(keys, documentKey(id))
	}
	keys = append(keys, documentRevisionHash)

	return r.client.Del(ctx, keys...).Err()
}
