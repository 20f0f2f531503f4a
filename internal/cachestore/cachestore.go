package cachestore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/certquery/internal/blobstore"
)

type envelope struct {
	Payload  json.RawMessage `json:"payload"`
	CachedAt int64           `json:"cached_at"`
	TTLHours int             `json:"ttl_hours"`
}

// Cache is a TTL key-value cache over a blob store. Expiry is enforced at
// read time: an entry past its TTL is treated as a miss and deleted lazily.
// There is no size-based eviction.
type Cache struct {
	store blobstore.Store
	now   func() time.Time
}

func New(store blobstore.Store) *Cache {
	return &Cache{store: store, now: time.Now}
}

// SetNow overrides the clock used for TTL checks, for tests.
func (c *Cache) SetNow(now func() time.Time) {
	c.now = now
}

// Key builds a namespaced cache key from a source type and a natural
// identifier, e.g. Key("drs:AC", "25.571-1D").
func Key(sourceType, id string) string {
	return strings.ToLower(strings.TrimSpace(sourceType)) + ":" + strings.TrimSpace(id)
}

func (c *Cache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Unreadable entries are dropped, not surfaced.
		logutil.GetLogger(ctx).Warn("dropping unreadable cache entry", zap.String("key", key), zap.Error(err))
		_ = c.store.Delete(ctx, key)
		return false, nil
	}
	age := c.now().Unix() - env.CachedAt
	if env.TTLHours > 0 && age > int64(env.TTLHours)*3600 {
		logutil.GetLogger(ctx).Debug("cache entry expired", zap.String("key", key), zap.Int64("age_seconds", age))
		_ = c.store.Delete(ctx, key)
		return false, nil
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		_ = c.store.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttlHours int) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope{
		Payload:  payload,
		CachedAt: c.now().Unix(),
		TTLHours: ttlHours,
	})
	if err != nil {
		return err
	}
	return c.store.Put(ctx, key, data)
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}
