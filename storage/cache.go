package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"selfcare-api/domain"
	"selfcare-api/engine"
)

// maxCacheWriteAttempts bounds the optimistic WATCH loop on a progress key.
const maxCacheWriteAttempts = 3

// Cache wraps a Store with Redis-backed caching of progress records. Ledger
// writes go through to the cache. A cached record is only ever replaced by one
// with a higher total, so a slow read can never land over a newer credit.
type Cache struct {
	engine.Store
	redis *redis.Client
	ttl   time.Duration
}

var _ engine.Store = (*Cache)(nil)

// NewCache creates a caching Store wrapper using the provided Redis client and TTL.
func NewCache(base engine.Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Store: base, redis: client, ttl: ttl}
}

func (c *Cache) Progress(ctx context.Context, userID string) (domain.ProgressRecord, error) {
	if rec, ok := c.loadProgress(ctx, userID); ok {
		return rec, nil
	}

	rec, err := c.Store.Progress(ctx, userID)
	if err != nil {
		return domain.ProgressRecord{}, err
	}

	c.storeProgress(ctx, userID, rec)
	return rec, nil
}

func (c *Cache) CompleteTask(ctx context.Context, key domain.LogKey, completedAt time.Time, award engine.AwardFunc) (domain.CompletionResult, error) {
	res, err := c.Store.CompleteTask(ctx, key, completedAt, award)
	if err != nil {
		return domain.CompletionResult{}, err
	}
	if res.Credited > 0 {
		c.storeProgress(ctx, key.UserID, domain.ProgressRecord{UserID: key.UserID, TotalXP: res.TotalXP, LastActiveDate: key.Day})
	}
	return res, nil
}

func (c *Cache) CreditXP(ctx context.Context, userID string, amount int, activeOn string) (int, error) {
	total, err := c.Store.CreditXP(ctx, userID, amount, activeOn)
	if err != nil {
		return 0, err
	}

	c.storeProgress(ctx, userID, domain.ProgressRecord{UserID: userID, TotalXP: total, LastActiveDate: activeOn})
	return total, nil
}

// Ping checks both Redis and the wrapped store.
func (c *Cache) Ping(ctx context.Context) error {
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return c.Store.Ping(ctx)
}

func (c *Cache) loadProgress(ctx context.Context, userID string) (domain.ProgressRecord, bool) {
	if c.redis == nil {
		return domain.ProgressRecord{}, false
	}
	data, err := c.redis.Get(ctx, progressCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, progressCacheKey(userID)).Err()
		}
		return domain.ProgressRecord{}, false
	}
	var rec domain.ProgressRecord
	if err := sonic.Unmarshal(data, &rec); err != nil {
		_ = c.redis.Del(ctx, progressCacheKey(userID)).Err()
		return domain.ProgressRecord{}, false
	}
	return rec, true
}

// storeProgress caches rec unless the cached record already carries an equal
// or higher total. Totals only grow, so the comparison orders concurrent
// writers. When the write cannot be settled the key is dropped instead.
func (c *Cache) storeProgress(ctx context.Context, userID string, rec domain.ProgressRecord) {
	if c.redis == nil {
		return
	}
	if c.ttl == 0 {
		c.evict(ctx, userID)
		return
	}
	data, err := sonic.Marshal(rec)
	if err != nil {
		c.evict(ctx, userID)
		return
	}
	key := progressCacheKey(userID)
	write := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var cached domain.ProgressRecord
			if sonic.Unmarshal(cur, &cached) == nil && cached.TotalXP >= rec.TotalXP {
				return nil
			}
		case !errors.Is(err, redis.Nil):
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}
	for i := 0; i < maxCacheWriteAttempts; i++ {
		err = c.redis.Watch(ctx, write, key)
		if err == nil {
			return
		}
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	c.evict(ctx, userID)
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, progressCacheKey(userID)).Result()
}

func progressCacheKey(userID string) string {
	return "progress:" + userID
}
