package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/castleridge-io/clawdeck-sub003/domain"
)

type backend interface {
	domain.Store
	ListArchivable(ctx context.Context, completedBefore int64, limit int) ([]domain.Task, error)
}

// Cache wraps a Storage instance with Redis-backed caching for the user and
// agent lookups performed on every authenticated request. Task reads are not
// cached: they feed conditional writes and must observe fresh ETags.
type Cache struct {
	domain.Store
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{
		Store: base,
		base:  base,
		redis: client,
		ttl:   ttl,
	}
}

// ListArchivable passes through to the backing storage.
func (c *Cache) ListArchivable(ctx context.Context, completedBefore int64, limit int) ([]domain.Task, error) {
	return c.base.ListArchivable(ctx, completedBefore, limit)
}

// GetUser serves the user from cache when possible.
func (c *Cache) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if c.redis != nil {
		data, err := c.redis.Get(ctx, userCacheKey(userID)).Bytes()
		if err == nil {
			var user domain.User
			if jsonErr := json.Unmarshal(data, &user); jsonErr == nil {
				return &user, nil
			}
			_ = c.redis.Del(ctx, userCacheKey(userID)).Err()
		} else if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, userCacheKey(userID)).Err()
		}
	}
	user, err := c.base.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user != nil {
		c.store(ctx, userCacheKey(userID), user)
	}
	return user, nil
}

// UpsertUser writes through and evicts the cached copy.
func (c *Cache) UpsertUser(ctx context.Context, u domain.User) error {
	if err := c.base.UpsertUser(ctx, u); err != nil {
		return err
	}
	c.evict(ctx, userCacheKey(u.ID))
	return nil
}

// GetAgent serves the agent from cache when possible.
func (c *Cache) GetAgent(ctx context.Context, ownerID, agentID string) (*domain.Agent, error) {
	if c.redis != nil {
		data, err := c.redis.Get(ctx, agentCacheKey(ownerID, agentID)).Bytes()
		if err == nil {
			var agent domain.Agent
			if jsonErr := json.Unmarshal(data, &agent); jsonErr == nil {
				return &agent, nil
			}
			_ = c.redis.Del(ctx, agentCacheKey(ownerID, agentID)).Err()
		} else if err != redis.Nil {
			_ = c.redis.Del(ctx, agentCacheKey(ownerID, agentID)).Err()
		}
	}
	agent, err := c.base.GetAgent(ctx, ownerID, agentID)
	if err != nil {
		return nil, err
	}
	if agent != nil {
		c.store(ctx, agentCacheKey(ownerID, agentID), agent)
	}
	return agent, nil
}

// UpsertAgent writes through and evicts the cached copy.
func (c *Cache) UpsertAgent(ctx context.Context, a domain.Agent) error {
	if err := c.base.UpsertAgent(ctx, a); err != nil {
		return err
	}
	c.evict(ctx, agentCacheKey(a.OwnerID, a.ID))
	return nil
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, key string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, key).Result()
}

func userCacheKey(userID string) string {
	return "user:" + userID
}

func agentCacheKey(ownerID, agentID string) string {
	return "agent:" + ownerID + ":" + agentID
}
