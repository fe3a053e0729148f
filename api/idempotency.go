package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/castleridge-io/clawdeck-sub003/domain"
)

const idempotencyKeyHeader = "Idempotency-Key"

// RedisDeduper stores consumed idempotency keys in Redis so all instances
// can refuse to re-apply the same mutation.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(ownerID, key string) string {
	return fmt.Sprintf("idem:%s:%s", ownerID, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, ownerID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(ownerID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key. It is used when the mutation
// fails so the caller may retry under the same key.
func (r *RedisDeduper) Remove(ctx context.Context, ownerID, key string) error {
	return r.client.Del(ctx, r.key(ownerID, key)).Err()
}

// runMutation executes a task mutation behind the optional Idempotency-Key
// header. A replayed key short-circuits with a duplicate marker instead of
// re-applying; a failed mutation releases the key so the client may retry.
// Deduper outages degrade to applying the mutation, never to refusing it.
func runMutation(c echo.Context, deduper Deduper, p domain.Principal, status int, op func(context.Context) (domain.Task, error)) error {
	ctx := c.Request().Context()
	key := c.Request().Header.Get(idempotencyKeyHeader)
	if key != "" && deduper != nil {
		fresh, err := deduper.Add(ctx, p.OwnerID, key)
		if err != nil {
			c.Logger().Warnf("idempotency check unavailable: %v", err)
		} else if !fresh {
			return c.JSON(http.StatusOK, taskResponse{IdempotencyKey: key, Duplicate: true})
		}
	}

	t, err := op(ctx)
	if err != nil {
		if key != "" && deduper != nil {
			if rerr := deduper.Remove(ctx, p.OwnerID, key); rerr != nil {
				c.Logger().Warnf("idempotency key release failed: %v", rerr)
			}
		}
		return writeDomainError(c, err)
	}
	return c.JSON(status, taskResponse{Task: &t, IdempotencyKey: key})
}
