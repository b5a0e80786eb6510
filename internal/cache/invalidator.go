// Package cache implements the post-commit invalidation boundary. Consumers
// keep product read caches in Redis under product:<id>; after a compensating
// transaction commits, the affected keys are evicted so readers do not serve
// stale stock counts.
package cache

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-returns/internal/compensation"
)

// productKeyPrefix matches the key layout used by the catalog's read cache.
const productKeyPrefix = "product:"

var _ compensation.Invalidator = (*Redis)(nil)

// Redis evicts product cache entries from a Redis instance.
type Redis struct {
	client *redis.Client
}

// NewRedis returns an invalidator backed by the given client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// InvalidateProducts deletes the cache keys for the given product IDs in a
// single DEL. Eviction happens strictly after commit, so a repopulating
// reader can only observe post-commit data.
func (r *Redis) InvalidateProducts(ctx context.Context, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := ProductKeys(productIDs)
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "del product keys")
	}
	return nil
}

// ProductKeys maps product IDs to their cache keys.
func ProductKeys(productIDs []string) []string {
	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = productKeyPrefix + id
	}
	return keys
}

var _ compensation.Invalidator = Nop{}

// Nop is used when no cache is configured; staleness is then bounded by the
// consumer's own TTLs.
type Nop struct{}

// InvalidateProducts does nothing.
func (Nop) InvalidateProducts(context.Context, []string) error { return nil }
