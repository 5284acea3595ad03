package cache

import (
	"context"
	"fmt"
	"time"
)

const processedTxTTL = 24 * time.Hour

// ProcessedTxCache is a best-effort front cache for transaction hashes that
// have already been credited. A miss is never authoritative, callers must
// still consult the database before crediting.
type ProcessedTxCache struct {
	redis RedisClient
}

func NewProcessedTxCache(redis RedisClient) *ProcessedTxCache {
	return &ProcessedTxCache{redis: redis}
}

func (c *ProcessedTxCache) key(chain, txHash string) string {
	return fmt.Sprintf("custody:processed_tx:%s:%s", chain, txHash)
}

// Seen reports whether the hash was recently marked processed. Redis errors
// are swallowed into a miss so the slow path stays available.
func (c *ProcessedTxCache) Seen(ctx context.Context, chain, txHash string) bool {
	exists, err := c.redis.Exists(ctx, c.key(chain, txHash))
	if err != nil {
		return false
	}
	return exists
}

// Mark records the hash as processed with a rolling TTL.
func (c *ProcessedTxCache) Mark(ctx context.Context, chain, txHash string) error {
	return c.redis.Set(ctx, c.key(chain, txHash), time.Now().Unix(), processedTxTTL)
}
