package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rail-service/payment_listener/internal/domain/entities"
)

const (
	processedKeyPrefix  = "payment_listener:processed"
	defaultProcessedTTL = 7 * 24 * time.Hour
)

// ProcessedHashCache is a fast path in front of the datastore's processed-hash lookup.
// Entries are only written after the datastore confirmed the hash, so a hit is authoritative
// and a miss must fall through to the datastore.
type ProcessedHashCache struct {
	client RedisClient
	ttl    time.Duration
}

// NewProcessedHashCache creates the cache; ttl <= 0 selects a week
func NewProcessedHashCache(client RedisClient, ttl time.Duration) *ProcessedHashCache {
	if ttl <= 0 {
		ttl = defaultProcessedTTL
	}
	return &ProcessedHashCache{client: client, ttl: ttl}
}

func processedKey(network entities.Network, txHash string) string {
	return fmt.Sprintf("%s:%s:%s", processedKeyPrefix, network, txHash)
}

// IsProcessed reports a cached processed hash
func (c *ProcessedHashCache) IsProcessed(ctx context.Context, network entities.Network, txHash string) (bool, error) {
	return c.client.Exists(ctx, processedKey(network, txHash))
}

// MarkProcessed records a hash the datastore has bound to an order
func (c *ProcessedHashCache) MarkProcessed(ctx context.Context, network entities.Network, txHash string) error {
	_, err := c.client.SetNX(ctx, processedKey(network, txHash), time.Now().UTC().Unix(), c.ttl)
	return err
}
