package effects

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CounterStore is the durable read-modify-write fallback for when the
// atomic increment path is unavailable.
type CounterStore interface {
	GetSales(ctx context.Context, contentID uuid.UUID) (weekly, total int64, err error)
	SetSales(ctx context.Context, contentID uuid.UUID, weekly, total int64) error
}

// SalesCounters increments the weekly/total sales figures for a content
// item. Preferred path is a Redis INCR (atomic); when Redis is unreachable
// it falls back to read-modify-write on the store. The race window in the
// fallback is accepted: these counters rank content on a storefront, they
// are not money.
type SalesCounters struct {
	rdb   *redis.Client
	store CounterStore
}

func NewSalesCounters(rdb *redis.Client, store CounterStore) *SalesCounters {
	return &SalesCounters{rdb: rdb, store: store}
}

func weeklyKey(contentID uuid.UUID) string { return fmt.Sprintf("sales:weekly:%s", contentID) }
func totalKey(contentID uuid.UUID) string  { return fmt.Sprintf("sales:total:%s", contentID) }

// Increment bumps both counters by one.
func (c *SalesCounters) Increment(ctx context.Context, contentID uuid.UUID) error {
	if c.rdb != nil {
		pipe := c.rdb.Pipeline()
		pipe.Incr(ctx, weeklyKey(contentID))
		pipe.Incr(ctx, totalKey(contentID))
		if _, err := pipe.Exec(ctx); err == nil {
			return nil
		} else {
			log.Printf("[Counters] redis increment for %s failed, falling back to store: %v", contentID, err)
		}
	}
	return c.incrementFallback(ctx, contentID)
}

func (c *SalesCounters) incrementFallback(ctx context.Context, contentID uuid.UUID) error {
	if c.store == nil {
		return fmt.Errorf("no counter fallback store configured")
	}
	weekly, total, err := c.store.GetSales(ctx, contentID)
	if err != nil {
		return err
	}
	return c.store.SetSales(ctx, contentID, weekly+1, total+1)
}
