package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// PriceCache stores mark prices in Redis hashes, one per instrument, with
// fields "price" (micro-USD) and "ts" (unix nanos). It implements
// domain.PriceSource for readers; a feed process writes into it.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(instrument string) string {
	return "mark:" + instrument
}

// SetMark stores the latest mark price for an instrument.
func (pc *PriceCache) SetMark(ctx context.Context, instrument string, price int64, at time.Time) error {
	fields := map[string]any{
		"price": strconv.FormatInt(price, 10),
		"ts":    strconv.FormatInt(at.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(instrument), fields).Err(); err != nil {
		return fmt.Errorf("redis: set mark %s: %w", instrument, err)
	}
	return nil
}

// Mark retrieves the latest mark price and its timestamp for an instrument.
// A missing instrument returns domain.ErrNotFound; judging staleness from
// the timestamp is the caller's concern.
func (pc *PriceCache) Mark(ctx context.Context, instrument string) (int64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(instrument)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get mark %s: %w", instrument, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseInt(vals["price"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse mark %s: %w", instrument, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse mark ts %s: %w", instrument, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceSource = (*PriceCache)(nil)
