// internal/market/sol_price.go
package market

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultSOLPriceTTL      = 5 * time.Minute
	DefaultSOLPriceFallback = 85.0
)

// FetchFunc retrieves a fresh price.
type FetchFunc func(ctx context.Context) (float64, error)

// PriceCache memoizes the SOL/USD reference price. A failed refresh returns
// the last known value, or the fallback if nothing was ever fetched.
type PriceCache struct {
	mu        sync.Mutex
	value     float64
	fetchedAt time.Time
	hasValue  bool

	fetch    FetchFunc
	ttl      time.Duration
	fallback float64
	now      func() time.Time
	logger   *zap.Logger
}

// NewPriceCache creates a cache around fetch. Zero ttl or fallback use the defaults.
func NewPriceCache(fetch FetchFunc, ttl time.Duration, fallback float64, now func() time.Time, logger *zap.Logger) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultSOLPriceTTL
	}
	if fallback <= 0 {
		fallback = DefaultSOLPriceFallback
	}
	if now == nil {
		now = time.Now
	}
	return &PriceCache{
		fetch:    fetch,
		ttl:      ttl,
		fallback: fallback,
		now:      now,
		logger:   logger.Named("sol_price"),
	}
}

// Get returns a cached price younger than the TTL or fetches a new one.
func (c *PriceCache) Get(ctx context.Context) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.hasValue && now.Sub(c.fetchedAt) < c.ttl {
		return c.value
	}

	price, err := c.fetch(ctx)
	if err == nil && ValidPrice(price) {
		c.value = price
		c.fetchedAt = now
		c.hasValue = true
		c.logger.Debug("SOL price refreshed", zap.Float64("price_usd", price))
		return price
	}

	if c.hasValue {
		c.logger.Error("Failed to fetch SOL price, using last known",
			zap.Float64("price_usd", c.value),
			zap.Error(err))
		return c.value
	}
	c.logger.Error("Failed to fetch SOL price, using fallback",
		zap.Float64("price_usd", c.fallback),
		zap.Error(err))
	return c.fallback
}
