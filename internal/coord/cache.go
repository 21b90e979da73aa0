package coord

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Loader func(ctx context.Context) (string, error)

// Cache is a read-through cache over the shared store. Store errors degrade
// to calling the loader directly; they are logged, never returned.
type Cache struct {
	Store       Store
	Logger      *zap.Logger
	PriceTTL    time.Duration
	StrategyTTL time.Duration
}

func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load Loader) (string, error) {
	if v, ok, err := c.Store.Get(ctx, key); err == nil && ok {
		return v, nil
	} else if err != nil {
		c.warn("cache read failed", key, err)
	}
	v, err := load(ctx)
	if err != nil {
		return "", err
	}
	if err := c.Store.Set(ctx, key, v, ttl); err != nil {
		c.warn("cache write failed", key, err)
	}
	return v, nil
}

// Price reads price:{token}, loading a decimal string on miss.
func (c *Cache) Price(ctx context.Context, token string, load func(ctx context.Context) (decimal.Decimal, error)) (decimal.Decimal, error) {
	ttl := c.PriceTTL
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	raw, err := c.GetOrLoad(ctx, PriceKey(token), ttl, func(ctx context.Context) (string, error) {
		p, err := load(ctx)
		if err != nil {
			return "", err
		}
		return p.String(), nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

// Strategy reads strategy:{name}:{key}.
func (c *Cache) Strategy(ctx context.Context, name, key string, load Loader) (string, error) {
	ttl := c.StrategyTTL
	if ttl <= 0 {
		ttl = DefaultStrategyTTL
	}
	return c.GetOrLoad(ctx, StrategyKey(name, key), ttl, load)
}

func (c *Cache) warn(msg, key string, err error) {
	if c.Logger != nil {
		c.Logger.Warn(msg, zap.String("key", key), zap.Error(err))
	}
}
