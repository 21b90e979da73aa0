package coord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCache_PriceReadThrough(t *testing.T) {
	ctx := context.Background()
	s, clk := newClockedStore()
	c := &Cache{Store: s, PriceTTL: time.Minute}

	loads := 0
	load := func(context.Context) (decimal.Decimal, error) {
		loads++
		return decimal.RequireFromString("1.25"), nil
	}
	for i := 0; i < 3; i++ {
		p, err := c.Price(ctx, "SOL", load)
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if !p.Equal(decimal.RequireFromString("1.25")) {
			t.Fatalf("price=%s want=1.25", p)
		}
	}
	if loads != 1 {
		t.Fatalf("loads=%d want=1", loads)
	}
	clk.Advance(time.Minute)
	if _, err := c.Price(ctx, "SOL", load); err != nil {
		t.Fatalf("err=%v", err)
	}
	if loads != 2 {
		t.Fatalf("loads=%d want=2 after ttl", loads)
	}
}

func TestCache_StrategyLoaderErrorNotCached(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := &Cache{Store: s}

	boom := errors.New("boom")
	if _, err := c.Strategy(ctx, "staking", "pools", func(context.Context) (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	if _, ok, _ := s.Get(ctx, StrategyKey("staking", "pools")); ok {
		t.Fatalf("failed load must not be cached")
	}
	v, err := c.Strategy(ctx, "staking", "pools", func(context.Context) (string, error) { return "[1,2]", nil })
	if err != nil || v != "[1,2]" {
		t.Fatalf("v=%q err=%v", v, err)
	}
}
