// Package execution turns strategy opportunities into queued trades and
// submits them through the provider chain.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"harvest/internal/coord"
	"harvest/internal/provider"
	"harvest/internal/tradequeue"
)

// RPC is the provider chain as seen by strategies and the submitter.
type RPC interface {
	Call(ctx context.Context, method string, params any, userID string) (json.RawMessage, error)
}

type Opportunity struct {
	Strategy string          `json:"strategy"`
	UserID   string          `json:"user_id"`
	Token    string          `json:"token,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	// Payload is the unsigned transaction the strategy built.
	Payload json.RawMessage `json:"payload"`
}

func (o Opportunity) Kind() string { return o.Strategy }

type Receipt struct {
	Signature string          `json:"signature"`
	Wallet    string          `json:"wallet"`
	Price     decimal.Decimal `json:"price"`
	Notional  decimal.Decimal `json:"notional"`
}

type Submitter struct {
	RPC         RPC
	Wallets     WalletProvider
	Store       coord.Store
	Cache       *coord.Cache
	SendMethod  string
	PriceMethod string
	LockTTL     time.Duration
	Logger      *zap.Logger
}

const lockRetry = 50 * time.Millisecond

// Submit signs and sends one opportunity while holding lock:wallet:{address},
// so two users sharing a funding account never submit concurrently.
func (s *Submitter) Submit(ctx context.Context, opp Opportunity) (Receipt, error) {
	logger := s.logger().With(zap.String("user_id", opp.UserID), zap.String("strategy", opp.Strategy))

	w, err := s.Wallets.WalletFor(ctx, opp.UserID)
	if err != nil {
		if errors.Is(err, ErrNoWallet) {
			return Receipt{}, provider.NewError(provider.Terminal, "wallet", err)
		}
		return Receipt{}, err
	}

	lock, err := coord.AcquireWait(ctx, s.Store, "wallet:"+w.Address(), s.LockTTL, lockRetry)
	if err != nil {
		return Receipt{}, fmt.Errorf("wallet lock %s: %w", w.Address(), err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("wallet lock release failed", zap.String("wallet", w.Address()), zap.Error(err))
		}
	}()

	signed, err := w.Sign(ctx, opp.Payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("sign: %w", err)
	}
	raw, err := s.RPC.Call(ctx, s.SendMethod, []any{signed}, opp.UserID)
	if err != nil {
		return Receipt{}, fmt.Errorf("send: %w", err)
	}

	rc := Receipt{Signature: decodeSignature(raw), Wallet: w.Address()}
	if opp.Token != "" && s.Cache != nil {
		price, err := s.Cache.Price(ctx, opp.Token, func(ctx context.Context) (decimal.Decimal, error) {
			return s.fetchPrice(ctx, opp.Token, opp.UserID)
		})
		if err != nil {
			logger.Warn("price lookup failed", zap.String("token", opp.Token), zap.Error(err))
		} else {
			rc.Price = price
			rc.Notional = opp.Amount.Mul(price)
		}
	}
	logger.Info("trade submitted",
		zap.String("wallet", rc.Wallet),
		zap.String("signature", rc.Signature),
		zap.String("notional", rc.Notional.String()),
	)
	return rc, nil
}

func (s *Submitter) fetchPrice(ctx context.Context, token, userID string) (decimal.Decimal, error) {
	raw, err := s.RPC.Call(ctx, s.PriceMethod, []any{token}, userID)
	if err != nil {
		return decimal.Zero, err
	}
	var p decimal.Decimal
	if err := json.Unmarshal(raw, &p); err != nil {
		return decimal.Zero, fmt.Errorf("decode price %s: %w", token, err)
	}
	return p, nil
}

// Job binds an opportunity to this submitter for the trade queue.
func (s *Submitter) Job(opp Opportunity) tradequeue.Job {
	return tradequeue.Job{
		Opportunity: opp,
		Executor: tradequeue.ExecuteFunc(func(ctx context.Context) (any, error) {
			return s.Submit(ctx, opp)
		}),
	}
}

func (s *Submitter) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func decodeSignature(raw json.RawMessage) string {
	var sig string
	if err := json.Unmarshal(raw, &sig); err == nil {
		return sig
	}
	return string(raw)
}
