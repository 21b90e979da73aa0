package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"harvest/internal/provider"
)

var ErrNoWallet = errors.New("user has no wallet")

// Wallet is the opaque signing capability of one funding account.
type Wallet interface {
	Address() string
	Sign(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

type WalletProvider interface {
	WalletFor(ctx context.Context, userID string) (Wallet, error)
}

// WalletBook resolves users to funding addresses. Signing is delegated to a
// remote signer when one is configured; otherwise payloads are submitted as
// the strategy produced them.
type WalletBook struct {
	mu         sync.RWMutex
	addresses  map[string]string
	signer     provider.Caller
	signMethod string
}

func NewWalletBook(addresses map[string]string, signer provider.Caller, signMethod string) *WalletBook {
	b := &WalletBook{addresses: map[string]string{}, signer: signer, signMethod: signMethod}
	for u, a := range addresses {
		if a != "" {
			b.addresses[u] = a
		}
	}
	return b
}

func (b *WalletBook) Set(userID, address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if address == "" {
		delete(b.addresses, userID)
		return
	}
	b.addresses[userID] = address
}

func (b *WalletBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.addresses)
}

func (b *WalletBook) WalletFor(_ context.Context, userID string) (Wallet, error) {
	b.mu.RLock()
	addr, ok := b.addresses[userID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoWallet, userID)
	}
	return &bookWallet{address: addr, signer: b.signer, method: b.signMethod}, nil
}

type bookWallet struct {
	address string
	signer  provider.Caller
	method  string
}

func (w *bookWallet) Address() string { return w.address }

func (w *bookWallet) Sign(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if w.signer == nil {
		return payload, nil
	}
	return w.signer.Call(ctx, w.method, []any{w.address, payload})
}
