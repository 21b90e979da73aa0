package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"harvest/internal/metrics"
)

type CredentialSlot struct {
	Name   string
	caller Caller

	users            map[string]struct{}
	available        bool
	failureCount     int
	rateLimitedUntil time.Time
}

type CredentialState struct {
	Index            int        `json:"index"`
	Name             string     `json:"name"`
	Users            int        `json:"users"`
	Available        bool       `json:"available"`
	FailureCount     int        `json:"failure_count"`
	RateLimitedUntil *time.Time `json:"rate_limited_until,omitempty"`
}

// CredentialRouter pins users to credential slots. A rate-limited or failing
// slot cools down and becomes usable again on its own.
type CredentialRouter struct {
	mu          sync.Mutex
	slots       []*CredentialSlot
	byUser      map[string]int
	nextSlot    int
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

type RouterOption func(*CredentialRouter)

func WithCooldown(d time.Duration) RouterOption {
	return func(r *CredentialRouter) {
		if d > 0 {
			r.cooldown = d
		}
	}
}

func WithMaxFailures(n int) RouterOption {
	return func(r *CredentialRouter) {
		if n > 0 {
			r.maxFailures = n
		}
	}
}

func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *CredentialRouter) { r.now = now }
}

func WithRouterLogger(l *zap.Logger) RouterOption {
	return func(r *CredentialRouter) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewCredentialRouter builds one slot per caller; names default to "credential-{i}".
func NewCredentialRouter(callers []Caller, names []string, opts ...RouterOption) *CredentialRouter {
	r := &CredentialRouter{
		byUser:      map[string]int{},
		maxFailures: defaultMaxFailures,
		cooldown:    time.Minute,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for i, c := range callers {
		name := fmt.Sprintf("credential-%d", i)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		r.slots = append(r.slots, &CredentialSlot{Name: name, caller: c, users: map[string]struct{}{}, available: true})
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *CredentialRouter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

func (r *CredentialRouter) Assign(userID string, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.slots) {
		return fmt.Errorf("credential index %d out of range", index)
	}
	if prev, ok := r.byUser[userID]; ok {
		delete(r.slots[prev].users, userID)
	}
	r.byUser[userID] = index
	r.slots[index].users[userID] = struct{}{}
	return nil
}

// AssignUsers spreads users that have no slot yet round-robin across slots.
func (r *CredentialRouter) AssignUsers(userIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.slots) == 0 {
		return
	}
	for _, u := range userIDs {
		if _, ok := r.byUser[u]; ok {
			continue
		}
		idx := r.nextSlot % len(r.slots)
		r.nextSlot++
		r.byUser[u] = idx
		r.slots[idx].users[u] = struct{}{}
	}
}

// SlotFor returns the user's slot if it is currently usable.
func (r *CredentialRouter) SlotFor(userID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usableLocked(userID)
}

func (r *CredentialRouter) usableLocked(userID string) (int, bool) {
	idx, ok := r.byUser[userID]
	if !ok {
		return -1, false
	}
	s := r.slots[idx]
	if s.available {
		return idx, true
	}
	if !s.rateLimitedUntil.IsZero() && !r.now().Before(s.rateLimitedUntil) {
		s.available = true
		s.failureCount = 0
		s.rateLimitedUntil = time.Time{}
		r.logger.Info("credential re-enabled after cooldown", zap.Int("credential_index", idx))
		return idx, true
	}
	return idx, false
}

// Call uses the user's slot. The returned index is -1 when no request was sent.
func (r *CredentialRouter) Call(ctx context.Context, userID, method string, params any) (json.RawMessage, int, error) {
	r.mu.Lock()
	idx, ok := r.usableLocked(userID)
	var caller Caller
	if ok {
		caller = r.slots[idx].caller
	}
	r.mu.Unlock()
	if !ok {
		return nil, -1, ErrNoCredential
	}

	name := r.slotName(idx)
	res, err := caller.Call(ctx, method, params)
	if err != nil {
		metrics.IncProviderRequest(name, KindOf(err).String())
		r.markFailure(idx, err)
		return nil, idx, NewError(KindOf(err), name, err)
	}
	metrics.IncProviderRequest(name, metrics.OutcomeOK)
	r.markSuccess(idx)
	return res, idx, nil
}

func (r *CredentialRouter) slotName(idx int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[idx].Name
}

func (r *CredentialRouter) markSuccess(idx int) {
	r.mu.Lock()
	r.slots[idx].failureCount = 0
	r.mu.Unlock()
}

func (r *CredentialRouter) markFailure(idx int, err error) {
	kind := KindOf(err)
	if kind == Terminal {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slots[idx]
	s.failureCount++
	if kind == RateLimited || s.failureCount >= r.maxFailures {
		if s.available {
			metrics.IncEndpointDisabled(s.Name)
			r.logger.Warn("credential disabled",
				zap.Int("credential_index", idx),
				zap.String("reason", kind.String()),
				zap.Int("failure_count", s.failureCount),
				zap.Duration("cooldown", r.cooldown),
			)
		}
		s.available = false
		s.rateLimitedUntil = r.now().Add(r.cooldown)
	}
}

// ResetDaily re-enables every slot when provider quotas roll over.
func (r *CredentialRouter) ResetDaily() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		s.available = true
		s.failureCount = 0
		s.rateLimitedUntil = time.Time{}
	}
}

func (r *CredentialRouter) States() []CredentialState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CredentialState, len(r.slots))
	for i, s := range r.slots {
		st := CredentialState{
			Index:        i,
			Name:         s.Name,
			Users:        len(s.users),
			Available:    s.available,
			FailureCount: s.failureCount,
		}
		if !s.rateLimitedUntil.IsZero() {
			t := s.rateLimitedUntil
			st.RateLimitedUntil = &t
		}
		out[i] = st
	}
	return out
}
