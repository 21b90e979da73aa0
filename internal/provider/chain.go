package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"go.uber.org/zap"

	"harvest/internal/metrics"
)

// UsageRecorder is charged once per dispatched request.
type UsageRecorder interface {
	RecordRequest(ctx context.Context, index int)
}

// Chain tries the caller's credential first and then walks endpoints in
// ascending priority until one succeeds.
type Chain struct {
	name      string
	endpoints []*Endpoint
	router    *CredentialRouter
	usage     UsageRecorder
	logger    *zap.Logger
}

type ChainState struct {
	Name        string            `json:"name"`
	Endpoints   []EndpointState   `json:"endpoints"`
	Credentials []CredentialState `json:"credentials,omitempty"`
}

type ChainOption func(*Chain)

func WithRouter(r *CredentialRouter) ChainOption { return func(c *Chain) { c.router = r } }

func WithUsage(u UsageRecorder) ChainOption { return func(c *Chain) { c.usage = u } }

func WithLogger(l *zap.Logger) ChainOption {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewChain(name string, endpoints []*Endpoint, opts ...ChainOption) *Chain {
	c := &Chain{
		name:      name,
		endpoints: append([]*Endpoint(nil), endpoints...),
		logger:    zap.NewNop(),
	}
	sort.SliceStable(c.endpoints, func(i, j int) bool {
		return c.endpoints[i].cfg.Priority < c.endpoints[j].cfg.Priority
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) Name() string { return c.name }

func (c *Chain) Endpoints() []*Endpoint { return c.endpoints }

// EnableEndpoint re-enables a disabled endpoint by name.
func (c *Chain) EnableEndpoint(name string) bool {
	for _, ep := range c.endpoints {
		if ep.cfg.Name == name {
			ep.Enable()
			c.logger.Info("endpoint enabled", zap.String("chain", c.name), zap.String("endpoint", name))
			return true
		}
	}
	return false
}

// Call returns the first successful result. Any credential failure falls
// back to the endpoints. On endpoints, transient and rate-limit failures move
// on to the next candidate and a terminal failure is returned as is.
// userID may be empty for calls not made on behalf of a user.
func (c *Chain) Call(ctx context.Context, method string, params any, userID string) (json.RawMessage, error) {
	var attempts []error

	if c.router != nil && userID != "" {
		res, idx, err := c.router.Call(ctx, userID, method, params)
		if idx >= 0 {
			c.record(ctx, idx)
		}
		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, ErrNoCredential):
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Info("credential call failed, falling back to chain",
				zap.String("chain", c.name),
				zap.String("user_id", userID),
				zap.String("method", method),
				zap.Error(err),
			)
			attempts = append(attempts, err)
		}
	}

	for _, ep := range c.endpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !ep.reserve() {
			continue
		}
		if ep.cfg.CredentialIndex >= 0 {
			c.record(ctx, ep.cfg.CredentialIndex)
		}
		res, err := ep.caller.Call(ctx, method, params)
		if err == nil {
			ep.recordSuccess()
			metrics.IncProviderRequest(ep.cfg.Name, metrics.OutcomeOK)
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		kind := KindOf(err)
		metrics.IncProviderRequest(ep.cfg.Name, kind.String())
		if kind == Terminal {
			return nil, NewError(Terminal, ep.cfg.Name, err)
		}
		if ep.recordFailure() {
			metrics.IncEndpointDisabled(ep.cfg.Name)
			c.logger.Warn("endpoint disabled",
				zap.String("chain", c.name),
				zap.String("endpoint", ep.cfg.Name),
				zap.Int("max_failures", ep.cfg.MaxFailures),
				zap.Error(err),
			)
		} else {
			c.logger.Debug("endpoint call failed",
				zap.String("chain", c.name),
				zap.String("endpoint", ep.cfg.Name),
				zap.String("kind", kind.String()),
				zap.Error(err),
			)
		}
		attempts = append(attempts, NewError(kind, ep.cfg.Name, err))
	}
	return nil, &ExhaustedError{Chain: c.name, Attempts: attempts}
}

func (c *Chain) record(ctx context.Context, idx int) {
	if c.usage != nil {
		c.usage.RecordRequest(ctx, idx)
	}
}

// ResetDaily clears endpoint daily budgets and re-enables credentials.
// Disabled endpoints stay disabled.
func (c *Chain) ResetDaily() {
	for _, ep := range c.endpoints {
		ep.ResetDaily()
	}
	if c.router != nil {
		c.router.ResetDaily()
	}
}

func (c *Chain) State() ChainState {
	st := ChainState{Name: c.name, Endpoints: make([]EndpointState, len(c.endpoints))}
	for i, ep := range c.endpoints {
		st.Endpoints[i] = ep.State()
	}
	if c.router != nil {
		st.Credentials = c.router.States()
	}
	return st
}
