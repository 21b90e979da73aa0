package provider

import (
	"context"
	"encoding/json"
	"sync"
)

// Caller performs one request against one endpoint or credential.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

type CallerFunc func(ctx context.Context, method string, params any) (json.RawMessage, error)

func (f CallerFunc) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return f(ctx, method, params)
}

const defaultMaxFailures = 3

type EndpointConfig struct {
	Name        string
	Priority    int
	MaxFailures int
	DailyLimit  int64
	// CredentialIndex is the usage counter charged per request; -1 disables.
	CredentialIndex int
}

// Endpoint is never removed from a chain. Once its failure streak reaches
// MaxFailures it stays unavailable until Enable is called.
type Endpoint struct {
	cfg    EndpointConfig
	caller Caller

	mu            sync.Mutex
	failureCount  int
	available     bool
	requestsToday int64
}

type EndpointState struct {
	Name          string `json:"name"`
	Priority      int    `json:"priority"`
	FailureCount  int    `json:"failure_count"`
	MaxFailures   int    `json:"max_failures"`
	Available     bool   `json:"available"`
	DailyLimit    int64  `json:"daily_limit"`
	RequestsToday int64  `json:"requests_today"`
}

func NewEndpoint(cfg EndpointConfig, caller Caller) *Endpoint {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	return &Endpoint{cfg: cfg, caller: caller, available: true}
}

func (e *Endpoint) Name() string { return e.cfg.Name }

// reserve claims one request of the daily budget if the endpoint is eligible.
func (e *Endpoint) reserve() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.available {
		return false
	}
	if e.cfg.DailyLimit > 0 && e.requestsToday >= e.cfg.DailyLimit {
		return false
	}
	e.requestsToday++
	return true
}

func (e *Endpoint) recordSuccess() {
	e.mu.Lock()
	e.failureCount = 0
	e.mu.Unlock()
}

// recordFailure reports whether this failure disabled the endpoint.
func (e *Endpoint) recordFailure() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failureCount++
	if e.available && e.failureCount >= e.cfg.MaxFailures {
		e.available = false
		return true
	}
	return false
}

func (e *Endpoint) ResetDaily() {
	e.mu.Lock()
	e.requestsToday = 0
	e.mu.Unlock()
}

// Enable is the manual re-enable for a disabled endpoint.
func (e *Endpoint) Enable() {
	e.mu.Lock()
	e.available = true
	e.failureCount = 0
	e.mu.Unlock()
}

func (e *Endpoint) State() EndpointState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EndpointState{
		Name:          e.cfg.Name,
		Priority:      e.cfg.Priority,
		FailureCount:  e.failureCount,
		MaxFailures:   e.cfg.MaxFailures,
		Available:     e.available,
		DailyLimit:    e.cfg.DailyLimit,
		RequestsToday: e.requestsToday,
	}
}
