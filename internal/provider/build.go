package provider

import (
	"fmt"

	"go.uber.org/zap"

	"harvest/internal/config"
)

// UsageSlots lists the usage counters a configured chain charges: credential
// slots first, then one per endpoint.
func UsageSlots(pc config.ProvidersConfig, cc config.CredentialsConfig) (ids []string, limits []int64) {
	if cc.Enabled {
		for i := range cc.URLs {
			ids = append(ids, fmt.Sprintf("credential-%d", i))
			limits = append(limits, cc.DailyLimit)
		}
	}
	for _, ep := range pc.Endpoints {
		ids = append(ids, ep.Name)
		limits = append(limits, ep.DailyLimit)
	}
	return ids, limits
}

// Build wires HTTP callers for every configured endpoint and credential.
// userIDs are spread across credential slots unless pinned in cc.Assignments.
func Build(pc config.ProvidersConfig, cc config.CredentialsConfig, userIDs []string, usage UsageRecorder, logger *zap.Logger) (*Chain, error) {
	if len(pc.Endpoints) == 0 {
		return nil, fmt.Errorf("providers.endpoints is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	offset := 0
	opts := []ChainOption{WithUsage(usage), WithLogger(logger)}
	if cc.Enabled && len(cc.URLs) > 0 {
		callers := make([]Caller, len(cc.URLs))
		for i, u := range cc.URLs {
			callers[i] = NewHTTPCaller(nil, u, pc.Timeout)
		}
		router := NewCredentialRouter(callers, nil,
			WithCooldown(cc.Cooldown),
			WithMaxFailures(cc.MaxFailures),
			WithRouterLogger(logger),
		)
		for userID, idx := range cc.Assignments {
			if err := router.Assign(userID, idx); err != nil {
				return nil, fmt.Errorf("credentials.assignments[%s]: %w", userID, err)
			}
		}
		router.AssignUsers(userIDs)
		opts = append(opts, WithRouter(router))
		offset = len(cc.URLs)
	}

	endpoints := make([]*Endpoint, len(pc.Endpoints))
	for i, ep := range pc.Endpoints {
		if ep.URL == "" {
			return nil, fmt.Errorf("providers.endpoints[%d].url is empty", i)
		}
		endpoints[i] = NewEndpoint(EndpointConfig{
			Name:            ep.Name,
			Priority:        ep.Priority,
			MaxFailures:     ep.MaxFailures,
			DailyLimit:      ep.DailyLimit,
			CredentialIndex: offset + i,
		}, NewHTTPCaller(nil, ep.URL, pc.Timeout))
	}
	return NewChain(pc.Name, endpoints, opts...), nil
}
