package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"harvest/internal/coord"
	"harvest/internal/tradequeue"
)

// Env is what a strategy may use while scanning.
type Env struct {
	RPC   RPC
	Cache *coord.Cache
}

// Strategy finds opportunities for one user. Implementations live outside
// this module and register themselves with Register.
type Strategy interface {
	Name() string
	Scan(ctx context.Context, env Env, userID string) ([]Opportunity, error)
}

type Factory func() Strategy

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a strategy available by name. It panics on duplicates.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("execution: Register called twice for strategy " + name)
	}
	registry[name] = f
}

func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup instantiates the named strategies in order.
func Lookup(names []string) ([]Strategy, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		f, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown strategy %q", name)
		}
		out = append(out, f())
	}
	return out, nil
}

// Scanner runs every strategy for a user and binds results to the submitter.
type Scanner struct {
	Strategies []Strategy
	Env        Env
	Submitter  *Submitter
	Logger     *zap.Logger
}

// Scan keeps going past a failing strategy; the returned error joins every
// strategy failure and accompanies whatever jobs were found.
func (s *Scanner) Scan(ctx context.Context, userID string) ([]tradequeue.Job, error) {
	var (
		jobs []tradequeue.Job
		errs []error
	)
	for _, st := range s.Strategies {
		opps, err := st.Scan(ctx, s.Env, userID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.Name(), err))
			continue
		}
		for _, opp := range opps {
			if opp.Strategy == "" {
				opp.Strategy = st.Name()
			}
			opp.UserID = userID
			jobs = append(jobs, s.Submitter.Job(opp))
		}
	}
	if s.Logger != nil && len(jobs) > 0 {
		s.Logger.Debug("scan found opportunities", zap.String("user_id", userID), zap.Int("count", len(jobs)))
	}
	return jobs, errors.Join(errs...)
}
