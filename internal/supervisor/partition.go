package supervisor

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Partition splits userIDs into workers groups in order. The first
// len(userIDs)%workers groups get one extra user.
func Partition(userIDs []string, workers int) [][]string {
	if workers < 1 {
		workers = 1
	}
	base := len(userIDs) / workers
	remainder := len(userIDs) % workers
	out := make([][]string, workers)
	start := 0
	for i := 0; i < workers; i++ {
		size := base
		if i < remainder {
			size++
		}
		out[i] = append([]string(nil), userIDs[start:start+size]...)
		start += size
	}
	return out
}

func WorkerID(i int) string { return fmt.Sprintf("worker_%d", i) }

// restartDelay is base*2^(n-1) capped at limit; base <= 0 disables backoff.
// Without a limit the delay saturates at the largest Duration.
func restartDelay(base, limit time.Duration, n int) time.Duration {
	if base <= 0 || n <= 0 {
		return 0
	}
	shift := min(n-1, 62)
	d := time.Duration(math.MaxInt64)
	if base <= time.Duration(math.MaxInt64>>shift) {
		d = base << shift
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

type UserLister interface {
	ListActiveUserIDs(ctx context.Context) ([]string, error)
}

// ResolveUsers returns configured ids for source "config" and the active
// users table rows for source "db".
func ResolveUsers(ctx context.Context, source string, configured []string, lister UserLister) ([]string, error) {
	switch source {
	case "", "config":
		return dedupe(configured), nil
	case "db":
		if lister == nil {
			return nil, fmt.Errorf("user_source=db requires a database")
		}
		ids, err := lister.ListActiveUserIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		return dedupe(ids), nil
	default:
		return nil, fmt.Errorf("unknown user_source %q", source)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
