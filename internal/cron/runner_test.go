package cronrunner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunner_RunsJobWithBaseContext(t *testing.T) {
	type ctxKey struct{}
	base := context.WithValue(context.Background(), ctxKey{}, "base")
	r := New(nil, base)

	var hits atomic.Int32
	var sawBase atomic.Bool
	if _, err := r.Add("@every 1s", func(ctx context.Context) {
		if ctx.Value(ctxKey{}) == "base" {
			sawBase.Store(true)
		}
		hits.Add(1)
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for hits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if hits.Load() == 0 {
		t.Fatalf("job never ran")
	}
	if !sawBase.Load() {
		t.Fatalf("job did not receive base context")
	}
}

func TestRunner_RejectsBadSpec(t *testing.T) {
	r := New(nil, nil)
	if _, err := r.Add("not a spec", func(context.Context) {}); err == nil {
		t.Fatalf("expected error for bad spec")
	}
	r.MustAdd("bad", "still not a spec", func(context.Context) {})
	if r.Entries() != 0 {
		t.Fatalf("entries=%d want=0", r.Entries())
	}
}
