package worker

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"harvest/internal/config"
	"harvest/internal/coord"
	"harvest/internal/tradequeue"
)

type opp string

func (o opp) Kind() string { return string(o) }

type countingScanner struct {
	mu    sync.Mutex
	scans map[string]int
}

func (s *countingScanner) Scan(_ context.Context, userID string) ([]tradequeue.Job, error) {
	s.mu.Lock()
	if s.scans == nil {
		s.scans = map[string]int{}
	}
	s.scans[userID]++
	s.mu.Unlock()
	return []tradequeue.Job{{
		Opportunity: opp("swap"),
		Executor:    tradequeue.ExecuteFunc(func(context.Context) (any, error) { return nil, nil }),
	}}, nil
}

func (s *countingScanner) count(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans[userID]
}

type recordingQueue struct {
	mu    sync.Mutex
	users []string
}

func (q *recordingQueue) Enqueue(userID string, _ tradequeue.Opportunity, _ tradequeue.Executor) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.users = append(q.users, userID)
	return userID + "_trade", nil
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.users)
}

// flakyStore fails reads while broken is set.
type flakyStore struct {
	coord.Store
	broken atomic.Bool
}

func (s *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.broken.Load() {
		return "", false, errors.New("connection reset")
	}
	return s.Store.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.broken.Load() {
		return errors.New("connection reset")
	}
	return s.Store.Set(ctx, key, value, ttl)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newRuntime(store coord.Store, sc Scanner, q Enqueuer, users ...string) *Runtime {
	return New(Options{
		WorkerID:          "worker_1",
		UserIDs:           users,
		Store:             store,
		Scanner:           sc,
		Queue:             q,
		ScanInterval:      5 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
		HeartbeatRetry:    time.Millisecond,
	})
}

func TestRuntime_ScansOwnedUsersAndHeartbeats(t *testing.T) {
	ctx := context.Background()
	store := coord.NewMemoryStore()
	store.Set(ctx, coord.AssignmentKey("alice"), "worker_1", time.Hour)
	store.Set(ctx, coord.AssignmentKey("bob"), "worker_1", time.Hour)
	sc := &countingScanner{}
	q := &recordingQueue{}
	r := newRuntime(store, sc, q, "alice", "bob")

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start err=%v", err)
	}
	eventually(t, "both users scanned twice", func() bool { return sc.count("alice") >= 2 && sc.count("bob") >= 2 })
	if _, ok, _ := store.Get(ctx, coord.HeartbeatKey("worker_1")); !ok {
		t.Fatalf("heartbeat key missing while running")
	}
	st := r.Status()
	if !st.Running || st.UserCount != 2 || st.ActiveLoops != 2 || st.LastHeartbeat == nil {
		t.Fatalf("status=%+v", st)
	}
	if q.len() == 0 {
		t.Fatalf("no trades enqueued")
	}

	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop err=%v", err)
	}
	if _, ok, _ := store.Get(ctx, coord.HeartbeatKey("worker_1")); ok {
		t.Fatalf("heartbeat key should be deleted on stop")
	}
	if st := r.Status(); st.Running || st.ActiveLoops != 0 {
		t.Fatalf("status after stop=%+v", st)
	}
}

func TestRuntime_SelfEvictsOnForeignOwner(t *testing.T) {
	ctx := context.Background()
	store := coord.NewMemoryStore()
	store.Set(ctx, coord.AssignmentKey("alice"), "worker_1", time.Hour)
	store.Set(ctx, coord.AssignmentKey("bob"), "worker_1", time.Hour)
	sc := &countingScanner{}
	r := newRuntime(store, sc, &recordingQueue{}, "alice", "bob")
	r.Start(ctx)
	defer r.Stop(ctx)

	eventually(t, "alice scanned", func() bool { return sc.count("alice") >= 1 })
	store.Set(ctx, coord.AssignmentKey("alice"), "worker_2", time.Hour)
	eventually(t, "alice loop exit", func() bool { return r.Status().ActiveLoops == 1 })

	before := sc.count("alice")
	bobBefore := sc.count("bob")
	eventually(t, "bob keeps scanning", func() bool { return sc.count("bob") > bobBefore+2 })
	if got := sc.count("alice"); got != before {
		t.Fatalf("alice scanned %d times after eviction", got-before)
	}
}

func TestRuntime_ReclaimsExpiredAssignment(t *testing.T) {
	ctx := context.Background()
	store := coord.NewMemoryStore()
	sc := &countingScanner{}
	r := newRuntime(store, sc, &recordingQueue{}, "carol")
	r.Start(ctx)
	defer r.Stop(ctx)

	eventually(t, "carol scanned", func() bool { return sc.count("carol") >= 1 })
	owner, ok, _ := store.Get(ctx, coord.AssignmentKey("carol"))
	if !ok || owner != "worker_1" {
		t.Fatalf("owner=%q ok=%v want worker_1", owner, ok)
	}
}

func TestRuntime_StoreFailureSkipsCycleWithoutEviction(t *testing.T) {
	ctx := context.Background()
	mem := coord.NewMemoryStore()
	mem.Set(ctx, coord.AssignmentKey("dave"), "worker_1", time.Hour)
	store := &flakyStore{Store: mem}
	store.broken.Store(true)
	sc := &countingScanner{}
	r := newRuntime(store, sc, &recordingQueue{}, "dave")
	r.Start(ctx)
	defer r.Stop(ctx)

	time.Sleep(30 * time.Millisecond)
	if sc.count("dave") != 0 {
		t.Fatalf("scanned while store unreachable")
	}
	if r.Status().ActiveLoops != 1 {
		t.Fatalf("loop exited on store failure")
	}
	if _, ok, _ := mem.Get(ctx, coord.HeartbeatKey("worker_1")); ok {
		t.Fatalf("heartbeat written while store unreachable")
	}
	store.broken.Store(false)
	eventually(t, "dave scanned after recovery", func() bool { return sc.count("dave") >= 1 })
	eventually(t, "heartbeat after recovery", func() bool {
		_, ok, _ := mem.Get(ctx, coord.HeartbeatKey("worker_1"))
		return ok
	})
}

func TestRuntime_HeartbeatRetriesUntilStoreRecovers(t *testing.T) {
	ctx := context.Background()
	mem := coord.NewMemoryStore()
	store := &flakyStore{Store: mem}
	store.broken.Store(true)
	r := newRuntime(store, &countingScanner{}, &recordingQueue{})
	r.Start(ctx)
	defer r.Stop(ctx)

	time.Sleep(30 * time.Millisecond)
	st := r.Status()
	if !st.Running || st.LastHeartbeat != nil {
		t.Fatalf("status=%+v want running without a heartbeat", st)
	}

	store.broken.Store(false)
	eventually(t, "heartbeat key", func() bool {
		_, ok, _ := mem.Get(ctx, coord.HeartbeatKey("worker_1"))
		return ok
	})
	eventually(t, "last heartbeat recorded", func() bool { return r.Status().LastHeartbeat != nil })
}

func TestRuntime_StartTwice(t *testing.T) {
	ctx := context.Background()
	r := newRuntime(coord.NewMemoryStore(), &countingScanner{}, &recordingQueue{})
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start err=%v", err)
	}
	defer r.Stop(ctx)
	if err := r.Start(ctx); err == nil {
		t.Fatalf("second Start should fail")
	}
}

func TestSpec_RoundTrip(t *testing.T) {
	in := Spec{
		WorkerID: "worker_2",
		StoreURL: "redis://localhost:6379/0",
		UserIDs:  []string{"u1", "u2"},
		HTTPAddr: "127.0.0.1:8102",
		Config:   config.Config{Worker: config.WorkerConfig{ScanInterval: 42 * time.Second}},
	}
	var buf bytes.Buffer
	if err := EncodeSpec(&buf, in); err != nil {
		t.Fatalf("EncodeSpec err=%v", err)
	}
	out, err := DecodeSpec(&buf)
	if err != nil {
		t.Fatalf("DecodeSpec err=%v", err)
	}
	if out.WorkerID != in.WorkerID || len(out.UserIDs) != 2 || out.Config.Worker.ScanInterval != 42*time.Second {
		t.Fatalf("spec=%+v", out)
	}
	if _, err := DecodeSpec(bytes.NewBufferString(`{"store_url":"x"}`)); err == nil {
		t.Fatalf("spec without worker_id should fail")
	}
}
