package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedCaller struct {
	mu    sync.Mutex
	name  string
	fail  func(n int) error
	calls int
}

func (s *scriptedCaller) Call(_ context.Context, _ string, _ any) (json.RawMessage, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if s.fail != nil {
		if err := s.fail(n); err != nil {
			return nil, err
		}
	}
	return json.RawMessage(`"` + s.name + `"`), nil
}

func (s *scriptedCaller) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countingUsage struct {
	mu     sync.Mutex
	counts map[int]int
}

func (u *countingUsage) RecordRequest(_ context.Context, idx int) {
	u.mu.Lock()
	if u.counts == nil {
		u.counts = map[int]int{}
	}
	u.counts[idx]++
	u.mu.Unlock()
}

func (u *countingUsage) get(idx int) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[idx]
}

func alwaysFail(err error) func(int) error { return func(int) error { return err } }

func TestChain_DemotesAfterMaxFailures(t *testing.T) {
	ctx := context.Background()
	failing := true
	a := &scriptedCaller{name: "a", fail: func(int) error {
		if failing {
			return TransientError(errors.New("connection refused"))
		}
		return nil
	}}
	b := &scriptedCaller{name: "b"}
	usage := &countingUsage{}
	c := NewChain("rpc", []*Endpoint{
		NewEndpoint(EndpointConfig{Name: "b", Priority: 2, MaxFailures: 3, CredentialIndex: 1}, b),
		NewEndpoint(EndpointConfig{Name: "a", Priority: 1, MaxFailures: 3, CredentialIndex: 0}, a),
	}, WithUsage(usage))

	for i := 0; i < 3; i++ {
		res, err := c.Call(ctx, "getSlot", nil, "")
		if err != nil {
			t.Fatalf("call %d err=%v", i, err)
		}
		if string(res) != `"b"` {
			t.Fatalf("call %d res=%s want fallback to b", i, res)
		}
	}
	if st := c.Endpoints()[0].State(); st.Name != "a" || st.Available || st.FailureCount != 3 {
		t.Fatalf("endpoint a state=%+v want unavailable after 3 failures", st)
	}

	failing = false
	for i := 0; i < 5; i++ {
		res, err := c.Call(ctx, "getSlot", nil, "")
		if err != nil || string(res) != `"b"` {
			t.Fatalf("post-demotion call %d res=%s err=%v want b", i, res, err)
		}
	}
	if a.count() != 3 {
		t.Fatalf("endpoint a calls=%d want=3", a.count())
	}
	if b.count() != 8 {
		t.Fatalf("endpoint b calls=%d want=8", b.count())
	}
	if usage.get(0) != 3 || usage.get(1) != 8 {
		t.Fatalf("usage=%v want a=3 b=8", usage.counts)
	}
	if len(c.State().Endpoints) != 2 {
		t.Fatalf("demoted endpoint must stay in the chain")
	}

	if !c.EnableEndpoint("a") {
		t.Fatalf("enable a returned false")
	}
	res, err := c.Call(ctx, "getSlot", nil, "")
	if err != nil || string(res) != `"a"` {
		t.Fatalf("after enable res=%s err=%v want a", res, err)
	}
	if c.EnableEndpoint("missing") {
		t.Fatalf("enable of unknown endpoint returned true")
	}
}

func TestChain_SuccessResetsFailureStreak(t *testing.T) {
	a := &scriptedCaller{name: "a", fail: func(n int) error {
		if n%3 == 0 {
			return nil
		}
		return TransientError(errors.New("timeout"))
	}}
	b := &scriptedCaller{name: "b"}
	c := NewChain("rpc", []*Endpoint{
		NewEndpoint(EndpointConfig{Name: "a", Priority: 1, MaxFailures: 3, CredentialIndex: -1}, a),
		NewEndpoint(EndpointConfig{Name: "b", Priority: 2, MaxFailures: 3, CredentialIndex: -1}, b),
	})
	for i := 0; i < 9; i++ {
		if _, err := c.Call(context.Background(), "m", nil, ""); err != nil {
			t.Fatalf("call %d err=%v", i, err)
		}
	}
	if st := c.Endpoints()[0].State(); !st.Available {
		t.Fatalf("a state=%+v want available: failures were never consecutive past 2", st)
	}
}

func TestChain_TerminalErrorStopsImmediately(t *testing.T) {
	a := &scriptedCaller{name: "a", fail: alwaysFail(TerminalError(errors.New("invalid params")))}
	b := &scriptedCaller{name: "b"}
	c := NewChain("rpc", []*Endpoint{
		NewEndpoint(EndpointConfig{Name: "a", Priority: 1, CredentialIndex: -1}, a),
		NewEndpoint(EndpointConfig{Name: "b", Priority: 2, CredentialIndex: -1}, b),
	})
	_, err := c.Call(context.Background(), "m", nil, "")
	if KindOf(err) != Terminal {
		t.Fatalf("err=%v kind=%v want terminal", err, KindOf(err))
	}
	if b.count() != 0 {
		t.Fatalf("terminal error must not fall through, b calls=%d", b.count())
	}
	if st := c.Endpoints()[0].State(); st.FailureCount != 0 {
		t.Fatalf("terminal error counted against endpoint: %+v", st)
	}
}

func TestChain_ExhaustedWhenAllFail(t *testing.T) {
	a := &scriptedCaller{name: "a", fail: alwaysFail(errors.New("down"))}
	b := &scriptedCaller{name: "b", fail: alwaysFail(RateLimitError(errors.New("429")))}
	c := NewChain("rpc", []*Endpoint{
		NewEndpoint(EndpointConfig{Name: "a", Priority: 1, CredentialIndex: -1}, a),
		NewEndpoint(EndpointConfig{Name: "b", Priority: 2, CredentialIndex: -1}, b),
	})
	_, err := c.Call(context.Background(), "m", nil, "")
	if !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("err=%v want ErrChainExhausted", err)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || len(ex.Attempts) != 2 {
		t.Fatalf("err=%#v want 2 attempts", err)
	}
}

func TestChain_DailyLimitSkipsEndpoint(t *testing.T) {
	a := &scriptedCaller{name: "a"}
	b := &scriptedCaller{name: "b"}
	c := NewChain("rpc", []*Endpoint{
		NewEndpoint(EndpointConfig{Name: "a", Priority: 1, DailyLimit: 2, CredentialIndex: -1}, a),
		NewEndpoint(EndpointConfig{Name: "b", Priority: 2, CredentialIndex: -1}, b),
	})
	var got []string
	for i := 0; i < 3; i++ {
		res, _ := c.Call(context.Background(), "m", nil, "")
		got = append(got, string(res))
	}
	if got[0] != `"a"` || got[1] != `"a"` || got[2] != `"b"` {
		t.Fatalf("got=%v want a a b", got)
	}
	c.ResetDaily()
	if res, _ := c.Call(context.Background(), "m", nil, ""); string(res) != `"a"` {
		t.Fatalf("after reset res=%s want a", res)
	}
}

func TestChain_CredentialFirstThenFallback(t *testing.T) {
	ctx := context.Background()
	cred := &scriptedCaller{name: "cred", fail: alwaysFail(RateLimitError(errors.New("slow down")))}
	ep := &scriptedCaller{name: "ep"}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	router := NewCredentialRouter([]Caller{cred}, nil, WithCooldown(time.Minute), WithRouterClock(func() time.Time { return now }))
	router.AssignUsers([]string{"u1"})
	usage := &countingUsage{}
	c := NewChain("rpc", []*Endpoint{
		NewEndpoint(EndpointConfig{Name: "ep", Priority: 1, CredentialIndex: 1}, ep),
	}, WithRouter(router), WithUsage(usage))

	res, err := c.Call(ctx, "m", nil, "u1")
	if err != nil || string(res) != `"ep"` {
		t.Fatalf("res=%s err=%v want fallback to ep", res, err)
	}
	if _, ok := router.SlotFor("u1"); ok {
		t.Fatalf("rate-limited credential should be unavailable during cooldown")
	}
	if _, err := c.Call(ctx, "m", nil, "u1"); err != nil {
		t.Fatalf("second call err=%v", err)
	}
	if cred.count() != 1 {
		t.Fatalf("credential calls=%d want=1 while cooling down", cred.count())
	}
	if usage.get(0) != 1 || usage.get(1) != 2 {
		t.Fatalf("usage=%v want cred=1 ep=2", usage.counts)
	}

	now = now.Add(time.Minute)
	cred.fail = nil
	res, err = c.Call(ctx, "m", nil, "u1")
	if err != nil || string(res) != `"cred"` {
		t.Fatalf("after cooldown res=%s err=%v want cred", res, err)
	}
}

func TestChain_CredentialTerminalStillFallsBack(t *testing.T) {
	cred := &scriptedCaller{name: "cred", fail: alwaysFail(TerminalError(errors.New("bad key")))}
	ep := &scriptedCaller{name: "ep"}
	router := NewCredentialRouter([]Caller{cred}, nil)
	router.AssignUsers([]string{"u1"})
	c := NewChain("rpc", []*Endpoint{
		NewEndpoint(EndpointConfig{Name: "ep", Priority: 1, CredentialIndex: -1}, ep),
	}, WithRouter(router))
	res, err := c.Call(context.Background(), "m", nil, "u1")
	if err != nil || string(res) != `"ep"` {
		t.Fatalf("res=%s err=%v want fallback to ep", res, err)
	}
	if _, ok := router.SlotFor("u1"); !ok {
		t.Fatalf("terminal error must not disable the credential")
	}
}

func TestChain_UnroutedUserUsesChain(t *testing.T) {
	cred := &scriptedCaller{name: "cred"}
	ep := &scriptedCaller{name: "ep"}
	router := NewCredentialRouter([]Caller{cred}, nil)
	c := NewChain("rpc", []*Endpoint{
		NewEndpoint(EndpointConfig{Name: "ep", Priority: 1, CredentialIndex: -1}, ep),
	}, WithRouter(router))
	res, err := c.Call(context.Background(), "m", nil, "stranger")
	if err != nil || string(res) != `"ep"` {
		t.Fatalf("res=%s err=%v want ep", res, err)
	}
	if cred.count() != 0 {
		t.Fatalf("unassigned user hit credential")
	}
}

func TestChain_CanceledContext(t *testing.T) {
	a := &scriptedCaller{name: "a"}
	c := NewChain("rpc", []*Endpoint{NewEndpoint(EndpointConfig{Name: "a", CredentialIndex: -1}, a)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Call(ctx, "m", nil, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if a.count() != 0 {
		t.Fatalf("canceled call reached endpoint")
	}
}

func TestCredentialRouter_RoundRobinAndExplicit(t *testing.T) {
	r := NewCredentialRouter([]Caller{&scriptedCaller{}, &scriptedCaller{}}, []string{"x", "y"})
	if err := r.Assign("pinned", 1); err != nil {
		t.Fatalf("Assign err=%v", err)
	}
	r.AssignUsers([]string{"a", "b", "c", "pinned"})
	want := map[string]int{"a": 0, "b": 1, "c": 0, "pinned": 1}
	for u, w := range want {
		if got, ok := r.SlotFor(u); !ok || got != w {
			t.Fatalf("slot(%s)=%d,%v want=%d", u, got, ok, w)
		}
	}
	if err := r.Assign("z", 5); err == nil {
		t.Fatalf("out of range assign should fail")
	}
	st := r.States()
	if st[0].Users != 2 || st[1].Users != 2 || st[1].Name != "y" {
		t.Fatalf("states=%+v", st)
	}
}

func TestCredentialRouter_FailureStreakDisables(t *testing.T) {
	cred := &scriptedCaller{fail: alwaysFail(errors.New("reset by peer"))}
	r := NewCredentialRouter([]Caller{cred}, nil, WithMaxFailures(2))
	r.AssignUsers([]string{"u"})
	for i := 0; i < 2; i++ {
		if _, idx, err := r.Call(context.Background(), "u", "m", nil); err == nil || idx != 0 {
			t.Fatalf("call %d idx=%d err=%v", i, idx, err)
		}
	}
	if _, idx, err := r.Call(context.Background(), "u", "m", nil); !errors.Is(err, ErrNoCredential) || idx != -1 {
		t.Fatalf("idx=%d err=%v want ErrNoCredential", idx, err)
	}
	r.ResetDaily()
	if _, ok := r.SlotFor("u"); !ok {
		t.Fatalf("daily reset should re-enable the slot")
	}
}
