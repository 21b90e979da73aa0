// Package worker runs the per-process side of the system: a heartbeat, one
// scan loop per assigned user and the local trade queue they feed.
package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"harvest/internal/coord"
	"harvest/internal/metrics"
	"harvest/internal/tradequeue"
)

type Scanner interface {
	Scan(ctx context.Context, userID string) ([]tradequeue.Job, error)
}

type Enqueuer interface {
	Enqueue(userID string, opp tradequeue.Opportunity, exec tradequeue.Executor) (string, error)
}

type Options struct {
	WorkerID          string
	UserIDs           []string
	Store             coord.Store
	Scanner           Scanner
	Queue             Enqueuer
	ScanInterval      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	HeartbeatRetry    time.Duration
	AssignmentTTL     time.Duration
	Logger            *zap.Logger
	Now               func() time.Time
}

type Status struct {
	WorkerID      string     `json:"worker_id"`
	Running       bool       `json:"running"`
	UserCount     int        `json:"user_count"`
	ActiveLoops   int        `json:"active_loops"`
	Users         []string   `json:"users,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

type Runtime struct {
	opts   Options
	logger *zap.Logger

	mu            sync.Mutex
	running       bool
	active        map[string]struct{}
	lastHeartbeat time.Time
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

func New(opts Options) *Runtime {
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = 300 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.HeartbeatTTL <= 0 {
		opts.HeartbeatTTL = coord.DefaultHeartbeatTTL
	}
	if opts.HeartbeatRetry <= 0 {
		opts.HeartbeatRetry = 5 * time.Second
	}
	if opts.AssignmentTTL <= 0 {
		opts.AssignmentTTL = coord.DefaultAssignmentTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		opts:   opts,
		logger: logger.With(zap.String("worker_id", opts.WorkerID)),
		active: map[string]struct{}{},
	}
}

// Start launches the heartbeat and one scan loop per user and returns.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("worker runtime already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	for _, u := range r.opts.UserIDs {
		r.active[u] = struct{}{}
	}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.heartbeatLoop(runCtx)
	}()
	for _, u := range r.opts.UserIDs {
		r.wg.Add(1)
		go func(userID string) {
			defer r.wg.Done()
			r.scanLoop(runCtx, userID)
		}(u)
	}
	r.logger.Info("worker runtime started", zap.Int("users", len(r.opts.UserIDs)))
	return nil
}

func (r *Runtime) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Stop clears the running flag, waits for loops to exit and removes the
// heartbeat key so the supervisor does not wait out the TTL.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := r.opts.Store.Delete(ctx, coord.HeartbeatKey(r.opts.WorkerID)); err != nil {
		r.logger.Warn("heartbeat delete failed", zap.Error(err))
	}
	r.logger.Info("worker runtime stopped")
	return nil
}

func (r *Runtime) heartbeatLoop(ctx context.Context) {
	key := coord.HeartbeatKey(r.opts.WorkerID)
	for r.isRunning() {
		wait := r.opts.HeartbeatInterval
		now := r.opts.Now().UTC()
		if err := r.opts.Store.Set(ctx, key, now.Format(time.RFC3339), r.opts.HeartbeatTTL); err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.IncHeartbeatFailure()
			r.logger.Warn("heartbeat write failed", zap.Error(err), zap.Duration("retry_in", r.opts.HeartbeatRetry))
			wait = r.opts.HeartbeatRetry
		} else {
			r.mu.Lock()
			r.lastHeartbeat = now
			r.mu.Unlock()
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (r *Runtime) scanLoop(ctx context.Context, userID string) {
	logger := r.logger.With(zap.String("user_id", userID))
	defer func() {
		r.mu.Lock()
		delete(r.active, userID)
		r.mu.Unlock()
	}()
	for r.isRunning() {
		owned, err := r.checkAssignment(ctx, userID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.Warn("assignment check failed, skipping cycle", zap.Error(err))
		case !owned:
			logger.Warn("user assigned to another worker, stopping scan loop")
			return
		default:
			r.scanOnce(ctx, userID, logger)
		}
		if !sleep(ctx, r.opts.ScanInterval) {
			return
		}
	}
}

// checkAssignment reports whether this worker owns the user. An expired
// assignment is claimed back; a read failure is returned as unknown.
func (r *Runtime) checkAssignment(ctx context.Context, userID string) (bool, error) {
	key := coord.AssignmentKey(userID)
	owner, ok, err := r.opts.Store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		return owner == r.opts.WorkerID, nil
	}
	claimed, err := r.opts.Store.SetIfAbsent(ctx, key, r.opts.WorkerID, r.opts.AssignmentTTL)
	if err != nil {
		return false, err
	}
	if claimed {
		r.logger.Info("reclaimed expired assignment", zap.String("user_id", userID))
		return true, nil
	}
	owner, ok, err = r.opts.Store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return ok && owner == r.opts.WorkerID, nil
}

func (r *Runtime) scanOnce(ctx context.Context, userID string, logger *zap.Logger) {
	jobs, err := r.opts.Scanner.Scan(ctx, userID)
	if err != nil {
		logger.Warn("scan failed", zap.Error(err))
	}
	for _, job := range jobs {
		id, err := r.opts.Queue.Enqueue(userID, job.Opportunity, job.Executor)
		if err != nil {
			logger.Error("enqueue failed", zap.Error(err))
			continue
		}
		logger.Debug("opportunity queued", zap.String("trade_id", id))
	}
}

func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]string, 0, len(r.active))
	for u := range r.active {
		users = append(users, u)
	}
	sort.Strings(users)
	st := Status{
		WorkerID:    r.opts.WorkerID,
		Running:     r.running,
		UserCount:   len(r.opts.UserIDs),
		ActiveLoops: len(r.active),
		Users:       users,
	}
	if !r.lastHeartbeat.IsZero() {
		t := r.lastHeartbeat
		st.LastHeartbeat = &t
	}
	return st
}

func (r *Runtime) WorkerID() string { return r.opts.WorkerID }

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
