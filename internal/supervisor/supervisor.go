// Package supervisor partitions users across worker processes, spawns them
// and restarts any whose heartbeat disappears or whose process exits.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"harvest/internal/config"
	"harvest/internal/coord"
	"harvest/internal/metrics"
	"harvest/internal/notification"
	"harvest/internal/worker"
)

const assignmentLock = "assignment"

var (
	ErrUnknownWorker     = errors.New("unknown worker")
	ErrRestartInProgress = errors.New("restart already in progress")
	ErrStopped           = errors.New("supervisor stopped")
)

type EventKind string

const (
	EventSpawn   EventKind = "spawn"
	EventRestart EventKind = "restart"
	EventFailed  EventKind = "spawn_failed"
	EventStop    EventKind = "stop"
)

type Event struct {
	SupervisorID string
	WorkerID     string
	Kind         EventKind
	PID          int
	Reason       string
	UserCount    int
	Restarts     int
	At           time.Time
}

// EventRecorder persists worker lifecycle events.
type EventRecorder interface {
	RecordWorkerEvent(ctx context.Context, ev Event) error
}

type Options struct {
	// ID names this supervisor in events and logs; a uuid when empty.
	ID       string
	Store    coord.Store
	Spawner  Spawner
	StoreURL string
	// Config is handed to every worker inside its Spec.
	Config           config.Config
	Workers          int
	MonitorInterval  time.Duration
	StartupGrace     time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	TerminateTimeout time.Duration
	AssignmentTTL    time.Duration
	HTTPHost         string
	HTTPBasePort     int
	Notifier         notification.Notifier
	Recorder         EventRecorder
	Logger           *zap.Logger
	Now              func() time.Time
}

type workerState struct {
	id          string
	users       []string
	httpAddr    string
	proc        Process
	spawnedAt   time.Time
	restarts    int
	consecutive int
	nextRestart time.Time
	lastReason  string
	// restarting is set while a restart runs outside s.mu.
	restarting bool
}

type WorkerStatus struct {
	WorkerID   string     `json:"worker_id"`
	Users      []string   `json:"users"`
	HTTPAddr   string     `json:"http_addr"`
	PID        int        `json:"pid"`
	Alive      bool       `json:"alive"`
	Restarts   int        `json:"restarts"`
	SpawnedAt  *time.Time `json:"spawned_at,omitempty"`
	LastReason string     `json:"last_reason,omitempty"`
}

type Supervisor struct {
	opts   Options
	id     string
	logger *zap.Logger

	mu      sync.Mutex
	workers []*workerState
	byID    map[string]*workerState
	started bool
	stopped bool
}

func New(opts Options) *Supervisor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = 30 * time.Second
	}
	if opts.TerminateTimeout <= 0 {
		opts.TerminateTimeout = 40 * time.Second
	}
	if opts.AssignmentTTL <= 0 {
		opts.AssignmentTTL = coord.DefaultAssignmentTTL
	}
	if opts.HTTPHost == "" {
		opts.HTTPHost = "127.0.0.1"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
		logger = logger.With(zap.String("supervisor_id", opts.ID))
	}
	return &Supervisor{
		opts:   opts,
		id:     opts.ID,
		logger: logger,
		byID:   map[string]*workerState{},
	}
}

func (s *Supervisor) ID() string { return s.id }

// Start partitions users, writes their assignments and spawns every worker.
// A worker that fails to spawn is left for the monitor to retry.
func (s *Supervisor) Start(ctx context.Context, userIDs []string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	s.started = true
	for i, users := range Partition(userIDs, s.opts.Workers) {
		w := &workerState{id: WorkerID(i), users: users}
		if s.opts.HTTPBasePort > 0 {
			w.httpAddr = net.JoinHostPort(s.opts.HTTPHost, strconv.Itoa(s.opts.HTTPBasePort+i))
		}
		s.workers = append(s.workers, w)
		s.byID[w.id] = w
	}
	s.mu.Unlock()

	if err := s.RenewAssignments(ctx); err != nil {
		return err
	}
	for _, w := range s.workers {
		s.spawn(ctx, w, EventSpawn, "initial start")
	}
	s.logger.Info("supervisor started", zap.Int("workers", len(s.workers)), zap.Int("users", len(userIDs)))
	return nil
}

// RenewAssignments rewrites every user_assignment key under lock:assignment.
func (s *Supervisor) RenewAssignments(ctx context.Context) error {
	lock, err := coord.AcquireWait(ctx, s.opts.Store, assignmentLock, coord.DefaultLockTTL, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire assignment lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("assignment lock release failed", zap.Error(err))
		}
	}()

	s.mu.Lock()
	type pair struct{ user, worker string }
	var pairs []pair
	for _, w := range s.workers {
		for _, u := range w.users {
			pairs = append(pairs, pair{u, w.id})
		}
	}
	s.mu.Unlock()

	for _, p := range pairs {
		if err := s.opts.Store.Set(ctx, coord.AssignmentKey(p.user), p.worker, s.opts.AssignmentTTL); err != nil {
			return fmt.Errorf("write assignment %s: %w", p.user, err)
		}
	}
	s.logger.Info("assignments written", zap.Int("users", len(pairs)))
	return nil
}

func (s *Supervisor) spec(w *workerState) worker.Spec {
	return worker.Spec{
		WorkerID: w.id,
		StoreURL: s.opts.StoreURL,
		UserIDs:  append([]string(nil), w.users...),
		HTTPAddr: w.httpAddr,
		Config:   s.opts.Config,
	}
}

// spawn starts w's process without holding s.mu and records the outcome.
func (s *Supervisor) spawn(ctx context.Context, w *workerState, kind EventKind, reason string) {
	proc, err := s.opts.Spawner.Spawn(ctx, s.spec(w))
	now := s.opts.Now()

	s.mu.Lock()
	w.spawnedAt = now
	w.lastReason = reason
	w.proc = nil
	if err == nil {
		w.proc = proc
	}
	restarts := w.restarts
	stopped := s.stopped
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("worker spawn failed", zap.String("worker_id", w.id), zap.Error(err))
		s.emit(ctx, Event{WorkerID: w.id, Kind: EventFailed, Reason: err.Error(), UserCount: len(w.users), Restarts: restarts, At: now})
		return
	}
	s.logger.Info("worker spawned",
		zap.String("worker_id", w.id),
		zap.Int("pid", proc.PID()),
		zap.Int("users", len(w.users)),
		zap.String("reason", reason),
	)
	s.emit(ctx, Event{WorkerID: w.id, Kind: kind, PID: proc.PID(), Reason: reason, UserCount: len(w.users), Restarts: restarts, At: now})
	if stopped {
		// Stop ran while this spawn was in flight and could not see it.
		s.terminate(w.id, proc)
	}
}

func (s *Supervisor) terminate(workerID string, proc Process) {
	if proc == nil || proc.Exited() {
		return
	}
	if err := proc.Terminate(s.opts.TerminateTimeout); err != nil {
		s.logger.Warn("worker terminate failed", zap.String("worker_id", workerID), zap.Error(err))
	}
}

type restartTarget struct {
	w      *workerState
	proc   Process
	reason string
}

// claimLocked marks w as restarting and returns the process to replace.
func (s *Supervisor) claimLocked(w *workerState, reason string) (restartTarget, bool) {
	if w.restarting || s.stopped {
		return restartTarget{}, false
	}
	w.restarting = true
	return restartTarget{w: w, proc: w.proc, reason: reason}, true
}

// CheckOnce compares live heartbeats against expected workers and restarts
// each missing or exited worker once. It returns the restarted ids.
// A store failure skips the whole cycle.
func (s *Supervisor) CheckOnce(ctx context.Context) []string {
	keys, err := s.opts.Store.KeysWithPrefix(ctx, coord.HeartbeatPrefix)
	if err != nil {
		s.logger.Warn("heartbeat scan failed, skipping cycle", zap.Error(err))
		return nil
	}
	alive := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		alive[coord.WorkerIDFromHeartbeatKey(k)] = struct{}{}
	}

	s.mu.Lock()
	now := s.opts.Now()
	var targets []restartTarget
	beatingCount := 0
	for _, w := range s.workers {
		exited := w.proc == nil || w.proc.Exited()
		_, beating := alive[w.id]
		if beating && !exited {
			beatingCount++
		}
		inGrace := now.Sub(w.spawnedAt) < s.opts.StartupGrace
		if !exited && (beating || inGrace) {
			if beating && !inGrace {
				w.consecutive = 0
			}
			continue
		}
		if now.Before(w.nextRestart) {
			continue
		}
		reason := "heartbeat missing"
		if exited {
			reason = "process exited"
		}
		if t, ok := s.claimLocked(w, reason); ok {
			targets = append(targets, t)
		}
	}
	s.mu.Unlock()
	metrics.SetWorkersAlive(beatingCount)

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t restartTarget) {
			defer wg.Done()
			s.restart(ctx, t)
		}(t)
	}
	wg.Wait()

	restarted := make([]string, 0, len(targets))
	for _, t := range targets {
		restarted = append(restarted, t.w.id)
	}
	return restarted
}

// Restart terminates and respawns one worker with the same users.
func (s *Supervisor) Restart(ctx context.Context, workerID, reason string) error {
	s.mu.Lock()
	w, ok := s.byID[workerID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w %q", ErrUnknownWorker, workerID)
	}
	stopped := s.stopped
	t, ok := s.claimLocked(w, reason)
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if !ok {
		return fmt.Errorf("%w for %s", ErrRestartInProgress, workerID)
	}
	s.restart(ctx, t)
	return nil
}

// restart runs a claimed restart. Terminate can take TerminateTimeout, so
// s.mu is only held for bookkeeping.
func (s *Supervisor) restart(ctx context.Context, t restartTarget) {
	w := t.w
	s.mu.Lock()
	restarts := w.restarts
	s.mu.Unlock()
	s.logger.Warn("restarting worker", zap.String("worker_id", w.id), zap.String("reason", t.reason), zap.Int("restarts", restarts))

	s.terminate(w.id, t.proc)

	s.mu.Lock()
	w.restarts++
	w.consecutive++
	restarts = w.restarts
	s.mu.Unlock()
	metrics.IncWorkerRestart(w.id, t.reason)

	s.spawn(ctx, w, EventRestart, t.reason)

	s.mu.Lock()
	if d := restartDelay(s.opts.BackoffBase, s.opts.BackoffMax, w.consecutive); d > 0 {
		w.nextRestart = s.opts.Now().Add(d)
	}
	w.restarting = false
	s.mu.Unlock()

	s.notify(ctx, notification.Event{
		Name:    "worker_restart",
		Level:   "warning",
		Message: fmt.Sprintf("worker %s restarted: %s", w.id, t.reason),
		Fields:  map[string]any{"worker_id": w.id, "restarts": restarts, "users": len(w.users)},
	})
}

// Monitor runs CheckOnce every MonitorInterval until ctx ends.
func (s *Supervisor) Monitor(ctx context.Context) {
	t := time.NewTicker(s.opts.MonitorInterval)
	defer t.Stop()
	s.logger.Info("worker monitor started", zap.Duration("interval", s.opts.MonitorInterval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.CheckOnce(ctx)
		}
	}
}

// Stop terminates every worker and drops the assignments they still own.
// Restarts are refused once Stop begins.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	type stopTarget struct {
		w        *workerState
		proc     Process
		restarts int
	}
	targets := make([]stopTarget, 0, len(s.workers))
	for _, w := range s.workers {
		targets = append(targets, stopTarget{w: w, proc: w.proc, restarts: w.restarts})
	}
	workers := len(s.workers)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t stopTarget) {
			defer wg.Done()
			s.terminate(t.w.id, t.proc)
		}(t)
	}
	wg.Wait()

	for _, t := range targets {
		for _, u := range t.w.users {
			if _, err := s.opts.Store.CompareAndDelete(ctx, coord.AssignmentKey(u), t.w.id); err != nil {
				s.logger.Warn("assignment cleanup failed", zap.String("user_id", u), zap.Error(err))
			}
		}
		s.emit(ctx, Event{WorkerID: t.w.id, Kind: EventStop, UserCount: len(t.w.users), Restarts: t.restarts, At: s.opts.Now()})
	}
	s.logger.Info("supervisor stopped", zap.Int("workers", workers))
}

func (s *Supervisor) Status() []WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerStatus, len(s.workers))
	for i, w := range s.workers {
		st := WorkerStatus{
			WorkerID:   w.id,
			Users:      append([]string(nil), w.users...),
			HTTPAddr:   w.httpAddr,
			Restarts:   w.restarts,
			LastReason: w.lastReason,
		}
		if w.proc != nil {
			st.PID = w.proc.PID()
			st.Alive = !w.proc.Exited()
		}
		if !w.spawnedAt.IsZero() {
			t := w.spawnedAt
			st.SpawnedAt = &t
		}
		out[i] = st
	}
	return out
}

func (s *Supervisor) emit(ctx context.Context, ev Event) {
	if s.opts.Recorder == nil {
		return
	}
	ev.SupervisorID = s.id
	if err := s.opts.Recorder.RecordWorkerEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("worker event record failed", zap.String("worker_id", ev.WorkerID), zap.Error(err))
	}
}

func (s *Supervisor) notify(ctx context.Context, ev notification.Event) {
	if s.opts.Notifier == nil {
		return
	}
	if err := s.opts.Notifier.Notify(ctx, ev); err != nil {
		s.logger.Warn("notification failed", zap.String("event", ev.Name), zap.Error(err))
	}
}
