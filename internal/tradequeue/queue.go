// Package tradequeue serializes trade submission inside one worker process:
// trades run one at a time in enqueue order.
package tradequeue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"harvest/internal/metrics"
)

const (
	defaultPopWait      = time.Second
	defaultStopTimeout  = 30 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	forcedStopGrace     = time.Second
)

type entry struct {
	id         string
	userID     string
	opp        Opportunity
	exec       Executor
	status     Status
	queuedAt   time.Time
	executedAt time.Time
	finishedAt time.Time
	result     any
	err        error
}

func (e *entry) snapshot() Trade {
	t := Trade{
		ID:          e.id,
		UserID:      e.userID,
		Opportunity: e.opp,
		Status:      e.status,
		QueuedAt:    e.queuedAt,
		Result:      e.result,
		Err:         e.err,
	}
	if e.opp != nil {
		t.Kind = e.opp.Kind()
	}
	if !e.executedAt.IsZero() {
		at := e.executedAt
		t.ExecutedAt = &at
	}
	if !e.finishedAt.IsZero() {
		at := e.finishedAt
		t.FinishedAt = &at
	}
	return t
}

type Options struct {
	PopWait      time.Duration
	StopTimeout  time.Duration
	PollInterval time.Duration
	Recorder     Recorder
	Logger       *zap.Logger
	Now          func() time.Time
}

type Queue struct {
	mu      sync.Mutex
	trades  map[string]*entry
	pending []*entry
	counter uint64

	notify  chan struct{}
	started bool
	running bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	popWait      time.Duration
	stopTimeout  time.Duration
	pollInterval time.Duration
	recorder     Recorder
	logger       *zap.Logger
	now          func() time.Time
}

func New(opts Options) *Queue {
	q := &Queue{
		trades:       map[string]*entry{},
		notify:       make(chan struct{}, 1),
		popWait:      opts.PopWait,
		stopTimeout:  opts.StopTimeout,
		pollInterval: opts.PollInterval,
		recorder:     opts.Recorder,
		logger:       opts.Logger,
		now:          opts.Now,
	}
	if q.popWait <= 0 {
		q.popWait = defaultPopWait
	}
	if q.stopTimeout <= 0 {
		q.stopTimeout = defaultStopTimeout
	}
	if q.pollInterval <= 0 {
		q.pollInterval = defaultPollInterval
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

// Enqueue records a pending trade and returns its id without waiting.
func (q *Queue) Enqueue(userID string, opp Opportunity, exec Executor) (string, error) {
	if exec == nil {
		return "", fmt.Errorf("enqueue %s: nil executor", userID)
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", ErrQueueStopped
	}
	q.counter++
	now := q.now()
	e := &entry{
		id:       fmt.Sprintf("%s_%d_%d", userID, now.UnixMilli(), q.counter),
		userID:   userID,
		opp:      opp,
		exec:     exec,
		status:   StatusPending,
		queuedAt: now,
	}
	q.trades[e.id] = e
	q.pending = append(q.pending, e)
	depth := len(q.pending)
	q.mu.Unlock()
	metrics.SetQueueDepth(depth)

	q.wake()
	q.logger.Info("trade enqueued",
		zap.String("trade_id", e.id),
		zap.String("user_id", userID),
		zap.Int("queue_depth", depth),
	)
	return e.id, nil
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// StartProcessing launches the single consumer. Later calls only warn.
// Canceling ctx stops the consumer and the in-flight execution.
func (q *Queue) StartProcessing(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		q.logger.Warn("trade queue already processing")
		return
	}
	execCtx, cancel := context.WithCancel(ctx)
	q.started = true
	q.running = true
	q.cancel = cancel
	q.done = make(chan struct{})
	done := q.done
	q.mu.Unlock()

	q.logger.Info("trade queue started")
	go q.consume(execCtx, done)
}

func (q *Queue) isRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) Running() bool { return q.isRunning() }

func (q *Queue) consume(ctx context.Context, done chan struct{}) {
	defer close(done)
	for q.isRunning() {
		if ctx.Err() != nil {
			return
		}
		e := q.pop(ctx)
		if e == nil {
			continue
		}
		q.execute(ctx, e)
	}
}

// pop waits at most popWait for the next pending trade.
func (q *Queue) pop(ctx context.Context) *entry {
	if e := q.takeFirst(); e != nil {
		return e
	}
	timer := time.NewTimer(q.popWait)
	defer timer.Stop()
	select {
	case <-q.notify:
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
	return q.takeFirst()
}

func (q *Queue) takeFirst() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running || len(q.pending) == 0 {
		return nil
	}
	e := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	metrics.SetQueueDepth(len(q.pending))
	e.status = StatusExecuting
	e.executedAt = q.now()
	return e
}

func (q *Queue) execute(ctx context.Context, e *entry) {
	result, err := runExecutor(ctx, e.exec)

	q.mu.Lock()
	e.finishedAt = q.now()
	if err != nil {
		e.status = StatusFailed
		e.err = err
	} else {
		e.status = StatusCompleted
		e.result = result
	}
	snap := e.snapshot()
	q.mu.Unlock()
	metrics.ObserveTrade(string(snap.Status), snap.Kind, snap.Duration())

	if err != nil {
		q.logger.Error("trade failed",
			zap.String("trade_id", snap.ID),
			zap.String("user_id", snap.UserID),
			zap.String("kind", snap.Kind),
			zap.Duration("duration", snap.Duration()),
			zap.Error(err),
		)
	} else {
		q.logger.Info("trade completed",
			zap.String("trade_id", snap.ID),
			zap.String("user_id", snap.UserID),
			zap.Duration("duration", snap.Duration()),
		)
	}
	if q.recorder != nil {
		if rerr := q.recorder.RecordTrade(context.WithoutCancel(ctx), snap); rerr != nil {
			q.logger.Warn("trade record failed", zap.String("trade_id", snap.ID), zap.Error(rerr))
		}
	}
}

func runExecutor(ctx context.Context, exec Executor) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec.Execute(ctx)
}

// StopProcessing stops taking new work, waits for the in-flight trade and
// cancels it once the stop timeout passes. Pending trades stay pending.
func (q *Queue) StopProcessing() error {
	q.mu.Lock()
	q.stopped = true
	if !q.started || !q.running {
		q.running = false
		q.mu.Unlock()
		return nil
	}
	q.running = false
	done, cancel := q.done, q.cancel
	q.mu.Unlock()
	q.wake()

	timer := time.NewTimer(q.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		cancel()
		q.logger.Info("trade queue stopped")
		return nil
	case <-timer.C:
	}

	cancel()
	q.logger.Warn("trade queue stop timed out, canceled in-flight trade", zap.Duration("timeout", q.stopTimeout))
	select {
	case <-done:
	case <-time.After(forcedStopGrace):
	}
	return ErrStopTimeout
}

func (q *Queue) GetTrade(id string) (Trade, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.trades[id]
	if !ok {
		return Trade{}, false
	}
	return e.snapshot(), true
}

// GetTradeResult returns the executor's result, or its error for a failed trade.
func (q *Queue) GetTradeResult(id string) (any, error) {
	t, ok := q.GetTrade(id)
	if !ok {
		return nil, ErrTradeNotFound
	}
	switch t.Status {
	case StatusCompleted:
		return t.Result, nil
	case StatusFailed:
		return nil, t.Err
	default:
		return nil, ErrTradePending
	}
}

// WaitForTrade polls until the trade is terminal. A timeout only stops the
// wait; the trade keeps running.
func (q *Queue) WaitForTrade(ctx context.Context, id string, timeout time.Duration) (Trade, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		t, ok := q.GetTrade(id)
		if !ok {
			return Trade{}, ErrTradeNotFound
		}
		if t.Status.Terminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-deadline.C:
			return t, ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{QueueDepth: len(q.pending)}
	for _, e := range q.trades {
		switch e.status {
		case StatusPending:
			s.Pending++
		case StatusExecuting:
			s.Executing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// ClearCompletedTrades drops terminal trades that finished more than maxAge ago.
func (q *Queue) ClearCompletedTrades(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.now().Add(-maxAge)
	removed := 0
	for id, e := range q.trades {
		if !e.status.Terminal() || e.finishedAt.After(cutoff) {
			continue
		}
		delete(q.trades, id)
		removed++
	}
	if removed > 0 {
		q.logger.Info("pruned finished trades", zap.Int("removed", removed), zap.Int("remaining", len(q.trades)))
	}
	return removed
}
