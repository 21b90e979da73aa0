package tradequeue

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

var (
	ErrTradeNotFound = errors.New("trade not found")
	ErrTradePending  = errors.New("trade not finished")
	ErrWaitTimeout   = errors.New("wait for trade timed out")
	ErrQueueStopped  = errors.New("trade queue stopped")
	ErrStopTimeout   = errors.New("in-flight trade did not finish before stop timeout")
)

// Opportunity is the payload a trade was created from.
type Opportunity interface {
	Kind() string
}

// Executor submits one trade. The queue treats its result and error as opaque.
type Executor interface {
	Execute(ctx context.Context) (any, error)
}

type ExecuteFunc func(ctx context.Context) (any, error)

func (f ExecuteFunc) Execute(ctx context.Context) (any, error) { return f(ctx) }

// Trade is a point-in-time copy of a queued trade.
type Trade struct {
	ID          string      `json:"trade_id"`
	UserID      string      `json:"user_id"`
	Kind        string      `json:"kind"`
	Opportunity Opportunity `json:"-"`
	Status      Status      `json:"status"`
	QueuedAt    time.Time   `json:"queued_at"`
	ExecutedAt  *time.Time  `json:"executed_at,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	Result      any         `json:"result,omitempty"`
	Err         error       `json:"-"`
}

func (t Trade) Duration() time.Duration {
	if t.ExecutedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.ExecutedAt)
}

// Recorder receives every trade once it reaches a terminal state.
type Recorder interface {
	RecordTrade(ctx context.Context, t Trade) error
}

type Stats struct {
	Pending    int `json:"pending"`
	Executing  int `json:"executing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	QueueDepth int `json:"queue_depth"`
}

// Job pairs an opportunity with the executor that submits it.
type Job struct {
	Opportunity Opportunity
	Executor    Executor
}
