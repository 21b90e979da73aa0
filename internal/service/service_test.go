package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"harvest/internal/execution"
	"harvest/internal/models"
	"harvest/internal/repository"
	"harvest/internal/supervisor"
	"harvest/internal/tradequeue"
)

type memRepo struct {
	trades []models.TradeRecord
	events []models.WorkerEvent
}

func (m *memRepo) ListTradeRecords(_ context.Context, params repository.ListTradeRecordsParams) ([]models.TradeRecord, error) {
	var out []models.TradeRecord
	for _, tr := range m.trades {
		if params.UserID != nil && tr.UserID != *params.UserID {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}

func (m *memRepo) DeleteTradeRecordsBefore(_ context.Context, before time.Time) (int64, error) {
	kept := m.trades[:0]
	var n int64
	for _, tr := range m.trades {
		if tr.QueuedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, tr)
	}
	m.trades = kept
	return n, nil
}

func (m *memRepo) InsertTradeRecord(_ context.Context, item *models.TradeRecord) error {
	m.trades = append(m.trades, *item)
	return nil
}

func (m *memRepo) InsertWorkerEvent(_ context.Context, item *models.WorkerEvent) error {
	m.events = append(m.events, *item)
	return nil
}

func (m *memRepo) ListWorkerEvents(_ context.Context, params repository.ListWorkerEventsParams) ([]models.WorkerEvent, error) {
	var out []models.WorkerEvent
	for _, ev := range m.events {
		if params.WorkerID != nil && ev.WorkerID != *params.WorkerID {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func TestTradeAudit_CompletedReceipt(t *testing.T) {
	repo := &memRepo{}
	audit := &TradeAudit{Repo: repo, WorkerID: "worker_0"}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exec := start.Add(time.Second)
	done := exec.Add(250 * time.Millisecond)
	err := audit.RecordTrade(context.Background(), tradequeue.Trade{
		ID:         "u1_1_1",
		UserID:     "u1",
		Kind:       "arb",
		Status:     tradequeue.StatusCompleted,
		QueuedAt:   start,
		ExecutedAt: &exec,
		FinishedAt: &done,
		Result:     execution.Receipt{Signature: "sig", Wallet: "w1", Notional: decimal.RequireFromString("12.5")},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(repo.trades) != 1 {
		t.Fatalf("trades=%d want=1", len(repo.trades))
	}
	rec := repo.trades[0]
	if rec.WorkerID != "worker_0" || rec.Strategy != "arb" || rec.Status != "completed" {
		t.Fatalf("rec=%+v", rec)
	}
	if rec.Signature != "sig" || rec.Wallet != "w1" || !rec.Notional.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("receipt fields=%+v", rec)
	}
	if rec.DurationMs != 250 || rec.Error != nil || len(rec.Result) == 0 {
		t.Fatalf("duration=%d error=%v result=%s", rec.DurationMs, rec.Error, rec.Result)
	}
}

func TestTradeAudit_Failed(t *testing.T) {
	rec := BuildTradeRecord("worker_1", tradequeue.Trade{
		ID:     "u2_1_1",
		UserID: "u2",
		Status: tradequeue.StatusFailed,
		Err:    errors.New("send: exhausted"),
		Result: execution.Receipt{},
	})
	if rec.Error == nil || *rec.Error != "send: exhausted" {
		t.Fatalf("error=%v", rec.Error)
	}
	if rec.Result != nil || rec.DurationMs != 0 {
		t.Fatalf("result=%s duration=%d", rec.Result, rec.DurationMs)
	}
}

func TestTradeAudit_Unconfigured(t *testing.T) {
	var audit *TradeAudit
	if err := audit.RecordTrade(context.Background(), tradequeue.Trade{}); err == nil {
		t.Fatalf("expected error for nil audit")
	}
}

func TestWorkerEventLog(t *testing.T) {
	repo := &memRepo{}
	log := &WorkerEventLog{Repo: repo}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"worker_0", "worker_1", "worker_0"} {
		err := log.RecordWorkerEvent(context.Background(), supervisor.Event{
			SupervisorID: "sup",
			WorkerID:     id,
			Kind:         supervisor.EventRestart,
			PID:          42,
			Reason:       "heartbeat missing",
			At:           at,
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	items, err := log.Recent(context.Background(), "worker_0", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(items) != 2 || items[0].Kind != "restart" || items[0].PID != 42 || !items[0].OccurredAt.Equal(at) {
		t.Fatalf("items=%+v", items)
	}
}

func TestTradeHistory_ListAndPrune(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := &memRepo{trades: []models.TradeRecord{
		{TradeID: "a", UserID: "u1", QueuedAt: now.Add(-48 * time.Hour)},
		{TradeID: "b", UserID: "u2", QueuedAt: now.Add(-2 * time.Hour)},
		{TradeID: "c", UserID: "u1", QueuedAt: now.Add(-time.Hour)},
	}}
	h := &TradeHistory{Repo: repo, Now: func() time.Time { return now }}

	user := "u1"
	items, err := h.List(context.Background(), repository.ListTradeRecordsParams{UserID: &user})
	if err != nil || len(items) != 2 {
		t.Fatalf("list items=%d err=%v want=2", len(items), err)
	}

	if n, err := h.Prune(context.Background(), 0); err != nil || n != 0 {
		t.Fatalf("prune with zero retention n=%d err=%v want=0", n, err)
	}
	n, err := h.Prune(context.Background(), 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("prune n=%d err=%v want=1", n, err)
	}
	if len(repo.trades) != 2 {
		t.Fatalf("remaining=%d want=2", len(repo.trades))
	}
}
