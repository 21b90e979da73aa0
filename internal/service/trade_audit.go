package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/datatypes"

	"harvest/internal/execution"
	"harvest/internal/models"
	"harvest/internal/tradequeue"
)

type TradeRecordWriter interface {
	InsertTradeRecord(ctx context.Context, item *models.TradeRecord) error
}

// TradeAudit writes finished trades to the audit table.
type TradeAudit struct {
	Repo     TradeRecordWriter
	WorkerID string
}

func (s *TradeAudit) RecordTrade(ctx context.Context, t tradequeue.Trade) error {
	if s == nil || s.Repo == nil {
		return errors.New("trade audit not configured")
	}
	return s.Repo.InsertTradeRecord(ctx, BuildTradeRecord(s.WorkerID, t))
}

func BuildTradeRecord(workerID string, t tradequeue.Trade) *models.TradeRecord {
	rec := &models.TradeRecord{
		TradeID:    t.ID,
		WorkerID:   workerID,
		UserID:     t.UserID,
		Strategy:   t.Kind,
		Status:     string(t.Status),
		QueuedAt:   t.QueuedAt,
		ExecutedAt: t.ExecutedAt,
		FinishedAt: t.FinishedAt,
		DurationMs: t.Duration().Milliseconds(),
	}
	if t.Err != nil {
		msg := strings.TrimSpace(t.Err.Error())
		rec.Error = &msg
	}
	switch v := t.Result.(type) {
	case execution.Receipt:
		rec.Wallet = v.Wallet
		rec.Signature = v.Signature
		rec.Notional = v.Notional
	case *execution.Receipt:
		if v != nil {
			rec.Wallet = v.Wallet
			rec.Signature = v.Signature
			rec.Notional = v.Notional
		}
	}
	if t.Result != nil && t.Err == nil {
		if raw, err := json.Marshal(t.Result); err == nil {
			rec.Result = datatypes.JSON(raw)
		}
	}
	return rec
}
