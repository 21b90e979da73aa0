package service

import (
	"context"
	"time"

	"harvest/internal/models"
	"harvest/internal/repository"
)

type TradeRecordStore interface {
	ListTradeRecords(ctx context.Context, params repository.ListTradeRecordsParams) ([]models.TradeRecord, error)
	DeleteTradeRecordsBefore(ctx context.Context, before time.Time) (int64, error)
}

// TradeHistory reads and prunes the audit rows written by every worker.
type TradeHistory struct {
	Repo TradeRecordStore
	Now  func() time.Time
}

func (s *TradeHistory) List(ctx context.Context, params repository.ListTradeRecordsParams) ([]models.TradeRecord, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	return s.Repo.ListTradeRecords(ctx, params)
}

// Prune deletes rows queued more than retention ago. retention <= 0 keeps everything.
func (s *TradeHistory) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if s == nil || s.Repo == nil || retention <= 0 {
		return 0, nil
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return s.Repo.DeleteTradeRecordsBefore(ctx, now().Add(-retention))
}
