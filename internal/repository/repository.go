package repository

import (
	"context"
	"time"

	"harvest/internal/models"
)

type AuditRepository interface {
	InsertTradeRecord(ctx context.Context, item *models.TradeRecord) error
	ListTradeRecords(ctx context.Context, params ListTradeRecordsParams) ([]models.TradeRecord, error)
	DeleteTradeRecordsBefore(ctx context.Context, before time.Time) (int64, error)
	InsertWorkerEvent(ctx context.Context, item *models.WorkerEvent) error
	ListWorkerEvents(ctx context.Context, params ListWorkerEventsParams) ([]models.WorkerEvent, error)
}

type UserRepository interface {
	ListActiveUserIDs(ctx context.Context) ([]string, error)
	ListUserWallets(ctx context.Context, userIDs []string) (map[string]string, error)
}

type ListTradeRecordsParams struct {
	WorkerID *string
	UserID   *string
	Status   *string
	Since    *time.Time
	Limit    int
	Offset   int
}

type ListWorkerEventsParams struct {
	WorkerID *string
	Kind     *string
	Limit    int
	Offset   int
}
