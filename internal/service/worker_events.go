package service

import (
	"context"
	"errors"

	"harvest/internal/models"
	"harvest/internal/repository"
	"harvest/internal/supervisor"
)

type WorkerEventStore interface {
	InsertWorkerEvent(ctx context.Context, item *models.WorkerEvent) error
	ListWorkerEvents(ctx context.Context, params repository.ListWorkerEventsParams) ([]models.WorkerEvent, error)
}

// WorkerEventLog persists supervisor lifecycle events.
type WorkerEventLog struct {
	Repo WorkerEventStore
}

func (s *WorkerEventLog) RecordWorkerEvent(ctx context.Context, ev supervisor.Event) error {
	if s == nil || s.Repo == nil {
		return errors.New("worker event log not configured")
	}
	return s.Repo.InsertWorkerEvent(ctx, &models.WorkerEvent{
		SupervisorID: ev.SupervisorID,
		WorkerID:     ev.WorkerID,
		Kind:         string(ev.Kind),
		PID:          ev.PID,
		Reason:       ev.Reason,
		UserCount:    ev.UserCount,
		Restarts:     ev.Restarts,
		OccurredAt:   ev.At,
	})
}

func (s *WorkerEventLog) Recent(ctx context.Context, workerID string, limit int) ([]models.WorkerEvent, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	params := repository.ListWorkerEventsParams{Limit: limit}
	if workerID != "" {
		params.WorkerID = &workerID
	}
	return s.Repo.ListWorkerEvents(ctx, params)
}
