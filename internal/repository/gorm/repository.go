package gormrepository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"harvest/internal/models"
	"harvest/internal/repository"
)

var (
	_ repository.AuditRepository = (*Store)(nil)
	_ repository.UserRepository  = (*Store)(nil)
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InsertTradeRecord(ctx context.Context, item *models.TradeRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListTradeRecords(ctx context.Context, params repository.ListTradeRecordsParams) ([]models.TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.TradeRecord{})
	if params.WorkerID != nil && strings.TrimSpace(*params.WorkerID) != "" {
		query = query.Where("worker_id = ?", strings.TrimSpace(*params.WorkerID))
	}
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("queued_at >= ?", *params.Since)
	}
	var items []models.TradeRecord
	err := query.Order("queued_at desc").
		Limit(normalizeLimit(params.Limit, 200)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteTradeRecordsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("queued_at < ?", before).Delete(&models.TradeRecord{})
	return res.RowsAffected, res.Error
}

func (s *Store) InsertWorkerEvent(ctx context.Context, item *models.WorkerEvent) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListWorkerEvents(ctx context.Context, params repository.ListWorkerEventsParams) ([]models.WorkerEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.WorkerEvent{})
	if params.WorkerID != nil && strings.TrimSpace(*params.WorkerID) != "" {
		query = query.Where("worker_id = ?", strings.TrimSpace(*params.WorkerID))
	}
	if params.Kind != nil && strings.TrimSpace(*params.Kind) != "" {
		query = query.Where("kind = ?", strings.TrimSpace(*params.Kind))
	}
	var items []models.WorkerEvent
	err := query.Order("occurred_at desc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListActiveUserIDs(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("active = ?", true).
		Order("created_at asc, id asc").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) ListUserWallets(ctx context.Context, userIDs []string) (map[string]string, error) {
	out := map[string]string{}
	if s == nil || s.db == nil {
		return out, nil
	}
	ids := cleanStrings(userIDs)
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("wallet_address IS NOT NULL").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.WalletAddress != nil && *u.WalletAddress != "" {
			out[u.ID] = *u.WalletAddress
		}
	}
	return out, nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}
