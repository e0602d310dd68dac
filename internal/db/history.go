package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/stwalsh4118/cadence/internal/models"
	"gorm.io/gorm"
)

// DefaultHistoryRetention is how many rows are kept per session
const DefaultHistoryRetention = 500

// HistoryRepository handles database operations for playback history
type HistoryRepository struct {
	db *DB
	// retention caps rows per session; zero keeps everything
	retention int
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db, retention: DefaultHistoryRetention}
}

// Record inserts a history row and trims the session's oldest rows past the retention limit
func (r *HistoryRepository) Record(ctx context.Context, h *models.PlaybackHistory) error {
	if strings.TrimSpace(h.SessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}

	return r.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(h).Error; err != nil {
			return fmt.Errorf("failed to create history: %w", MapGormError(err))
		}
		if r.retention <= 0 {
			return nil
		}

		keep := tx.Model(&models.PlaybackHistory{}).
			Select("id").
			Where("session_id = ?", h.SessionID).
			Order("ended_at DESC").
			Limit(r.retention)
		err := tx.Where("session_id = ? AND id NOT IN (?)", h.SessionID, keep).
			Delete(&models.PlaybackHistory{}).Error
		if err != nil {
			return fmt.Errorf("failed to trim history: %w", MapGormError(err))
		}
		return nil
	})
}

// ListBySession returns a session's history, most recent first
func (r *HistoryRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.PlaybackHistory, error) {
	var rows []*models.PlaybackHistory
	query := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("ended_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list history: %w", MapGormError(err))
	}
	return rows, nil
}

// CountBySession returns the number of history rows for a session
func (r *HistoryRepository) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.PlaybackHistory{}).Where("session_id = ?", sessionID).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count history: %w", MapGormError(result.Error))
	}
	return count, nil
}

// DeleteBySession removes all history for a session
func (r *HistoryRepository) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	result := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.PlaybackHistory{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete history: %w", MapGormError(result.Error))
	}
	return result.RowsAffected, nil
}
