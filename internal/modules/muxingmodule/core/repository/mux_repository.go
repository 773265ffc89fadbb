// Package repository provides the data access layer for mux session history
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mantonx/muxpipe/internal/database"
	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
)

// MuxRepository handles mux session data access
type MuxRepository struct {
	db *gorm.DB
}

// NewMuxRepository creates a new mux repository
func NewMuxRepository(db *gorm.DB) *MuxRepository {
	return &MuxRepository{db: db}
}

// Create creates a new mux session record
func (r *MuxRepository) Create(ctx context.Context, session *database.MuxSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return muxerrors.StorageError("create_session", err).WithMux(session.ID)
	}
	return nil
}

// GetByID retrieves a session by ID
func (r *MuxRepository) GetByID(ctx context.Context, id string) (*database.MuxSession, error) {
	var session database.MuxSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, muxerrors.StorageError("get_session", muxerrors.ErrNotFound).WithMux(id)
	}
	if err != nil {
		return nil, muxerrors.StorageError("get_session", err).WithMux(id)
	}
	return &session, nil
}

// UpdateFields updates specific fields of a session
func (r *MuxRepository) UpdateFields(ctx context.Context, id string, updates map[string]interface{}) error {
	err := r.db.WithContext(ctx).Model(&database.MuxSession{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return muxerrors.StorageError("update_session", err).WithMux(id)
	}
	return nil
}

// GetRecent retrieves the most recently started sessions
func (r *MuxRepository) GetRecent(ctx context.Context, limit int) ([]*database.MuxSession, error) {
	var sessions []*database.MuxSession
	err := r.db.WithContext(ctx).
		Order("start_time DESC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// GetActive retrieves sessions whose muxer is still running
func (r *MuxRepository) GetActive(ctx context.Context) ([]*database.MuxSession, error) {
	var sessions []*database.MuxSession
	err := r.db.WithContext(ctx).
		Where("status IN ?", database.ActiveStatuses).
		Order("start_time ASC").
		Find(&sessions).Error
	return sessions, err
}

// CleanupOld removes finished sessions older than the given age and returns
// how many were removed
func (r *MuxRepository) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := r.db.WithContext(ctx).
		Where("start_time < ? AND status IN ?", cutoff, []database.MuxStatus{database.MuxStatusCompleted, database.MuxStatusFailed}).
		Delete(&database.MuxSession{})
	return result.RowsAffected, result.Error
}

// Stats summarizes the session history
type Stats struct {
	TotalSessions     int64 `json:"total_sessions"`
	ActiveSessions    int64 `json:"active_sessions"`
	CompletedSessions int64 `json:"completed_sessions"`
	FailedSessions    int64 `json:"failed_sessions"`
	TotalBytesIn      int64 `json:"total_bytes_in"`
}

// GetStats retrieves session statistics
func (r *MuxRepository) GetStats(ctx context.Context) (*Stats, error) {
	var rows []struct {
		Status  database.MuxStatus
		Count   int64
		BytesIn int64
	}

	err := r.db.WithContext(ctx).Model(&database.MuxSession{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(bytes_in), 0) AS bytes_in").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, muxerrors.StorageError("session_stats", err)
	}

	stats := &Stats{}
	for _, row := range rows {
		stats.TotalSessions += row.Count
		stats.TotalBytesIn += row.BytesIn
		switch row.Status {
		case database.MuxStatusRunning:
			stats.ActiveSessions += row.Count
		case database.MuxStatusCompleted:
			stats.CompletedSessions += row.Count
		case database.MuxStatusFailed:
			stats.FailedSessions += row.Count
		}
	}
	return stats, nil
}
