package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/aimd54/gem-progression/internal/models"
)

// ActivityRepository reads upstream task and pomodoro rows.
type ActivityRepository struct {
	db *DB
}

// NewActivityRepository creates a new activity repository.
func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// GetTask loads a task owned by userID. A task of another user is reported as not found.
func (r *ActivityRepository) GetTask(ctx context.Context, userID string, taskID uint) (*models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", taskID, userID).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, storeError("get task", err)
	}
	return &task, nil
}

// GetSession loads a pomodoro session owned by userID.
func (r *ActivityRepository) GetSession(ctx context.Context, userID string, sessionID uint) (*models.PomodoroSession, error) {
	var session models.PomodoroSession
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", sessionID, userID).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, storeError("get pomodoro session", err)
	}
	return &session, nil
}
