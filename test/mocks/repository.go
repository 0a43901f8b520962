package mocks

import (
	"context"

	"github.com/aimd54/gem-progression/internal/models"
)

// MockActivityRepository is a simple mock for the upstream task/session lookup
type MockActivityRepository struct {
	GetTaskFunc    func(ctx context.Context, userID string, taskID uint) (*models.Task, error)
	GetSessionFunc func(ctx context.Context, userID string, sessionID uint) (*models.PomodoroSession, error)
}

func (m *MockActivityRepository) GetTask(ctx context.Context, userID string, taskID uint) (*models.Task, error) {
	if m.GetTaskFunc != nil {
		return m.GetTaskFunc(ctx, userID, taskID)
	}
	return nil, models.ErrNotFound
}

func (m *MockActivityRepository) GetSession(ctx context.Context, userID string, sessionID uint) (*models.PomodoroSession, error) {
	if m.GetSessionFunc != nil {
		return m.GetSessionFunc(ctx, userID, sessionID)
	}
	return nil, models.ErrNotFound
}
