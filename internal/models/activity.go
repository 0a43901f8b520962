package models

import (
	"strings"
	"time"
)

// Priority is the upstream task priority.
type Priority string

// Priority constants.
const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Normalize upper-cases the priority; unknown values are returned as-is.
func (p Priority) Normalize() Priority {
	return Priority(strings.ToUpper(strings.TrimSpace(string(p))))
}

// Task is the upstream task row. The engine only reads it.
type Task struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      string     `gorm:"not null;size:64;index" json:"user_id"`
	Title       string     `gorm:"type:text" json:"title"`
	Priority    *Priority  `gorm:"size:10" json:"priority"`
	CompletedAt *time.Time `json:"completed_at"`
}

// TableName specifies the table name for Task model.
func (Task) TableName() string {
	return "tasks"
}

// PomodoroSession is the upstream focus session row. The engine only reads it.
type PomodoroSession struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          string     `gorm:"not null;size:64;index" json:"user_id"`
	DurationMinutes int        `json:"duration_minutes"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// TableName specifies the table name for PomodoroSession model.
func (PomodoroSession) TableName() string {
	return "pomodoro_sessions"
}
