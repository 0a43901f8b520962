// Package endofday runs the end-of-day bonus across every user active on a day.
package endofday

import (
	"context"
	"fmt"
	"time"

	prommetrics "github.com/aimd54/gem-progression/internal/metrics"
	"github.com/aimd54/gem-progression/internal/models"
	"github.com/aimd54/gem-progression/internal/repository"
	"github.com/aimd54/gem-progression/internal/service/engine"
	"github.com/aimd54/gem-progression/pkg/logger"
)

// Per-user outcomes.
const (
	OutcomeClosed        = "closed"
	OutcomeAlreadyClosed = "already_closed"
	OutcomeFailed        = "failed"
)

// ActivityIndex lists users with activity on a day.
type ActivityIndex interface {
	UsersActiveOn(ctx context.Context, day string) ([]string, error)
}

// Engine is the end-of-day operation of the reward engine.
type Engine interface {
	OnEndOfDay(ctx context.Context, userID string, date time.Time) (*engine.IngestResult, error)
}

// UserOutcome is the result of closing the day for one user.
type UserOutcome struct {
	UserID      string `json:"user_id"`
	Outcome     string `json:"outcome"`
	BonusPoints int    `json:"bonus_points"`
	Awards      int    `json:"awards"`
	Error       string `json:"error,omitempty"`
}

// Report summarizes one batch run.
type Report struct {
	Day           string        `json:"day"`
	Users         []UserOutcome `json:"users"`
	Closed        int           `json:"closed"`
	AlreadyClosed int           `json:"already_closed"`
	Failed        int           `json:"failed"`
}

// Service closes days in batch.
type Service struct {
	index  ActivityIndex
	engine Engine
	log    *logger.Logger
}

// NewService creates a new end-of-day batch service.
func NewService(ledgerRepo *repository.LedgerRepository, rewardEngine *engine.Service, log *logger.Logger) *Service {
	return NewServiceWithInterfaces(ledgerRepo, rewardEngine, log)
}

// NewServiceWithInterfaces creates a new end-of-day batch service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(index ActivityIndex, e Engine, log *logger.Logger) *Service {
	return &Service{
		index:  index,
		engine: e,
		log:    log.Component("endofday"),
	}
}

// RunForDate closes the calendar day of date, in date's location, for every
// user with task or pomodoro activity that day. Per-user failures are
// reported and do not stop the batch.
func (s *Service) RunForDate(ctx context.Context, date time.Time) (*Report, error) {
	start := time.Now()
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	day := models.DayKey(startOfDay)

	s.log.Info().Str("day", day).Msg("Starting end-of-day batch")

	users, err := s.index.UsersActiveOn(ctx, day)
	if err != nil {
		prommetrics.RecordEndOfDayRun("error", time.Since(start))
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}

	report := &Report{Day: day, Users: make([]UserOutcome, 0, len(users))}

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			prommetrics.RecordEndOfDayRun("cancelled", time.Since(start))
			return report, fmt.Errorf("end-of-day batch interrupted: %w", err)
		}

		outcome := s.closeUser(ctx, userID, startOfDay)
		prommetrics.RecordEndOfDayUser(outcome.Outcome)

		switch outcome.Outcome {
		case OutcomeClosed:
			report.Closed++
		case OutcomeAlreadyClosed:
			report.AlreadyClosed++
		case OutcomeFailed:
			report.Failed++
		}
		report.Users = append(report.Users, outcome)
	}

	status := "success"
	if report.Failed > 0 {
		status = "partial"
	}
	prommetrics.RecordEndOfDayRun(status, time.Since(start))

	s.log.Info().
		Str("day", day).
		Int("users", len(users)).
		Int("closed", report.Closed).
		Int("already_closed", report.AlreadyClosed).
		Int("failed", report.Failed).
		Dur("duration", time.Since(start)).
		Msg("End-of-day batch completed")

	return report, nil
}

func (s *Service) closeUser(ctx context.Context, userID string, day time.Time) UserOutcome {
	res, err := s.engine.OnEndOfDay(ctx, userID, day)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("Failed to close day for user")
		return UserOutcome{UserID: userID, Outcome: OutcomeFailed, Error: err.Error()}
	}
	if res.AlreadyClosed {
		return UserOutcome{UserID: userID, Outcome: OutcomeAlreadyClosed}
	}
	return UserOutcome{
		UserID:      userID,
		Outcome:     OutcomeClosed,
		BonusPoints: res.Points,
		Awards:      len(res.Awards),
	}
}
