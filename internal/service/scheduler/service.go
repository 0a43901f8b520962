// Package scheduler runs the end-of-day batch on a daily cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aimd54/gem-progression/internal/config"
	"github.com/aimd54/gem-progression/internal/service/endofday"
	"github.com/aimd54/gem-progression/pkg/logger"
)

// jobTimeout bounds one end-of-day run.
const jobTimeout = 30 * time.Minute

// Batch is the end-of-day batch run by the scheduler.
type Batch interface {
	RunForDate(ctx context.Context, date time.Time) (*endofday.Report, error)
}

// Service handles end-of-day scheduling.
type Service struct {
	config   *config.Config
	batch    Batch
	log      *logger.Logger
	cron     *cron.Cron
	location *time.Location
	now      func() time.Time
}

// NewService creates a new scheduler service.
func NewService(cfg *config.Config, batch Batch, log *logger.Logger) *Service {
	return &Service{
		config:   cfg,
		batch:    batch,
		log:      log.Component("scheduler"),
		location: time.UTC,
		now:      time.Now,
	}
}

// Start initializes and starts the cron scheduler.
func (s *Service) Start() error {
	if !s.config.Scheduler.Enabled {
		s.log.Info().Msg("Scheduler is disabled in configuration")
		return nil
	}

	location, err := s.config.Scheduler.GetLocation()
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.config.Scheduler.Timezone, err)
	}
	s.location = location

	cronExpr, err := s.buildCronExpression()
	if err != nil {
		return fmt.Errorf("failed to build cron expression: %w", err)
	}

	s.cron = cron.New(cron.WithLocation(location))
	_, err = s.cron.AddFunc(cronExpr, func() {
		s.runEndOfDay(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to register end-of-day job: %w", err)
	}

	s.cron.Start()

	nextRun := ""
	if entries := s.cron.Entries(); len(entries) > 0 {
		nextRun = entries[0].Next.Format(time.RFC3339)
	}

	s.log.Info().
		Str("schedule", cronExpr).
		Str("timezone", location.String()).
		Str("time", s.config.Scheduler.EndOfDayTime).
		Str("next_run", nextRun).
		Msg("Scheduler started successfully")

	return nil
}

// Stop gracefully shuts down the scheduler, waiting for a running job.
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.log.Info().Msg("Scheduler stopped")
	}
}

// buildCronExpression generates a daily cron expression from the configured HH:MM.
func (s *Service) buildCronExpression() (string, error) {
	hour, minute, err := s.config.Scheduler.ClockTime()
	if err != nil {
		return "", err
	}
	// Format: "minute hour day month weekday"
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// runEndOfDay closes the calendar day the job fires in, in the scheduler's timezone.
func (s *Service) runEndOfDay(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	date := s.now().In(s.location)
	s.log.Info().Str("day", date.Format("2006-01-02")).Msg("Running end-of-day job")

	report, err := s.batch.RunForDate(ctx, date)
	if err != nil {
		s.log.Error().Err(err).Msg("End-of-day job failed")
		return
	}

	if report.Failed > 0 {
		s.log.Warn().
			Int("failed", report.Failed).
			Int("closed", report.Closed).
			Msg("End-of-day job finished with failures")
		return
	}

	s.log.Info().
		Int("closed", report.Closed).
		Int("already_closed", report.AlreadyClosed).
		Msg("End-of-day job completed successfully")
}
