// Package engine orchestrates catalog bootstrap, activity ingestion and the
// claim protocol of the gem progression engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimd54/gem-progression/internal/config"
	prommetrics "github.com/aimd54/gem-progression/internal/metrics"
	"github.com/aimd54/gem-progression/internal/models"
	"github.com/aimd54/gem-progression/internal/repository"
	"github.com/aimd54/gem-progression/internal/service/catalog"
	"github.com/aimd54/gem-progression/internal/service/progression"
	"github.com/aimd54/gem-progression/pkg/logger"
)

// Claim failure reasons.
const (
	ReasonInvalidReward  = "invalid_reward"
	ReasonNothingToClaim = "nothing_to_claim"
)

// CatalogService interface for catalog operations.
type CatalogService interface {
	EnsureCatalog(ctx context.Context) error
	Resolve(ctx context.Context, raw string) (*models.RewardDefinition, error)
}

// LedgerRepository interface for ledger operations.
type LedgerRepository interface {
	ApplyContribution(ctx context.Context, c repository.Contribution) (*repository.ContributionOutcome, error)
	ClaimNext(ctx context.Context, userID string, rewardID uint) (*repository.ClaimOutcome, error)
	CloseDay(ctx context.Context, req repository.DayCloseRequest) (*repository.DayCloseOutcome, error)
	GrantManual(ctx context.Context, userID string, def *models.RewardDefinition, source models.GrantSource, day string) (*models.OwnershipRecord, error)
	Counters(ctx context.Context, userID string) ([]models.ProgressCounter, error)
	OwnedQuantities(ctx context.Context, userID string) ([]models.OwnedQuantity, error)
	UserPoints(ctx context.Context, userID string) (int64, error)
}

// ActivityRepository interface for the upstream task/session lookup.
type ActivityRepository interface {
	GetTask(ctx context.Context, userID string, taskID uint) (*models.Task, error)
	GetSession(ctx context.Context, userID string, sessionID uint) (*models.PomodoroSession, error)
}

// Options configures the engine.
type Options struct {
	Weights     progression.Weights
	GeneralSlug models.Slug
	Location    *time.Location // calendar used for day keys; UTC when nil
}

// OptionsFromConfig builds engine options from configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	slug, err := models.ParseSlug(cfg.Rewards.GeneralSlug)
	if err != nil {
		return Options{}, fmt.Errorf("invalid general slug: %w", err)
	}
	loc, err := cfg.Scheduler.GetLocation()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Weights:     progression.WeightsFromConfig(&cfg.Rewards),
		GeneralSlug: slug,
		Location:    loc,
	}, nil
}

// ShardState is the shard progress of one reward kind after an operation.
type ShardState struct {
	RewardSlug       models.Slug `json:"reward_slug"`
	CurrentShards    int         `json:"current_shards"`
	TargetShards     int         `json:"target_shards"`
	TotalContributed int64       `json:"total_contributed"`
	GrantCount       int         `json:"grant_count"`
}

// IngestResult is returned by the activity ingestion operations. Awards lists
// milestones that became claimable; nothing is granted by ingestion.
type IngestResult struct {
	Awards        []models.Claimable `json:"awards"`
	Points        int                `json:"points"`
	Shards        *ShardState        `json:"shards,omitempty"`
	AlreadyClosed bool               `json:"already_closed,omitempty"`
}

// ClaimResult is the structured outcome of a claim.
type ClaimResult struct {
	OK          bool        `json:"ok"`
	OwnershipID string      `json:"ownership_id,omitempty"`
	Shards      *ShardState `json:"shards,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Message     string      `json:"message,omitempty"`
}

// Collection is the owned quantity of each reward kind of a user.
type Collection struct {
	TotalPoints int64                  `json:"total_points"`
	Items       []models.OwnedQuantity `json:"items"`
}

// Service is the reward engine.
type Service struct {
	catalog     CatalogService
	ledger      LedgerRepository
	activity    ActivityRepository
	weights     progression.Weights
	generalSlug models.Slug
	location    *time.Location
	now         func() time.Time
	log         *logger.Logger
}

// NewService creates a new reward engine.
func NewService(
	catalogService *catalog.Service,
	ledgerRepo *repository.LedgerRepository,
	activityRepo *repository.ActivityRepository,
	opts Options,
	log *logger.Logger,
) (*Service, error) {
	return NewServiceWithInterfaces(catalogService, ledgerRepo, activityRepo, opts, log)
}

// NewServiceWithInterfaces creates a new reward engine with interface dependencies (useful for testing).
func NewServiceWithInterfaces(
	catalogService CatalogService,
	ledgerRepo LedgerRepository,
	activityRepo ActivityRepository,
	opts Options,
	log *logger.Logger,
) (*Service, error) {
	if err := opts.Weights.Validate(); err != nil {
		return nil, err
	}
	if !opts.GeneralSlug.Valid() {
		return nil, fmt.Errorf("%w: general slug %q", models.ErrInvalidReward, opts.GeneralSlug)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Service{
		catalog:     catalogService,
		ledger:      ledgerRepo,
		activity:    activityRepo,
		weights:     opts.Weights,
		generalSlug: opts.GeneralSlug,
		location:    loc,
		now:         time.Now,
		log:         log.Component("engine"),
	}, nil
}

// OnTaskCompleted credits a completed task to the general bucket.
func (s *Service) OnTaskCompleted(ctx context.Context, userID string, taskID uint) (*IngestResult, error) {
	if err := s.prepare(ctx, userID); err != nil {
		return nil, err
	}

	task, err := s.activity.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %d: %w", taskID, err)
	}

	points := s.weights.PointsForPriority(task.Priority)
	return s.contribute(ctx, userID, models.PointSourceTask, &task.ID, points)
}

// OnPomodoroCompleted credits a finished focus session to the general bucket.
func (s *Service) OnPomodoroCompleted(ctx context.Context, userID string, sessionID uint) (*IngestResult, error) {
	if err := s.prepare(ctx, userID); err != nil {
		return nil, err
	}

	session, err := s.activity.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pomodoro session %d: %w", sessionID, err)
	}

	return s.contribute(ctx, userID, models.PointSourcePomodoro, &session.ID, s.weights.Pomodoro)
}

// OnEndOfDay applies the end-of-day bonus for the calendar day of date, in
// date's own location. A day is closed at most once per user; later calls
// return an empty result flagged AlreadyClosed.
func (s *Service) OnEndOfDay(ctx context.Context, userID string, date time.Time) (*IngestResult, error) {
	if err := s.prepare(ctx, userID); err != nil {
		return nil, err
	}

	general, err := s.catalog.Resolve(ctx, string(s.generalSlug))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve general reward: %w", err)
	}

	day := models.DayKey(date)
	outcome, err := s.ledger.CloseDay(ctx, repository.DayCloseRequest{
		UserID:       userID,
		Day:          day,
		RewardID:     general.ID,
		TargetShards: s.weights.DefaultTargetShards,
		Bonus:        s.weights.EndOfDayBonus,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to close day %s: %w", day, err)
	}

	if outcome.AlreadyClosed {
		s.log.Debug().Str("user_id", userID).Str("day", day).Msg("Day already closed")
		return &IngestResult{Awards: []models.Claimable{}, AlreadyClosed: true}, nil
	}

	result := &IngestResult{Awards: []models.Claimable{}, Points: outcome.BonusPoints}
	if outcome.Contribution != nil {
		prommetrics.RecordPointsAwarded(string(models.PointSourceEndOfDay), outcome.BonusPoints)
		result.Awards = awards(general.Slug, &outcome.Contribution.Before, &outcome.Contribution.After)
		result.Shards = shardState(general.Slug, &outcome.Contribution.After)
	}

	s.log.Info().
		Str("user_id", userID).
		Str("day", day).
		Int("day_points", outcome.DayPoints).
		Int("bonus", outcome.BonusPoints).
		Int("awards", len(result.Awards)).
		Msg("Day closed")

	return result, nil
}

// GetClaimables recomputes the claimable milestones of every reward kind the
// user has progress in, from committed counter state.
func (s *Service) GetClaimables(ctx context.Context, userID string) ([]models.Claimable, error) {
	counters, err := s.ledger.Counters(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	claimables := []models.Claimable{}
	for i := range counters {
		for _, idx := range progression.ClaimableIndices(&counters[i]) {
			claimables = append(claimables, models.Claimable{
				RewardSlug:     counters[i].Reward.Slug,
				MilestoneIndex: idx,
			})
		}
	}

	prommetrics.ObserveClaimables(len(claimables))
	return claimables, nil
}

// Claim converts one claimable milestone of a reward kind into an owned
// reward. Unknown slugs and empty balances are reported in the result, not
// as errors; only infrastructure failures return an error.
func (s *Service) Claim(ctx context.Context, userID, rawSlug string) (*ClaimResult, error) {
	start := time.Now()

	if err := s.prepare(ctx, userID); err != nil {
		return nil, err
	}

	def, err := s.catalog.Resolve(ctx, rawSlug)
	if errors.Is(err, models.ErrInvalidReward) || errors.Is(err, models.ErrNotFound) {
		prommetrics.RecordClaim("unknown", prommetrics.ClaimInvalidReward, time.Since(start))
		return &ClaimResult{
			Reason:  ReasonInvalidReward,
			Message: fmt.Sprintf("unknown reward %q", rawSlug),
		}, nil
	}
	if err != nil {
		prommetrics.RecordClaim("unknown", prommetrics.ClaimError, time.Since(start))
		return nil, fmt.Errorf("failed to resolve reward: %w", err)
	}

	outcome, err := s.ledger.ClaimNext(ctx, userID, def.ID)
	if errors.Is(err, models.ErrNothingToClaim) {
		prommetrics.RecordClaim(string(def.Slug), prommetrics.ClaimNothingToClaim, time.Since(start))
		return &ClaimResult{
			Reason:  ReasonNothingToClaim,
			Message: fmt.Sprintf("not enough shards to claim a %s yet", def.Name),
		}, nil
	}
	if err != nil {
		prommetrics.RecordClaim(string(def.Slug), prommetrics.ClaimError, time.Since(start))
		s.log.Error().Err(err).Str("user_id", userID).Str("reward", string(def.Slug)).Msg("Claim failed")
		return nil, fmt.Errorf("failed to claim %s: %w", def.Slug, err)
	}

	prommetrics.RecordClaim(string(def.Slug), prommetrics.ClaimGranted, time.Since(start))
	s.log.Info().
		Str("user_id", userID).
		Str("reward", string(def.Slug)).
		Str("ownership_id", outcome.Record.ID).
		Int("milestone", *outcome.Record.MilestoneIndex).
		Int("shards_left", outcome.Counter.CurrentShards).
		Msg("Reward claimed")

	return &ClaimResult{
		OK:          true,
		OwnershipID: outcome.Record.ID,
		Shards:      shardState(def.Slug, &outcome.Counter),
	}, nil
}

// GetCollection returns the user's owned quantity per reward kind, ordered by
// rarity then name, along with the point total.
func (s *Service) GetCollection(ctx context.Context, userID string) (*Collection, error) {
	items, err := s.ledger.OwnedQuantities(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}
	points, err := s.ledger.UserPoints(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load points: %w", err)
	}
	return &Collection{TotalPoints: points, Items: items}, nil
}

// GrantManual grants one reward outside the claim protocol, for admin and
// test grants. It credits the definition's point weight and leaves shards alone.
func (s *Service) GrantManual(ctx context.Context, userID, rawSlug string, source models.GrantSource) (*models.OwnershipRecord, error) {
	if !source.Valid() || source == models.GrantSourceActivity {
		return nil, fmt.Errorf("grant source %q cannot be used for manual grants", source)
	}
	if err := s.prepare(ctx, userID); err != nil {
		return nil, err
	}

	def, err := s.catalog.Resolve(ctx, rawSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve reward: %w", err)
	}

	record, err := s.ledger.GrantManual(ctx, userID, def, source, s.today())
	if err != nil {
		return nil, fmt.Errorf("failed to grant %s: %w", def.Slug, err)
	}

	prommetrics.RecordManualGrant(string(def.Slug), string(source))
	prommetrics.RecordPointsAwarded(string(models.PointSourceManual), def.PointWeight)
	s.log.Info().
		Str("user_id", userID).
		Str("reward", string(def.Slug)).
		Str("source", string(source)).
		Msg("Reward granted manually")

	return record, nil
}

func (s *Service) prepare(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", models.ErrNotFound)
	}
	return s.catalog.EnsureCatalog(ctx)
}

func (s *Service) contribute(ctx context.Context, userID string, source models.PointSource, refID *uint, points int) (*IngestResult, error) {
	general, err := s.catalog.Resolve(ctx, string(s.generalSlug))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve general reward: %w", err)
	}

	outcome, err := s.ledger.ApplyContribution(ctx, repository.Contribution{
		UserID:       userID,
		RewardID:     general.ID,
		TargetShards: s.weights.DefaultTargetShards,
		Points:       points,
		Source:       source,
		RefID:        refID,
		Day:          s.today(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s points: %w", source, err)
	}

	prommetrics.RecordPointsAwarded(string(source), points)

	result := &IngestResult{
		Awards: awards(general.Slug, &outcome.Before, &outcome.After),
		Points: points,
		Shards: shardState(general.Slug, &outcome.After),
	}

	s.log.Debug().
		Str("user_id", userID).
		Str("source", string(source)).
		Int("points", points).
		Int("shards", outcome.After.CurrentShards).
		Int("awards", len(result.Awards)).
		Msg("Activity credited")

	return result, nil
}

func (s *Service) today() string {
	return models.DayKey(s.now().In(s.location))
}

func awards(slug models.Slug, before, after *models.ProgressCounter) []models.Claimable {
	out := []models.Claimable{}
	for _, idx := range progression.NewlyClaimable(before, after) {
		out = append(out, models.Claimable{RewardSlug: slug, MilestoneIndex: idx})
	}
	return out
}

func shardState(slug models.Slug, c *models.ProgressCounter) *ShardState {
	return &ShardState{
		RewardSlug:       slug,
		CurrentShards:    c.CurrentShards,
		TargetShards:     c.TargetShards,
		TotalContributed: c.TotalContributed,
		GrantCount:       c.GrantCount,
	}
}
