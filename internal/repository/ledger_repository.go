package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aimd54/gem-progression/internal/models"
)

// Contribution is one point delta routed to a reward kind's counter.
type Contribution struct {
	UserID       string
	RewardID     uint
	TargetShards int // used only when the counter is created
	Points       int
	Source       models.PointSource
	RefID        *uint
	Day          string
}

// ContributionOutcome holds the counter state around an applied contribution.
type ContributionOutcome struct {
	Before models.ProgressCounter
	After  models.ProgressCounter
}

// ClaimOutcome is the committed result of a successful claim.
type ClaimOutcome struct {
	Record  models.OwnershipRecord
	Counter models.ProgressCounter
}

// DayCloseRequest describes an end-of-day bonus application.
type DayCloseRequest struct {
	UserID       string
	Day          string
	RewardID     uint
	TargetShards int
	Bonus        func(dayPoints int) int
}

// DayCloseOutcome reports what an end-of-day close did.
type DayCloseOutcome struct {
	AlreadyClosed bool
	DayPoints     int
	BonusPoints   int
	Contribution  *ContributionOutcome
}

// LedgerRepository handles points, progress counters, ownership and day closures.
type LedgerRepository struct {
	db  *DB
	now func() time.Time
}

// NewLedgerRepository creates a new ledger repository.
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db, now: time.Now}
}

// ApplyContribution records a point event, adds the points to the user's total
// and adds them as shards to the counter, creating the counter when absent.
func (r *LedgerRepository) ApplyContribution(ctx context.Context, c Contribution) (*ContributionOutcome, error) {
	if c.Points <= 0 {
		return nil, fmt.Errorf("contribution points must be positive, got %d", c.Points)
	}

	var outcome *ContributionOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		outcome, err = r.applyContribution(tx, c)
		return err
	})
	if err != nil {
		return nil, storeError("apply contribution", err)
	}
	return outcome, nil
}

func (r *LedgerRepository) applyContribution(tx *gorm.DB, c Contribution) (*ContributionOutcome, error) {
	now := r.now()

	event := models.PointEvent{
		UserID:    c.UserID,
		Day:       c.Day,
		Source:    c.Source,
		RefID:     c.RefID,
		Points:    c.Points,
		CreatedAt: now,
	}
	if err := tx.Create(&event).Error; err != nil {
		return nil, fmt.Errorf("failed to append point event: %w", err)
	}

	if err := r.addUserPoints(tx, c.UserID, c.Points, now); err != nil {
		return nil, err
	}

	seed := models.ProgressCounter{
		UserID:       c.UserID,
		RewardID:     c.RewardID,
		TargetShards: c.TargetShards,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "reward_id"}},
		DoNothing: true,
	}).Omit(clause.Associations).Create(&seed).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create progress counter: %w", err)
	}

	counter, err := lockCounter(tx, c.UserID, c.RewardID)
	if err != nil {
		return nil, err
	}
	before := *counter

	err = tx.Model(&models.ProgressCounter{}).
		Where("id = ?", counter.ID).
		Updates(map[string]interface{}{
			"current_shards":    gorm.Expr("current_shards + ?", c.Points),
			"total_contributed": gorm.Expr("total_contributed + ?", c.Points),
			"updated_at":        now,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to add shards: %w", err)
	}

	counter.CurrentShards += c.Points
	counter.TotalContributed += int64(c.Points)
	counter.UpdatedAt = now

	return &ContributionOutcome{Before: before, After: *counter}, nil
}

func (r *LedgerRepository) addUserPoints(tx *gorm.DB, userID string, points int, now time.Time) error {
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_points": gorm.Expr("user_points.total_points + ?", points),
			"updated_at":   now,
		}),
	}).Create(&models.UserPoints{
		UserID:      userID,
		TotalPoints: int64(points),
		UpdatedAt:   now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update user points: %w", err)
	}
	return nil
}

// lockCounter loads a counter row with SELECT ... FOR UPDATE.
func lockCounter(tx *gorm.DB, userID string, rewardID uint) (*models.ProgressCounter, error) {
	var counter models.ProgressCounter
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND reward_id = ?", userID, rewardID).
		First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock progress counter: %w", err)
	}
	return &counter, nil
}

// ClaimNext converts one target's worth of shards into an ownership record
// indexed by the previous grant count. It returns models.ErrNothingToClaim when
// the counter is missing or short of shards.
func (r *LedgerRepository) ClaimNext(ctx context.Context, userID string, rewardID uint) (*ClaimOutcome, error) {
	var outcome *ClaimOutcome

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter, err := lockCounter(tx, userID, rewardID)
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNothingToClaim
		}
		if err != nil {
			return err
		}

		if counter.AffordableUnits() < 1 {
			return models.ErrNothingToClaim
		}

		now := r.now()
		result := tx.Model(&models.ProgressCounter{}).
			Where("id = ? AND grant_count = ? AND current_shards >= target_shards", counter.ID, counter.GrantCount).
			Updates(map[string]interface{}{
				"current_shards": gorm.Expr("current_shards - target_shards"),
				"grant_count":    gorm.Expr("grant_count + 1"),
				"updated_at":     now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to debit shards: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return models.ErrNothingToClaim
		}

		milestone := counter.GrantCount
		record := models.OwnershipRecord{
			ID:             uuid.NewString(),
			UserID:         userID,
			RewardID:       rewardID,
			MilestoneIndex: &milestone,
			Source:         models.GrantSourceActivity,
			EarnedAt:       now,
		}
		if err := tx.Omit(clause.Associations).Create(&record).Error; err != nil {
			return fmt.Errorf("failed to create ownership record: %w", err)
		}

		counter.CurrentShards -= counter.TargetShards
		counter.GrantCount++
		counter.UpdatedAt = now
		outcome = &ClaimOutcome{Record: record, Counter: *counter}
		return nil
	})
	if err != nil {
		return nil, storeError("claim reward", err)
	}
	return outcome, nil
}

// CloseDay applies the end-of-day bonus once per (user, day). The closure
// marker and the bonus contribution commit together.
func (r *LedgerRepository) CloseDay(ctx context.Context, req DayCloseRequest) (*DayCloseOutcome, error) {
	outcome := &DayCloseOutcome{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dayPoints, err := activityPoints(tx, req.UserID, req.Day)
		if err != nil {
			return err
		}
		bonus := req.Bonus(dayPoints)

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
			DoNothing: true,
		}).Create(&models.DayClosure{
			UserID:      req.UserID,
			Day:         req.Day,
			BonusPoints: bonus,
			ClosedAt:    r.now(),
		})
		if result.Error != nil {
			return fmt.Errorf("failed to create day closure: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			outcome.AlreadyClosed = true
			return nil
		}

		outcome.DayPoints = dayPoints
		outcome.BonusPoints = bonus
		if bonus <= 0 {
			return nil
		}

		contribution, err := r.applyContribution(tx, Contribution{
			UserID:       req.UserID,
			RewardID:     req.RewardID,
			TargetShards: req.TargetShards,
			Points:       bonus,
			Source:       models.PointSourceEndOfDay,
			Day:          req.Day,
		})
		if err != nil {
			return err
		}
		outcome.Contribution = contribution
		return nil
	})
	if err != nil {
		return nil, storeError("close day", err)
	}
	return outcome, nil
}

func activityPoints(tx *gorm.DB, userID, day string) (int, error) {
	var sum int64
	err := tx.Model(&models.PointEvent{}).
		Select("COALESCE(SUM(points), 0)").
		Where("user_id = ? AND day = ? AND source IN ?", userID, day, activitySources()).
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum day points: %w", err)
	}
	return int(sum), nil
}

func activitySources() []string {
	return []string{string(models.PointSourceTask), string(models.PointSourcePomodoro)}
}

// GrantManual mints an ownership record without a milestone and credits the
// definition's point weight. Shards are not touched.
func (r *LedgerRepository) GrantManual(ctx context.Context, userID string, def *models.RewardDefinition, source models.GrantSource, day string) (*models.OwnershipRecord, error) {
	now := r.now()
	record := models.OwnershipRecord{
		ID:       uuid.NewString(),
		UserID:   userID,
		RewardID: def.ID,
		Source:   source,
		EarnedAt: now,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&record).Error; err != nil {
			return fmt.Errorf("failed to create ownership record: %w", err)
		}
		if def.PointWeight <= 0 {
			return nil
		}
		event := models.PointEvent{
			UserID:    userID,
			Day:       day,
			Source:    models.PointSourceManual,
			Points:    def.PointWeight,
			CreatedAt: now,
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("failed to append point event: %w", err)
		}
		return r.addUserPoints(tx, userID, def.PointWeight, now)
	})
	if err != nil {
		return nil, storeError("grant reward", err)
	}

	record.Reward = *def
	return &record, nil
}

// Counters returns every progress counter of a user with its definition loaded.
func (r *LedgerRepository) Counters(ctx context.Context, userID string) ([]models.ProgressCounter, error) {
	var counters []models.ProgressCounter
	err := r.db.WithContext(ctx).
		Preload("Reward").
		Where("user_id = ?", userID).
		Order("reward_id ASC").
		Find(&counters).Error
	if err != nil {
		return nil, storeError("list progress counters", err)
	}
	return counters, nil
}

// UserPoints returns the user's total points, zero when nothing was recorded.
func (r *LedgerRepository) UserPoints(ctx context.Context, userID string) (int64, error) {
	var points models.UserPoints
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&points).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, storeError("get user points", err)
	}
	return points.TotalPoints, nil
}

// OwnedQuantities counts ownership records per reward kind, ordered by rarity then name.
func (r *LedgerRepository) OwnedQuantities(ctx context.Context, userID string) ([]models.OwnedQuantity, error) {
	type ownedRow struct {
		RewardID uint
		Quantity int
	}

	db := r.db.WithContext(ctx)

	var rows []ownedRow
	err := db.Model(&models.OwnershipRecord{}).
		Select("reward_id, COUNT(*) AS quantity").
		Where("user_id = ?", userID).
		Group("reward_id").
		Scan(&rows).Error
	if err != nil {
		return nil, storeError("count ownership records", err)
	}
	if len(rows) == 0 {
		return []models.OwnedQuantity{}, nil
	}

	quantities := make(map[uint]int, len(rows))
	ids := make([]uint, 0, len(rows))
	for _, row := range rows {
		quantities[row.RewardID] = row.Quantity
		ids = append(ids, row.RewardID)
	}

	var defs []models.RewardDefinition
	err = db.Where("id IN ?", ids).
		Order("rarity_tier ASC").
		Order("name ASC").
		Find(&defs).Error
	if err != nil {
		return nil, storeError("load owned definitions", err)
	}

	owned := make([]models.OwnedQuantity, 0, len(defs))
	for _, def := range defs {
		owned = append(owned, models.OwnedQuantity{Reward: def, Quantity: quantities[def.ID]})
	}
	return owned, nil
}

// UsersActiveOn returns the users with task or pomodoro points on a day.
func (r *LedgerRepository) UsersActiveOn(ctx context.Context, day string) ([]string, error) {
	var userIDs []string
	err := r.db.WithContext(ctx).
		Model(&models.PointEvent{}).
		Where("day = ? AND source IN ?", day, activitySources()).
		Distinct().
		Order("user_id ASC").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, storeError("list active users", err)
	}
	return userIDs, nil
}
