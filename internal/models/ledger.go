package models

import (
	"time"
)

// DayLayout is the format of day keys stored in the ledger.
const DayLayout = "2006-01-02"

// DayKey returns the calendar day of t, in t's location, as a ledger key.
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}

// PointSource tags where a point delta came from.
type PointSource string

// PointSource constants.
const (
	PointSourceTask     PointSource = "task"
	PointSourcePomodoro PointSource = "pomodoro"
	PointSourceEndOfDay PointSource = "end_of_day"
	PointSourceManual   PointSource = "manual"
)

// GrantSource tags why an ownership record was minted.
type GrantSource string

// GrantSource constants.
const (
	GrantSourceActivity GrantSource = "activity"
	GrantSourceEndOfDay GrantSource = "end_of_day"
	GrantSourceManual   GrantSource = "manual"
)

// Valid reports whether g is a known grant source.
func (g GrantSource) Valid() bool {
	switch g {
	case GrantSourceActivity, GrantSourceEndOfDay, GrantSourceManual:
		return true
	}
	return false
}

// UserPoints is the aggregate point ledger of a user.
type UserPoints struct {
	UserID      string    `gorm:"primaryKey;size:64" json:"user_id"`
	TotalPoints int64     `gorm:"not null" json:"total_points"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for UserPoints model.
func (UserPoints) TableName() string {
	return "user_points"
}

// PointEvent is an append-only record of one point delta.
type PointEvent struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	UserID    string      `gorm:"not null;size:64;index:idx_point_events_user_day" json:"user_id"`
	Day       string      `gorm:"not null;size:10;index:idx_point_events_user_day" json:"day"`
	Source    PointSource `gorm:"not null;size:20" json:"source"`
	RefID     *uint       `json:"ref_id,omitempty"` // task or session id
	Points    int         `gorm:"not null" json:"points"`
	CreatedAt time.Time   `json:"created_at"`
}

// TableName specifies the table name for PointEvent model.
func (PointEvent) TableName() string {
	return "point_events"
}

// ProgressCounter tracks shard progress of one user toward one reward kind.
type ProgressCounter struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	UserID           string           `gorm:"not null;size:64;uniqueIndex:idx_progress_user_reward" json:"user_id"`
	RewardID         uint             `gorm:"not null;uniqueIndex:idx_progress_user_reward" json:"reward_id"`
	Reward           RewardDefinition `gorm:"foreignKey:RewardID" json:"reward"`
	CurrentShards    int              `gorm:"not null" json:"current_shards"`
	TargetShards     int              `gorm:"not null" json:"target_shards"`
	TotalContributed int64            `gorm:"not null" json:"total_contributed"`
	GrantCount       int              `gorm:"not null" json:"grant_count"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// TableName specifies the table name for ProgressCounter model.
func (ProgressCounter) TableName() string {
	return "progress_counters"
}

// AffordableUnits is how many grants the current shard balance covers.
func (p *ProgressCounter) AffordableUnits() int {
	if p.TargetShards <= 0 || p.CurrentShards < 0 {
		return 0
	}
	return p.CurrentShards / p.TargetShards
}

// OwnershipRecord is one owned unit of a reward. Records are never merged.
type OwnershipRecord struct {
	ID             string           `gorm:"primaryKey;size:36" json:"id"`
	UserID         string           `gorm:"not null;size:64;uniqueIndex:idx_ownership_milestone" json:"user_id"`
	RewardID       uint             `gorm:"not null;uniqueIndex:idx_ownership_milestone" json:"reward_id"`
	Reward         RewardDefinition `gorm:"foreignKey:RewardID" json:"reward"`
	MilestoneIndex *int             `gorm:"uniqueIndex:idx_ownership_milestone" json:"milestone_index,omitempty"`
	Source         GrantSource      `gorm:"not null;size:20" json:"source"`
	EarnedAt       time.Time        `gorm:"not null" json:"earned_at"`
}

// TableName specifies the table name for OwnershipRecord model.
func (OwnershipRecord) TableName() string {
	return "ownership_records"
}

// DayClosure marks that the end-of-day bonus of a user was applied for a day.
type DayClosure struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"not null;size:64;uniqueIndex:idx_day_closure" json:"user_id"`
	Day         string    `gorm:"not null;size:10;uniqueIndex:idx_day_closure" json:"day"`
	BonusPoints int       `gorm:"not null" json:"bonus_points"`
	ClosedAt    time.Time `gorm:"not null" json:"closed_at"`
}

// TableName specifies the table name for DayClosure model.
func (DayClosure) TableName() string {
	return "day_closures"
}

// Claimable is one unlocked, unclaimed milestone of a reward kind.
type Claimable struct {
	RewardSlug     Slug `json:"reward_slug"`
	MilestoneIndex int  `json:"milestone_index"`
}

// OwnedQuantity is the number of owned instances of one reward kind.
type OwnedQuantity struct {
	Reward   RewardDefinition `json:"reward"`
	Quantity int              `json:"quantity"`
}
