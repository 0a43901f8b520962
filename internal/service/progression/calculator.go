// Package progression provides the pure point, milestone and claimable calculations.
package progression

import (
	"fmt"

	"github.com/aimd54/gem-progression/internal/config"
	"github.com/aimd54/gem-progression/internal/models"
)

// fixedMilestones are the irregular leading terms of the milestone sequence.
var fixedMilestones = []int64{1, 2, 5, 10, 15, 20, 25, 30, 35, 40, 45, 50}

// milestoneStep is the gap between milestones after the fixed terms.
const milestoneStep = 10

// Weights holds the point weights and shard settings injected into the engine.
type Weights struct {
	Low                  int
	Medium               int
	High                 int
	Pomodoro             int
	DefaultTargetShards  int
	EndOfDayBonusPercent int
}

// DefaultWeights returns the stock weights: 1/2/3 by priority, 2 per pomodoro,
// 10 shards per grant and a 20% end-of-day bonus.
func DefaultWeights() Weights {
	return Weights{
		Low:                  1,
		Medium:               2,
		High:                 3,
		Pomodoro:             2,
		DefaultTargetShards:  10,
		EndOfDayBonusPercent: 20,
	}
}

// WeightsFromConfig builds Weights from the rewards configuration section.
func WeightsFromConfig(cfg *config.RewardsConfig) Weights {
	return Weights{
		Low:                  cfg.LowPriorityPoints,
		Medium:               cfg.MediumPriorityPoints,
		High:                 cfg.HighPriorityPoints,
		Pomodoro:             cfg.PomodoroPoints,
		DefaultTargetShards:  cfg.DefaultTargetShards,
		EndOfDayBonusPercent: cfg.EndOfDayBonusPercent,
	}
}

// Validate checks that every weight can produce a positive contribution.
func (w Weights) Validate() error {
	if w.Low < 1 || w.Medium < 1 || w.High < 1 || w.Pomodoro < 1 {
		return fmt.Errorf("point weights must be positive: %+v", w)
	}
	if w.DefaultTargetShards < 1 {
		return fmt.Errorf("default target shards must be positive, got %d", w.DefaultTargetShards)
	}
	if w.EndOfDayBonusPercent < 0 {
		return fmt.Errorf("end of day bonus percent must not be negative, got %d", w.EndOfDayBonusPercent)
	}
	return nil
}

// PointsForPriority maps a task priority to its point contribution.
// Absent or unrecognized priorities count as LOW.
func (w Weights) PointsForPriority(priority *models.Priority) int {
	if priority == nil {
		return w.Low
	}
	switch priority.Normalize() {
	case models.PriorityHigh:
		return w.High
	case models.PriorityMedium:
		return w.Medium
	default:
		return w.Low
	}
}

// EndOfDayBonus returns the floored bonus for a day's activity points.
func (w Weights) EndOfDayBonus(dayPoints int) int {
	if dayPoints <= 0 || w.EndOfDayBonusPercent <= 0 {
		return 0
	}
	return dayPoints * w.EndOfDayBonusPercent / 100
}

// milestoneAt returns the i-th term (0-based) of the milestone sequence.
func milestoneAt(i int) int64 {
	if i < len(fixedMilestones) {
		return fixedMilestones[i]
	}
	last := fixedMilestones[len(fixedMilestones)-1]
	return last + int64(milestoneStep*(i-len(fixedMilestones)+1))
}

// Milestones returns the first count terms of the milestone sequence.
func Milestones(count int) []int64 {
	if count <= 0 {
		return []int64{}
	}
	out := make([]int64, count)
	for i := range out {
		out[i] = milestoneAt(i)
	}
	return out
}

// UnlockedCount counts leading milestones that are <= points and stops at
// the first one above it, even if later entries would qualify.
func UnlockedCount(points int64, milestones []int64) int {
	count := 0
	for _, m := range milestones {
		if m > points {
			break
		}
		count++
	}
	return count
}

// UnlockedFor scans the unbounded milestone sequence for a point total.
func UnlockedFor(points int64) int {
	count := 0
	for milestoneAt(count) <= points {
		count++
	}
	return count
}

// ClaimableIndices returns the milestone indices reported as claimable right
// now: unlocked by its total contribution, not yet granted, and covered by
// shards. A claim itself only needs the shards.
func ClaimableIndices(counter *models.ProgressCounter) []int {
	if counter == nil {
		return nil
	}
	end := min(UnlockedFor(counter.TotalContributed), counter.GrantCount+counter.AffordableUnits())

	var indices []int
	for i := counter.GrantCount; i < end; i++ {
		indices = append(indices, i)
	}
	return indices
}

// NewlyClaimable returns the indices claimable after a change that were not claimable before.
func NewlyClaimable(before, after *models.ProgressCounter) []int {
	seen := make(map[int]struct{})
	for _, i := range ClaimableIndices(before) {
		seen[i] = struct{}{}
	}

	var fresh []int
	for _, i := range ClaimableIndices(after) {
		if _, ok := seen[i]; !ok {
			fresh = append(fresh, i)
		}
	}
	return fresh
}
