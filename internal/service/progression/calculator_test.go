package progression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimd54/gem-progression/internal/config"
	"github.com/aimd54/gem-progression/internal/models"
)

func priorityPtr(p models.Priority) *models.Priority { return &p }

func TestMilestones(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 5, 10, 15, 20, 25, 30, 35, 40, 45, 50}, Milestones(12))
	assert.Equal(t, []int64{1, 2, 5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 60, 70}, Milestones(14))
	assert.Equal(t, []int64{1, 2, 5}, Milestones(3))
	assert.Empty(t, Milestones(0))
	assert.Empty(t, Milestones(-4))
}

func TestMilestones_StrictlyIncreasing(t *testing.T) {
	seq := Milestones(200)
	for i := 1; i < len(seq); i++ {
		require.Greater(t, seq[i], seq[i-1], "index %d", i)
	}
}

func TestUnlockedCount(t *testing.T) {
	ms := Milestones(14)

	tests := []struct {
		name     string
		points   int64
		expected int
	}{
		{"no points", 0, 0},
		{"first milestone", 1, 1},
		{"between 2 and 5", 4, 2},
		{"exactly 10", 10, 4},
		{"exactly 50", 50, 12},
		{"between 60 and 70", 65, 13},
		{"past the supplied list", 500, 14},
		{"negative", -3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, UnlockedCount(tt.points, ms))
		})
	}
}

func TestUnlockedCount_StopsAtFirstGap(t *testing.T) {
	// A non-monotonic list stops counting at the first milestone above the total.
	assert.Equal(t, 1, UnlockedCount(5, []int64{1, 9, 2, 3}))
	assert.Equal(t, 0, UnlockedCount(5, []int64{}))
}

func TestUnlockedCount_Monotonic(t *testing.T) {
	ms := Milestones(40)
	prev := 0
	for p := int64(0); p <= 400; p++ {
		got := UnlockedCount(p, ms)
		require.GreaterOrEqual(t, got, prev, "points %d", p)
		prev = got
	}
}

func TestUnlockedFor_MatchesFullScan(t *testing.T) {
	ms := Milestones(100)
	for p := int64(0); p <= 900; p++ {
		require.Equal(t, UnlockedCount(p, ms), UnlockedFor(p), "points %d", p)
	}
}

func TestPointsForPriority(t *testing.T) {
	w := DefaultWeights()

	assert.Equal(t, 3, w.PointsForPriority(priorityPtr(models.PriorityHigh)))
	assert.Equal(t, 2, w.PointsForPriority(priorityPtr(models.PriorityMedium)))
	assert.Equal(t, 1, w.PointsForPriority(priorityPtr(models.PriorityLow)))
	assert.Equal(t, 1, w.PointsForPriority(nil))
	assert.Equal(t, 1, w.PointsForPriority(priorityPtr("URGENT")))
	assert.Equal(t, 3, w.PointsForPriority(priorityPtr("high")))
}

func TestPointsForPriority_InjectedWeights(t *testing.T) {
	w := Weights{Low: 5, Medium: 7, High: 11, Pomodoro: 1, DefaultTargetShards: 1}

	assert.Equal(t, 11, w.PointsForPriority(priorityPtr(models.PriorityHigh)))
	assert.Equal(t, 5, w.PointsForPriority(nil))
}

func TestEndOfDayBonus(t *testing.T) {
	w := DefaultWeights()

	assert.Equal(t, 0, w.EndOfDayBonus(0))
	assert.Equal(t, 0, w.EndOfDayBonus(4))
	assert.Equal(t, 1, w.EndOfDayBonus(5))
	assert.Equal(t, 1, w.EndOfDayBonus(9))
	assert.Equal(t, 6, w.EndOfDayBonus(30))

	w.EndOfDayBonusPercent = 0
	assert.Equal(t, 0, w.EndOfDayBonus(100))
}

func TestWeightsFromConfig(t *testing.T) {
	w := WeightsFromConfig(&config.RewardsConfig{
		DefaultTargetShards:  12,
		LowPriorityPoints:    1,
		MediumPriorityPoints: 4,
		HighPriorityPoints:   9,
		PomodoroPoints:       3,
		EndOfDayBonusPercent: 50,
	})

	assert.Equal(t, Weights{Low: 1, Medium: 4, High: 9, Pomodoro: 3, DefaultTargetShards: 12, EndOfDayBonusPercent: 50}, w)
	assert.NoError(t, w.Validate())
}

func TestWeights_Validate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())

	w := DefaultWeights()
	w.Pomodoro = 0
	assert.Error(t, w.Validate())

	w = DefaultWeights()
	w.DefaultTargetShards = 0
	assert.Error(t, w.Validate())

	w = DefaultWeights()
	w.EndOfDayBonusPercent = -1
	assert.Error(t, w.Validate())
}

func TestClaimableIndices(t *testing.T) {
	tests := []struct {
		name     string
		counter  models.ProgressCounter
		expected []int
	}{
		{
			name:     "short of shards",
			counter:  models.ProgressCounter{CurrentShards: 9, TargetShards: 10, TotalContributed: 9},
			expected: nil,
		},
		{
			name:     "one unit",
			counter:  models.ProgressCounter{CurrentShards: 12, TargetShards: 10, TotalContributed: 12},
			expected: []int{0},
		},
		{
			name:     "shards cover more than unlocked",
			counter:  models.ProgressCounter{CurrentShards: 30, TargetShards: 1, TotalContributed: 30},
			expected: []int{0, 1, 2, 3, 4, 5, 6, 7},
		},
		{
			name:     "already granted indices are skipped",
			counter:  models.ProgressCounter{CurrentShards: 25, TargetShards: 10, TotalContributed: 35, GrantCount: 1},
			expected: []int{1, 2},
		},
		{
			name:     "grant count caught up with unlocks",
			counter:  models.ProgressCounter{CurrentShards: 3, TargetShards: 1, TotalContributed: 5, GrantCount: 3},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.counter
			assert.Equal(t, tt.expected, ClaimableIndices(&c))
		})
	}

	assert.Nil(t, ClaimableIndices(nil))
}

func TestNewlyClaimable(t *testing.T) {
	before := models.ProgressCounter{CurrentShards: 9, TargetShards: 10, TotalContributed: 9}
	after := models.ProgressCounter{CurrentShards: 12, TargetShards: 10, TotalContributed: 12}

	assert.Equal(t, []int{0}, NewlyClaimable(&before, &after))
	assert.Nil(t, NewlyClaimable(&after, &after))
}
