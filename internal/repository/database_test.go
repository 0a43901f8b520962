package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aimd54/gem-progression/internal/models"
)

// setupTestDB opens an in-memory SQLite store with the engine and upstream tables.
// A single connection keeps every query on the same in-memory database.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db := &DB{gormDB}
	require.NoError(t, db.AutoMigrate())
	require.NoError(t, gormDB.AutoMigrate(&models.Task{}, &models.PomodoroSession{}))

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedDefinitions(t *testing.T, db *DB) map[models.Slug]models.RewardDefinition {
	t.Helper()

	defs := []models.RewardDefinition{
		{Slug: models.SlugQuartz, Name: "Quartz", RarityTier: models.RarityCommon, PointWeight: 1},
		{Slug: models.SlugRuby, Name: "Ruby", RarityTier: models.RarityEpic, PointWeight: 8},
		{Slug: models.SlugAmethyst, Name: "Amethyst", RarityTier: models.RarityCommon, PointWeight: 2},
	}
	require.NoError(t, db.Create(&defs).Error)

	out := make(map[models.Slug]models.RewardDefinition, len(defs))
	for _, d := range defs {
		out[d.Slug] = d
	}
	return out
}

func TestStoreError(t *testing.T) {
	require.NoError(t, storeError("noop", nil))
	require.ErrorIs(t, storeError("claim", models.ErrNothingToClaim), models.ErrNothingToClaim)
	require.NotErrorIs(t, storeError("claim", models.ErrNothingToClaim), models.ErrStoreUnavailable)

	err := storeError("list", gorm.ErrInvalidDB)
	require.ErrorIs(t, err, models.ErrStoreUnavailable)
	require.ErrorIs(t, err, gorm.ErrInvalidDB)
	require.Contains(t, err.Error(), "failed to list")
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)
	require.NoError(t, db.Close())

	_, err := repo.ListAll(context.Background())
	require.ErrorIs(t, err, models.ErrStoreUnavailable)
}
