package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aimd54/gem-progression/internal/models"
)

// CatalogRepository handles reward definition rows.
type CatalogRepository struct {
	db *DB
}

// NewCatalogRepository creates a new catalog repository.
func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// InsertIfAbsent inserts definitions whose slug is not stored yet and returns
// how many rows were actually inserted. Existing rows are never modified.
func (r *CatalogRepository) InsertIfAbsent(ctx context.Context, defs []models.RewardDefinition) (int64, error) {
	if len(defs) == 0 {
		return 0, nil
	}

	rows := make([]models.RewardDefinition, len(defs))
	copy(rows, defs)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoNothing: true,
		}).
		Create(&rows)
	if result.Error != nil {
		return 0, storeError("insert reward definitions", result.Error)
	}
	return result.RowsAffected, nil
}

// ListAll returns every definition ordered by name.
func (r *CatalogRepository) ListAll(ctx context.Context) ([]models.RewardDefinition, error) {
	var defs []models.RewardDefinition
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&defs).Error; err != nil {
		return nil, storeError("list reward definitions", err)
	}
	return defs, nil
}

// GetBySlug retrieves a definition by slug.
func (r *CatalogRepository) GetBySlug(ctx context.Context, slug models.Slug) (*models.RewardDefinition, error) {
	var def models.RewardDefinition
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&def).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, storeError("get reward definition", err)
	}
	return &def, nil
}

// Count returns the number of stored definitions.
func (r *CatalogRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.RewardDefinition{}).Count(&count).Error; err != nil {
		return 0, storeError("count reward definitions", err)
	}
	return count, nil
}
