// Package catalog manages the reward catalog: bootstrap, listing and slug resolution.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aimd54/gem-progression/internal/cache"
	prommetrics "github.com/aimd54/gem-progression/internal/metrics"
	"github.com/aimd54/gem-progression/internal/models"
	"github.com/aimd54/gem-progression/internal/repository"
	"github.com/aimd54/gem-progression/pkg/logger"
)

// listCacheKey holds the JSON-encoded catalog list.
const listCacheKey = "gems:catalog:list"

// Repository interface for catalog storage.
type Repository interface {
	InsertIfAbsent(ctx context.Context, defs []models.RewardDefinition) (int64, error)
	ListAll(ctx context.Context) ([]models.RewardDefinition, error)
	GetBySlug(ctx context.Context, slug models.Slug) (*models.RewardDefinition, error)
}

// Service handles catalog bootstrap and reads.
type Service struct {
	repo     Repository
	cache    cache.Cache
	cacheTTL time.Duration
	builtin  []models.RewardDefinition
	ensured  atomic.Bool
	log      *logger.Logger
}

// NewService creates a new catalog service. A nil cache disables list caching.
func NewService(repo *repository.CatalogRepository, c cache.Cache, cacheTTL time.Duration, log *logger.Logger) (*Service, error) {
	return NewServiceWithInterfaces(repo, c, cacheTTL, log)
}

// NewServiceWithInterfaces creates a new catalog service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(repo Repository, c cache.Cache, cacheTTL time.Duration, log *logger.Logger) (*Service, error) {
	builtin, err := Builtin()
	if err != nil {
		return nil, err
	}
	return &Service{
		repo:     repo,
		cache:    c,
		cacheTTL: cacheTTL,
		builtin:  builtin,
		log:      log.Component("catalog"),
	}, nil
}

// EnsureCatalog inserts any missing built-in definitions. Concurrent callers
// are safe; once it has succeeded the process skips the store entirely.
func (s *Service) EnsureCatalog(ctx context.Context) error {
	if s.ensured.Load() {
		return nil
	}

	inserted, err := s.repo.InsertIfAbsent(ctx, s.builtin)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to bootstrap reward catalog")
		return fmt.Errorf("failed to ensure catalog: %w", err)
	}

	if inserted > 0 {
		prommetrics.RecordCatalogInserts(inserted)
		s.invalidate(ctx)
		s.log.Info().
			Int64("inserted", inserted).
			Int("builtin", len(s.builtin)).
			Msg("Reward catalog bootstrapped")
	}

	s.ensured.Store(true)
	return nil
}

// ListCatalog returns every definition ordered by name, served from the
// cache when one is configured and holds a fresh copy.
func (s *Service) ListCatalog(ctx context.Context) ([]models.RewardDefinition, error) {
	if defs, ok := s.cachedList(ctx); ok {
		return defs, nil
	}

	defs, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog: %w", err)
	}

	s.storeList(ctx, defs)
	return defs, nil
}

// Resolve validates a raw slug and loads its definition.
func (s *Service) Resolve(ctx context.Context, raw string) (*models.RewardDefinition, error) {
	slug, err := models.ParseSlug(raw)
	if err != nil {
		return nil, err
	}
	return s.repo.GetBySlug(ctx, slug)
}

func (s *Service) cachedList(ctx context.Context) ([]models.RewardDefinition, bool) {
	if s.cache == nil {
		return nil, false
	}

	raw, err := s.cache.Get(ctx, listCacheKey)
	if err != nil {
		prommetrics.RecordCatalogCache("error")
		s.log.Warn().Err(err).Msg("Catalog cache read failed, falling back to store")
		return nil, false
	}
	if raw == "" {
		prommetrics.RecordCatalogCache("miss")
		return nil, false
	}

	var defs []models.RewardDefinition
	if err := json.Unmarshal([]byte(raw), &defs); err != nil {
		prommetrics.RecordCatalogCache("error")
		s.log.Warn().Err(err).Msg("Discarding undecodable catalog cache entry")
		return nil, false
	}

	prommetrics.RecordCatalogCache("hit")
	return defs, true
}

func (s *Service) storeList(ctx context.Context, defs []models.RewardDefinition) {
	if s.cache == nil || len(defs) == 0 {
		return
	}

	payload, err := json.Marshal(defs)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode catalog for cache")
		return
	}
	if err := s.cache.Set(ctx, listCacheKey, string(payload), s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Msg("Catalog cache write failed")
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, listCacheKey); err != nil {
		s.log.Warn().Err(err).Msg("Failed to invalidate catalog cache")
	}
}
