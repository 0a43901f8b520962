// Package rewards provides the REST API of the gem progression engine.
// It exposes the catalog, activity events, claimables, claims and the collection.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aimd54/gem-progression/internal/config"
	"github.com/aimd54/gem-progression/internal/hooks"
	"github.com/aimd54/gem-progression/internal/models"
	"github.com/aimd54/gem-progression/internal/service/catalog"
	"github.com/aimd54/gem-progression/internal/service/engine"
	"github.com/aimd54/gem-progression/pkg/logger"
)

// CatalogService interface for catalog operations.
type CatalogService interface {
	EnsureCatalog(ctx context.Context) error
	ListCatalog(ctx context.Context) ([]models.RewardDefinition, error)
}

// EngineService interface for reward engine operations.
type EngineService interface {
	OnTaskCompleted(ctx context.Context, userID string, taskID uint) (*engine.IngestResult, error)
	OnPomodoroCompleted(ctx context.Context, userID string, sessionID uint) (*engine.IngestResult, error)
	OnEndOfDay(ctx context.Context, userID string, date time.Time) (*engine.IngestResult, error)
	GetClaimables(ctx context.Context, userID string) ([]models.Claimable, error)
	Claim(ctx context.Context, userID, rawSlug string) (*engine.ClaimResult, error)
	GetCollection(ctx context.Context, userID string) (*engine.Collection, error)
	GrantManual(ctx context.Context, userID, rawSlug string, source models.GrantSource) (*models.OwnershipRecord, error)
}

// Dispatcher runs event ingestion in the background without surfacing failures.
type Dispatcher interface {
	TaskCompletedAsync(ctx context.Context, userID string, taskID uint) <-chan *engine.IngestResult
	PomodoroCompletedAsync(ctx context.Context, userID string, sessionID uint) <-chan *engine.IngestResult
	EndOfDayAsync(ctx context.Context, userID string, date time.Time) <-chan *engine.IngestResult
}

// Options configures the rewards API.
type Options struct {
	IdentityHeader string
	AdminUserIDs   []string
	Location       *time.Location // calendar for the end-of-day date; UTC when nil
	CloseHour      int            // a day can be closed from CloseHour:CloseMinute on
	CloseMinute    int
}

// OptionsFromConfig builds API options from configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	loc, err := cfg.Scheduler.GetLocation()
	if err != nil {
		return Options{}, err
	}
	hour, minute, err := cfg.Scheduler.ClockTime()
	if err != nil {
		return Options{}, err
	}
	return Options{
		IdentityHeader: cfg.Server.IdentityHeader,
		AdminUserIDs:   cfg.Server.AdminUserIDs,
		Location:       loc,
		CloseHour:      hour,
		CloseMinute:    minute,
	}, nil
}

// Handler handles reward API requests.
type Handler struct {
	catalog    CatalogService
	engine     EngineService
	dispatcher Dispatcher
	opts       Options
	now        func() time.Time
	log        *logger.Logger
}

// NewHandler creates a new rewards handler.
func NewHandler(catalogService *catalog.Service, engineService *engine.Service, eventHooks *hooks.Hooks, opts Options, log *logger.Logger) *Handler {
	return NewHandlerWithInterfaces(catalogService, engineService, eventHooks, opts, log)
}

// NewHandlerWithInterfaces creates a new rewards handler with interface dependencies (useful for testing).
func NewHandlerWithInterfaces(catalogService CatalogService, engineService EngineService, dispatcher Dispatcher, opts Options, log *logger.Logger) *Handler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Handler{
		catalog:    catalogService,
		engine:     engineService,
		dispatcher: dispatcher,
		opts:       opts,
		now:        time.Now,
		log:        log.Component("api"),
	}
}

// RegisterRoutes mounts the reward endpoints on group, behind the identity middleware.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.Use(Identity(h.opts.IdentityHeader))

	group.POST("/catalog/ensure", h.EnsureCatalog)
	group.GET("/catalog", h.ListCatalog)

	events := group.Group("/events")
	events.POST("/tasks/:id/completed", h.TaskCompleted)
	events.POST("/pomodoros/:id/completed", h.PomodoroCompleted)
	events.POST("/end-of-day", h.EndOfDay)

	group.GET("/claimables", h.GetClaimables)
	group.POST("/claims/:slug", h.Claim)
	group.GET("/collection", h.GetCollection)

	admin := group.Group("/admin", RequireAdmin(h.opts.AdminUserIDs))
	admin.POST("/grants", h.GrantReward)
}

// EnsureCatalog seeds the built-in reward catalog.
// POST /api/v1/catalog/ensure.
func (h *Handler) EnsureCatalog(c *gin.Context) {
	if err := h.catalog.EnsureCatalog(c.Request.Context()); err != nil {
		h.log.Error().Err(err).Msg("Failed to ensure catalog")
		h.serviceError(c, err, "Failed to ensure catalog")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ensured":      true,
		"generated_at": time.Now().UTC(),
	})
}

// ListCatalog returns every reward definition.
// GET /api/v1/catalog.
func (h *Handler) ListCatalog(c *gin.Context) {
	defs, err := h.catalog.ListCatalog(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list catalog")
		h.serviceError(c, err, "Failed to retrieve catalog")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rewards":       defs,
		"total_rewards": len(defs),
		"generated_at":  time.Now().UTC(),
	})
}

// TaskCompleted credits a completed task of the caller.
// POST /api/v1/events/tasks/:id/completed.
func (h *Handler) TaskCompleted(c *gin.Context) {
	taskID, err := parseID(c, "task")
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	userID := UserID(c)
	if h.dispatchAsync(c, func(ctx context.Context, d Dispatcher) { d.TaskCompletedAsync(ctx, userID, taskID) }) {
		return
	}
	result, err := h.engine.OnTaskCompleted(c.Request.Context(), userID, taskID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Uint("task_id", taskID).Msg("Failed to ingest task completion")
		h.serviceError(c, err, "Failed to ingest task completion")
		return
	}

	h.ingestResponse(c, result)
}

// PomodoroCompleted credits a finished focus session of the caller.
// POST /api/v1/events/pomodoros/:id/completed.
func (h *Handler) PomodoroCompleted(c *gin.Context) {
	sessionID, err := parseID(c, "pomodoro session")
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	userID := UserID(c)
	if h.dispatchAsync(c, func(ctx context.Context, d Dispatcher) { d.PomodoroCompletedAsync(ctx, userID, sessionID) }) {
		return
	}
	result, err := h.engine.OnPomodoroCompleted(c.Request.Context(), userID, sessionID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Uint("session_id", sessionID).Msg("Failed to ingest pomodoro completion")
		h.serviceError(c, err, "Failed to ingest pomodoro completion")
		return
	}

	h.ingestResponse(c, result)
}

// EndOfDay closes a past day of the caller, or today once the configured
// end-of-day time has passed.
// POST /api/v1/events/end-of-day?date=2024-01-15.
func (h *Handler) EndOfDay(c *gin.Context) {
	date, err := h.parseDate(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if status, err := h.checkClosable(date); err != nil {
		h.errorResponse(c, status, err.Error())
		return
	}

	userID := UserID(c)
	if h.dispatchAsync(c, func(ctx context.Context, d Dispatcher) { d.EndOfDayAsync(ctx, userID, date) }) {
		return
	}
	result, err := h.engine.OnEndOfDay(c.Request.Context(), userID, date)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Str("day", models.DayKey(date)).Msg("Failed to close day")
		h.serviceError(c, err, "Failed to close day")
		return
	}

	h.ingestResponse(c, result)
}

// GetClaimables lists unlocked milestones the caller can claim.
// GET /api/v1/claimables.
func (h *Handler) GetClaimables(c *gin.Context) {
	userID := UserID(c)
	claimables, err := h.engine.GetClaimables(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get claimables")
		h.serviceError(c, err, "Failed to retrieve claimables")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"claimables":       claimables,
		"total_claimables": len(claimables),
		"generated_at":     time.Now().UTC(),
	})
}

// Claim converts one claimable milestone into an owned reward. Unknown
// rewards and empty balances answer 200 with ok=false.
// POST /api/v1/claims/:slug.
func (h *Handler) Claim(c *gin.Context) {
	slug := c.Param("slug")
	userID := UserID(c)

	result, err := h.engine.Claim(c.Request.Context(), userID, slug)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Str("slug", slug).Msg("Failed to claim reward")
		h.serviceError(c, err, "Failed to claim reward")
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetCollection returns the owned quantity of each reward kind.
// GET /api/v1/collection.
func (h *Handler) GetCollection(c *gin.Context) {
	userID := UserID(c)
	collection, err := h.engine.GetCollection(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get collection")
		h.serviceError(c, err, "Failed to retrieve collection")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_points": collection.TotalPoints,
		"items":        collection.Items,
		"generated_at": time.Now().UTC(),
	})
}

// GrantReward grants one reward to a user outside the claim protocol.
// POST /api/v1/admin/grants.
func (h *Handler) GrantReward(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "invalid grant request: "+err.Error())
		return
	}

	source := models.GrantSourceManual
	if req.Source != "" {
		source = models.GrantSource(req.Source)
	}
	if !source.Valid() || source == models.GrantSourceActivity {
		h.errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid grant source: %s (valid: manual, end_of_day)", req.Source))
		return
	}

	record, err := h.engine.GrantManual(c.Request.Context(), req.UserID, req.Reward, source)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", req.UserID).Str("reward", req.Reward).Msg("Failed to grant reward")
		h.serviceError(c, err, "Failed to grant reward")
		return
	}

	h.log.Info().
		Str("admin", UserID(c)).
		Str("user_id", req.UserID).
		Str("reward", req.Reward).
		Str("source", string(source)).
		Msg("Reward granted by admin")

	c.JSON(http.StatusCreated, gin.H{
		"ownership":    record,
		"generated_at": time.Now().UTC(),
	})
}

// Helper functions

type grantRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Reward string `json:"reward" binding:"required"`
	Source string `json:"source"`
}

// dispatchAsync hands the event to the dispatcher when ?async=true and answers
// 202 without waiting. It reports whether the request was handled.
func (h *Handler) dispatchAsync(c *gin.Context, fn func(ctx context.Context, d Dispatcher)) bool {
	if c.Query("async") != "true" {
		return false
	}
	if h.dispatcher == nil {
		h.errorResponse(c, http.StatusNotImplemented, "asynchronous ingestion is not enabled")
		return true
	}
	fn(c.Request.Context(), h.dispatcher)
	c.JSON(http.StatusAccepted, gin.H{
		"accepted":     true,
		"generated_at": time.Now().UTC(),
	})
	return true
}

// parseID extracts and validates the numeric :id URL parameter.
func parseID(c *gin.Context, what string) (uint, error) {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s ID: %s", what, idStr)
	}
	return uint(id), nil
}

// parseDate reads the required date query parameter in the configured location.
func (h *Handler) parseDate(c *gin.Context) (time.Time, error) {
	raw := c.Query("date")
	if raw == "" {
		return time.Time{}, fmt.Errorf("date parameter is required (YYYY-MM-DD)")
	}
	date, err := time.ParseInLocation(models.DayLayout, raw, h.opts.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date: %s (expected YYYY-MM-DD)", raw)
	}
	return date, nil
}

// checkClosable refuses future days and today before the end-of-day time.
func (h *Handler) checkClosable(date time.Time) (int, error) {
	now := h.now().In(h.opts.Location)
	day, today := models.DayKey(date), models.DayKey(now)

	switch {
	case day > today:
		return http.StatusBadRequest, fmt.Errorf("cannot close future day %s", day)
	case day == today:
		cutoff := time.Date(now.Year(), now.Month(), now.Day(), h.opts.CloseHour, h.opts.CloseMinute, 0, 0, h.opts.Location)
		if now.Before(cutoff) {
			return http.StatusConflict, fmt.Errorf("day %s cannot be closed before %02d:%02d", day, h.opts.CloseHour, h.opts.CloseMinute)
		}
	}
	return 0, nil
}

// serviceError maps an engine error onto an HTTP status.
func (h *Handler) serviceError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		h.errorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidReward):
		h.errorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrStoreUnavailable):
		h.errorResponse(c, http.StatusServiceUnavailable, message)
	default:
		h.errorResponse(c, http.StatusInternalServerError, message)
	}
}

// errorResponse sends a standardized error response.
func (h *Handler) errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}
