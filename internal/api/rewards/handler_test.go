//nolint:noctx // Test file uses http.NewRequest for simplicity
package rewards

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimd54/gem-progression/internal/models"
	"github.com/aimd54/gem-progression/internal/service/engine"
	"github.com/aimd54/gem-progression/pkg/logger"
)

// Mock Catalog Service
type mockCatalogService struct {
	defs      []models.RewardDefinition
	ensureErr error
	listErr   error
	ensured   int
}

func (m *mockCatalogService) EnsureCatalog(ctx context.Context) error {
	m.ensured++
	return m.ensureErr
}

func (m *mockCatalogService) ListCatalog(ctx context.Context) ([]models.RewardDefinition, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.defs, nil
}

// Mock Engine Service
type mockEngineService struct {
	lastUser  string
	lastID    uint
	lastDate  time.Time
	lastSlug  string
	ingest    *engine.IngestResult
	ingestErr error
	claim     *engine.ClaimResult
	claimErr  error
	claimable []models.Claimable
	collect   *engine.Collection
	granted   []models.GrantSource
	grantErr  error
}

func (m *mockEngineService) OnTaskCompleted(ctx context.Context, userID string, taskID uint) (*engine.IngestResult, error) {
	m.lastUser, m.lastID = userID, taskID
	return m.ingest, m.ingestErr
}

func (m *mockEngineService) OnPomodoroCompleted(ctx context.Context, userID string, sessionID uint) (*engine.IngestResult, error) {
	m.lastUser, m.lastID = userID, sessionID
	return m.ingest, m.ingestErr
}

func (m *mockEngineService) OnEndOfDay(ctx context.Context, userID string, date time.Time) (*engine.IngestResult, error) {
	m.lastUser, m.lastDate = userID, date
	return m.ingest, m.ingestErr
}

func (m *mockEngineService) GetClaimables(ctx context.Context, userID string) ([]models.Claimable, error) {
	m.lastUser = userID
	return m.claimable, nil
}

func (m *mockEngineService) Claim(ctx context.Context, userID, rawSlug string) (*engine.ClaimResult, error) {
	m.lastUser, m.lastSlug = userID, rawSlug
	return m.claim, m.claimErr
}

func (m *mockEngineService) GetCollection(ctx context.Context, userID string) (*engine.Collection, error) {
	m.lastUser = userID
	return m.collect, nil
}

func (m *mockEngineService) GrantManual(ctx context.Context, userID, rawSlug string, source models.GrantSource) (*models.OwnershipRecord, error) {
	m.lastUser, m.lastSlug = userID, rawSlug
	if m.grantErr != nil {
		return nil, m.grantErr
	}
	m.granted = append(m.granted, source)
	return &models.OwnershipRecord{ID: "grant-1", UserID: userID, Source: source}, nil
}

// Mock Dispatcher
type mockDispatcher struct {
	mu     sync.Mutex
	events []string
}

func (m *mockDispatcher) record(event string) <-chan *engine.IngestResult {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	out := make(chan *engine.IngestResult, 1)
	close(out)
	return out
}

func (m *mockDispatcher) TaskCompletedAsync(ctx context.Context, userID string, taskID uint) <-chan *engine.IngestResult {
	return m.record(fmt.Sprintf("task:%s:%d", userID, taskID))
}

func (m *mockDispatcher) PomodoroCompletedAsync(ctx context.Context, userID string, sessionID uint) <-chan *engine.IngestResult {
	return m.record(fmt.Sprintf("pomodoro:%s:%d", userID, sessionID))
}

func (m *mockDispatcher) EndOfDayAsync(ctx context.Context, userID string, date time.Time) <-chan *engine.IngestResult {
	return m.record(fmt.Sprintf("end_of_day:%s:%s", userID, models.DayKey(date)))
}

// Test Setup

// handlerNow is 14:30 on 2024-01-15; the close time is 23:55.
var handlerNow = time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

type testEnv struct {
	router     *gin.Engine
	handler    *Handler
	catalog    *mockCatalogService
	engine     *mockEngineService
	dispatcher *mockDispatcher
}

func setupEnv(t *testing.T, loc *time.Location) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		catalog:    &mockCatalogService{},
		engine:     &mockEngineService{ingest: &engine.IngestResult{Awards: []models.Claimable{}}},
		dispatcher: &mockDispatcher{},
	}
	env.handler = NewHandlerWithInterfaces(env.catalog, env.engine, env.dispatcher, Options{
		AdminUserIDs: []string{"ops"},
		Location:     loc,
		CloseHour:    23,
		CloseMinute:  55,
	}, logger.Nop())
	env.handler.now = func() time.Time { return handlerNow }

	env.router = gin.New()
	env.handler.RegisterRoutes(env.router.Group("/api/v1"))
	return env
}

func setupRouter(t *testing.T, loc *time.Location) (*gin.Engine, *mockCatalogService, *mockEngineService) {
	t.Helper()
	env := setupEnv(t, loc)
	return env.router, env.catalog, env.engine
}

func do(router *gin.Engine, method, path, user string) (*httptest.ResponseRecorder, map[string]interface{}) {
	return doJSON(router, method, path, user, nil)
}

func doJSON(router *gin.Engine, method, path, user string, payload interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	var req *http.Request
	if payload != nil {
		raw, _ := json.Marshal(payload)
		req, _ = http.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, http.NoBody)
	}
	if user != "" {
		req.Header.Set(DefaultIdentityHeader, user)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

// Tests

func TestIdentity_MissingHeader(t *testing.T) {
	router, _, eng := setupRouter(t, nil)

	w, body := do(router, "GET", "/api/v1/claimables", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, body["error"], DefaultIdentityHeader)
	assert.Empty(t, eng.lastUser)
}

func TestIdentity_CustomHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Identity("X-Auth-User"))
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	req, _ := http.NewRequest("GET", "/whoami", http.NoBody)
	req.Header.Set("X-Auth-User", "  alice ")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
}

func TestEnsureCatalog(t *testing.T) {
	router, cat, _ := setupRouter(t, nil)

	w, body := do(router, "POST", "/api/v1/catalog/ensure", "alice")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ensured"])
	assert.Equal(t, 1, cat.ensured)
}

func TestEnsureCatalog_StoreUnavailable(t *testing.T) {
	router, cat, _ := setupRouter(t, nil)
	cat.ensureErr = fmt.Errorf("failed to insert: %w", models.ErrStoreUnavailable)

	w, body := do(router, "POST", "/api/v1/catalog/ensure", "alice")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Failed to ensure catalog", body["error"])
}

func TestListCatalog(t *testing.T) {
	router, cat, _ := setupRouter(t, nil)
	cat.defs = []models.RewardDefinition{
		{ID: 1, Slug: models.SlugQuartz, Name: "Quartz", RarityTier: models.RarityCommon, PointWeight: 1},
		{ID: 2, Slug: models.SlugDiamond, Name: "Diamond", RarityTier: models.RarityLegendary, PointWeight: 20},
	}

	w, body := do(router, "GET", "/api/v1/catalog", "alice")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["total_rewards"])
	rewards := body["rewards"].([]interface{})
	assert.Equal(t, "legendary", rewards[1].(map[string]interface{})["rarity_tier"])
}

func TestTaskCompleted(t *testing.T) {
	router, _, eng := setupRouter(t, nil)
	eng.ingest = &engine.IngestResult{
		Awards: []models.Claimable{{RewardSlug: models.SlugQuartz, MilestoneIndex: 0}},
		Points: 3,
		Shards: &engine.ShardState{RewardSlug: models.SlugQuartz, CurrentShards: 12, TargetShards: 10},
	}

	w, body := do(router, "POST", "/api/v1/events/tasks/42/completed", "alice")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", eng.lastUser)
	assert.Equal(t, uint(42), eng.lastID)
	assert.Equal(t, float64(3), body["points"])
	assert.Len(t, body["awards"], 1)
}

func TestTaskCompleted_InvalidID(t *testing.T) {
	router, _, _ := setupRouter(t, nil)

	w, body := do(router, "POST", "/api/v1/events/tasks/abc/completed", "alice")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "invalid task ID")
}

func TestTaskCompleted_NotFound(t *testing.T) {
	router, _, eng := setupRouter(t, nil)
	eng.ingestErr = fmt.Errorf("failed to load task 7: %w", models.ErrNotFound)

	w, _ := do(router, "POST", "/api/v1/events/tasks/7/completed", "alice")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPomodoroCompleted(t *testing.T) {
	router, _, eng := setupRouter(t, nil)

	w, _ := do(router, "POST", "/api/v1/events/pomodoros/9/completed", "bob")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", eng.lastUser)
	assert.Equal(t, uint(9), eng.lastID)
}

func TestEndOfDay_ParsesDateInLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	router, _, eng := setupRouter(t, loc)

	w, _ := do(router, "POST", "/api/v1/events/end-of-day?date=2024-01-14", "alice")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024-01-14", models.DayKey(eng.lastDate))
	assert.Equal(t, loc, eng.lastDate.Location())
}

func TestEndOfDay_AlreadyClosed(t *testing.T) {
	router, _, eng := setupRouter(t, nil)
	eng.ingest = &engine.IngestResult{Awards: []models.Claimable{}, AlreadyClosed: true}

	w, body := do(router, "POST", "/api/v1/events/end-of-day?date=2024-01-14", "alice")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["already_closed"])
}

func TestEndOfDay_DateRequired(t *testing.T) {
	router, _, eng := setupRouter(t, nil)

	w, body := do(router, "POST", "/api/v1/events/end-of-day", "alice")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "date parameter is required")
	assert.Empty(t, eng.lastUser)
}

func TestEndOfDay_TodayBeforeCloseTime(t *testing.T) {
	router, _, eng := setupRouter(t, nil)

	w, body := do(router, "POST", "/api/v1/events/end-of-day?date=2024-01-15", "alice")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, body["error"], "before 23:55")
	assert.Empty(t, eng.lastUser, "engine must not close the day early")
}

func TestEndOfDay_TodayAfterCloseTime(t *testing.T) {
	env := setupEnv(t, nil)
	env.handler.now = func() time.Time { return time.Date(2024, 1, 15, 23, 56, 0, 0, time.UTC) }

	w, _ := do(env.router, "POST", "/api/v1/events/end-of-day?date=2024-01-15", "alice")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024-01-15", models.DayKey(env.engine.lastDate))
}

func TestEndOfDay_FutureDay(t *testing.T) {
	router, _, eng := setupRouter(t, nil)

	w, body := do(router, "POST", "/api/v1/events/end-of-day?date=2024-01-16", "alice")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "future day")
	assert.Empty(t, eng.lastUser)
}

func TestEndOfDay_TodayInOwnTimezone(t *testing.T) {
	// 03:00 UTC on the 16th is still 22:00 on the 15th at UTC-5.
	loc := time.FixedZone("UTC-5", -5*60*60)
	env := setupEnv(t, loc)
	env.handler.now = func() time.Time { return time.Date(2024, 1, 16, 3, 0, 0, 0, time.UTC) }

	w, _ := do(env.router, "POST", "/api/v1/events/end-of-day?date=2024-01-15", "alice")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(env.router, "POST", "/api/v1/events/end-of-day?date=2024-01-14", "alice")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEvents_AsyncDispatch(t *testing.T) {
	env := setupEnv(t, nil)

	w, body := do(env.router, "POST", "/api/v1/events/tasks/42/completed?async=true", "alice")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, body["accepted"])

	w, _ = do(env.router, "POST", "/api/v1/events/pomodoros/7/completed?async=true", "alice")
	assert.Equal(t, http.StatusAccepted, w.Code)

	w, _ = do(env.router, "POST", "/api/v1/events/end-of-day?date=2024-01-14&async=true", "alice")
	assert.Equal(t, http.StatusAccepted, w.Code)

	// The close-time guard still applies before dispatch.
	w, _ = do(env.router, "POST", "/api/v1/events/end-of-day?date=2024-01-15&async=true", "alice")
	assert.Equal(t, http.StatusConflict, w.Code)

	assert.Equal(t, []string{
		"task:alice:42",
		"pomodoro:alice:7",
		"end_of_day:alice:2024-01-14",
	}, env.dispatcher.events)
	assert.Empty(t, env.engine.lastUser, "async events must not run synchronously")
}

func TestEvents_AsyncWithoutDispatcher(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHandlerWithInterfaces(&mockCatalogService{}, &mockEngineService{}, nil, Options{}, logger.Nop())
	router := gin.New()
	handler.RegisterRoutes(router.Group("/api/v1"))

	w, _ := do(router, "POST", "/api/v1/events/tasks/1/completed?async=true", "alice")

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestGrantReward(t *testing.T) {
	router, _, eng := setupRouter(t, nil)

	w, body := doJSON(router, "POST", "/api/v1/admin/grants", "ops", gin.H{
		"user_id": "alice",
		"reward":  "diamond",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "alice", eng.lastUser)
	assert.Equal(t, "diamond", eng.lastSlug)
	assert.Equal(t, []models.GrantSource{models.GrantSourceManual}, eng.granted)
	ownership := body["ownership"].(map[string]interface{})
	assert.Equal(t, "grant-1", ownership["id"])

	w, _ = doJSON(router, "POST", "/api/v1/admin/grants", "ops", gin.H{
		"user_id": "alice",
		"reward":  "quartz",
		"source":  "end_of_day",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.GrantSourceEndOfDay, eng.granted[1])
}

func TestGrantReward_RequiresAdmin(t *testing.T) {
	router, _, eng := setupRouter(t, nil)

	w, body := doJSON(router, "POST", "/api/v1/admin/grants", "alice", gin.H{
		"user_id": "alice",
		"reward":  "diamond",
	})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "admin access required", body["error"])
	assert.Empty(t, eng.granted)

	w, _ = doJSON(router, "POST", "/api/v1/admin/grants", "", gin.H{"user_id": "alice", "reward": "diamond"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGrantReward_InvalidRequests(t *testing.T) {
	router, _, eng := setupRouter(t, nil)

	w, _ := doJSON(router, "POST", "/api/v1/admin/grants", "ops", gin.H{"user_id": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := doJSON(router, "POST", "/api/v1/admin/grants", "ops", gin.H{
		"user_id": "alice",
		"reward":  "quartz",
		"source":  "activity",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "invalid grant source")
	assert.Empty(t, eng.granted)

	eng.grantErr = fmt.Errorf("failed to resolve reward: %w", models.ErrInvalidReward)
	w, _ = doJSON(router, "POST", "/api/v1/admin/grants", "ops", gin.H{"user_id": "alice", "reward": "opal"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEndOfDay_InvalidDate(t *testing.T) {
	router, _, _ := setupRouter(t, nil)

	w, body := do(router, "POST", "/api/v1/events/end-of-day?date=15/01/2024", "alice")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "invalid date")
}

func TestGetClaimables(t *testing.T) {
	router, _, eng := setupRouter(t, nil)
	eng.claimable = []models.Claimable{
		{RewardSlug: models.SlugQuartz, MilestoneIndex: 0},
		{RewardSlug: models.SlugQuartz, MilestoneIndex: 1},
	}

	w, body := do(router, "GET", "/api/v1/claimables", "alice")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["total_claimables"])
}

func TestClaim_Granted(t *testing.T) {
	router, _, eng := setupRouter(t, nil)
	eng.claim = &engine.ClaimResult{OK: true, OwnershipID: "abc"}

	w, body := do(router, "POST", "/api/v1/claims/quartz", "alice")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "quartz", eng.lastSlug)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "abc", body["ownership_id"])
}

func TestClaim_NothingToClaimIsNotAnError(t *testing.T) {
	router, _, eng := setupRouter(t, nil)
	eng.claim = &engine.ClaimResult{Reason: engine.ReasonNothingToClaim}

	w, body := do(router, "POST", "/api/v1/claims/quartz", "alice")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, engine.ReasonNothingToClaim, body["reason"])
}

func TestClaim_InfrastructureFailure(t *testing.T) {
	router, _, eng := setupRouter(t, nil)
	eng.claimErr = errors.New("boom")

	w, body := do(router, "POST", "/api/v1/claims/quartz", "alice")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to claim reward", body["error"])
}

func TestGetCollection(t *testing.T) {
	router, _, eng := setupRouter(t, nil)
	eng.collect = &engine.Collection{
		TotalPoints: 35,
		Items: []models.OwnedQuantity{
			{Reward: models.RewardDefinition{Slug: models.SlugQuartz, Name: "Quartz"}, Quantity: 3},
		},
	}

	w, body := do(router, "GET", "/api/v1/collection", "alice")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(35), body["total_points"])
	assert.Len(t, body["items"], 1)
}
