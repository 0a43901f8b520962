package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPointsAwarded(t *testing.T) {
	PointsAwardedTotal.Reset()

	RecordPointsAwarded("task", 3)
	RecordPointsAwarded("task", 2)
	RecordPointsAwarded("pomodoro", 2)
	RecordPointsAwarded("end_of_day", 0)

	assert.Equal(t, 5.0, testutil.ToFloat64(PointsAwardedTotal.WithLabelValues("task")))
	assert.Equal(t, 2.0, testutil.ToFloat64(PointsAwardedTotal.WithLabelValues("pomodoro")))
	assert.Equal(t, 2, testutil.CollectAndCount(PointsAwardedTotal))
}

func TestRecordClaim(t *testing.T) {
	ClaimsTotal.Reset()

	RecordClaim("quartz", ClaimGranted, 5*time.Millisecond)
	RecordClaim("quartz", ClaimNothingToClaim, time.Millisecond)
	RecordClaim("quartz", ClaimNothingToClaim, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(ClaimsTotal.WithLabelValues("quartz", ClaimGranted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(ClaimsTotal.WithLabelValues("quartz", ClaimNothingToClaim)))
}

func TestRecordManualGrant(t *testing.T) {
	ManualGrantsTotal.Reset()

	RecordManualGrant("ruby", "manual")

	assert.Equal(t, 1.0, testutil.ToFloat64(ManualGrantsTotal.WithLabelValues("ruby", "manual")))
}

func TestRecordIngestionFailure(t *testing.T) {
	IngestionFailuresTotal.Reset()

	RecordIngestionFailure("task_completed")
	RecordIngestionFailure("task_completed")

	assert.Equal(t, 2.0, testutil.ToFloat64(IngestionFailuresTotal.WithLabelValues("task_completed")))
}

func TestRecordCatalogInserts(t *testing.T) {
	before := testutil.ToFloat64(CatalogInsertsTotal)

	RecordCatalogInserts(8)
	RecordCatalogInserts(0)

	assert.Equal(t, before+8, testutil.ToFloat64(CatalogInsertsTotal))
}

func TestRecordCatalogCache(t *testing.T) {
	CatalogCacheRequestsTotal.Reset()

	RecordCatalogCache("miss")
	RecordCatalogCache("hit")
	RecordCatalogCache("hit")

	assert.Equal(t, 2.0, testutil.ToFloat64(CatalogCacheRequestsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CatalogCacheRequestsTotal.WithLabelValues("miss")))
}

func TestRecordEndOfDayRun(t *testing.T) {
	EndOfDayRunsTotal.Reset()

	RecordEndOfDayRun("success", 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(EndOfDayRunsTotal.WithLabelValues("success")))
	assert.Greater(t, testutil.ToFloat64(EndOfDayLastRunTimestamp), 0.0)
}

func TestRecordEndOfDayUser(t *testing.T) {
	EndOfDayUsersTotal.Reset()

	RecordEndOfDayUser("closed")
	RecordEndOfDayUser("failed")

	assert.Equal(t, 1.0, testutil.ToFloat64(EndOfDayUsersTotal.WithLabelValues("closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(EndOfDayUsersTotal.WithLabelValues("failed")))
}

func TestObserveClaimables(t *testing.T) {
	ObserveClaimables(3)
	assert.Equal(t, 1, testutil.CollectAndCount(ClaimablesPerRequest))
}
