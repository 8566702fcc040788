package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordCandidate("generic", true, "")
	m.RecordSession("Exhausted", 0)
	m.RecordSyncPass("ok", time.Second)
	m.SetPending(3)
	m.RecordPush("coupon_usage", false)
	m.SetOnline(true)
	m.RecordMessage("getPageData", true)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.RecordCandidate("walmart", false, "FieldNotFound")
	m.RecordCandidate("walmart", false, "")
	m.RecordCandidate("walmart", true, "")
	m.RecordSession("Succeeded", 7.5)
	m.SetPending(4)
	m.AddConflicts(2)
	m.AddConflicts(-1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CandidatesTested.WithLabelValues("walmart", "FieldNotFound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CandidatesTested.WithLabelValues("walmart", "Rejected")))
	assert.Equal(t, 7.5, testutil.ToFloat64(m.SavingsObserved))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PendingChanges))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MergeConflicts))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "shopsavr_pending_changes 4")
}

func TestSeparateRegistries(t *testing.T) {
	// Each instance owns its registry, so two agents in one process never collide.
	a, b := New(), New()
	a.SetOnline(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.NetworkOnline))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.NetworkOnline))
}
