package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(SequenceFallbacks.WithLabelValues("hall"))
	RecordSequenceFallback("hall")
	assert.Equal(t, before+1, testutil.ToFloat64(SequenceFallbacks.WithLabelValues("hall")))

	reclaimed := testutil.ToFloat64(UnitsReclaimed)
	RecordReclaimed(3)
	RecordReclaimed(0)
	assert.Equal(t, reclaimed+3, testutil.ToFloat64(UnitsReclaimed))

	errs := testutil.ToFloat64(SweepErrors)
	RecordSweep(20*time.Millisecond, 2)
	assert.Equal(t, errs+2, testutil.ToFloat64(SweepErrors))

	RecordCreated("hall")
	RecordRequest(http.MethodPost, "/api/v1/:category/reservations", http.StatusConflict, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "sequence_fallback_total"))
	assert.True(t, strings.Contains(body, `status="4xx"`))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(201))
	assert.Equal(t, "3xx", statusClass(302))
	assert.Equal(t, "4xx", statusClass(410))
	assert.Equal(t, "5xx", statusClass(503))
}
