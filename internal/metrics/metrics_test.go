package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInitExposesCollectors(t *testing.T) {
	Init()
	Init() // idempotent

	SettlementsTotal.WithLabelValues("trade_open", "applied").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(SettlementsTotal.WithLabelValues("trade_open", "applied")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "settlements_total")
}
