package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.TradesClosed.WithLabelValues("stop_loss").Inc()
	a.LowConfidenceFills.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.TradesClosed.WithLabelValues("stop_loss")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TradesClosed.WithLabelValues("stop_loss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.LowConfidenceFills))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SignalsCreated.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "research_engine_signals_created_total 1")
}
