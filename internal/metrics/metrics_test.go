package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.BookingCreated()
	m.BookingCreated()
	m.AcceptOutcome(AcceptWon)
	m.AcceptOutcome(AcceptAlreadyClaimed)
	m.AcceptOutcome(AcceptAlreadyClaimed)
	m.Transition("driver_assigned", "driver_arrived")
	m.OTPRejected("picked_up")
	m.Escalated("rebroadcast")
	m.PoolQuery(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookingsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.acceptOutcomes.WithLabelValues(AcceptWon)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.acceptOutcomes.WithLabelValues(AcceptAlreadyClaimed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("driver_assigned", "driver_arrived")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.otpRejections.WithLabelValues("picked_up")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalations.WithLabelValues("rebroadcast")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.poolQueryResults))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BookingCreated()
		m.AcceptOutcome(AcceptError)
		m.Transition("a", "b")
		m.OTPRejected("delivered")
		m.Escalated("admin")
		m.PoolQuery(0)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Escalated("admin")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `cargorapido_assignment_escalations_total{kind="admin"} 1`)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
