package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var h *Hub
	var s *Sim
	assert.Nil(t, NewHub(nil))
	assert.Nil(t, NewSim(nil))
	assert.NotPanics(t, func() {
		h.Sent("reading")
		h.Failed("reading")
		h.SetSubscribers(3)
		h.Joined()
		s.Reading("z")
		s.Prediction("z", "stable")
		s.Discovery("device_discovered", "applied")
		s.TickError("sensor")
		s.SetPending(1)
		s.ObserveTick("sensor", 0.1)
	})
}

func TestHubCounters(t *testing.T) {
	reg := NewRegistry()
	h := NewHub(reg)
	h.Sent("reading")
	h.Sent("reading")
	h.Failed("prediction")
	h.SetSubscribers(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.sent.WithLabelValues("reading")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.failures.WithLabelValues("prediction")))
	assert.Equal(t, 4.0, testutil.ToFloat64(h.subscribers))
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := NewRegistry()
	s := NewSim(reg)
	s.Reading("server-room")

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `hvac_sim_readings_total{zone="server-room"} 1`))
}
