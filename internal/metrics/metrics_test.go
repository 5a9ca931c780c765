package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveMerge(t *testing.T) {
	m := New()
	m.ObserveMerge(SourcePoll, 2, 1, 3, 5)
	m.ObserveMerge(SourcePoll, 1, 0, 0, 6)
	m.ObserveMerge(SourcePush, 0, 0, 1, 6)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Merges.WithLabelValues("poll")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Appended.WithLabelValues("poll")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Promoted.WithLabelValues("poll")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues("push")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.Messages))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveMerge(SourceSend, 1, 1, 1, 1)
	m.SetPushConnected(true)
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.PollErrors.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.PollErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PollErrors))
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.SetPushConnected(true)
	m.Resets.WithLabelValues("not_found").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.True(t, strings.Contains(out, "supportsync_push_connected 1"), out)
	assert.True(t, strings.Contains(out, `supportsync_resets_total{reason="not_found"} 1`), out)
}
