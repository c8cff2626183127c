package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.SessionsAnalyzed.WithLabelValues("tracked").Inc()
	m.SessionsAnalyzed.WithLabelValues("tracked").Inc()
	m.Archetypes.WithLabelValues("Cautious Learner").Inc()
	m.ObserveSince(time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsAnalyzed.WithLabelValues("tracked")))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "playprofile_sessions_analyzed_total")
	assert.Contains(t, string(body), "playprofile_analysis_duration_seconds")
}

func TestNewIsIndependent(t *testing.T) {
	a, b := New(), New()
	a.OpenStreams.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.OpenStreams))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.OpenStreams))
}
