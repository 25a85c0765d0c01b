package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.JobFinished("completed")
	m.JobFinished("completed")
	m.JobFinished("failed")
	m.Attempt("imgur", "upload", nil, 100*time.Millisecond)
	m.Attempt("imgur", "upload", errors.New("boom"), time.Second)
	m.Retry("imgur", "upload")
	m.JobStarted()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("imgur", "upload", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("imgur", "upload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))

	m.JobDone()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Reply("posted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `lapis_replies_total{outcome="posted"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobFinished("completed")
		m.Attempt("x", "fetch", nil, time.Second)
		m.Retry("x", "fetch")
		m.Reply("posted")
		m.Submission("accepted")
		m.JobStarted()
		m.JobDone()
	})
	assert.Nil(t, m.Registry())
}
