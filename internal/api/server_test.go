package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaumene/lapis/internal/api/handlers"
	"github.com/amaumene/lapis/internal/metrics"
	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
)

type fakeJobs struct {
	counts map[models.JobState]int
	err    error
}

func (f fakeJobs) CountJobsByState() (map[models.JobState]int, error) {
	return f.counts, f.err
}

type fixedInFlight int

func (n fixedInFlight) InFlight() int { return int(n) }

type fakeRegistry struct{}

func (fakeRegistry) Importers() []plugins.Descriptor {
	return []plugins.Descriptor{{Name: "tumblr", Version: "1.0", Priority: 10, MaxConcurrency: 4, Rules: []string{`tumblr\.com`}}}
}

func (fakeRegistry) Exporters() []plugins.Descriptor {
	return []plugins.Descriptor{{Name: "imgur", Version: "1.0", Priority: 10, MaxConcurrency: 2}}
}

type fakeRunner struct {
	state models.JobState
}

func (f fakeRunner) Run(ctx context.Context, sub models.Submission) *models.MirrorJob {
	job := models.NewMirrorJob(sub)
	_ = job.Transition(models.JobStateResolving)
	switch f.state {
	case models.JobStateSkipped:
		_ = job.Transition(models.JobStateSkipped)
	case models.JobStateFailed:
		_ = job.Fail(errors.New("tumblr returned status 404"))
	default:
		_ = job.Transition(models.JobStateFetching)
		_ = job.Transition(models.JobStateUploading)
		job.AddLink(models.MirrorLink{ItemID: "a", URL: "https://i.imgur.com/a.png", Kind: "imgur-image", Exporter: "imgur"})
		job.Reply = "[Imgur](https://i.imgur.com/a.png)"
		_ = job.Transition(models.JobStateCompleted)
	}
	return job
}

func newTestServer(t *testing.T, deps Deps) (http.Handler, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	deps.Version = "test"
	return NewServer("0", deps, logger).Handler(), hook
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHealth(t *testing.T) {
	h, hook := newTestServer(t, Deps{})

	rec := do(h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","version":"test"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level, "health checks are logged quietly")

	rec = do(h, http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
}

func TestStatus(t *testing.T) {
	h, _ := newTestServer(t, Deps{
		Jobs: fakeJobs{counts: map[models.JobState]int{
			models.JobStateCompleted: 3,
			models.JobStateFailed:    1,
			models.JobStateSkipped:   5,
		}},
		InFlight: fixedInFlight(2),
	})

	rec := do(h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, handlers.StatusResponse{TotalJobs: 9, InFlight: 2, Completed: 3, Failed: 1, Skipped: 5}, resp)

	h, _ = newTestServer(t, Deps{Jobs: fakeJobs{err: errors.New("db closed")}})
	assert.Equal(t, http.StatusInternalServerError, do(h, http.MethodGet, "/status", "").Code)
}

func TestPlugins(t *testing.T) {
	h, _ := newTestServer(t, Deps{Plugins: fakeRegistry{}})

	rec := do(h, http.MethodGet, "/api/plugins", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.PluginsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Importers, 1)
	assert.Equal(t, "tumblr", resp.Importers[0].Name)
	assert.Equal(t, []string{`tumblr\.com`}, resp.Importers[0].Rules)
	require.Len(t, resp.Exporters, 1)
	assert.Equal(t, 2, resp.Exporters[0].MaxConcurrency)
}

func TestMirror(t *testing.T) {
	tests := []struct {
		name   string
		state  models.JobState
		body   string
		status int
	}{
		{"completed", models.JobStateCompleted, `{"url":"https://blog.tumblr.com/post/1"}`, http.StatusOK},
		{"skipped", models.JobStateSkipped, `{"url":"https://example.com/"}`, http.StatusUnprocessableEntity},
		{"failed", models.JobStateFailed, `{"url":"https://blog.tumblr.com/post/2"}`, http.StatusBadGateway},
		{"not json", models.JobStateCompleted, `url=x`, http.StatusBadRequest},
		{"not http", models.JobStateCompleted, `{"url":"ftp://example.com/a.png"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestServer(t, Deps{Runner: fakeRunner{state: tt.state}})
			rec := do(h, http.MethodPost, "/api/mirror", tt.body)
			require.Equal(t, tt.status, rec.Code)
			if tt.status >= 400 && tt.status < 500 && tt.state != models.JobStateSkipped {
				return
			}

			var resp handlers.MirrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.state, resp.State)
			assert.NotEmpty(t, resp.JobID)
			if tt.state == models.JobStateCompleted {
				assert.Contains(t, resp.Reply, "i.imgur.com")
				assert.Len(t, resp.Links, 1)
			}
			if tt.state == models.JobStateFailed {
				assert.Contains(t, resp.Error, "404")
			}
		})
	}

	h, _ := newTestServer(t, Deps{Runner: fakeRunner{}})
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/api/mirror", "").Code)
}

func TestMetrics(t *testing.T) {
	m := metrics.New()
	m.Reply("posted")
	h, _ := newTestServer(t, Deps{Metrics: m.Handler()})

	rec := do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lapis_replies_total")
}

func TestRequestIDIsPropagated(t *testing.T) {
	h, hook := newTestServer(t, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "abc", hook.LastEntry().Data["request_id"])
}
