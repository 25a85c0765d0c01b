package pipeline

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
)

var errTransient = errors.New("503 service unavailable")

type fakeImporter struct {
	name           string
	rules          plugins.Rules
	maxConcurrency int
	fetch          func(ctx context.Context, u *url.URL) (*plugins.Batch, error)
	calls          atomic.Int32
}

func (f *fakeImporter) Describe() plugins.Descriptor {
	return plugins.Descriptor{Name: f.name, Kind: plugins.KindImporter, Rules: f.rules.Strings(), MaxConcurrency: f.maxConcurrency}
}

func (f *fakeImporter) Matches(u *url.URL) bool {
	return f.rules.Match(u)
}

func (f *fakeImporter) Fetch(ctx context.Context, u *url.URL, sub models.Submission) (*plugins.Batch, error) {
	f.calls.Add(1)
	return f.fetch(ctx, u)
}

type fakeExporter struct {
	name   string
	kinds  []models.MediaKind
	upload func(ctx context.Context, item models.MediaItem) (models.MirrorLink, error)
	calls  atomic.Int32

	mu      sync.Mutex
	deleted []models.MirrorLink
}

func (f *fakeExporter) Describe() plugins.Descriptor {
	return plugins.Descriptor{Name: f.name, Kind: plugins.KindExporter}
}

func (f *fakeExporter) Supports(kind models.MediaKind) bool {
	for _, k := range f.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (f *fakeExporter) Upload(ctx context.Context, item models.MediaItem) (models.MirrorLink, error) {
	f.calls.Add(1)
	return f.upload(ctx, item)
}

func (f *fakeExporter) Delete(ctx context.Context, link models.MirrorLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, link)
	return nil
}

func (f *fakeExporter) Deleted() []models.MirrorLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.MirrorLink(nil), f.deleted...)
}

// imageImporter yields one image per URL
func imageImporter(name, rule string) *fakeImporter {
	return &fakeImporter{
		name:  name,
		rules: plugins.MustCompileRules(rule),
		fetch: func(ctx context.Context, u *url.URL) (*plugins.Batch, error) {
			return plugins.BatchOf(models.NewMediaItem(u.String(), u.String()+"/image.png", 0, models.MediaKindImage)), nil
		},
	}
}

// mirrorExporter links every item under https://mirror.test/
func mirrorExporter(name string, kinds ...models.MediaKind) *fakeExporter {
	return &fakeExporter{
		name:  name,
		kinds: kinds,
		upload: func(ctx context.Context, item models.MediaItem) (models.MirrorLink, error) {
			return models.MirrorLink{
				ItemID:      item.ID,
				URL:         "https://mirror.test/" + item.ID,
				Kind:        "imgur-image",
				Exporter:    name,
				DeleteToken: "token-" + item.ID,
			}, nil
		},
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
		AttemptTimeout:  time.Second,
	}
}

func newTestPipeline(t *testing.T, requireAll bool, importers []*fakeImporter, exporters []*fakeExporter) *Pipeline {
	t.Helper()
	registry := plugins.NewRegistry()
	for _, importer := range importers {
		require.NoError(t, registry.Register(importer, plugins.KindImporter))
	}
	for _, exporter := range exporters {
		require.NoError(t, registry.Register(exporter, plugins.KindExporter))
	}
	registry.Freeze()

	return New(registry, plugins.ForRegistry(registry), Settings{
		Retry:         testRetry(),
		RequireAll:    requireAll,
		ReplyTemplate: "{links}\n\n---\n^(Lapis Mirror {version})",
		Version:       "test",
	}, quietLogger())
}

// assertInvariants checks what must hold for every terminal job
func assertInvariants(t *testing.T, job *models.MirrorJob) {
	t.Helper()
	require.True(t, job.State.IsTerminal(), "job must be terminal, got %s", job.State)
	require.NotNil(t, job.FinishedAt)

	switch job.State {
	case models.JobStateCompleted:
		require.NotEmpty(t, job.Links, "completed jobs carry at least one link")
		require.NotEmpty(t, job.Importers)
		require.NotEmpty(t, job.Reply)
		require.Empty(t, job.Error)
	case models.JobStateFailed:
		require.NotEmpty(t, job.Error, "failed jobs record their cause")
		require.Empty(t, job.Reply)
	case models.JobStateSkipped:
		require.Empty(t, job.Importers, "skipped jobs matched no importer")
		require.Empty(t, job.Links)
		require.Empty(t, job.Reply)
	}

	ids := make(map[string]bool)
	for _, link := range job.Links {
		require.False(t, ids[link.ItemID], "links are unique per item")
		ids[link.ItemID] = true
	}

	// Terminal states are final
	require.ErrorIs(t, job.Transition(models.JobStateResolving), models.ErrInvalidTransition)
}
