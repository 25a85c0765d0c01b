package exporters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
)

func testOptions(settings map[string]interface{}) plugins.Options {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return plugins.Options{
		Requester: &plugins.Requester{Client: http.DefaultClient},
		Logger:    logger,
		Settings:  settings,
	}
}

func newImgur(t *testing.T, server *httptest.Server) *Imgur {
	t.Helper()
	p, err := NewImgur(testOptions(map[string]interface{}{"client_id": "cid", "api_url": server.URL}))
	require.NoError(t, err)
	return p.(*Imgur)
}

func TestImgur_RequiresClientID(t *testing.T) {
	_, err := NewImgur(testOptions(nil))
	var cfgErr *plugins.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestImgur_UploadIsIdempotent(t *testing.T) {
	var uploads atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/image", r.URL.Path)
		assert.Equal(t, "Client-ID cid", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "url", r.PostForm.Get("type"))
		assert.Equal(t, "https://cdn.test/a.png", r.PostForm.Get("image"))
		assert.Contains(t, r.PostForm.Get("description"), "Some Blog")

		n := uploads.Add(1)
		fmt.Fprintf(w, `{"data":{"id":"id%d","link":"http://i.imgur.com/id%d.png","deletehash":"hash%d"},"success":true,"status":200}`, n, n, n)
	}))
	defer server.Close()

	imgur := newImgur(t, server)
	item := models.NewMediaItem("https://blog.tumblr.com/post/1", "https://cdn.test/a.png", 0, models.MediaKindImage)
	item.Author = "Some Blog"

	first, err := imgur.Upload(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "https://i.imgur.com/id1.png", first.URL)
	assert.Equal(t, "hash1", first.DeleteToken)
	assert.Equal(t, item.ID, first.ItemID)
	assert.Equal(t, "imgur", first.Exporter)

	second, err := imgur.Upload(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), uploads.Load(), "a retried upload must not create a second copy")
}

func TestImgur_ErrorClasses(t *testing.T) {
	var status atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := int(status.Load())
		w.WriteHeader(code)
		fmt.Fprintf(w, `{"data":{"error":"nope"},"success":false,"status":%d}`, code)
	}))
	defer server.Close()

	imgur := newImgur(t, server)
	item := models.NewMediaItem("s", "https://cdn.test/a.png", 0, models.MediaKindImage)

	status.Store(http.StatusTooManyRequests)
	_, err := imgur.Upload(context.Background(), item)
	var uploadErr *plugins.UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, plugins.Transient, uploadErr.Class)

	status.Store(http.StatusBadRequest)
	_, err = imgur.Upload(context.Background(), item)
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, plugins.Permanent, uploadErr.Class)
}

func TestImgur_Delete(t *testing.T) {
	var deleted atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleted.Store(r.URL.Path)
			fmt.Fprint(w, `{"data":true,"success":true,"status":200}`)
			return
		}
		fmt.Fprint(w, `{"data":{"id":"x","link":"https://i.imgur.com/x.png","deletehash":"dh"},"success":true,"status":200}`)
	}))
	defer server.Close()

	imgur := newImgur(t, server)
	item := models.NewMediaItem("s", "https://cdn.test/a.png", 0, models.MediaKindImage)

	link, err := imgur.Upload(context.Background(), item)
	require.NoError(t, err)
	require.NoError(t, imgur.Delete(context.Background(), link))
	assert.Equal(t, "/3/image/dh", deleted.Load())

	_, cached := imgur.uploads.Get(item.ID)
	assert.False(t, cached, "a deleted upload is forgotten")

	assert.Error(t, imgur.Delete(context.Background(), models.MirrorLink{URL: "x"}))
}

func TestImgur_Supports(t *testing.T) {
	p, err := NewImgur(testOptions(map[string]interface{}{"client_id": "cid"}))
	require.NoError(t, err)
	exporter := p.(plugins.Exporter)
	assert.True(t, exporter.Supports(models.MediaKindImage))
	assert.False(t, exporter.Supports(models.MediaKindVideo))
}

func TestRawVideo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		switch r.URL.Path {
		case "/v.mp4":
			w.Header().Set("Content-Type", "video/mp4")
		case "/gone.mp4":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Header().Set("Content-Type", "text/html")
		}
	}))
	defer server.Close()

	p, err := NewRawVideo(testOptions(nil))
	require.NoError(t, err)
	exporter := p.(plugins.Exporter)
	assert.True(t, exporter.Supports(models.MediaKindVideo))
	assert.False(t, exporter.Supports(models.MediaKindImage))

	item := models.NewMediaItem("s", server.URL+"/v.mp4", 0, models.MediaKindVideo)
	link, err := exporter.Upload(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/v.mp4", link.URL)
	assert.Equal(t, "direct-video", link.Kind)

	_, err = exporter.Upload(context.Background(), models.NewMediaItem("s", server.URL+"/page", 0, models.MediaKindVideo))
	require.Error(t, err)
	assert.False(t, plugins.IsTransient(err))

	_, err = exporter.Upload(context.Background(), models.NewMediaItem("s", server.URL+"/gone.mp4", 0, models.MediaKindVideo))
	require.Error(t, err)
	assert.False(t, plugins.IsTransient(err))
}
