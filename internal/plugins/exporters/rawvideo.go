package exporters

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
)

// RawVideo links videos that are already served directly by their host
type RawVideo struct {
	plugins.Base
	http *plugins.Requester
	log  *logrus.Entry
}

// NewRawVideo creates the exporter
func NewRawVideo(opts plugins.Options) (plugins.Plugin, error) {
	requester := opts.Requester
	if requester == nil {
		requester = &plugins.Requester{}
	}
	return &RawVideo{
		Base: plugins.NewBase("rawvideo", Version, plugins.KindExporter, opts, nil),
		http: requester,
		log:  opts.Entry("rawvideo"),
	}, nil
}

// Supports reports whether the media kind is a video
func (r *RawVideo) Supports(kind models.MediaKind) bool {
	return kind == models.MediaKindVideo
}

// Upload checks that the content URL serves a video and links it directly
func (r *RawVideo) Upload(ctx context.Context, item models.MediaItem) (models.MirrorLink, error) {
	if item.ContentURL == "" {
		return models.MirrorLink{}, plugins.NewUploadError(r.Name(), item.ID, plugins.Permanent, errors.New("item has no content URL"))
	}

	mediaType, err := r.http.Probe(ctx, item.ContentURL)
	if err != nil {
		return models.MirrorLink{}, plugins.NewUploadError(r.Name(), item.ID, plugins.Classify(err), err)
	}
	if kind, ok := models.KindFromContentType(mediaType); !ok || kind != models.MediaKindVideo {
		r.log.WithField("url", item.ContentURL).Debug("URL is not a video")
		return models.MirrorLink{}, plugins.NewUploadError(r.Name(), item.ID, plugins.Permanent, fmt.Errorf("%s serves %q, not a video", item.ContentURL, mediaType))
	}

	return models.MirrorLink{
		ItemID:    item.ID,
		URL:       item.ContentURL,
		DirectURL: item.ContentURL,
		Kind:      "direct-video",
		Exporter:  r.Name(),
	}, nil
}
