package importers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
)

// Direct imports URLs that already point at an image or a video on a host
// known to delete content over time
type Direct struct {
	importer
	author string
	header string
}

// NewFourChan creates the importer for 4chan's image CDN, which 404s threads quickly
func NewFourChan(opts plugins.Options) (plugins.Plugin, error) {
	return &Direct{
		importer: newImporter("fourchan", opts, plugins.MustCompileRules(`^https?://i\.4cdn\.org/`)),
		author:   "the famed 4chan Anonymous",
		header:   "Mirrored 4chan image, as it will inevitably 404:",
	}, nil
}

// NewGifsCom creates the importer for gifs.com
func NewGifsCom(opts plugins.Options) (plugins.Plugin, error) {
	return &Direct{
		importer: newImporter("gifscom", opts, plugins.MustCompileRules(hostRule(`gifs\.com`))),
		author:   "a gifs.com user",
		header:   "Mirrored gifs.com image:",
	}, nil
}

// Fetch checks the content type of the URL and links it as is
func (d *Direct) Fetch(ctx context.Context, u *url.URL, sub models.Submission) (*plugins.Batch, error) {
	kind, ok, err := d.probe(ctx, u.String())
	if err != nil {
		return nil, d.fail(u, err)
	}
	if !ok {
		d.log.WithField("url", u.String()).Warn("URL posted that is not an image")
		return nil, d.fail(u, fmt.Errorf("%s: %w", u.String(), ErrNotMedia))
	}
	return single(u, u.String(), kind, d.author, "").WithHeader("%s", d.header), nil
}
