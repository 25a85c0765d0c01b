package importers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
)

// Derpibooru imports images from derpibooru, using the JSON view of a post
// unless the URL already points at the CDN
type Derpibooru struct {
	importer
}

type derpibooruImage struct {
	Image    string `json:"image"`
	Uploader string `json:"uploader"`
}

// NewDerpibooru creates the importer
func NewDerpibooru(opts plugins.Options) (plugins.Plugin, error) {
	return &Derpibooru{
		importer: newImporter("derpibooru", opts, plugins.MustCompileRules(
			hostRule(`derpiboo\.ru`),
			hostRule(`derpibooru\.org`),
			hostRule(`derpicdn\.net`),
		)),
	}, nil
}

// Fetch resolves a post or CDN URL
func (d *Derpibooru) Fetch(ctx context.Context, u *url.URL, sub models.Submission) (*plugins.Batch, error) {
	kind, ok, err := d.probe(ctx, u.String())
	if err != nil {
		return nil, d.fail(u, err)
	}
	if ok {
		return single(u, u.String(), kind, "a Derpibooru user", "").
			WithHeader("Mirrored Derpibooru image:"), nil
	}

	endpoint := *u
	endpoint.RawQuery = ""
	endpoint.Fragment = ""
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + ".json"
	endpoint.RawPath = ""

	var post derpibooruImage
	if err := d.http.GetJSON(ctx, endpoint.String(), &post); err != nil {
		return nil, d.fail(u, err)
	}
	if post.Image == "" {
		return nil, d.fail(u, fmt.Errorf("derpibooru post: %w", ErrNothingFound))
	}

	imageURL, err := resolveRelative(u, post.Image)
	if err != nil {
		return nil, d.fail(u, err)
	}

	uploader := post.Uploader
	if uploader == "" {
		uploader = "a Derpibooru user"
	}
	return single(u, imageURL, models.MediaKindImage, uploader, "").
		WithHeader("Mirrored Derpibooru image uploaded by %s:", uploader), nil
}
