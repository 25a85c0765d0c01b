package importers

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
)

// oembedResponse holds the fields of an oEmbed answer used by the importers
type oembedResponse struct {
	Type        string `json:"type"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	AuthorName  string `json:"author_name"`
	FullsizeURL string `json:"fullsize_url"`
}

// oembed queries an oEmbed endpoint and remembers answers for a while,
// so retried jobs and reposts do not hit the provider again.
type oembed struct {
	endpoint string
	http     *plugins.Requester
	cache    *cache.Cache
}

func newOEmbed(endpoint string, http *plugins.Requester, ttl time.Duration) *oembed {
	return &oembed{
		endpoint: endpoint,
		http:     http,
		cache:    cache.New(ttl, 2*ttl),
	}
}

func (o *oembed) lookup(ctx context.Context, pageURL string) (*oembedResponse, error) {
	if cached, ok := o.cache.Get(pageURL); ok {
		return cached.(*oembedResponse), nil
	}

	query := url.Values{}
	query.Set("url", pageURL)
	query.Set("format", "json")

	sep := "?"
	if strings.Contains(o.endpoint, "?") {
		sep = "&"
	}

	var resp oembedResponse
	if err := o.http.GetJSON(ctx, o.endpoint+sep+query.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("failed to query oEmbed endpoint: %w", err)
	}

	o.cache.SetDefault(pageURL, &resp)
	return &resp, nil
}

// Gyazo imports gyazo.com screenshots
type Gyazo struct {
	importer
	oembed *oembed
}

// NewGyazo creates the importer
func NewGyazo(opts plugins.Options) (plugins.Plugin, error) {
	i := newImporter("gyazo", opts, plugins.MustCompileRules(hostRule(`gyazo\.com`)))
	return &Gyazo{
		importer: i,
		oembed:   newOEmbed(opts.String("oembed_url", "https://api.gyazo.com/api/oembed"), i.http, opts.Duration("cache_ttl", time.Hour)),
	}, nil
}

// Fetch links direct images as they are and resolves pages through oEmbed
func (g *Gyazo) Fetch(ctx context.Context, u *url.URL, sub models.Submission) (*plugins.Batch, error) {
	kind, ok, err := g.probe(ctx, u.String())
	if err != nil {
		return nil, g.fail(u, err)
	}
	if ok && kind == models.MediaKindImage {
		return single(u, u.String(), kind, "a gyazo.com user", "").WithHeader("Imported gyazo.com image:"), nil
	}

	resp, err := g.oembed.lookup(ctx, u.String())
	if err != nil {
		return nil, g.fail(u, err)
	}
	if resp.Type != "photo" || resp.URL == "" {
		return nil, g.fail(u, fmt.Errorf("gyazo %s content: %w", resp.Type, ErrNotMedia))
	}

	return single(u, resp.URL, models.MediaKindImage, "a gyazo.com user", resp.Title).
		WithHeader("Imported gyazo.com image:"), nil
}

var deviantArtDirectHost = regexp.MustCompile(`(?i)^((www\.)|(orig.*\.))?deviantart\.net$`)

// DeviantArt imports deviations, preferring the full view image of the page
type DeviantArt struct {
	importer
	oembed *oembed
}

// NewDeviantArt creates the importer
func NewDeviantArt(opts plugins.Options) (plugins.Plugin, error) {
	i := newImporter("deviantart", opts, plugins.MustCompileRules(
		hostRule(`deviantart\.(com|net)`),
		hostRule(`fav\.me`),
	))
	return &DeviantArt{
		importer: i,
		oembed:   newOEmbed(opts.String("oembed_url", "https://backend.deviantart.com/oembed"), i.http, opts.Duration("cache_ttl", time.Hour)),
	}, nil
}

// Fetch resolves a deviation. Flash and other embedded players are refused.
func (d *DeviantArt) Fetch(ctx context.Context, u *url.URL, sub models.Submission) (*plugins.Batch, error) {
	if deviantArtDirectHost.MatchString(u.Hostname()) {
		kind, ok, err := d.probe(ctx, u.String())
		if err != nil {
			return nil, d.fail(u, err)
		}
		if ok && kind == models.MediaKindImage {
			return single(u, u.String(), kind, "an unknown deviantArt author", "").
				WithHeader("Mirrored deviantArt image by an unknown author:"), nil
		}
	}

	resp, err := d.oembed.lookup(ctx, u.String())
	if err != nil {
		return nil, d.fail(u, err)
	}

	var imageURL string
	switch resp.Type {
	case "photo":
		imageURL = resp.URL
	case "link":
		imageURL = resp.FullsizeURL
	default:
		return nil, d.fail(u, fmt.Errorf("deviantArt %s content: %w", resp.Type, ErrNotMedia))
	}

	doc, err := d.http.GetDocument(ctx, u.String())
	if err != nil {
		// The oEmbed answer is enough to mirror something
		d.log.WithError(err).WithField("url", u.String()).Warn("Failed to load deviation page")
	} else {
		if doc.Find("iframe.flashtime, iframe.madefire-player").Length() > 0 {
			return nil, d.fail(u, fmt.Errorf("deviation is an embedded player: %w", ErrNotMedia))
		}
		if src, ok := doc.Find("img.fullview, img.dev-content-full").First().Attr("src"); ok && src != "" {
			if full, err := resolveRelative(u, src); err == nil {
				imageURL = full
			}
		}
	}

	if imageURL == "" {
		return nil, d.fail(u, ErrNothingFound)
	}

	author := resp.AuthorName
	if author == "" {
		author = "an unknown deviantArt author"
	}
	return single(u, imageURL, models.MediaKindImage, author, resp.Title).
		WithHeader("Mirrored deviantArt image by the author %q:", author), nil
}
