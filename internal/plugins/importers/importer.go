// Package importers holds the site specific importer plugins.
package importers

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
)

// Version is reported in the descriptor of every built-in importer
const Version = "1.0.0"

var (
	// ErrNotMedia is returned when a URL resolves to something other than an image or a video
	ErrNotMedia = errors.New("content is not an image or a video")
	// ErrNothingFound is returned when a page was fetched but no media could be located in it
	ErrNothingFound = errors.New("no media found")
)

// hostRule matches any URL whose host is domain or one of its subdomains
func hostRule(domain string) string {
	return `^https?://([a-z0-9-]+\.)*` + domain + `(:\d+)?(/|\?|#|$)`
}

// importer carries what every built-in importer needs
type importer struct {
	plugins.Base
	rules plugins.Rules
	http  *plugins.Requester
	log   *logrus.Entry
}

func newImporter(name string, opts plugins.Options, rules plugins.Rules) importer {
	requester := opts.Requester
	if requester == nil {
		requester = &plugins.Requester{}
	}
	return importer{
		Base:  plugins.NewBase(name, Version, plugins.KindImporter, opts, rules),
		rules: rules,
		http:  requester,
		log:   opts.Entry(name),
	}
}

// Matches reports whether one of the importer's rules accepts u
func (i *importer) Matches(u *url.URL) bool {
	return i.rules.Match(u)
}

// fail wraps err into a FetchError, classified by its origin
func (i *importer) fail(u *url.URL, err error) *plugins.FetchError {
	class := plugins.Classify(err)
	if errors.Is(err, ErrNotMedia) || errors.Is(err, ErrNothingFound) {
		class = plugins.Permanent
	}
	return plugins.NewFetchError(i.Name(), u.String(), class, err)
}

// probe returns the media kind behind a URL, or false when it is an HTML page or anything else
func (i *importer) probe(ctx context.Context, rawURL string) (models.MediaKind, bool, error) {
	mediaType, err := i.http.Probe(ctx, rawURL)
	if err != nil {
		return "", false, fmt.Errorf("failed to probe %s: %w", rawURL, err)
	}
	kind, ok := models.KindFromContentType(mediaType)
	return kind, ok, nil
}

// resolveRelative turns a possibly protocol-relative or relative reference into an absolute URL
func resolveRelative(base *url.URL, ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("failed to parse media URL %q: %w", ref, err)
	}
	return base.ResolveReference(parsed).String(), nil
}

// single builds a batch holding one item
func single(u *url.URL, contentURL string, kind models.MediaKind, author, title string) *plugins.Batch {
	item := models.NewMediaItem(u.String(), contentURL, 0, kind)
	item.Author = author
	item.Title = title
	return plugins.BatchOf(item)
}
