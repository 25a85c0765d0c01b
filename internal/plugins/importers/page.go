package importers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
)

// Page imports sites that publish their media in the HTML of a page.
// Direct image links are taken as they are; otherwise the page is fetched
// and the image located with a CSS selector or the og:image meta tag.
type Page struct {
	importer
	selector      string // Optional, tried before og:image
	defaultAuthor string
	site          string
}

func newPage(name, site, defaultAuthor string, opts plugins.Options, rules plugins.Rules, selector string) *Page {
	return &Page{
		importer:      newImporter(name, opts, rules),
		selector:      opts.String("selector", selector),
		defaultAuthor: defaultAuthor,
		site:          site,
	}
}

// NewArtStation creates the importer for artstation.com
func NewArtStation(opts plugins.Options) (plugins.Plugin, error) {
	return newPage("artstation", "Artstation", "an unknown Artstation artist", opts,
		plugins.MustCompileRules(hostRule(`artstation\.com`)), ""), nil
}

// NewDrawCrowd creates the importer for drawcrowd.com
func NewDrawCrowd(opts plugins.Options) (plugins.Plugin, error) {
	return newPage("drawcrowd", "drawcrowd", "an unknown drawcrowd author", opts,
		plugins.MustCompileRules(hostRule(`drawcrowd\.com`)), ""), nil
}

// NewFlickr creates the importer for flickr.com
func NewFlickr(opts plugins.Options) (plugins.Plugin, error) {
	return newPage("flickr", "flickr.com", "a flickr.com user", opts,
		plugins.MustCompileRules(hostRule(`flickr\.com`), hostRule(`flic\.kr`)), ""), nil
}

// NewTinypic creates the importer for tinypic.com
func NewTinypic(opts plugins.Options) (plugins.Plugin, error) {
	return newPage("tinypic", "tinypic", "an anonymous Tinypic user", opts,
		plugins.MustCompileRules(hostRule(`tinypic\.com`)), "div#imgFrame img"), nil
}

// Fetch resolves the image behind a page URL
func (p *Page) Fetch(ctx context.Context, u *url.URL, sub models.Submission) (*plugins.Batch, error) {
	kind, ok, err := p.probe(ctx, u.String())
	if err != nil {
		return nil, p.fail(u, err)
	}
	if ok {
		return single(u, u.String(), kind, p.defaultAuthor, "").
			WithHeader("Mirrored %s image:", p.site), nil
	}

	doc, err := p.http.GetDocument(ctx, u.String())
	if err != nil {
		return nil, p.fail(u, err)
	}

	imageURL := p.locate(doc)
	if imageURL == "" {
		p.log.WithField("url", u.String()).Warn("Could not locate image to scrape")
		return nil, p.fail(u, fmt.Errorf("%s page: %w", p.site, ErrNothingFound))
	}
	imageURL, err = resolveRelative(u, imageURL)
	if err != nil {
		return nil, p.fail(u, err)
	}

	author := p.defaultAuthor
	title := metaContent(doc, "og:title")
	if title != "" {
		author = title
	}

	return single(u, imageURL, models.MediaKindImage, author, title).
		WithHeader("Mirrored image from %s:", author), nil
}

func (p *Page) locate(doc *goquery.Document) string {
	if p.selector != "" {
		if src, ok := doc.Find(p.selector).First().Attr("src"); ok && src != "" {
			return src
		}
	}
	return metaContent(doc, "og:image")
}

// metaContent returns the content of a <meta property=...> or <meta name=...> tag
func metaContent(doc *goquery.Document, property string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, property, property)).First()
	content, _ := sel.Attr("content")
	return strings.TrimSpace(content)
}
