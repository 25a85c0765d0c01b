package importers

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
)

// furAffinityGalleryPages bounds the gallery search for a CDN link
const furAffinityGalleryPages = 20

var (
	furAffinityViewPath  = regexp.MustCompile(`^/(?:view|full)/(\d+)`)
	furAffinityCDNPath   = regexp.MustCompile(`^/art/([^/]+)/(\d+)/`)
	furAffinityFullURL   = regexp.MustCompile(`var\s+full_url\s*=\s*"([^"]+)"\s*;`)
	furAffinityThumbnail = regexp.MustCompile(`/(\d+)@\d+-\d+\.\w+$`)
)

// FurAffinity scrapes submission pages, the site has no API.
// CDN links are traced back to their submission through the artist's gallery.
type FurAffinity struct {
	importer
	siteURL string
}

// NewFurAffinity creates the importer
func NewFurAffinity(opts plugins.Options) (plugins.Plugin, error) {
	return &FurAffinity{
		importer: newImporter("furaffinity", opts, plugins.MustCompileRules(
			`^https?://(www\.|sfw\.)?furaffinity\.net/(view|full)/\d+`,
			`^https?://d2?\.(facdn|furaffinity)\.net/art/[^/]+/\d+/`,
		)),
		siteURL: strings.TrimSuffix(opts.String("site_url", "https://www.furaffinity.net"), "/"),
	}, nil
}

// Fetch resolves a submission page or a CDN file
func (f *FurAffinity) Fetch(ctx context.Context, u *url.URL, sub models.Submission) (*plugins.Batch, error) {
	if m := furAffinityViewPath.FindStringSubmatch(u.Path); m != nil {
		return f.fetchSubmission(ctx, u, m[1])
	}

	m := furAffinityCDNPath.FindStringSubmatch(u.Path)
	if m == nil {
		return nil, f.fail(u, fmt.Errorf("furaffinity URL: %w", ErrNothingFound))
	}
	artist, cdnID := m[1], m[2]

	id, err := f.findSubmission(ctx, artist, cdnID)
	if err != nil {
		f.log.WithError(err).WithFields(logrus.Fields{
			"artist": artist,
			"cdn_id": cdnID,
		}).Warn("Could not search FurAffinity gallery")
	}
	if id != "" {
		return f.fetchSubmission(ctx, u, id)
	}

	return single(u, u.String(), models.MediaKindImage, artist, "").
		WithHeader("Mirrored FA image from the artist \"%s\":", f.userPage(artist)), nil
}

func (f *FurAffinity) fetchSubmission(ctx context.Context, u *url.URL, id string) (*plugins.Batch, error) {
	pageURL := f.siteURL + "/view/" + id + "/"
	doc, err := f.http.GetDocument(ctx, pageURL)
	if err != nil {
		return nil, f.fail(u, err)
	}

	imageURL := furAffinityImage(doc)
	if imageURL == "" {
		f.log.WithField("url", pageURL).Warn("Could not locate image to scrape")
		return nil, f.fail(u, fmt.Errorf("furaffinity submission %s: %w", id, ErrNothingFound))
	}
	base, _ := url.Parse(pageURL)
	imageURL, err = resolveRelative(base, imageURL)
	if err != nil {
		return nil, f.fail(u, err)
	}

	artist := strings.TrimSpace(doc.Find("td.cat a").First().Text())
	title := strings.TrimSpace(doc.Find("td.cat b").First().Text())
	if title == "" {
		title = "an Unknown title"
	}

	credit := "an Unknown FA artist"
	if artist != "" {
		credit = f.userPage(artist)
	} else {
		artist = credit
	}
	return single(u, imageURL, models.MediaKindImage, artist, title).
		WithHeader("Mirrored \"[%s](%s)\" by FA artist \"%s\":", title, pageURL, credit), nil
}

// furAffinityImage prefers the full size URL of the page script, #submissionImg
// may only hold a thumbnail
func furAffinityImage(doc *goquery.Document) string {
	if m := furAffinityFullURL.FindStringSubmatch(doc.Find("#page-submission .alt1 script").Text()); m != nil {
		return m[1]
	}
	img := doc.Find("#submissionImg").First()
	if src, ok := img.Attr("data-fullview-src"); ok && src != "" {
		return src
	}
	if src, ok := img.Attr("src"); ok && src != "" {
		return src
	}
	return ""
}

// findSubmission looks for the gallery thumbnail carrying the CDN ID.
// Returns an empty ID when none of the searched pages has it.
func (f *FurAffinity) findSubmission(ctx context.Context, artist, cdnID string) (string, error) {
	for page := 1; page <= furAffinityGalleryPages; page++ {
		galleryURL := fmt.Sprintf("%s/gallery/%s/%d?perpage=72", f.siteURL, url.PathEscape(artist), page)
		doc, err := f.http.GetDocument(ctx, galleryURL)
		if err != nil {
			return "", err
		}

		if src, ok := doc.Find(fmt.Sprintf(`.t-image img[src*=%q], figure img[src*=%q]`, cdnID, cdnID)).First().Attr("src"); ok {
			if m := furAffinityThumbnail.FindStringSubmatch(src); m != nil {
				return m[1], nil
			}
			return "", nil
		}

		next := doc.Find(".pagination .button-link.right").First()
		if _, ok := next.Attr("href"); !ok {
			return "", nil
		}
	}
	return "", nil
}

func (f *FurAffinity) userPage(artist string) string {
	return fmt.Sprintf("[%s](https://www.furaffinity.net/user/%s/)", artist, artist)
}
