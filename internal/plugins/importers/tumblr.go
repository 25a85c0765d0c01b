package importers

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"

	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
)

var tumblrPostPattern = regexp.MustCompile(`(?i)^https?://([a-z0-9-]+\.tumblr\.com)/(?:post|image)/(\d+)(?:[/?#].*)?$`)

// Tumblr imports photosets, inline images and videos through the Tumblr API v2
type Tumblr struct {
	importer
	apiKey  string
	apiBase string
}

type tumblrResponse struct {
	Meta struct {
		Status int    `json:"status"`
		Msg    string `json:"msg"`
	} `json:"meta"`
	Response struct {
		Blog struct {
			Name  string `json:"name"`
			Title string `json:"title"`
		} `json:"blog"`
		Posts []tumblrPost `json:"posts"`
	} `json:"response"`
}

type tumblrPost struct {
	Type     string `json:"type"`
	VideoURL string `json:"video_url"`
	Photos   []struct {
		OriginalSize struct {
			URL string `json:"url"`
		} `json:"original_size"`
	} `json:"photos"`
	Caption  string `json:"caption"`
	Body     string `json:"body"`
	Answer   string `json:"answer"`
	Question string `json:"question"`
}

// NewTumblr creates the importer. The api_key setting is required.
func NewTumblr(opts plugins.Options) (plugins.Plugin, error) {
	apiKey := opts.String("api_key", "")
	if apiKey == "" {
		return nil, &plugins.ConfigurationError{Plugin: "tumblr", Reason: "settings.api_key is required"}
	}
	return &Tumblr{
		importer: newImporter("tumblr", opts, plugins.MustCompileRules(tumblrPostPattern.String())),
		apiKey:   apiKey,
		apiBase:  strings.TrimSuffix(opts.String("api_url", "https://api.tumblr.com"), "/"),
	}, nil
}

// Fetch queries the post and yields its media in photoset order
func (t *Tumblr) Fetch(ctx context.Context, u *url.URL, sub models.Submission) (*plugins.Batch, error) {
	match := tumblrPostPattern.FindStringSubmatch(u.String())
	if match == nil {
		return nil, t.fail(u, fmt.Errorf("not a tumblr post URL"))
	}
	blog, postID := match[1], match[2]

	query := url.Values{}
	query.Set("api_key", t.apiKey)
	query.Set("id", postID)
	query.Set("filter", "raw")
	endpoint := fmt.Sprintf("%s/v2/blog/%s/posts?%s", t.apiBase, blog, query.Encode())

	t.log.WithField("blog", blog).WithField("post_id", postID).Debug("Querying Tumblr API")

	var resp tumblrResponse
	if err := t.http.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, t.fail(u, fmt.Errorf("failed to query tumblr API: %w", err))
	}
	if resp.Meta.Status != 0 && resp.Meta.Status != 200 {
		return nil, t.fail(u, &plugins.StatusError{URL: endpoint, Code: resp.Meta.Status, Body: resp.Meta.Msg})
	}
	if len(resp.Response.Posts) == 0 {
		return nil, t.fail(u, fmt.Errorf("post %s: %w", postID, ErrNothingFound))
	}

	author := resp.Response.Blog.Title
	if author == "" {
		author = resp.Response.Blog.Name
	}
	post := resp.Response.Posts[0]

	if post.VideoURL != "" {
		return single(u, post.VideoURL, models.MediaKindVideo, author, "").
			WithHeader("Mirrored post from the tumblr blog %q:", author), nil
	}

	header := fmt.Sprintf("Mirrored post from the tumblr blog %q:", author)
	var missing []int
	photos := make([]string, 0, len(post.Photos))
	for i, photo := range post.Photos {
		if photo.OriginalSize.URL == "" {
			missing = append(missing, i+1)
			continue
		}
		photos = append(photos, photo.OriginalSize.URL)
	}

	var inline []string
	switch {
	case len(post.Photos) > 0:
		// Large photosets spill over into inline caption images
		inline = t.inlineImages(post.Caption)
	case post.Body != "":
		inline = t.inlineImages(post.Body)
	case post.Answer != "":
		inline = t.inlineImages(post.Answer)
		if post.Question != "" {
			header += "\n\nQuestion from the post:  \n" + post.Question
		}
	}

	contentURLs := lo.Uniq(append(photos, inline...))
	if len(contentURLs) == 0 {
		return nil, t.fail(u, fmt.Errorf("post %s: %w", postID, ErrNothingFound))
	}

	batch := plugins.NewBatch(func(yield func(models.MediaItem) bool) {
		for i, contentURL := range contentURLs {
			item := models.NewMediaItem(u.String(), contentURL, i, models.MediaKindImage)
			item.Author = author
			if !yield(item) {
				return
			}
		}
	}).WithHeader("%s", header)

	for _, n := range missing {
		batch.Warn("tumblr photo %d of post %s has no original size", n, postID)
	}
	return batch, nil
}

// inlineImages returns the absolute image sources of an HTML fragment
func (t *Tumblr) inlineImages(fragment string) []string {
	if fragment == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		t.log.WithError(err).Warn("Failed to parse tumblr post HTML")
		return nil
	}
	var srcs []string
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		if strings.HasPrefix(src, "http") {
			srcs = append(srcs, src)
		}
	})
	return srcs
}
