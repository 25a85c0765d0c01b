package importers

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
)

var (
	e621PostPath = regexp.MustCompile(`^/(?:posts|post/show)/(\d+)`)
	e621CDNPath  = regexp.MustCompile(`^/data/(?:sample/|preview/)?[0-9a-f]{2}/[0-9a-f]{2}/([0-9a-f]{32})\.\w+$`)
)

// E621 imports posts from e621 and e926 through their JSON API.
// CDN links are looked up by MD5 so the reply can credit the artist.
type E621 struct {
	importer
	apiBase string
}

type e621Post struct {
	ID   int `json:"id"`
	File struct {
		URL string `json:"url"`
		Ext string `json:"ext"`
	} `json:"file"`
	Tags struct {
		Artist []string `json:"artist"`
	} `json:"tags"`
}

// NewE621 creates the importer
func NewE621(opts plugins.Options) (plugins.Plugin, error) {
	return &E621{
		importer: newImporter("e621", opts, plugins.MustCompileRules(
			hostRule(`e621\.net`),
			hostRule(`e926\.net`),
		)),
		apiBase: strings.TrimSuffix(opts.String("api_url", "https://e621.net"), "/"),
	}, nil
}

// Fetch resolves a post page or a CDN file
func (e *E621) Fetch(ctx context.Context, u *url.URL, sub models.Submission) (*plugins.Batch, error) {
	if m := e621CDNPath.FindStringSubmatch(u.Path); m != nil {
		return e.fetchFile(ctx, u, m[1])
	}

	m := e621PostPath.FindStringSubmatch(u.Path)
	if m == nil {
		return nil, e.fail(u, fmt.Errorf("e621 URL without a post: %w", ErrNothingFound))
	}

	var resp struct {
		Post e621Post `json:"post"`
	}
	if err := e.http.GetJSON(ctx, e.apiBase+"/posts/"+m[1]+".json", &resp); err != nil {
		return nil, e.fail(u, err)
	}
	return e.batch(u, resp.Post)
}

// fetchFile handles a direct CDN link. When the post cannot be found the file is mirrored as is.
func (e *E621) fetchFile(ctx context.Context, u *url.URL, md5 string) (*plugins.Batch, error) {
	kind, ok, err := e.probe(ctx, u.String())
	if err != nil {
		return nil, e.fail(u, err)
	}
	if !ok {
		return nil, e.fail(u, ErrNotMedia)
	}

	var resp struct {
		Posts []e621Post `json:"posts"`
	}
	query := url.Values{"tags": {"md5:" + md5}, "limit": {"1"}}
	if err := e.http.GetJSON(ctx, e.apiBase+"/posts.json?"+query.Encode(), &resp); err != nil || len(resp.Posts) == 0 {
		e.log.WithField("md5", md5).Debug("No e621 post for CDN file")
		return single(u, u.String(), kind, "an anonymous user on e621", "").
			WithHeader("Mirrored e621 image:"), nil
	}
	return e.batch(u, resp.Posts[0])
}

func (e *E621) batch(u *url.URL, post e621Post) (*plugins.Batch, error) {
	if post.File.URL == "" {
		// Files of posts hidden to guests have no URL
		return nil, e.fail(u, fmt.Errorf("e621 post %d: %w", post.ID, ErrNothingFound))
	}
	fileURL, err := resolveRelative(u, post.File.URL)
	if err != nil {
		return nil, e.fail(u, err)
	}

	ext := post.File.Ext
	if ext == "" {
		ext = strings.TrimPrefix(path.Ext(post.File.URL), ".")
	}
	kind := models.MediaKindImage
	if lo.Contains([]string{"webm", "mp4"}, strings.ToLower(ext)) {
		kind = models.MediaKindVideo
	}

	artists := lo.Without(post.Tags.Artist, "conditional_dnp", "sound_warning", "unknown_artist")
	if len(artists) == 0 {
		return single(u, fileURL, kind, "an anonymous user on e621", "").
			WithHeader("Mirrored [image](https://e621.net/posts/%d) from e621:", post.ID), nil
	}

	author := strings.Join(artists, ", ")
	credits := lo.Map(artists, func(a string, _ int) string {
		return fmt.Sprintf("[%s](https://e621.net/posts?tags=%s)", a, url.QueryEscape(a))
	})
	return single(u, fileURL, kind, author, "").
		WithHeader("Mirrored [image](https://e621.net/posts/%d) by e621 artist %s:", post.ID, strings.Join(credits, ", ")), nil
}
