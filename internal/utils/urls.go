package utils

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

var urlRegex = regexp.MustCompile(`https?://[^\s<>"'\[\]()]+`)

// ExtractURLs finds every absolute http(s) URL in a submission body.
// Markdown and HTML escaping is undone, trailing punctuation is trimmed
// and duplicates are removed while keeping first-seen order.
func ExtractURLs(body string) []*url.URL {
	matches := urlRegex.FindAllString(html.UnescapeString(body), -1)
	matches = lo.Map(matches, func(raw string, _ int) string {
		return strings.TrimRight(raw, ".,;:!?*_~")
	})

	var urls []*url.URL
	for _, raw := range lo.Uniq(matches) {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		urls = append(urls, u)
	}
	return urls
}
