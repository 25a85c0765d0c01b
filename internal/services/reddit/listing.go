package reddit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/amaumene/lapis/internal/models"
)

// thing is the subset of link and comment fields the bot reads
type thing struct {
	Name       string  `json:"name"`
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	Selftext   string  `json:"selftext"`
	Body       string  `json:"body"`
	Author     string  `json:"author"`
	Subreddit  string  `json:"subreddit"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
	IsSelf     bool    `json:"is_self"`
}

type child struct {
	Kind string `json:"kind"`
	Data thing  `json:"data"`
}

type listing struct {
	Data struct {
		Children []child `json:"children"`
	} `json:"data"`
}

func (l listing) things() []thing {
	return lo.Map(l.Data.Children, func(c child, _ int) thing {
		return c.Data
	})
}

// NewSubmissions lists the newest submissions of a subreddit, newest first
func (c *Client) NewSubmissions(ctx context.Context, subreddit string, limit int) ([]models.Submission, error) {
	if limit <= 0 {
		limit = 25
	}

	var resp listing
	params := url.Values{
		"limit":    {strconv.Itoa(limit)},
		"raw_json": {"1"},
	}
	if err := c.execute(ctx, "GET", "/r/"+subreddit+"/new", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}

	return lo.Map(resp.things(), func(t thing, _ int) models.Submission {
		return t.submission()
	}), nil
}

func (t thing) submission() models.Submission {
	name := t.Name
	if name == "" {
		name = "t3_" + t.ID
	}

	// Self posts link to themselves, the media is in the text
	body := t.Selftext
	if !t.IsSelf && t.URL != "" {
		body = strings.TrimSpace(t.URL + "\n" + t.Selftext)
	}

	return models.Submission{
		ID:        name,
		Body:      body,
		Author:    t.Author,
		Subreddit: t.Subreddit,
		Permalink: t.Permalink,
		CreatedAt: time.Unix(int64(t.CreatedUTC), 0),
	}
}
