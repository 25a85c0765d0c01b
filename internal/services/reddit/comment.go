package reddit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/samber/lo"
)

type commentResponse struct {
	JSON struct {
		Errors [][]interface{} `json:"errors"`
	} `json:"json"`
}

// Reply posts a top level comment under the submission
func (c *Client) Reply(ctx context.Context, submissionID, text string) error {
	var resp commentResponse
	params := url.Values{
		"api_type": {"json"},
		"thing_id": {submissionID},
		"text":     {text},
	}
	if err := c.execute(ctx, "POST", "/api/comment", params, &resp); err != nil {
		return fmt.Errorf("failed to post comment: %w", err)
	}

	if len(resp.JSON.Errors) > 0 {
		messages := lo.Map(resp.JSON.Errors, func(e []interface{}, _ int) string {
			return fmt.Sprint(e...)
		})
		return errors.New("comment rejected: " + strings.Join(messages, "; "))
	}
	return nil
}

// HasReplied reports whether the bot account already commented on the submission
func (c *Client) HasReplied(ctx context.Context, submissionID string) (bool, error) {
	var resp []listing
	params := url.Values{
		"depth":    {"1"},
		"limit":    {"500"},
		"raw_json": {"1"},
	}
	path := "/comments/" + strings.TrimPrefix(submissionID, "t3_")
	if err := c.execute(ctx, "GET", path, params, &resp); err != nil {
		return false, fmt.Errorf("failed to get comments: %w", err)
	}

	// The first listing holds the submission, the second its comments
	if len(resp) < 2 {
		return false, nil
	}
	return lo.ContainsBy(resp[1].things(), func(t thing) bool {
		return strings.EqualFold(t.Author, c.username)
	}), nil
}
