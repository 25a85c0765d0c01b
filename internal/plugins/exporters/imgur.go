// Package exporters holds the destination plugins media is mirrored to.
package exporters

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
)

// Version is reported in the descriptor of every built-in exporter
const Version = "1.0.0"

// Imgur uploads images anonymously to imgur.com.
// Uploads are remembered per media item so a retried job reuses its links.
type Imgur struct {
	plugins.Base
	clientID string
	apiBase  string
	http     *plugins.Requester
	uploads  *cache.Cache
	log      *logrus.Entry
}

type imgurResponse struct {
	Data struct {
		ID         string `json:"id"`
		Link       string `json:"link"`
		DeleteHash string `json:"deletehash"`
		Type       string `json:"type"`
		Error      string `json:"error"`
	} `json:"data"`
	Success bool `json:"success"`
	Status  int  `json:"status"`
}

// NewImgur creates the exporter. The client_id setting is required.
func NewImgur(opts plugins.Options) (plugins.Plugin, error) {
	clientID := opts.String("client_id", "")
	if clientID == "" {
		return nil, &plugins.ConfigurationError{Plugin: "imgur", Reason: "settings.client_id is required"}
	}

	requester := opts.Requester
	if requester == nil {
		requester = &plugins.Requester{}
	}

	ttl := opts.Duration("cache_ttl", 24*time.Hour)
	return &Imgur{
		Base:     plugins.NewBase("imgur", Version, plugins.KindExporter, opts, nil),
		clientID: clientID,
		apiBase:  strings.TrimSuffix(opts.String("api_url", "https://api.imgur.com"), "/"),
		http:     requester,
		uploads:  cache.New(ttl, time.Hour),
		log:      opts.Entry("imgur"),
	}, nil
}

// Supports reports whether imgur can host the media kind
func (i *Imgur) Supports(kind models.MediaKind) bool {
	return kind == models.MediaKindImage
}

// Upload sends the image to imgur, by URL or from the buffered payload
func (i *Imgur) Upload(ctx context.Context, item models.MediaItem) (models.MirrorLink, error) {
	if cached, ok := i.uploads.Get(item.ID); ok {
		i.log.WithField("item_id", item.ID).Debug("Reusing previous upload")
		return cached.(models.MirrorLink), nil
	}

	form := url.Values{}
	switch {
	case len(item.Payload) > 0:
		form.Set("type", "base64")
		form.Set("image", base64.StdEncoding.EncodeToString(item.Payload))
	case item.ContentURL != "":
		form.Set("type", "url")
		form.Set("image", item.ContentURL)
	default:
		return models.MirrorLink{}, plugins.NewUploadError(i.Name(), item.ID, plugins.Permanent, errors.New("item has neither content URL nor payload"))
	}
	form.Set("description", description(item))
	if item.Title != "" {
		form.Set("title", item.Title)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.apiBase+"/3/image", strings.NewReader(form.Encode()))
	if err != nil {
		return models.MirrorLink{}, plugins.NewUploadError(i.Name(), item.ID, plugins.Permanent, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Client-ID "+i.clientID)

	resp, err := i.http.Do(req)
	if err != nil {
		return models.MirrorLink{}, plugins.NewUploadError(i.Name(), item.ID, plugins.Classify(err), err)
	}
	defer resp.Body.Close()

	var result imgurResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.MirrorLink{}, plugins.NewUploadError(i.Name(), item.ID, plugins.Permanent, fmt.Errorf("failed to decode response: %w", err))
	}
	if !result.Success || result.Data.Link == "" {
		cause := &plugins.StatusError{URL: req.URL.String(), Code: result.Status, Body: result.Data.Error}
		return models.MirrorLink{}, plugins.NewUploadError(i.Name(), item.ID, plugins.Classify(cause), cause)
	}

	link := strings.Replace(result.Data.Link, "http://", "https://", 1)
	mirror := models.MirrorLink{
		ItemID:      item.ID,
		URL:         link,
		DirectURL:   link,
		Kind:        "imgur-image",
		Exporter:    i.Name(),
		DeleteToken: result.Data.DeleteHash,
	}
	i.uploads.SetDefault(item.ID, mirror)

	i.log.WithFields(logrus.Fields{
		"item_id": item.ID,
		"link":    link,
	}).Info("Uploaded image to imgur")

	return mirror, nil
}

// Delete removes an anonymous upload with its delete hash
func (i *Imgur) Delete(ctx context.Context, link models.MirrorLink) error {
	if link.DeleteToken == "" {
		return fmt.Errorf("link %s has no delete token", link.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, i.apiBase+"/3/image/"+url.PathEscape(link.DeleteToken), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Client-ID "+i.clientID)

	resp, err := i.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", link.URL, err)
	}
	resp.Body.Close()

	i.uploads.Delete(link.ItemID)
	i.log.WithField("link", link.URL).Info("Deleted imgur upload")
	return nil
}

func description(item models.MediaItem) string {
	author := item.Author
	if author == "" {
		author = "an unknown author"
	}
	source := item.SourceURL
	if source == "" {
		source = "an unknown source"
	}
	return fmt.Sprintf("This is a mirror uploaded by LapisMirror, originally made by %s, located at %s", author, source)
}
