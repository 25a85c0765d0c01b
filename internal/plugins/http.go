package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// StatusError is returned when a remote site answers with an unexpected status
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.URL, e.Code)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.URL, e.Code, e.Body)
}

// NewHTTPClient creates the HTTP client shared by plugins
func NewHTTPClient(timeout time.Duration) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = 10
	t.IdleConnTimeout = 30 * time.Second
	t.ResponseHeaderTimeout = 30 * time.Second
	return &http.Client{
		Timeout:   timeout,
		Transport: t,
	}
}

// ClassifyStatus maps an HTTP status to an error class
func ClassifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= 500:
		return Transient
	default:
		return Permanent
	}
}

// Classify decides whether an error from a remote call may be retried.
// Timeouts, network failures and retryable statuses are transient;
// cancellation, decoding problems and client errors are permanent.
func Classify(err error) ErrorClass {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return ClassifyStatus(statusErr.Code)
	}
	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return Transient
	}
	return Permanent
}

// Requester performs the HTTP calls made by plugins
type Requester struct {
	Client    *http.Client
	UserAgent string
}

// Do sends a request and fails with *StatusError on non-2xx answers
func (r *Requester) Do(req *http.Request) (*http.Response, error) {
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{URL: req.URL.String(), Code: resp.StatusCode, Body: string(body)}
	}

	return resp, nil
}

// Probe issues a HEAD request and returns the media type of the resource
func (r *Requester) Probe(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		return "", nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("failed to parse content type %q: %w", contentType, err)
	}
	return mediaType, nil
}

// GetJSON fetches a URL and decodes the JSON body into result
func (r *Requester) GetJSON(ctx context.Context, rawURL string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetDocument fetches a URL and parses it as HTML
func (r *Requester) GetDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}
