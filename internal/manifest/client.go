// Package manifest fetches the app manifest an origin publishes under /.well-known.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// WellKnownPath is where an origin publishes its manifest.
const WellKnownPath = "/.well-known/farcaster.json"

const userAgent = "Mini-App-Debugger/1.0"

// maxBodySize bounds how much of an upstream manifest is read.
const maxBodySize = 1 << 20

// ErrInvalidOrigin is returned when the origin is not an absolute http(s) URL.
var ErrInvalidOrigin = errors.New("invalid origin URL provided")

// StatusError is returned when the origin answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// Client is an HTTP client for origin manifests.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new manifest client.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ManifestURL returns the manifest location for origin. Only the scheme and
// host of origin are used.
func ManifestURL(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidOrigin
	}
	return u.Scheme + "://" + u.Host + WellKnownPath, nil
}

// Fetch calls GET <origin>/.well-known/farcaster.json and returns the
// decoded JSON document.
func (c *Client) Fetch(ctx context.Context, origin string) (json.RawMessage, error) {
	manifestURL, err := ManifestURL(origin)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("manifest at %s is not valid JSON", manifestURL)
	}

	return json.RawMessage(body), nil
}
