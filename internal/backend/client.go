// Package backend talks to the generation service's job status endpoints.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"genwatch/internal/infra"
	"genwatch/internal/stream"
)

// ErrMissingBaseURL indicates the client was configured without an endpoint base.
var ErrMissingBaseURL = errors.New("backend: base url is required")

// ErrMissingIdentity indicates the client was configured without an identity.
var ErrMissingIdentity = errors.New("backend: identity is required")

// Options configures the status client.
type Options struct {
	BaseURL        string
	Identity       string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the generation-status endpoints.
type Client struct {
	baseURL      string
	identity     string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if strings.TrimSpace(opts.Identity) == "" {
		return nil, ErrMissingIdentity
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    baseURL,
		identity:   opts.Identity,
		httpClient: httpClient,
		// Stream connections stay open for the life of a job; no client timeout.
		streamClient: &http.Client{Timeout: 0},
		logger:       opts.Logger,
	}, nil
}

// StreamURL builds the SSE endpoint for one job.
func (c *Client) StreamURL(jobID string) string {
	return fmt.Sprintf("%s/generation-status/%s/stream?email=%s",
		c.baseURL, url.PathEscape(jobID), url.QueryEscape(c.identity))
}

// StatusURL builds the one-shot snapshot endpoint for one job.
func (c *Client) StatusURL(jobID string) string {
	return fmt.Sprintf("%s/generation-status/%s?email=%s",
		c.baseURL, url.PathEscape(jobID), url.QueryEscape(c.identity))
}

// OpenStatusStream opens the server-push connection for jobID.
func (c *Client) OpenStatusStream(ctx context.Context, jobID string) (*stream.Conn, error) {
	conn, err := stream.Dial(ctx, c.streamClient, c.StreamURL(jobID))
	if err != nil {
		return nil, err
	}
	if c.logger != nil {
		c.logger.Debug().Str("job_id", jobID).Msg("status stream opened")
	}
	return conn, nil
}

// GenerationStatus fetches the current status snapshot for jobID and returns
// the raw payload. The caller normalizes it with the statusmsg package.
func (c *Client) GenerationStatus(ctx context.Context, jobID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StatusURL(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("backend: build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: fetch status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("backend: read status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend: status endpoint returned %d", resp.StatusCode)
	}
	return body, nil
}
