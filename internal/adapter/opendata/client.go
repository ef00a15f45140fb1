package opendata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrFetch marks transport failures and non-200 responses.
var ErrFetch = errors.New("fetch failed")

// maxErrorBody bounds how much of a failed response is echoed into the error.
const maxErrorBody = 512

// Response is a fully read upstream response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client issues GET requests against the PRTR open-data endpoint.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	RetryMax int
}

// NewClient creates an open-data client. Retries are off unless RetryMax > 0;
// non-2xx responses are handed back to Fetch rather than turned into
// transport errors.
func NewClient(opts Options, logger *slog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: opts.Timeout}
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = 2 * time.Second
	rc.RetryWaitMax = 30 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = logger

	return &Client{
		http:    rc,
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		logger:  logger,
	}
}

// Fetch performs one GET with the given query parameters and returns the
// body when the status is 200. Any other status is an ErrFetch.
func (c *Client) Fetch(ctx context.Context, query url.Values) (Response, error) {
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}
	if c.apiKey != "" && q.Get("api_key") == "" {
		q.Set("api_key", c.apiKey)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return Response{}, fmt.Errorf("parse base url: %w", err)
	}
	merged := u.Query()
	for k, v := range q {
		merged[k] = v
	}
	u.RawQuery = merged.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/zip")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}

	c.logger.Debug("upstream response",
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)

	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return Response{}, fmt.Errorf("%w: status %d: %s", ErrFetch, resp.StatusCode, body)
	}

	return Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
