// Package notion is the authenticated request pipeline for the Notion REST
// API. It attaches the stored bearer token and protocol version, paces
// requests client-side, retries once when rate limited, and normalizes
// failures into the clipper error taxonomy.
//
// The client never refreshes tokens. Callers that care about session
// longevity run authflow.Flow.RefreshIfNeeded before issuing requests.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/florianilch/notion-clipper/internal/errors"
	"github.com/florianilch/notion-clipper/internal/tokenstore"
)

const (
	// DefaultBaseURL is the root of the Notion REST API.
	DefaultBaseURL = "https://api.notion.com/v1"

	// DefaultVersion is sent as the Notion-Version header.
	DefaultVersion = "2022-06-28"

	// DefaultRequestsPerSecond matches Notion's documented average rate limit.
	DefaultRequestsPerSecond = 3

	maxResponseBytes = 10 << 20
)

// CredentialSource provides the credential to authenticate with.
type CredentialSource interface {
	Credential(ctx context.Context) (*tokenstore.Credential, error)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithVersion overrides the Notion-Version header.
func WithVersion(v string) Option {
	return func(c *Client) { c.version = v }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit paces outgoing requests to rps with the given burst.
// A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithSleep replaces the function used to wait out a Retry-After delay.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// Client issues authenticated requests against the Notion API.
type Client struct {
	baseURL string
	version string
	creds   CredentialSource
	http    *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Client authenticating with credentials from creds.
func New(creds CredentialSource, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		version: DefaultVersion,
		creds:   creds,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), DefaultRequestsPerSecond),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request sends body as JSON to path and returns the raw JSON response.
//
// It fails with NotAuthenticated when no credential is stored. A 429 carrying
// Retry-After is retried exactly once after the advertised delay; every other
// non-success status, including a second 429, fails with ApiError.
func (c *Client) Request(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	cred, err := c.creds.Credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	if cred == nil || cred.AccessToken == "" {
		return nil, apperrors.NewNotAuthenticated()
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
	}

	resp, err := c.do(ctx, method, path, payload, cred.AccessToken)
	if err != nil {
		return nil, err
	}

	if resp.status == http.StatusTooManyRequests {
		if wait, ok := retryAfter(resp.header); ok {
			slog.WarnContext(ctx, "rate limited by notion, retrying once",
				"method", method, "path", path, "retry_after", wait)

			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			resp, err = c.do(ctx, method, path, payload, cred.AccessToken)
			if err != nil {
				return nil, err
			}
		}
	}

	if resp.status < 200 || resp.status > 299 {
		return nil, newAPIError(resp.status, resp.body)
	}

	if len(bytes.TrimSpace(resp.body)) == 0 {
		return json.RawMessage("{}"), nil
	}
	return resp.body, nil
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, token string) (*response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Notion-Version", c.version)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	slog.DebugContext(ctx, "notion request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// maxRetryAfter is the longest advertised delay that is still waited out.
// Longer delays fail the request as if no Retry-After had been sent.
const maxRetryAfter = 60 * time.Second

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 || secs > int(maxRetryAfter/time.Second) {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// newAPIError builds an ApiError, taking the message from Notion's error
// body when it parses.
func newAPIError(status int, body []byte) *apperrors.Error {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Message != "" {
		msg := eb.Message
		if eb.Code != "" {
			msg = fmt.Sprintf("notion api error (%s): %s", eb.Code, eb.Message)
		}
		return apperrors.NewAPIError(status, msg, string(body))
	}
	return apperrors.NewAPIError(status, "", string(body))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
