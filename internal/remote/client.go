// Package remote talks to the catalog store over HTTP: documents and their
// event streams, the identity provider, and the binary asset store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/heybooks/heybooks-sync/internal/http/response"
	"github.com/heybooks/heybooks-sync/internal/ratelimit"
)

const (
	// Rate limit: 20 requests per second per route family, burst of 40.
	defaultRPS   = 20.0
	defaultBurst = 40

	defaultTimeout = 30 * time.Second
	userAgent      = "HeyBooks/1.0"

	// maxResponseSize bounds envelope bodies. Asset downloads are not read through here.
	maxResponseSize = 16 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL string
	// Token returns the current bearer token, or "" when signed out.
	Token func() string
	// HTTP is used for plain requests. Streams always use a client without a timeout.
	HTTP   *http.Client
	Logger *slog.Logger
}

// Client is a rate-limited client for the catalog store API.
type Client struct {
	baseURL *url.URL
	token   func() string
	http    *http.Client
	stream  *http.Client
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger
}

// New creates a client for the API rooted at opts.BaseURL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: defaultTimeout}
	}
	stream := *opts.HTTP
	stream.Timeout = 0

	return &Client{
		baseURL: base,
		token:   opts.Token,
		http:    opts.HTTP,
		stream:  &stream,
		limiter: ratelimit.New(defaultRPS, defaultBurst),
		logger:  opts.Logger,
	}, nil
}

// Close releases resources held by the client.
func (c *Client) Close() {
	c.limiter.Stop()
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// request describes one API call.
type request struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	token       string
	// family keys the rate limiter.
	family string
}

func (c *Client) newRequest(ctx context.Context, r request) (*http.Request, error) {
	if err := c.limiter.Wait(ctx, r.family); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL.String()+r.path, r.body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	token := r.token
	if token == "" {
		token = c.token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do executes r and decodes the envelope data into out. Non-2xx answers are
// returned as coded domain errors.
func (c *Client) do(ctx context.Context, r request, out any) error {
	req, err := c.newRequest(ctx, r)
	if err != nil {
		return err
	}

	c.logger.Debug("remote request", "method", r.method, "path", r.path)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	return decodeResponse(resp.StatusCode, body, out)
}

// doJSON encodes in as the request body.
func (c *Client) doJSON(ctx context.Context, r request, in, out any) error {
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r.body = bytes.NewReader(raw)
		r.contentType = "application/json"
	}
	return c.do(ctx, r, out)
}

// envelope mirrors response.Envelope with undecoded data.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Success bool            `json:"success"`
}

func (e envelope) asError(status int) error {
	return response.Envelope{Error: e.Error, Code: e.Code, Message: e.Message}.AsError(status)
}

func decodeResponse(status int, body []byte, out any) error {
	var env envelope
	if len(body) > 0 {
		// Bodies that are not envelopes still map to an error by status.
		_ = json.Unmarshal(body, &env)
	}
	if status < 200 || status >= 300 {
		return env.asError(status)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// escape joins escaped path segments.
func escape(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}
