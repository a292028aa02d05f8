package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/starford/maizedata/internal/storage"
)

const defaultUserAgent = "maize-data/1 (+https://github.com/starford/maizedata)"

// APIError is returned when an upstream responds with a non-2xx status.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Operation, e.StatusCode, e.Message)
}

// Client is the HTTP client shared by all downloaders.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
}

// ClientOption configures the Client during construction.
type ClientOption func(*clientConfig) error

type clientConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
}

// NewClient creates a Client.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	// Copied so the timeout is never set on the caller's client.
	httpClient := &http.Client{}
	if cfg.httpClient != nil {
		c := *cfg.httpClient
		httpClient = &c
	}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		httpClient: httpClient,
		logger:     logger,
		userAgent:  defaultUserAgent,
	}, nil
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) ClientOption {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithTimeout sets a timeout on the HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) error {
		if d < 0 {
			return fmt.Errorf("source: negative timeout %s", d)
		}
		cfg.timeout = d
		return nil
	}
}

// do executes a request and returns the response when the status is 2xx.
// The caller owns the response body.
func (c *Client) do(ctx context.Context, method, operation, rawURL string, query url.Values, header http.Header, body io.Reader) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: parse url: %w", operation, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", operation, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.DebugContext(ctx, "HTTP request", "operation", operation, "method", method, "url", u.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: do request: %w", operation, err)
	}

	c.logger.DebugContext(ctx, "HTTP response", "operation", operation, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := string(bytes.TrimSpace(respBody))
		if msg == "" {
			msg = resp.Status
		}
		return nil, &APIError{Operation: operation, StatusCode: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

// GetJSON issues a GET and decodes the JSON response into dst.
func (c *Client) GetJSON(ctx context.Context, operation, rawURL string, query url.Values, header http.Header, dst any) error {
	resp, err := c.do(ctx, http.MethodGet, operation, rawURL, query, header, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%s: decode response: %w", operation, err)
	}
	return nil
}

// PostJSON encodes body as JSON, POSTs it and decodes the response into dst.
func (c *Client) PostJSON(ctx context.Context, operation, rawURL string, header http.Header, body, dst any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", operation, err)
	}
	resp, err := c.do(ctx, http.MethodPost, operation, rawURL, nil, header, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%s: decode response: %w", operation, err)
	}
	return nil
}

// GetBytes issues a GET and returns the full response body.
func (c *Client) GetBytes(ctx context.Context, operation, rawURL string, query url.Values, header http.Header) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, operation, rawURL, query, header, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", operation, err)
	}
	return data, nil
}

// Download streams a GET response body into name under dst.
func (c *Client) Download(ctx context.Context, operation, rawURL string, query url.Values, header http.Header, dst storage.Provider, name string) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, operation, rawURL, query, header, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := dst.WriteFrom(name, resp.Body)
	if err != nil {
		return n, fmt.Errorf("%s: save %s: %w", operation, name, err)
	}
	return n, nil
}
