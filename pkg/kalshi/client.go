package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gopher-lab/weathertrader/internal/faults"
)

const (
	// ProdBaseURL is the production API base URL.
	ProdBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

	// DemoBaseURL is the demo/sandbox API base URL.
	DemoBaseURL = "https://demo-api.kalshi.co/trade-api/v2"

	// signPrefix is always part of the signed path, even when the base URL
	// already contains it.
	signPrefix = "/trade-api/v2"

	// requestsPerSecond and burst configure the client token bucket.
	requestsPerSecond = 10
	burst             = 10
)

// Client is the authenticated REST client.
type Client struct {
	baseURL    string
	apiKey     string
	key        *SigningKey
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithDemo points the client at the sandbox environment.
func WithDemo() Option {
	return func(c *Client) { c.baseURL = DemoBaseURL }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates an authenticated REST client. EC signing keys are
// accepted but warned about: the exchange documents RSA-PSS only.
func NewClient(apiKey string, key *SigningKey, opts ...Option) *Client {
	c := &Client{
		baseURL:    ProdBaseURL,
		apiKey:     apiKey,
		key:        key,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(requestsPerSecond, burst),
		logger:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if key != nil && key.IsEC() {
		c.logger.Warn().Msg("EC signing key configured; the exchange documents RSA-PSS keys only")
	}

	return c
}

// request makes one authenticated API request. Every call acquires a
// token from the bucket before anything goes on the wire.
func (c *Client) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, faults.Wrap(faults.ErrConnection, "rate limiter wait", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, faults.Wrap(faults.ErrInput, "marshal request body", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, faults.Wrap(faults.ErrInput, "build request", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	signature, err := c.key.Signature(timestamp, method, signPrefix+path)
	if err != nil {
		return nil, faults.Wrap(faults.ErrAuthFailure, "generate signature", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKey)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", signature)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.ErrConnection, method+" "+path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Wrap(faults.ErrConnection, "read response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	return nil, c.taxonomize(resp, respBody, method, path)
}

// taxonomize maps a non-2xx response onto the closed error taxonomy.
func (c *Client) taxonomize(resp *http.Response, body []byte, method, path string) error {
	message := parseErrorMessage(body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return faults.New(faults.ErrAuthFailure, message).
			With("path", path)

	case resp.StatusCode == http.StatusTooManyRequests:
		return faults.New(faults.ErrRateLimited, message).
			With("path", path).
			With("retry_after", resp.Header.Get("Retry-After"))

	case resp.StatusCode == http.StatusBadRequest && isOrderEndpoint(path):
		return faults.New(faults.ErrOrderRejected, message).
			With("path", path)

	default:
		return faults.New(faults.ErrAPI, message).
			With("path", path).
			With("method", method).
			With("status", resp.StatusCode)
	}
}

// parseErrorMessage pulls the message field out of an error body, falling
// back to the raw body.
func parseErrorMessage(body []byte) string {
	var flat struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Message != "" {
		return flat.Message
	}

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}

	s := strings.TrimSpace(string(body))
	if s == "" {
		s = "request failed"
	}
	return s
}

func isOrderEndpoint(path string) bool {
	return strings.HasPrefix(path, "/portfolio/orders")
}

// get makes a GET request and unmarshals into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return faults.Wrap(faults.ErrAPI, "unmarshal response", err).With("path", path)
	}
	return nil
}

// post makes a POST request and unmarshals into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := c.request(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return faults.Wrap(faults.ErrAPI, "unmarshal response", err).With("path", path)
	}
	return nil
}

// del makes a DELETE request and unmarshals into out.
func (c *Client) del(ctx context.Context, path string, out any) error {
	data, err := c.request(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return faults.Wrap(faults.ErrAPI, "unmarshal response", err).With("path", path)
	}
	return nil
}
