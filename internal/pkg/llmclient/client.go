// Package llmclient provides a base HTTP client for LLM vendors with:
// - Request marshaling/unmarshaling
// - Retries with exponential backoff for non-streaming calls
// - Standardized error parsing into core.UpstreamError
// - Observability hooks around every upstream request
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"time"

	"chatrelay/internal/core"
	"chatrelay/internal/pkg/httpclient"
)

// RequestInfo describes an upstream request for hooks.
type RequestInfo struct {
	Vendor   string
	Model    string
	Method   string
	Endpoint string
	Stream   bool
}

// ResponseInfo describes the outcome of an upstream request for hooks. For
// streams it reports the response headers, not the end of the body.
type ResponseInfo struct {
	Vendor     string
	Model      string
	Endpoint   string
	Stream     bool
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Hooks observe upstream requests. Either field may be nil.
type Hooks struct {
	// OnRequestStart runs before the request is sent. The returned context
	// is used for the request and passed to OnRequestEnd.
	OnRequestStart func(ctx context.Context, info RequestInfo) context.Context
	// OnRequestEnd runs once per attempt after the response headers arrive
	// or the attempt fails.
	OnRequestEnd func(ctx context.Context, info ResponseInfo)
}

// Config holds configuration for the LLM client
type Config struct {
	// VendorName identifies the vendor in errors and hooks
	VendorName string

	// BaseURL is the API base URL
	BaseURL string

	// Retry configuration
	MaxRetries     int           // Maximum number of retry attempts (default: 3)
	InitialBackoff time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff     time.Duration // Maximum backoff duration (default: 30s)
	BackoffFactor  float64       // Backoff multiplier (default: 2.0)

	Hooks Hooks
}

// DefaultConfig returns default client configuration
func DefaultConfig(vendorName, baseURL string) Config {
	return Config{
		VendorName:     vendorName,
		BaseURL:        baseURL,
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

// HeaderSetter is a function that sets headers on an HTTP request
type HeaderSetter func(req *http.Request)

// Client is a base HTTP client for LLM vendors
type Client struct {
	httpClient   *http.Client
	config       Config
	headerSetter HeaderSetter
}

// New creates a new LLM client with the default HTTP client
func New(config Config, headerSetter HeaderSetter) *Client {
	return NewWithHTTPClient(httpclient.NewDefaultHTTPClient(), config, headerSetter)
}

// NewWithHTTPClient creates a new LLM client with a custom HTTP client
func NewWithHTTPClient(httpClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient()
	}
	return &Client{
		httpClient:   httpClient,
		config:       config,
		headerSetter: headerSetter,
	}
}

// BaseURL returns the current base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	Body     any // Will be JSON marshaled if not nil
	Headers  map[string]string
	// Model is reported to hooks only.
	Model string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
}

// Do executes a request with retries, then unmarshals the response
func (c *Client) Do(ctx context.Context, req Request, result any) error {
	resp, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}

	if result != nil {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return core.NewUpstreamError(c.config.VendorName, http.StatusBadGateway, "failed to unmarshal response: "+err.Error(), err)
		}
	}

	return nil
}

// DoRaw executes a request with retries, returning the raw response
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	maxAttempts := c.config.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		resp, err := c.doRequest(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Only retry on network errors
			lastErr = err
			continue
		}

		if c.isRetryable(resp.StatusCode) {
			lastErr = core.ParseUpstreamError(c.config.VendorName, resp.StatusCode, resp.Body, nil)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, core.ParseUpstreamError(c.config.VendorName, resp.StatusCode, resp.Body, nil)
		}

		return resp, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, core.NewUpstreamError(c.config.VendorName, http.StatusBadGateway, "request failed after retries", nil)
}

// DoStream executes a streaming request, returning the response body.
// Streaming requests are never retried: a second attempt would be a second
// billed completion.
func (c *Client) DoStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	ctx, finish := c.begin(ctx, req, true)

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		finish(0, err)
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			finish(0, ctx.Err())
			return nil, ctx.Err()
		}
		upErr := core.NewUpstreamError(c.config.VendorName, http.StatusBadGateway, "failed to send request: "+err.Error(), err)
		finish(0, upErr)
		return nil, upErr
	}

	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respBody = []byte("failed to read error response")
		}
		_ = resp.Body.Close()

		upErr := core.ParseUpstreamError(c.config.VendorName, resp.StatusCode, respBody, nil)
		finish(resp.StatusCode, upErr)
		return nil, upErr
	}

	finish(resp.StatusCode, nil)
	return resp.Body, nil
}

// doRequest executes a single HTTP request without retries
func (c *Client) doRequest(ctx context.Context, req Request) (resp *Response, err error) {
	ctx, finish := c.begin(ctx, req, false)
	defer func() {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		finish(status, err)
	}()

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewUpstreamError(c.config.VendorName, http.StatusBadGateway, "failed to send request: "+err.Error(), err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, core.NewUpstreamError(c.config.VendorName, http.StatusBadGateway, "failed to read response: "+err.Error(), err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
	}, nil
}

// begin runs OnRequestStart and returns the context to use plus a func that
// reports the outcome to OnRequestEnd.
func (c *Client) begin(ctx context.Context, req Request, stream bool) (context.Context, func(status int, err error)) {
	hooks := c.config.Hooks
	if hooks.OnRequestStart != nil {
		ctx = hooks.OnRequestStart(ctx, RequestInfo{
			Vendor:   c.config.VendorName,
			Model:    req.Model,
			Method:   req.Method,
			Endpoint: req.Endpoint,
			Stream:   stream,
		})
	}
	start := time.Now()
	return ctx, func(status int, err error) {
		if hooks.OnRequestEnd == nil {
			return
		}
		hooks.OnRequestEnd(ctx, ResponseInfo{
			Vendor:     c.config.VendorName,
			Model:      req.Model,
			Endpoint:   req.Endpoint,
			Stream:     stream,
			StatusCode: status,
			Duration:   time.Since(start),
			Err:        err,
		})
	}
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := c.config.BaseURL + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewInvalidRequestError("failed to marshal request", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if requestID := core.GetRequestID(ctx); requestID != "" {
		httpReq.Header.Set(core.RequestIDHeader, requestID)
	}

	if c.headerSetter != nil {
		c.headerSetter(httpReq)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

// calculateBackoff calculates the backoff duration for a given attempt
func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.config.InitialBackoff) * math.Pow(c.config.BackoffFactor, float64(attempt-1))
	if backoff > float64(c.config.MaxBackoff) {
		backoff = float64(c.config.MaxBackoff)
	}
	return time.Duration(backoff)
}

// isRetryable returns true if the status code indicates a retryable error
func (c *Client) isRetryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusGatewayTimeout
}
