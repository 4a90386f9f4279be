// Package httpclient builds the tuned *http.Client shared by every vendor
// transport.
package httpclient

import (
	"net"
	"net/http"
	"time"

	"chatrelay/config"
)

// ClientConfig holds configuration options for creating HTTP clients
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// Timeout bounds a whole request, body included. Streams that outlive it
	// are cut, so it defaults to ten minutes.
	Timeout time.Duration

	DialTimeout         time.Duration
	KeepAlive           time.Duration
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for the first byte of a vendor
	// response, which for streams is time-to-first-token.
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig returns a ClientConfig with defaults suited to long-running
// streaming completions.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		Timeout:               600 * time.Second,
		DialTimeout:           30 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 600 * time.Second,
	}
}

// FromConfig applies the http section of the application config to the
// defaults. Zero values keep the default.
func FromConfig(cfg config.HTTPConfig) ClientConfig {
	c := DefaultConfig()
	if cfg.Timeout > 0 {
		c.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	if cfg.ResponseHeaderTimeout > 0 {
		c.ResponseHeaderTimeout = time.Duration(cfg.ResponseHeaderTimeout) * time.Second
	}
	return c
}

// NewHTTPClient creates a new HTTP client with the provided configuration.
// If config is nil, DefaultConfig() is used.
func NewHTTPClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// NewDefaultHTTPClient is NewHTTPClient(nil).
func NewDefaultHTTPClient() *http.Client {
	return NewHTTPClient(nil)
}
