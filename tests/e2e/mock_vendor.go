//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockVendor simulates an OpenAI-compatible vendor streaming SSE.
type MockVendor struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest
	chunks   []string
	failCode int
	failBody string
	hold     chan struct{}
}

// RecordedRequest stores what the vendor received.
type RecordedRequest struct {
	Path          string
	Authorization string
	Body          VendorRequest
}

// VendorRequest is the decoded completion request.
type VendorRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Stream        bool    `json:"stream"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	StreamOptions struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options"`
}

// NewMockVendor starts the mock.
func NewMockVendor() *MockVendor {
	m := &MockVendor{chunks: []string{"Hello", " from", " the", " mock"}}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *MockVendor) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body VendorRequest
	_ = json.Unmarshal(raw, &body)

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		Body:          body,
	})
	chunks := append([]string(nil), m.chunks...)
	failCode, failBody := m.failCode, m.failBody
	hold := m.hold
	m.mu.Unlock()

	if r.URL.Path == "/models" {
		if r.Header.Get("Authorization") != "Bearer sk-valid" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"Invalid token"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"data":[]}`)
		return
	}

	if failCode != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(failCode)
		_, _ = io.WriteString(w, failBody)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for i, c := range chunks {
		if hold != nil && i == 1 {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
		payload, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": c}}},
		})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
	}
	_, _ = io.WriteString(w, `data: {"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`+"\n\n")
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
}

// URL returns the base URL to configure as the vendor endpoint.
func (m *MockVendor) URL() string {
	return m.server.URL
}

// Close stops the mock.
func (m *MockVendor) Close() {
	m.server.Close()
}

// Reset restores the default script and forgets recorded requests.
func (m *MockVendor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.chunks = []string{"Hello", " from", " the", " mock"}
	m.failCode, m.failBody = 0, ""
	m.hold = nil
}

// Script replaces the chunks streamed for the next completions.
func (m *MockVendor) Script(chunks ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = chunks
}

// Fail makes completions answer with code and body.
func (m *MockVendor) Fail(code int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCode, m.failBody = code, body
}

// Hold blocks completions after the first chunk until the returned channel
// is closed or the client goes away.
func (m *MockVendor) Hold() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = make(chan struct{})
	return m.hold
}

// Requests returns the completion requests received.
func (m *MockVendor) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, 0, len(m.requests))
	for _, r := range m.requests {
		if strings.HasSuffix(r.Path, "/chat/completions") {
			out = append(out, r)
		}
	}
	return out
}
