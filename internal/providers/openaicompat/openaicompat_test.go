package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/core"
	"chatrelay/internal/credentials"
	"chatrelay/internal/providers"
)

func deltaEvent(text string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", text)
}

func upstreamRequest(endpoint string) *providers.UpstreamRequest {
	return &providers.UpstreamRequest{
		Config: providers.UpstreamConfig{
			ModelID:       "siliconflow-qwen",
			Vendor:        credentials.SiliconFlow,
			Endpoint:      endpoint,
			UpstreamModel: "Qwen/Qwen2.5-7B-Instruct",
			APIKey:        "sk-abc",
		},
		Messages: []core.Message{
			{Role: core.RoleSystem, Content: "be brief"},
			{Role: core.RoleUser, Content: "hi"},
		},
		Params: core.Params{Temperature: 0.7, MaxTokens: 2000},
	}
}

func collect(t *testing.T, s core.ChunkStream) (string, *core.Usage) {
	t.Helper()
	var sb strings.Builder
	var usage *core.Usage
	for s.Next() {
		c := s.Chunk()
		sb.WriteString(c.Text)
		if c.Usage != nil {
			usage = c.Usage
		}
	}
	return sb.String(), usage
}

func TestOpen_StreamsChunksInOrder(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-abc", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		for _, part := range []string{"Hel", "lo", ", wor", "ld"} {
			_, _ = io.WriteString(w, deltaEvent(part))
		}
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":4,\"total_tokens\":9}}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	stream, err := New(providers.TransportOptions{}).Open(context.Background(), upstreamRequest(server.URL))
	require.NoError(t, err)
	defer stream.Close()

	text, usage := collect(t, stream)
	require.NoError(t, stream.Err())
	assert.Equal(t, "Hello, world", text)
	require.NotNil(t, usage)
	assert.Equal(t, 9, usage.TotalTokens)

	assert.Equal(t, "Qwen/Qwen2.5-7B-Instruct", received["model"])
	assert.Equal(t, true, received["stream"])
	assert.InDelta(t, 0.7, received["temperature"], 1e-9)
	assert.InDelta(t, 2000, received["max_tokens"], 1e-9)
	assert.Len(t, received["messages"], 2)
}

func TestOpen_RequestBody(t *testing.T) {
	var received chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NotContains(t, string(body), `"role":"data"`)
		assert.Contains(t, string(body), `"max_tokens":0`)
		_ = json.Unmarshal(body, &received)
		_, _ = io.WriteString(w, deltaEvent("ok"))
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	req := upstreamRequest(server.URL)
	req.Messages = []core.Message{
		{Role: core.RoleData, Content: "{}"},
		{Role: core.RoleUser, Content: "hi"},
		{Role: core.RoleAssistant, Content: "hello"},
		{Role: core.RoleData, Content: `{"tool":"x"}`},
		{Role: core.RoleUser, Content: "again"},
	}
	req.Params.MaxTokens = 0

	stream, err := New(providers.TransportOptions{}).Open(context.Background(), req)
	require.NoError(t, err)
	defer stream.Close()
	text, _ := collect(t, stream)
	require.NoError(t, stream.Err())
	assert.Equal(t, "ok", text)

	assert.Equal(t, []chatMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "again"},
	}, received.Messages)
	assert.Equal(t, 0, received.MaxTokens)
}

func TestOpen_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid token"}}`)
	}))
	defer server.Close()

	_, err := New(providers.TransportOptions{}).Open(context.Background(), upstreamRequest(server.URL))

	var upErr *core.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusUnauthorized, upErr.Status)
	assert.Equal(t, "Invalid token", upErr.Message)
	assert.Equal(t, "siliconflow", upErr.Vendor)
}

func TestStream_Failures(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr string
	}{
		{
			name:    "truncated",
			body:    deltaEvent("partial"),
			want:    "partial",
			wantErr: "stream ended unexpectedly",
		},
		{
			name:    "malformed",
			body:    deltaEvent("ok") + "data: {not json\n\n",
			want:    "ok",
			wantErr: "malformed stream chunk",
		},
		{
			name:    "error event",
			body:    deltaEvent("a") + "data: {\"error\":{\"message\":\"quota exceeded\"}}\n\n",
			want:    "a",
			wantErr: "quota exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			stream, err := New(providers.TransportOptions{}).Open(context.Background(), upstreamRequest(server.URL))
			require.NoError(t, err)

			text, _ := collect(t, stream)
			assert.Equal(t, tt.want, text)

			var upErr *core.UpstreamError
			require.True(t, errors.As(stream.Err(), &upErr), "got %v", stream.Err())
			assert.Equal(t, tt.wantErr, upErr.Message)
			assert.False(t, stream.Next(), "a failed stream stays finished")
		})
	}
}

func TestStream_FinishReasonWithoutDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, deltaEvent("fine"))
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
	}))
	defer server.Close()

	stream, err := New(providers.TransportOptions{}).Open(context.Background(), upstreamRequest(server.URL))
	require.NoError(t, err)

	text, _ := collect(t, stream)
	assert.Equal(t, "fine", text)
	assert.NoError(t, stream.Err())
}

func TestStream_CloseAbortsBlockedNext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, deltaEvent("first"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	stream, err := New(providers.TransportOptions{}).Open(context.Background(), upstreamRequest(server.URL))
	require.NoError(t, err)

	require.True(t, stream.Next())
	assert.Equal(t, "first", stream.Chunk().Text)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = stream.Close()
	}()

	assert.False(t, stream.Next())
	assert.ErrorIs(t, stream.Err(), context.Canceled)
	assert.NoError(t, stream.Close(), "Close is idempotent")
}

func TestStream_ContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, deltaEvent("first"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := New(providers.TransportOptions{}).Open(ctx, upstreamRequest(server.URL))
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Next())
	cancel()

	assert.False(t, stream.Next())
	assert.ErrorIs(t, stream.Err(), context.Canceled)
}

func TestStream_CancelDropsBufferedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sb strings.Builder
		for i := 0; i < 10; i++ {
			sb.WriteString(deltaEvent(fmt.Sprintf("c%d ", i)))
		}
		_, _ = io.WriteString(w, sb.String())
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := New(providers.TransportOptions{}).Open(ctx, upstreamRequest(server.URL))
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Next())
	assert.Equal(t, "c0 ", stream.Chunk().Text)
	cancel()

	assert.False(t, stream.Next(), "events read ahead before the cancel are dropped")
	assert.ErrorIs(t, stream.Err(), context.Canceled)
	assert.Empty(t, stream.Chunk().Text)
}

func TestVerify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
			return
		}
		assert.Equal(t, "/models", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":[]}`)
	}))
	defer server.Close()

	tr := New(providers.TransportOptions{})
	cfg := providers.UpstreamConfig{Vendor: credentials.OpenAI, Endpoint: server.URL, APIKey: "sk-good"}
	assert.NoError(t, tr.Verify(context.Background(), cfg))

	cfg.APIKey = "sk-bad"
	err := tr.Verify(context.Background(), cfg)
	var upErr *core.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, "bad key", upErr.Message)
}

func TestSSEDecoder(t *testing.T) {
	dec := newSSEDecoder(strings.NewReader(": comment\nevent: message\ndata: one\ndata: two\n\n\r\ndata: three\r\n\r\ndata: tail"))

	for _, want := range []string{"one\ntwo", "three", "tail"} {
		got, err := dec.next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := dec.next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, providers.RegisteredTransports(), providers.TransportOpenAI)
}
