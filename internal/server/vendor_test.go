package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/chat"
	"chatrelay/internal/conversation"
	"chatrelay/internal/core"
	"chatrelay/internal/credentials"
	"chatrelay/internal/providers"
	_ "chatrelay/internal/providers/openaicompat"
	"chatrelay/internal/relay"
)

// stopOnFirstContent stops the conversation as soon as the first content
// event reaches the client.
type stopOnFirstContent struct {
	*httptest.ResponseRecorder
	stop func()
	once sync.Once
}

func (w *stopOnFirstContent) Write(b []byte) (int, error) {
	n, err := w.ResponseRecorder.Write(b)
	if bytes.Contains(b, []byte(`"content"`)) {
		w.once.Do(w.stop)
	}
	return n, err
}

func TestConversations_StopDropsChunksBufferedFromVendor(t *testing.T) {
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sb strings.Builder
		for i := 0; i < 10; i++ {
			fmt.Fprintf(&sb, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"c%d \"}}]}\n\n", i)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sb.String())
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer vendor.Close()

	ctx := context.Background()
	creds, err := credentials.Open(ctx, credentials.NewMemoryBackend())
	require.NoError(t, err)
	sessions, err := conversation.NewManager(ctx, conversation.NewMemoryStore(), nil)
	require.NoError(t, err)
	transports, err := providers.Transports(providers.TransportOptions{})
	require.NoError(t, err)
	registry := providers.DefaultRegistry().WithEndpoints(map[credentials.Vendor]string{credentials.SiliconFlow: vendor.URL})
	router := providers.NewRouter(registry, credentials.Chain{creds, credentials.Bundle{credentials.SiliconFlow: "sk-env"}})
	r := relay.New(router, transports, core.Params{Temperature: 0.7, MaxTokens: 2000}, nil)
	svc := chat.NewService(r, sessions, 0, nil)
	srv := New(Deps{Relay: r, Chat: svc, Credentials: creds}, nil)

	id := sessions.Active()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+id+"/messages", strings.NewReader(`{"content":"count"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := &stopOnFirstContent{ResponseRecorder: httptest.NewRecorder(), stop: func() { svc.Stop(id) }}
	srv.ServeHTTP(rec, req)

	assert.Equal(t, "data: {\"content\":\"c0 \"}\n\ndata: [DONE]\n\n", rec.Body.String())

	snap, err := sessions.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "c0 ", snap.Messages[1].Content)
	assert.False(t, snap.Messages[1].Streaming)
	assert.Empty(t, snap.Messages[1].Error)
}
