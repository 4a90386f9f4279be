package chat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/conversation"
	"chatrelay/internal/core"
	"chatrelay/internal/credentials"
	"chatrelay/internal/providers"
	_ "chatrelay/internal/providers/openaicompat"
	"chatrelay/internal/relay"
)

// burstVendor answers every completion with n delta events in a single
// write, then holds the connection open until the client goes away.
func burstVendor(t *testing.T, n int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sb strings.Builder
		for i := 0; i < n; i++ {
			fmt.Fprintf(&sb, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"c%d \"}}]}\n\n", i)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sb.String())
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)
	return server
}

func newVendorService(t *testing.T, endpoint string) *Service {
	t.Helper()
	sessions, err := conversation.NewManager(context.Background(), conversation.NewMemoryStore(), nil)
	require.NoError(t, err)
	transports, err := providers.Transports(providers.TransportOptions{})
	require.NoError(t, err)
	registry := providers.DefaultRegistry().WithEndpoints(map[credentials.Vendor]string{credentials.SiliconFlow: endpoint})
	router := providers.NewRouter(registry, staticDefaults{credentials.SiliconFlow: "sk-env"})
	r := relay.New(router, transports, core.Params{Temperature: 0.7, MaxTokens: 2000}, nil)
	return NewService(r, sessions, 0, nil)
}

func TestStop_DropsChunksBufferedFromVendor(t *testing.T) {
	vendor := burstVendor(t, 10)
	svc := newVendorService(t, vendor.URL)
	ctx := context.Background()
	id := svc.Sessions().Active()

	var got []string
	msg, err := svc.Send(ctx, SendRequest{SessionID: id, Content: "count", Model: "siliconflow-qwen"}, func(text string) error {
		got = append(got, text)
		if len(got) == 1 {
			svc.Stop(id)
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"c0 "}, got)
	assert.Equal(t, "c0 ", msg.Content)
	assert.Empty(t, msg.Error)

	snap, err := svc.Sessions().Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "c0 ", snap.Messages[1].Content)
	assert.False(t, snap.Messages[1].Streaming)
	assert.False(t, svc.Busy(id))
}
