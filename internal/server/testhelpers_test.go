package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chatrelay/internal/chat"
	"chatrelay/internal/conversation"
	"chatrelay/internal/core"
	"chatrelay/internal/credentials"
	"chatrelay/internal/providers"
	"chatrelay/internal/relay"
	"chatrelay/internal/relay/relaytest"
)

type testEnv struct {
	srv   *Server
	tr    *relaytest.Transport
	creds *credentials.Store
	chat  *chat.Service
}

// newTestEnv wires the server over in-memory stores. envKeys stand in for
// process environment defaults.
func newTestEnv(t *testing.T, tr *relaytest.Transport, envKeys credentials.Bundle, cfg *Config) *testEnv {
	t.Helper()
	ctx := context.Background()

	creds, err := credentials.Open(ctx, credentials.NewMemoryBackend())
	require.NoError(t, err)
	sessions, err := conversation.NewManager(ctx, conversation.NewMemoryStore(), nil)
	require.NoError(t, err)

	router := providers.NewRouter(providers.DefaultRegistry(), credentials.Chain{creds, envKeys})
	r := relay.New(router, tr.Transports(), core.Params{Temperature: 0.7, MaxTokens: 2000}, nil)
	svc := chat.NewService(r, sessions, 2000, nil)

	srv := New(Deps{Relay: r, Chat: svc, Credentials: creds}, cfg)
	return &testEnv{srv: srv, tr: tr, creds: creds, chat: svc}
}

func (e *testEnv) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

type sseEvent struct {
	Event string
	Data  string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.Data != "" || cur.Event != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, sc.Err())
	return events
}
