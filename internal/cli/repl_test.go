package cli

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/chat"
	"chatrelay/internal/conversation"
	"chatrelay/internal/core"
	"chatrelay/internal/credentials"
	"chatrelay/internal/providers"
	"chatrelay/internal/relay"
	"chatrelay/internal/relay/relaytest"
)

// scripted replays lines and then reports end of input.
type scripted struct {
	lines   []string
	history []string
}

func (s *scripted) Prompt(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scripted) AppendHistory(item string) {
	s.history = append(s.history, item)
}

func newService(t *testing.T, tr *relaytest.Transport) *chat.Service {
	t.Helper()
	sessions, err := conversation.NewManager(context.Background(), conversation.NewMemoryStore(), nil)
	require.NoError(t, err)
	router := providers.NewRouter(providers.DefaultRegistry(), credentials.Bundle{credentials.SiliconFlow: "sk-env"})
	r := relay.New(router, tr.Transports(), core.Params{Temperature: 0.7, MaxTokens: 2000}, nil)
	return chat.NewService(r, sessions, 2000, nil)
}

func run(t *testing.T, svc *chat.Service, lines ...string) (string, *scripted) {
	t.Helper()
	in := &scripted{lines: lines}
	var out bytes.Buffer
	require.NoError(t, NewREPL(svc, in, &out, "").Run(context.Background()))
	return out.String(), in
}

func TestREPL_SendStreamsReply(t *testing.T) {
	svc := newService(t, &relaytest.Transport{Chunks: []string{"Hello", " there"}})

	out, in := run(t, svc, "hi", "", "/quit", "never read")

	assert.Contains(t, out, "Hello there\n")
	assert.Equal(t, []string{"hi", "/quit"}, in.history)

	snap, err := svc.Sessions().Get(context.Background(), svc.Sessions().Active())
	require.NoError(t, err)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "hi", snap.Title)
	assert.Equal(t, "Hello there", snap.Messages[1].Content)
}

func TestREPL_ConversationCommands(t *testing.T) {
	svc := newService(t, &relaytest.Transport{Chunks: []string{"ok"}})
	sessions := svc.Sessions()
	first := sessions.Active()

	out, _ := run(t, svc, "first question", "/new", "/rename Second", "/list", "/switch 2")

	assert.Contains(t, out, "started "+conversation.DefaultTitle)
	assert.Contains(t, out, " 1. Second")
	assert.Contains(t, out, " 2. first question")
	assert.Contains(t, out, "switched to first question")
	assert.Contains(t, out, "you: first question")
	assert.Equal(t, first, sessions.Active())

	list, _ := sessions.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Second", list[0].Title)
}

func TestREPL_DeleteAndReset(t *testing.T) {
	svc := newService(t, &relaytest.Transport{Chunks: []string{"ok"}})
	sessions := svc.Sessions()

	run(t, svc, "keep me", "/new", "/delete 2")
	list, active := sessions.List()
	require.Len(t, list, 1)
	assert.Equal(t, conversation.DefaultTitle, list[0].Title)
	assert.Equal(t, list[0].ID, active)

	run(t, svc, "hello", "/reset")
	snap, err := sessions.Get(context.Background(), sessions.Active())
	require.NoError(t, err)
	assert.Empty(t, snap.Messages)
	assert.Equal(t, "hello", snap.Title)
}

func TestREPL_Model(t *testing.T) {
	tr := &relaytest.Transport{Chunks: []string{"ok"}}
	svc := newService(t, tr)

	in := &scripted{lines: []string{"/model", "/model nope", "/model deepseek-chat", "/models"}}
	var out bytes.Buffer
	repl := NewREPL(svc, in, &out, "")
	require.NoError(t, repl.Run(context.Background()))

	assert.Equal(t, "deepseek-chat", repl.Model())
	assert.Contains(t, out.String(), "siliconflow-qwen\n")
	assert.Contains(t, out.String(), `unknown model "nope"`)
	assert.Contains(t, out.String(), "* deepseek-chat")
}

func TestREPL_ErrorsDoNotEndSession(t *testing.T) {
	svc := newService(t, &relaytest.Transport{Chunks: []string{"ok"}})

	in := &scripted{lines: []string{"/bogus", "/switch 9", "/rename", "/model deepseek-chat", "needs a key"}}
	var out bytes.Buffer
	require.NoError(t, NewREPL(svc, in, &out, "").Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "unknown command /bogus")
	assert.Contains(t, text, "no conversation 9")
	assert.Contains(t, text, "usage: /rename")
	assert.Contains(t, text, "deepseek API key is not configured")
}

func TestREPL_InterruptStopsReply(t *testing.T) {
	tr := &relaytest.Transport{Chunks: []string{"a", "b", "c"}, Hold: make(chan struct{}), HoldAfter: 1}
	svc := newService(t, tr)

	var repl *REPL
	out := &interruptingWriter{onWrite: func() { repl.Interrupt() }}
	repl = NewREPL(svc, &scripted{lines: []string{"go"}}, out, "")
	require.NoError(t, repl.Run(context.Background()))

	assert.Contains(t, out.String(), "[stopped]")
	assert.False(t, repl.Interrupt())

	snap, err := svc.Sessions().Get(context.Background(), svc.Sessions().Active())
	require.NoError(t, err)
	assert.Equal(t, "a", snap.Messages[1].Content)
}

// interruptingWriter calls onWrite after the first write.
type interruptingWriter struct {
	bytes.Buffer
	onWrite func()
	fired   bool
}

func (w *interruptingWriter) Write(p []byte) (int, error) {
	n, err := w.Buffer.Write(p)
	if !w.fired {
		w.fired = true
		w.onWrite()
	}
	return n, err
}
