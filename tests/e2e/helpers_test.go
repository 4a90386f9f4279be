//go:build e2e

package e2e

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	Event string
	Data  string
}

// do sends an authenticated request to the gateway.
func do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	return doWithKey(t, method, path, body, masterKey)
}

func doWithKey(t *testing.T, method, path, body, key string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, gatewayURL+path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer closeBody(resp)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func readSSE(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.Event != "" || cur.Data != "" {
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

// streamedText concatenates content events and reports whether the stream
// ended with [DONE].
func streamedText(t *testing.T, events []sseEvent) (string, bool) {
	t.Helper()
	var sb strings.Builder
	done := false
	for _, e := range events {
		if e.Event != "" {
			continue
		}
		if e.Data == "[DONE]" {
			done = true
			continue
		}
		var c struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.Unmarshal([]byte(e.Data), &c))
		sb.WriteString(c.Content)
	}
	return sb.String(), done
}
