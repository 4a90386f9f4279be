// Package conversation keeps independent chat transcripts, tracks which one
// is active and persists them through a Store.
package conversation

import (
	"strings"
	"time"
	"unicode/utf8"

	"chatrelay/internal/core"
)

// DefaultTitle is the placeholder title of a session that has not yet
// received a user message.
const DefaultTitle = "New conversation"

const (
	titleRunes    = 30
	titleEllipsis = "..."
)

// TitleState tracks where a session's title came from. Transitions only
// move forward: default → derived → renamed, or default → renamed.
type TitleState string

const (
	TitleDefault TitleState = "default"
	TitleDerived TitleState = "derived"
	TitleRenamed TitleState = "renamed"
)

// Session is one conversation. Messages only grow during an exchange; the
// only removal is a full Reset.
type Session struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	TitleState TitleState     `json:"title_state"`
	Messages   []core.Message `json:"messages"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Summary is the list view of a session.
type Summary struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	TitleState   TitleState `json:"title_state"`
	MessageCount int        `json:"message_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (s *Session) summary() Summary {
	return Summary{
		ID:           s.ID,
		Title:        s.Title,
		TitleState:   s.TitleState,
		MessageCount: len(Visible(s.Messages)),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func (s *Session) clone() *Session {
	c := *s
	c.Messages = append([]core.Message(nil), s.Messages...)
	return &c
}

// DeriveTitle returns the title derived from a first user message: its
// first 30 characters, with an ellipsis when it was longer.
func DeriveTitle(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= titleRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleRunes]) + titleEllipsis
}

// Visible filters out roles that are never displayed (system and data).
func Visible(msgs []core.Message) []core.Message {
	out := make([]core.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role.Displayable() {
			out = append(out, m)
		}
	}
	return out
}

// ForUpstream returns the history to send to a vendor: messages still being
// streamed and empty assistant turns are left out.
func ForUpstream(msgs []core.Message) []core.Message {
	out := make([]core.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Streaming {
			continue
		}
		if m.Role == core.RoleAssistant && strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, core.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
