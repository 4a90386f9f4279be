package core

import (
	"encoding/json"
	"time"
)

// Role is the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleData      Role = "data"
)

// Valid reports whether r is one of the accepted roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleData:
		return true
	}
	return false
}

// Displayable reports whether messages of this role are shown in a transcript.
// System and data messages are accepted but never displayed.
func (r Role) Displayable() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message represents a single message in a conversation
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	// Streaming is true while an assistant message is still receiving chunks.
	Streaming bool `json:"streaming,omitempty"`
	// Error holds the upstream failure that ended the message, if any.
	// Content keeps whatever was relayed before the failure.
	Error string `json:"error,omitempty"`
}

// ChatRequest is the inbound chat request
type ChatRequest struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model"`
	// APIKeys is untrusted; malformed entries are dropped by
	// credentials.BundleFromJSON.
	APIKeys     json.RawMessage `json:"apiKeys,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"maxTokens,omitempty"`
}

// Params are the sampling parameters forwarded to the vendor verbatim
type Params struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TextChunk is one increment of generated text. Usage is set on the chunk
// that carried the vendor's usage report, usually the last one.
type TextChunk struct {
	Text  string `json:"content"`
	Usage *Usage `json:"usage,omitempty"`
}
