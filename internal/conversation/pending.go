package conversation

import (
	"context"
	"errors"
	"fmt"

	"chatrelay/internal/core"
)

// Pending is an assistant message still receiving chunks.
type Pending struct {
	manager   *Manager
	entry     *entry
	sessionID string
	messageID string
	done      bool
}

// locate returns the message being written, or nil when the session was
// deleted or reset in the meantime. Callers hold entry.mu.
func (p *Pending) locate() *core.Message {
	if p.entry.deleted {
		return nil
	}
	msgs := p.entry.session.Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID == p.messageID {
			return &msgs[i]
		}
	}
	return nil
}

// Write appends text to the message. It is a no-op after Finish.
func (p *Pending) Write(text string) {
	if text == "" {
		return
	}
	p.entry.mu.Lock()
	defer p.entry.mu.Unlock()
	if p.done {
		return
	}
	if msg := p.locate(); msg != nil {
		msg.Content += text
	}
}

// Finish marks the message complete and persists the session. The content
// relayed so far is kept. A non-nil err other than cancellation is recorded
// on the message. Calling Finish twice has no further effect.
func (p *Pending) Finish(ctx context.Context, err error) error {
	p.entry.mu.Lock()
	defer p.entry.mu.Unlock()
	if p.done {
		return nil
	}
	p.done = true

	msg := p.locate()
	if msg == nil {
		return nil
	}
	msg.Streaming = false
	if err != nil && !errors.Is(err, context.Canceled) {
		msg.Error = errorText(err)
	}
	p.entry.session.UpdatedAt = p.manager.now().UTC()

	// the exchange may have been cancelled; persisting must still happen
	if perr := p.manager.store.Update(context.WithoutCancel(ctx), p.entry.session); perr != nil {
		return fmt.Errorf("persist conversation: %w", perr)
	}
	return nil
}

// Message returns a copy of the message in its current state.
func (p *Pending) Message() core.Message {
	p.entry.mu.Lock()
	defer p.entry.mu.Unlock()
	if msg := p.locate(); msg != nil {
		return *msg
	}
	return core.Message{ID: p.messageID, Role: core.RoleAssistant}
}

// SessionID returns the session the message belongs to.
func (p *Pending) SessionID() string {
	return p.sessionID
}

func errorText(err error) string {
	var ce core.ClientError
	if errors.As(err, &ce) {
		return ce.ClientMessage()
	}
	return err.Error()
}
