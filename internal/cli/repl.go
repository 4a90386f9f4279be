// Package cli implements the interactive terminal chat: a line-editing
// prompt over the conversation-backed chat service.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/peterh/liner"

	"chatrelay/internal/chat"
	"chatrelay/internal/conversation"
	"chatrelay/internal/core"
)

// Prompter reads one line of input. *liner.State satisfies it.
type Prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// REPL reads user turns and slash commands and streams replies to out.
type REPL struct {
	chat  *chat.Service
	in    Prompter
	out   io.Writer
	model string

	mu         sync.Mutex
	generating string
}

// NewREPL creates a REPL sending to model; an empty model uses the
// registry default.
func NewREPL(svc *chat.Service, in Prompter, out io.Writer, model string) *REPL {
	if model == "" {
		model = svc.Relay().Router().Registry().Default().ID
	}
	return &REPL{chat: svc, in: in, out: out, model: model}
}

// Model returns the model new turns are sent to.
func (r *REPL) Model() string {
	return r.model
}

// Run loops until /quit, end of input or an aborted prompt.
func (r *REPL) Run(ctx context.Context) error {
	for {
		line, err := r.in.Prompt(r.prompt())
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.in.AppendHistory(line)

		quit, err := r.handle(ctx, line)
		if err != nil {
			fmt.Fprintf(r.out, "%s %v\n", errorStyle.Render("[error]"), err)
		}
		if quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Interrupt stops the reply in flight. It reports whether there was one.
func (r *REPL) Interrupt() bool {
	r.mu.Lock()
	id := r.generating
	r.mu.Unlock()
	if id == "" {
		return false
	}
	return r.chat.Stop(id)
}

func (r *REPL) prompt() string {
	sessions := r.chat.Sessions()
	title := conversation.DefaultTitle
	if snap, err := sessions.Get(context.Background(), sessions.Active()); err == nil {
		title = snap.Title
	}
	return promptStyle.Render(fmt.Sprintf("[%s] > ", title))
}

func (r *REPL) handle(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, r.send(ctx, line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	sessions := r.chat.Sessions()

	switch strings.ToLower(cmd) {
	case "/quit", "/q", "/exit":
		return true, nil
	case "/help", "/h":
		r.help()
	case "/new":
		s, err := sessions.Create(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "%s %s\n", activeStyle.Render("started"), s.Title)
	case "/list", "/ls":
		r.list()
	case "/switch", "/s":
		id, err := r.pick(arg)
		if err != nil {
			return false, err
		}
		snap, err := sessions.Select(ctx, id)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "%s %s\n", activeStyle.Render("switched to"), snap.Title)
		r.transcript(snap)
	case "/rename":
		if arg == "" {
			return false, fmt.Errorf("usage: /rename <title>")
		}
		return false, sessions.Rename(ctx, sessions.Active(), arg)
	case "/delete":
		id := sessions.Active()
		if arg != "" {
			var err error
			if id, err = r.pick(arg); err != nil {
				return false, err
			}
		}
		r.chat.Stop(id)
		if err := sessions.Delete(ctx, id); err != nil {
			return false, err
		}
		r.list()
	case "/reset", "/clear":
		id := sessions.Active()
		if r.chat.Busy(id) {
			return false, chat.ErrBusy
		}
		return false, sessions.Reset(ctx, id)
	case "/model":
		if arg == "" {
			fmt.Fprintln(r.out, r.model)
			return false, nil
		}
		if _, ok := r.chat.Relay().Router().Registry().Lookup(arg); !ok {
			return false, fmt.Errorf("unknown model %q, see /models", arg)
		}
		r.model = arg
		fmt.Fprintf(r.out, "%s %s\n", activeStyle.Render("model"), arg)
	case "/models":
		for _, m := range r.chat.Relay().Router().Registry().List() {
			marker := "  "
			if m.ID == r.model {
				marker = "* "
			}
			fmt.Fprintf(r.out, "%s%s %s\n", marker, m.ID, dimStyle.Render(m.Name))
		}
	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return false, nil
}

// pick resolves a 1-based position in the list.
func (r *REPL) pick(arg string) (string, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return "", fmt.Errorf("expected a conversation number from /list, got %q", arg)
	}
	list, _ := r.chat.Sessions().List()
	if n < 1 || n > len(list) {
		return "", fmt.Errorf("no conversation %d", n)
	}
	return list[n-1].ID, nil
}

func (r *REPL) send(ctx context.Context, content string) error {
	id := r.chat.Sessions().Active()
	r.mu.Lock()
	r.generating = id
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.generating = ""
		r.mu.Unlock()
	}()

	_, err := r.chat.Send(ctx, chat.SendRequest{SessionID: id, Content: content, Model: r.model}, func(text string) error {
		_, werr := io.WriteString(r.out, text)
		return werr
	})
	fmt.Fprintln(r.out)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(r.out, warnStyle.Render("[stopped]"))
		return nil
	}
	return err
}

func (r *REPL) list() {
	list, active := r.chat.Sessions().List()
	for i, s := range list {
		marker := " "
		if s.ID == active {
			marker = activeStyle.Render("*")
		}
		fmt.Fprintf(r.out, "%s%2d. %s %s\n", marker, i+1, s.Title, dimStyle.Render(fmt.Sprintf("(%d messages)", s.MessageCount)))
	}
}

func (r *REPL) transcript(snap conversation.Snapshot) {
	for _, m := range conversation.Visible(snap.Messages) {
		who := dimStyle.Render("assistant:")
		if m.Role == core.RoleUser {
			who = titleStyle.Render("you:")
		}
		fmt.Fprintf(r.out, "%s %s\n", who, m.Content)
		if m.Error != "" {
			fmt.Fprintf(r.out, "%s %s\n", errorStyle.Render("[error]"), m.Error)
		}
	}
}

func (r *REPL) help() {
	fmt.Fprintln(r.out, titleStyle.Render("commands"))
	for _, row := range [][2]string{
		{"/new", "start a conversation"},
		{"/list", "list conversations, newest first"},
		{"/switch <n>", "make conversation n active"},
		{"/rename <title>", "rename the active conversation"},
		{"/delete [n]", "delete conversation n, or the active one"},
		{"/reset", "clear the active conversation"},
		{"/model [id]", "show or change the model"},
		{"/models", "list available models"},
		{"/quit", "exit"},
	} {
		fmt.Fprintf(r.out, "  %-16s %s\n", row[0], dimStyle.Render(row[1]))
	}
	fmt.Fprintln(r.out, dimStyle.Render("Ctrl+C stops a reply in progress."))
}
