package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/peterh/liner"

	"chatrelay/internal/chat"
)

// Options configure an interactive session.
type Options struct {
	Model string
	// HistoryFile keeps prompt history across sessions; empty disables it.
	HistoryFile string
}

// Interactive runs the chat REPL on the terminal. Ctrl+C during a reply
// stops it; Ctrl+C or Ctrl+D at the prompt exits.
func Interactive(ctx context.Context, svc *chat.Service, out io.Writer, opts Options) error {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer func() {
		saveHistory(line, opts.HistoryFile)
		_ = line.Close()
	}()
	loadHistory(line, opts.HistoryFile)

	repl := NewREPL(svc, line, out, opts.Model)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				if sig == syscall.SIGTERM {
					cancel()
					return
				}
				repl.Interrupt()
			}
		}
	}()

	fmt.Fprintf(out, "%s %s\n", titleStyle.Render("chatrelay"), dimStyle.Render("model "+repl.Model()+", /help for commands"))
	return repl.Run(ctx)
}

func loadHistory(line *liner.State, path string) {
	if path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.ReadHistory(f)
}

func saveHistory(line *liner.State, path string) {
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}
