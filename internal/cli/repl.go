// Package cli is the interactive terminal client: it reads commands and
// chat messages, streams each turn's reasoning and answer as they arrive,
// and keeps the loop alive across failed turns.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mlexpertio/neuromind/internal/consumer"
	"github.com/mlexpertio/neuromind/internal/protocol"
	"github.com/mlexpertio/neuromind/internal/transport"
)

// Backend is the server surface the REPL drives. *transport.Client
// implements it.
type Backend interface {
	ListThreads(ctx context.Context) ([]transport.ThreadSummary, error)
	GetOrCreateThread(ctx context.Context, name, persona string) (*transport.ThreadInfo, bool, error)
	History(ctx context.Context, name string) ([]transport.MessageInfo, error)
	ClearMessages(ctx context.Context, name string) error
	Chat(ctx context.Context, name, content string, onUpdate consumer.UpdateFunc) (*consumer.Result, error)
}

type Options struct {
	DefaultThread  string
	DefaultPersona string
	// Color enables styled output and markdown colors.
	Color bool
	Width int
}

type REPL struct {
	backend Backend
	in      *bufio.Scanner
	out     io.Writer
	theme   Theme
	opts    Options

	thread  string
	persona string
}

func New(backend Backend, in io.Reader, out io.Writer, opts Options) *REPL {
	if opts.DefaultThread == "" {
		opts.DefaultThread = "master"
	}
	return &REPL{
		backend: backend,
		in:      bufio.NewScanner(in),
		out:     out,
		theme:   NewTheme(out),
		opts:    opts,
	}
}

// Thread is the active thread name.
func (r *REPL) Thread() string { return r.thread }

// Run opens the default thread and loops until /exit, EOF or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	t, _, err := r.backend.GetOrCreateThread(ctx, r.opts.DefaultThread, r.opts.DefaultPersona)
	if err != nil {
		return fmt.Errorf("open thread %s: %w", r.opts.DefaultThread, err)
	}
	r.thread, r.persona = t.Name, t.Persona

	fmt.Fprintln(r.out, r.theme.Card.Render("NeuroMind  ·  /help for commands"))
	r.printThread()

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.out, r.theme.Prompt.Render(r.thread+"> "))
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}
		cmd, err := ParseCommand(line)
		if err != nil {
			r.printError(err.Error())
			continue
		}
		if cmd.Kind == CmdExit {
			fmt.Fprintln(r.out, r.theme.System.Render("Goodbye."))
			return nil
		}
		r.dispatch(ctx, cmd)
	}
}

func (r *REPL) dispatch(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CmdChat:
		r.chat(ctx, cmd.Args[0])
	case CmdList:
		r.list(ctx)
	case CmdNew:
		persona := r.opts.DefaultPersona
		if len(cmd.Args) > 1 {
			persona = cmd.Args[1]
		}
		r.newThread(ctx, cmd.Args[0], persona)
	case CmdSwitch:
		r.switchThread(ctx, cmd.Args[0])
	case CmdClear:
		r.clear(ctx)
	case CmdHistory:
		r.history(ctx)
	case CmdHelp:
		fmt.Fprintln(r.out, helpText)
	}
}

func (r *REPL) chat(ctx context.Context, content string) {
	p := &streamPrinter{out: r.out, theme: r.theme}
	res, err := r.backend.Chat(ctx, r.thread, content, p.update)
	p.finish()
	if err != nil {
		r.printError(err.Error())
		return
	}
	var ev protocol.ErrorEvent
	if errors.As(res.Err(), &ev) {
		r.printError(fmt.Sprintf("%s: %s", ev.Kind, ev.Message))
	}
}

func (r *REPL) list(ctx context.Context) {
	threads, err := r.backend.ListThreads(ctx)
	if err != nil {
		r.printError(err.Error())
		return
	}
	if len(threads) == 0 {
		fmt.Fprintln(r.out, r.theme.System.Render("No threads yet."))
		return
	}
	fmt.Fprint(r.out, FormatThreads(threads, r.thread))
}

// FormatThreads renders a thread listing, marking current with '*'.
func FormatThreads(threads []transport.ThreadSummary, current string) string {
	var b strings.Builder
	for _, t := range threads {
		mark := " "
		if t.Name == current {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s %-20s %-10s %d messages\n", mark, t.Name, t.Persona, t.MessageCount)
	}
	return b.String()
}

func (r *REPL) newThread(ctx context.Context, name, persona string) {
	t, created, err := r.backend.GetOrCreateThread(ctx, name, persona)
	if err != nil {
		r.printError(err.Error())
		return
	}
	r.thread, r.persona = t.Name, t.Persona
	if !created {
		fmt.Fprintln(r.out, r.theme.System.Render(fmt.Sprintf("Thread %q already exists.", t.Name)))
	}
	r.printThread()
}

// switchThread opens name, creating it with the default persona when the
// server does not know it yet.
func (r *REPL) switchThread(ctx context.Context, name string) {
	t, created, err := r.backend.GetOrCreateThread(ctx, name, r.opts.DefaultPersona)
	if err != nil {
		r.printError(err.Error())
		return
	}
	r.thread, r.persona = t.Name, t.Persona
	if created {
		fmt.Fprintln(r.out, r.theme.System.Render(fmt.Sprintf("Created thread %q.", t.Name)))
	}
	r.printThread()
}

func (r *REPL) clear(ctx context.Context) {
	fmt.Fprintf(r.out, "Delete all messages in %q? [y/N] ", r.thread)
	if !r.in.Scan() {
		fmt.Fprintln(r.out)
		return
	}
	answer := strings.ToLower(strings.TrimSpace(r.in.Text()))
	if answer != "y" && answer != "yes" {
		fmt.Fprintln(r.out, r.theme.System.Render("Cancelled."))
		return
	}
	if err := r.backend.ClearMessages(ctx, r.thread); err != nil {
		r.printError(err.Error())
		return
	}
	fmt.Fprintln(r.out, r.theme.System.Render(fmt.Sprintf("Cleared %q.", r.thread)))
}

func (r *REPL) history(ctx context.Context) {
	msgs, err := r.backend.History(ctx, r.thread)
	if err != nil {
		r.printError(err.Error())
		return
	}
	fmt.Fprint(r.out, RenderMarkdown(HistoryMarkdown(r.thread, msgs), r.opts.Width, r.opts.Color))
}

func (r *REPL) printThread() {
	fmt.Fprintf(r.out, "%s %s\n",
		r.theme.Thread.Render("Thread: "+r.thread),
		r.theme.System.Render("("+r.persona+")"))
}

func (r *REPL) printError(msg string) {
	fmt.Fprintln(r.out, r.theme.Error.Render("Error: "+msg))
}
