// Package engine runs chat turns: it seeds the model with the thread's
// persona and history, classifies the model's fragments into protocol
// events, and commits the exchange to the store only when the model
// finished cleanly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mlexpertio/neuromind/internal/llm"
	"github.com/mlexpertio/neuromind/internal/protocol"
	"github.com/mlexpertio/neuromind/internal/store"
)

// History is the slice of the session store a turn needs.
type History interface {
	GetHistory(threadID int64) ([]store.Message, error)
	AppendTurn(threadID int64, human, ai string) error
}

// Personas resolves a persona label to its system prompt.
type Personas interface {
	Prompt(name string) string
}

// Sink receives a turn's events in order, from one goroutine at a time.
// A Send error detaches the sink for the rest of the turn. A Send that
// blocks delays only Run's return, not the commit.
type Sink interface {
	Send(ev protocol.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(protocol.Event) error

func (f SinkFunc) Send(ev protocol.Event) error { return f(ev) }

type Config struct {
	History  History
	Model    llm.Model
	Personas Personas
	// Timeout bounds one model invocation. Zero means no bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

type Engine struct {
	history  History
	model    llm.Model
	personas Personas
	timeout  time.Duration
	log      *slog.Logger
	locks    *threadLocks
}

func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		history:  cfg.History,
		model:    cfg.Model,
		personas: cfg.Personas,
		timeout:  cfg.Timeout,
		log:      log,
		locks:    newThreadLocks(),
	}
}

func (e *Engine) ModelName() string {
	return e.model.Name()
}

// NewTurn prepares a single-use turn. sink may be nil.
func (e *Engine) NewTurn(thread *store.Thread, input string, sink Sink) *Turn {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Turn{
		e:      e,
		id:     id.String(),
		thread: thread,
		input:  input,
		sink:   sink,
	}
}

// State is a turn's position in Idle -> Streaming -> {Done, Errored}.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Turn struct {
	e      *Engine
	id     string
	thread *store.Thread
	input  string
	sink   Sink
	out    *outbox

	mu    sync.Mutex
	state State

	reasoning strings.Builder
	content   strings.Builder
	events    int
}

func (t *Turn) ID() string { return t.id }

func (t *Turn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Run drives the turn to completion and returns its terminal event, which
// has also been sent to the sink. Cancelling ctx stops delivery waits but
// not the model invocation; persistence depends only on the model. Run
// returns once the sink has taken every event or was detached.
func (t *Turn) Run(ctx context.Context) protocol.Event {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return protocol.ErrorEvent{Kind: protocol.KindInternal, Message: "turn already ran"}
	}
	t.state = StateStreaming
	t.mu.Unlock()

	log := t.e.log.With("turn", t.id, "thread", t.thread.Name)
	start := time.Now()
	log.Debug("turn started", "persona", t.thread.Persona)

	if t.sink != nil {
		t.out = newOutbox(ctx, t.sink, log)
	}
	ev := t.run(ctx, log)
	if t.out != nil {
		t.out.close()
	}

	attrs := []any{"events", t.events, "elapsed", time.Since(start).Round(time.Millisecond)}
	if e, ok := ev.(protocol.ErrorEvent); ok {
		log.Warn("turn failed", append(attrs, "kind", e.Kind, "msg", e.Message)...)
	} else {
		log.Info("turn done", append(attrs, "chars", t.content.Len())...)
	}
	return ev
}

func (t *Turn) run(ctx context.Context, log *slog.Logger) protocol.Event {
	if strings.TrimSpace(t.input) == "" {
		return t.fail(protocol.KindInternal, "message content is empty")
	}

	release, err := t.e.locks.acquire(ctx, t.thread.ID)
	if err != nil {
		return t.fail(protocol.KindInternal, "request cancelled while waiting for the thread")
	}
	defer release()

	history, err := t.e.history.GetHistory(t.thread.ID)
	if err != nil {
		log.Error("load history", "err", err)
		return t.fail(protocol.KindInternal, "failed to load conversation history")
	}
	messages := buildMessages(t.e.personas.Prompt(t.thread.Persona), history, t.input)

	mctx := context.WithoutCancel(ctx)
	if t.e.timeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(mctx, t.e.timeout)
		defer cancel()
	}

	stream, err := t.e.model.Stream(mctx, messages)
	if err != nil {
		return t.modelFailed(log, err)
	}
	for f, ok := stream.Next(); ok; f, ok = stream.Next() {
		switch {
		case f.Reasoning != "":
			t.reasoning.WriteString(f.Reasoning)
			t.emit(protocol.ReasoningEvent{Text: f.Reasoning})
		case f.Content != "":
			t.content.WriteString(f.Content)
			t.emit(protocol.ContentEvent{Text: f.Content})
		}
	}
	if err := stream.Err(); err != nil {
		return t.modelFailed(log, err)
	}

	if err := t.e.history.AppendTurn(t.thread.ID, t.input, t.content.String()); err != nil {
		log.Error("persist turn", "err", err)
		return t.fail(protocol.KindInternal, "failed to save the conversation")
	}

	t.setState(StateDone)
	ev := protocol.DoneEvent{}
	t.emit(ev)
	return ev
}

func (t *Turn) modelFailed(log *slog.Logger, err error) protocol.Event {
	switch {
	case errors.Is(err, llm.ErrTimeout):
		return t.fail(protocol.KindTimeout, "AI model request timed out. Please try again.")
	case errors.Is(err, llm.ErrConnectionFailed):
		return t.fail(protocol.KindConnectionFailed,
			fmt.Sprintf("AI model unavailable. Please ensure %s is running.", t.e.model.Name()))
	}
	log.Error("model invocation", "err", err)
	return t.fail(protocol.KindInternal, err.Error())
}

func (t *Turn) fail(kind protocol.ErrorKind, msg string) protocol.Event {
	t.setState(StateErrored)
	ev := protocol.ErrorEvent{Kind: kind, Message: msg}
	t.emit(ev)
	return ev
}

func (t *Turn) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Turn) emit(ev protocol.Event) {
	t.events++
	if t.out != nil {
		t.out.push(ev)
	}
}

// Reasoning returns the accumulated reasoning. Call it after Run returns.
func (t *Turn) Reasoning() string { return t.reasoning.String() }

// Content returns the accumulated answer. Call it after Run returns.
func (t *Turn) Content() string { return t.content.String() }

func buildMessages(system string, history []store.Message, input string) []llm.Message {
	out := make([]llm.Message, 0, len(history)+2)
	if system != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == store.RoleAI {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return append(out, llm.Message{Role: llm.RoleUser, Content: input})
}
