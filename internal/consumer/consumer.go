// Package consumer rebuilds a turn's reasoning and answer text from its
// event stream and settles the turn's outcome, synthesizing a local error
// when the stream breaks before a terminal event.
package consumer

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"

	"github.com/mlexpertio/neuromind/internal/protocol"
)

// Source yields a turn's events in order. It returns io.EOF when the
// underlying stream ends.
type Source interface {
	Next() (protocol.Event, error)
}

// Transcript holds the two growing buffers of a turn.
type Transcript struct {
	reasoning strings.Builder
	content   strings.Builder
}

// Apply folds ev into the buffers and reports whether ev is terminal.
func (t *Transcript) Apply(ev protocol.Event) bool {
	switch e := ev.(type) {
	case protocol.ReasoningEvent:
		t.reasoning.WriteString(e.Text)
	case protocol.ContentEvent:
		t.content.WriteString(e.Text)
	case protocol.DoneEvent, protocol.ErrorEvent:
		return true
	}
	return false
}

func (t *Transcript) Reasoning() string { return t.reasoning.String() }
func (t *Transcript) Content() string   { return t.content.String() }

// Result is the settled outcome of a turn as seen by the consumer.
type Result struct {
	Reasoning string
	Content   string
	// Terminal is DoneEvent or ErrorEvent, never nil.
	Terminal protocol.Event
}

// Err returns the terminal ErrorEvent as an error, or nil on done.
func (r *Result) Err() error {
	if e, ok := r.Terminal.(protocol.ErrorEvent); ok {
		return e
	}
	return nil
}

// UpdateFunc is called after each non-terminal event with the current
// buffers.
type UpdateFunc func(reasoning, content string)

// Consume reads src until a terminal event. A source failure before that
// point becomes a synthesized ErrorEvent.
func Consume(src Source, onUpdate UpdateFunc) *Result {
	var tr Transcript
	for {
		ev, err := src.Next()
		if err != nil {
			return &Result{
				Reasoning: tr.Reasoning(),
				Content:   tr.Content(),
				Terminal:  synthesize(err),
			}
		}
		if tr.Apply(ev) {
			return &Result{Reasoning: tr.Reasoning(), Content: tr.Content(), Terminal: ev}
		}
		if onUpdate != nil {
			onUpdate(tr.Reasoning(), tr.Content())
		}
	}
}

// Failed is the result for a stream that never opened.
func Failed(err error) *Result {
	return &Result{Terminal: synthesize(err)}
}

func synthesize(err error) protocol.ErrorEvent {
	var ev protocol.ErrorEvent
	if errors.As(err, &ev) {
		return ev
	}
	switch {
	case errors.Is(err, io.EOF):
		return protocol.ErrorEvent{Kind: protocol.KindInternal, Message: "stream ended without a terminal event"}
	case isTimeout(err):
		return protocol.ErrorEvent{Kind: protocol.KindTimeout, Message: "request timed out: " + err.Error()}
	}
	return protocol.ErrorEvent{Kind: protocol.KindConnectionFailed, Message: "connection lost: " + err.Error()}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
