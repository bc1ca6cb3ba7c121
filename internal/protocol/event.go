// Package protocol defines the events a chat turn streams to its consumer
// and their JSON wire form.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable reason carried by an ErrorEvent.
type ErrorKind string

const (
	KindConnectionFailed ErrorKind = "connection_failed"
	KindTimeout          ErrorKind = "timeout"
	KindInternal         ErrorKind = "internal_error"
)

// Event is one unit of a turn's stream. The set of implementations is closed:
// ReasoningEvent, ContentEvent, DoneEvent, ErrorEvent.
type Event interface {
	isEvent()
}

type ReasoningEvent struct {
	Text string
}

type ContentEvent struct {
	Text string
}

type DoneEvent struct{}

type ErrorEvent struct {
	Kind    ErrorKind
	Message string
}

func (ReasoningEvent) isEvent() {}
func (ContentEvent) isEvent()   {}
func (DoneEvent) isEvent()      {}
func (ErrorEvent) isEvent()     {}

func (e ErrorEvent) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// IsTerminal reports whether ev ends a turn's stream.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case DoneEvent, ErrorEvent:
		return true
	}
	return false
}

// ErrUnknownType is returned by Decode for a well-formed event whose type
// this build does not know. Readers skip such events.
var ErrUnknownType = errors.New("unknown event type")

// wireEvent is the decoding view of every event shape.
type wireEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type textWire struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type doneWire struct {
	Type string `json:"type"`
}

type errorWire struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Encode renders ev as a single-line JSON object carrying exactly the
// fields of its type.
func Encode(ev Event) ([]byte, error) {
	var w any
	switch e := ev.(type) {
	case ReasoningEvent:
		w = textWire{Type: "reasoning", Content: e.Text}
	case ContentEvent:
		w = textWire{Type: "content", Content: e.Text}
	case DoneEvent:
		w = doneWire{Type: "done"}
	case ErrorEvent:
		w = errorWire{Type: "error", Error: string(e.Kind), Message: e.Message}
	default:
		return nil, fmt.Errorf("encode event: unsupported %T", ev)
	}
	return json.Marshal(w)
}

// Decode parses one JSON event. Unknown error kinds decode as internal_error
// so a newer server never leaves a consumer without a terminal outcome.
func Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch w.Type {
	case "reasoning":
		return ReasoningEvent{Text: w.Content}, nil
	case "content":
		return ContentEvent{Text: w.Content}, nil
	case "done":
		return DoneEvent{}, nil
	case "error":
		kind := ErrorKind(w.Error)
		switch kind {
		case KindConnectionFailed, KindTimeout, KindInternal:
		default:
			kind = KindInternal
		}
		return ErrorEvent{Kind: kind, Message: w.Message}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
}
