package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Dummy is a scripted model for tests and offline runs. With no Fragments
// it echoes the last user message word by word after a short reasoning
// preamble.
type Dummy struct {
	Fragments []Fragment
	// Err ends the stream after the scripted fragments.
	Err error
	// StartErr fails the invocation before any fragment.
	StartErr error
	Delay    time.Duration
	Model    string

	mu    sync.Mutex
	calls [][]Message
}

func NewDummy(delay time.Duration) *Dummy {
	return &Dummy{Delay: delay}
}

func (d *Dummy) Name() string {
	if d.Model == "" {
		return "dummy"
	}
	return d.Model
}

func (d *Dummy) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	d.mu.Lock()
	d.calls = append(d.calls, append([]Message(nil), messages...))
	d.mu.Unlock()

	if d.StartErr != nil {
		return nil, classify(d.StartErr)
	}

	fragments := d.Fragments
	if fragments == nil {
		fragments = echoFragments(messages)
	}

	stream := newStream(ctx)
	go func() {
		for _, f := range fragments {
			if d.Delay > 0 {
				select {
				case <-time.After(d.Delay):
				case <-ctx.Done():
					stream.close(ctx.Err())
					return
				}
			}
			if !stream.send(f) {
				stream.close(ctx.Err())
				return
			}
		}
		stream.close(d.Err)
	}()
	return stream, nil
}

// Calls returns the message lists of every invocation so far.
func (d *Dummy) Calls() [][]Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]Message(nil), d.calls...)
}

func echoFragments(messages []Message) []Fragment {
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			last = messages[i].Content
			break
		}
	}
	out := []Fragment{{Reasoning: fmt.Sprintf("The user said %q. ", last)}, {Reasoning: "I will echo it back."}}
	for i, w := range strings.Fields(last) {
		if i > 0 {
			w = " " + w
		}
		out = append(out, Fragment{Content: w})
	}
	if len(out) == 2 {
		out = append(out, Fragment{Content: "..."})
	}
	return out
}
