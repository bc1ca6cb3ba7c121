package llm

import (
	"context"
	"sync"
)

type Stream struct {
	ctx  context.Context
	ch   chan Fragment
	err  error
	mu   sync.Mutex
	done bool
}

func newStream(ctx context.Context) *Stream {
	return &Stream{
		ctx: ctx,
		ch:  make(chan Fragment, 64),
	}
}

// send reports false once the consumer's context is gone; the producer
// should stop and close.
func (s *Stream) send(f Fragment) bool {
	select {
	case s.ch <- f:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Stream) close(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	if err == nil && s.ctx.Err() != nil {
		err = s.ctx.Err()
	}
	s.err = classify(err)
	s.done = true
	s.mu.Unlock()
	close(s.ch)
}

// Next blocks for the next fragment. ok is false once the stream is
// exhausted; check Err to tell success from failure.
func (s *Stream) Next() (Fragment, bool) {
	f, ok := <-s.ch
	return f, ok
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// NewTestStream creates a Stream pre-loaded with fragments that ends with
// err, for testing.
func NewTestStream(err error, fragments ...Fragment) *Stream {
	s := &Stream{ctx: context.Background(), ch: make(chan Fragment, len(fragments))}
	for _, f := range fragments {
		s.ch <- f
	}
	s.close(err)
	return s
}
