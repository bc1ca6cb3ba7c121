// Package llm is the boundary to the language model. A Model turns an
// ordered list of role-tagged messages into a Stream of fragments, each
// carrying a reasoning delta, a content delta, or nothing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Fragment is one incremental unit of model output.
type Fragment struct {
	Reasoning string
	Content   string
}

type Model interface {
	// Stream starts an invocation. A failure to even reach the model may be
	// returned here or through the stream's Err; callers treat both the same.
	Stream(ctx context.Context, messages []Message) (*Stream, error)

	// Name is the configured model name, e.g. "qwen3:8b".
	Name() string
}

var (
	ErrConnectionFailed = errors.New("model connection failed")
	ErrTimeout          = errors.New("model request timed out")
)

// classify tags transport errors with ErrConnectionFailed or ErrTimeout so
// callers can tell them apart from everything else.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConnectionFailed) || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var oe *net.OpError
	if errors.As(err, &oe) && oe.Op == "dial" {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return err
}
