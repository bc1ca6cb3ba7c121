// Package transport exposes the session store and chat engine over HTTP:
// JSON routes for threads and history, an SSE chat stream, a WebSocket chat
// stream, and a client for all of them.
package transport

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/mlexpertio/neuromind/internal/store"
)

const maxThreadName = 100

// ErrNotFound is returned by the client when the server answers 404.
var ErrNotFound = errors.New("not found")

type Health struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

type PersonaInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ThreadInfo struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Persona string `json:"persona"`
}

type ThreadSummary struct {
	Name         string `json:"name"`
	Persona      string `json:"persona"`
	MessageCount int    `json:"message_count"`
}

type MessageInfo struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type createThreadRequest struct {
	Name    string `json:"name"`
	Persona string `json:"persona"`
}

type chatRequest struct {
	Content string `json:"content"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func threadToInfo(t *store.Thread) ThreadInfo {
	return ThreadInfo{ID: t.ID, Name: t.Name, Persona: t.Persona}
}

func validThreadName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("thread name is required")
	}
	if utf8.RuneCountInString(name) > maxThreadName {
		return errors.New("thread name is too long")
	}
	return nil
}
