package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mlexpertio/neuromind/internal/engine"
	"github.com/mlexpertio/neuromind/internal/persona"
	"github.com/mlexpertio/neuromind/internal/protocol"
	"github.com/mlexpertio/neuromind/internal/store"
)

type ServerConfig struct {
	Addr     string
	Store    *store.Store
	Engine   *engine.Engine
	Personas *persona.Registry
	// Limiter throttles chat routes; nil disables it.
	Limiter *RateLimiter
	Logger  *slog.Logger
}

type Server struct {
	addr     string
	store    *store.Store
	engine   *engine.Engine
	personas *persona.Registry
	limiter  *RateLimiter
	log      *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:     cfg.Addr,
		store:    cfg.Store,
		engine:   cfg.Engine,
		personas: cfg.Personas,
		limiter:  cfg.Limiter,
		log:      log,
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("server listening", "addr", ln.Addr().String(), "model", s.engine.ModelName())

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			s.log.Warn("shutdown", "err", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /personas", s.handleListPersonas)
	mux.HandleFunc("GET /threads", s.handleListThreads)
	mux.HandleFunc("POST /threads", s.handleCreateThread)
	mux.HandleFunc("GET /threads/{name}", s.handleGetThread)
	mux.HandleFunc("GET /threads/{name}/messages", s.handleGetMessages)
	mux.HandleFunc("DELETE /threads/{name}/messages", s.handleClearMessages)
	mux.HandleFunc("POST /threads/{name}/chat", s.limiter.Middleware(s.handleChat))
	mux.HandleFunc("GET /threads/{name}/ws", s.limiter.Middleware(s.handleChatWS))
	return mux
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Health{Status: "ok", Model: s.engine.ModelName()})
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	list := s.personas.List()
	out := make([]PersonaInfo, 0, len(list))
	for _, p := range list {
		out = append(out, PersonaInfo{Name: p.Name, Description: p.Description})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.store.ListThreads()
	if err != nil {
		s.internalError(w, "list threads", err)
		return
	}
	out := make([]ThreadSummary, 0, len(threads))
	for _, t := range threads {
		out = append(out, ThreadSummary{Name: t.Name, Persona: t.Persona, MessageCount: t.MessageCount})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := validThreadName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Persona == "" {
		req.Persona = s.personas.Default()
	}
	if !s.personas.Known(req.Persona) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown persona %q", req.Persona))
		return
	}

	t, created, err := s.store.GetOrCreateThread(req.Name, req.Persona)
	if err != nil {
		s.internalError(w, "create thread", err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
		s.log.Info("thread created", "thread", t.Name, "persona", t.Persona)
	}
	writeJSON(w, code, threadToInfo(t))
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThread(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, threadToInfo(t))
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThread(w, r)
	if !ok {
		return
	}
	msgs, err := s.store.GetHistory(t.ID)
	if err != nil {
		s.internalError(w, "get history", err)
		return
	}
	out := make([]MessageInfo, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageInfo{Role: string(m.Role), Content: m.Content})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThread(w, r)
	if !ok {
		return
	}
	n, err := s.store.ClearMessages(t.ID)
	if err != nil {
		s.internalError(w, "clear messages", err)
		return
	}
	s.log.Info("history cleared", "thread", t.Name, "removed", n)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := validThreadName(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	t, _, err := s.store.GetOrCreateThread(name, s.personas.Default())
	if err != nil {
		s.internalError(w, "get or create thread", err)
		return
	}

	rc := http.NewResponseController(w)
	turn := s.engine.NewTurn(t, req.Content, &sseSink{w: w, rc: rc, ctx: r.Context()})

	w.Header().Set("Content-Type", protocol.ContentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Turn-ID", turn.ID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	turn.Run(r.Context())
	rc.SetWriteDeadline(time.Time{})
}

// sinkWriteTimeout bounds one event write to a chat consumer. A consumer
// that stops reading is detached once it expires.
const sinkWriteTimeout = 10 * time.Second

// sseSink writes events as SSE frames until the client goes away.
type sseSink struct {
	w   http.ResponseWriter
	rc  *http.ResponseController
	ctx context.Context
}

func (s *sseSink) Send(ev protocol.Event) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	err := s.rc.SetWriteDeadline(time.Now().Add(sinkWriteTimeout))
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return protocol.WriteSSE(s.w, ev)
}

// lookupThread resolves the {name} path value, writing 404 when unknown.
func (s *Server) lookupThread(w http.ResponseWriter, r *http.Request) (*store.Thread, bool) {
	name := r.PathValue("name")
	t, err := s.store.GetThread(name)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("thread %q not found", name))
		return nil, false
	}
	if err != nil {
		s.internalError(w, "get thread", err)
		return nil, false
	}
	return t, true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op, "err", err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
