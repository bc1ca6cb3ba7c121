package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mlexpertio/neuromind/internal/engine"
	"github.com/mlexpertio/neuromind/internal/llm"
	"github.com/mlexpertio/neuromind/internal/logger"
	"github.com/mlexpertio/neuromind/internal/persona"
	"github.com/mlexpertio/neuromind/internal/protocol"
	"github.com/mlexpertio/neuromind/internal/store"
)

type fixture struct {
	store  *store.Store
	model  *llm.Dummy
	server *httptest.Server
	client *Client
}

func setup(t *testing.T, model *llm.Dummy, limiter *RateLimiter) *fixture {
	t.Helper()

	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	reg, err := persona.NewRegistry("", "neuromind", logger.Discard())
	if err != nil {
		t.Fatalf("persona registry: %v", err)
	}
	eng := engine.New(engine.Config{
		History:  s,
		Model:    model,
		Personas: reg,
		Timeout:  5 * time.Second,
		Logger:   logger.Discard(),
	})
	srv := NewServer(ServerConfig{
		Store:    s,
		Engine:   eng,
		Personas: reg,
		Limiter:  limiter,
		Logger:   logger.Discard(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return &fixture{store: s, model: model, server: ts, client: NewClient(ts.URL, 5*time.Second, StreamSSE)}
}

func TestHealthAndPersonas(t *testing.T) {
	f := setup(t, &llm.Dummy{Model: "qwen3:8b"}, nil)
	ctx := context.Background()

	h, err := f.client.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if diff := cmp.Diff(&Health{Status: "ok", Model: "qwen3:8b"}, h); diff != "" {
		t.Errorf("health (-want +got):\n%s", diff)
	}

	personas, err := f.client.ListPersonas(ctx)
	if err != nil {
		t.Fatalf("personas: %v", err)
	}
	if len(personas) != len(persona.Builtin) {
		t.Fatalf("got %d personas", len(personas))
	}
	if personas[1] != (PersonaInfo{Name: "coder", Description: "Coder persona"}) {
		t.Errorf("personas[1] = %+v", personas[1])
	}
}

func TestCreateThreadStatusCodes(t *testing.T) {
	f := setup(t, &llm.Dummy{}, nil)

	post := func(body string) *http.Response {
		t.Helper()
		resp, err := http.Post(f.server.URL+"/threads", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp
	}

	if code := post(`{"name":"demo","persona":"coder"}`).StatusCode; code != http.StatusCreated {
		t.Errorf("first create = %d, want 201", code)
	}
	if code := post(`{"name":"demo","persona":"roaster"}`).StatusCode; code != http.StatusOK {
		t.Errorf("second create = %d, want 200", code)
	}
	if code := post(`{"name":"x","persona":"ghost"}`).StatusCode; code != http.StatusBadRequest {
		t.Errorf("unknown persona = %d, want 400", code)
	}
	if code := post(`{"name":"  "}`).StatusCode; code != http.StatusBadRequest {
		t.Errorf("blank name = %d, want 400", code)
	}
	if code := post(`{"name":"` + strings.Repeat("n", 101) + `"}`).StatusCode; code != http.StatusBadRequest {
		t.Errorf("long name = %d, want 400", code)
	}
	if code := post(`{`).StatusCode; code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", code)
	}

	th, err := f.client.GetThread(context.Background(), "demo")
	if err != nil {
		t.Fatal(err)
	}
	if th.Persona != "coder" {
		t.Errorf("persona = %q, second create must not change it", th.Persona)
	}
}

func TestClientGetOrCreate(t *testing.T) {
	f := setup(t, &llm.Dummy{}, nil)
	ctx := context.Background()

	if _, err := f.client.GetThread(ctx, "my thread"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get unknown = %v, want ErrNotFound", err)
	}
	a, created, err := f.client.GetOrCreateThread(ctx, "my thread", "teacher")
	if err != nil || !created {
		t.Fatalf("create: %+v %v %v", a, created, err)
	}
	b, created, err := f.client.GetOrCreateThread(ctx, "my thread", "coder")
	if err != nil || created {
		t.Fatalf("second: %+v %v %v", b, created, err)
	}
	if a.ID != b.ID || b.Persona != "teacher" {
		t.Errorf("a=%+v b=%+v", a, b)
	}
}

func TestChatSSEDemoScenario(t *testing.T) {
	f := setup(t, &llm.Dummy{Fragments: []llm.Fragment{{Reasoning: "add"}, {Content: "4"}}}, nil)
	ctx := context.Background()
	if _, _, err := f.client.GetOrCreateThread(ctx, "demo", "coder"); err != nil {
		t.Fatal(err)
	}

	var updates int
	res, err := f.client.Chat(ctx, "demo", "2+2?", func(r, c string) { updates++ })
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Err() != nil {
		t.Fatalf("result err: %v", res.Err())
	}
	if res.Reasoning != "add" || res.Content != "4" || updates != 2 {
		t.Errorf("result = %+v, updates = %d", res, updates)
	}

	hist, err := f.client.History(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	want := []MessageInfo{{Role: "human", Content: "2+2?"}, {Role: "ai", Content: "4"}}
	if diff := cmp.Diff(want, hist); diff != "" {
		t.Errorf("history (-want +got):\n%s", diff)
	}

	threads, err := f.client.ListThreads(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]ThreadSummary{{Name: "demo", Persona: "coder", MessageCount: 2}}, threads); diff != "" {
		t.Errorf("threads (-want +got):\n%s", diff)
	}
}

func TestChatRawSSE(t *testing.T) {
	f := setup(t, &llm.Dummy{Fragments: []llm.Fragment{{Content: "hi"}}}, nil)

	resp, err := http.Post(f.server.URL+"/threads/fresh/chat", "application/json", strings.NewReader(`{"content":"hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != protocol.ContentTypeSSE {
		t.Errorf("content type = %q", ct)
	}
	if resp.Header.Get("X-Turn-ID") == "" {
		t.Error("missing X-Turn-ID")
	}

	r := protocol.NewSSEReader(resp.Body)
	var got []protocol.Event
	for {
		ev, err := r.Next()
		if err != nil {
			break
		}
		got = append(got, ev)
	}
	want := []protocol.Event{protocol.ContentEvent{Text: "hi"}, protocol.DoneEvent{}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}

	// chat get-or-creates with the default persona
	th, err := f.store.GetThread("fresh")
	if err != nil {
		t.Fatal(err)
	}
	if th.Persona != "neuromind" {
		t.Errorf("persona = %q", th.Persona)
	}
}

func TestChatValidation(t *testing.T) {
	f := setup(t, &llm.Dummy{}, nil)

	resp, err := http.Post(f.server.URL+"/threads/v/chat", "application/json", strings.NewReader(`{"content":"   "}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty content = %d, want 400", resp.StatusCode)
	}
	if _, err := f.store.GetThread("v"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rejected chat touched the store: %v", err)
	}
	if len(f.model.Calls()) != 0 {
		t.Error("rejected chat reached the model")
	}

	if _, err := f.client.Chat(context.Background(), "v", "", nil); err == nil {
		t.Error("client accepted empty content")
	}
}

func TestChatFailureKeepsHistory(t *testing.T) {
	model := &llm.Dummy{Fragments: []llm.Fragment{{Reasoning: "thinking"}}, Err: llm.ErrTimeout}
	f := setup(t, model, nil)
	ctx := context.Background()
	th, _, err := f.store.GetOrCreateThread("demo", "coder")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.AppendTurn(th.ID, "2+2?", "4"); err != nil {
		t.Fatal(err)
	}

	res, err := f.client.Chat(ctx, "demo", "again", nil)
	if err != nil {
		t.Fatal(err)
	}
	var ev protocol.ErrorEvent
	if !errors.As(res.Err(), &ev) || ev.Kind != protocol.KindTimeout {
		t.Fatalf("result err = %v", res.Err())
	}
	if res.Reasoning != "thinking" {
		t.Errorf("reasoning = %q", res.Reasoning)
	}
	hist, err := f.client.History(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Errorf("history has %d messages, want 2", len(hist))
	}
}

func TestChatWebSocket(t *testing.T) {
	f := setup(t, &llm.Dummy{Fragments: []llm.Fragment{{Reasoning: "r"}, {Content: "a"}, {Content: "b"}}}, nil)
	client := NewClient(f.server.URL, 5*time.Second, StreamWebSocket)

	res, err := client.Chat(context.Background(), "sock", "hello", nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Err() != nil {
		t.Fatalf("result err: %v", res.Err())
	}
	if res.Reasoning != "r" || res.Content != "ab" {
		t.Errorf("result = %+v", res)
	}
	th, err := f.store.GetThread("sock")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := f.store.CountMessages(th.ID); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestClearMessages(t *testing.T) {
	f := setup(t, &llm.Dummy{}, nil)
	ctx := context.Background()
	th, _, _ := f.store.GetOrCreateThread("c", "")
	f.store.AppendTurn(th.ID, "q", "a")

	if err := f.client.ClearMessages(ctx, "c"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := f.client.ClearMessages(ctx, "c"); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	hist, err := f.client.History(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 0 {
		t.Errorf("history = %+v", hist)
	}
	if err := f.client.ClearMessages(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("clear unknown = %v, want ErrNotFound", err)
	}
	if _, err := f.client.History(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("history unknown = %v, want ErrNotFound", err)
	}
}

func TestChatRateLimited(t *testing.T) {
	f := setup(t, &llm.Dummy{Fragments: []llm.Fragment{{Content: "ok"}}}, NewRateLimiter(0.001, 1))
	ctx := context.Background()

	if _, err := f.client.Chat(ctx, "r", "one", nil); err != nil {
		t.Fatalf("first chat: %v", err)
	}
	_, err := f.client.Chat(ctx, "r", "two", nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
		t.Fatalf("second chat err = %v, want 429", err)
	}
	// other routes are not limited
	if _, err := f.client.ListThreads(ctx); err != nil {
		t.Errorf("list threads: %v", err)
	}
}

func TestChatConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := NewClient("http://"+addr, time.Second, StreamSSE)
	res, err := c.Chat(context.Background(), "x", "hi", nil)
	if err != nil {
		t.Fatalf("chat returned error instead of result: %v", err)
	}
	if e, ok := res.Terminal.(protocol.ErrorEvent); !ok || e.Kind != protocol.KindConnectionFailed {
		t.Errorf("terminal = %+v", res.Terminal)
	}
}

func TestChatIdleTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", protocol.ContentTypeSSE)
		protocol.WriteSSE(w, protocol.ReasoningEvent{Text: "slow"})
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c := NewClient(ts.URL, 100*time.Millisecond, StreamSSE)
	res, err := c.Chat(context.Background(), "x", "hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	if e, ok := res.Terminal.(protocol.ErrorEvent); !ok || e.Kind != protocol.KindTimeout {
		t.Errorf("terminal = %+v", res.Terminal)
	}
	if res.Reasoning != "slow" {
		t.Errorf("reasoning = %q", res.Reasoning)
	}
}

func TestChatTimeoutBeforeHeaders(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	for _, stream := range []string{StreamSSE, StreamWebSocket} {
		t.Run(stream, func(t *testing.T) {
			c := NewClient(ts.URL, 100*time.Millisecond, stream)
			start := time.Now()
			res, err := c.Chat(context.Background(), "x", "hi", nil)
			if err != nil {
				t.Fatal(err)
			}
			if e, ok := res.Terminal.(protocol.ErrorEvent); !ok || e.Kind != protocol.KindTimeout {
				t.Errorf("terminal = %+v, want timeout", res.Terminal)
			}
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Errorf("chat took %s", elapsed)
			}
		})
	}
}

func TestChatStreamWithoutTerminal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", protocol.ContentTypeSSE)
		protocol.WriteSSE(w, protocol.ContentEvent{Text: "partial"})
	}))
	defer ts.Close()

	res, err := NewClient(ts.URL, time.Second, StreamSSE).Chat(context.Background(), "x", "hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	if e, ok := res.Terminal.(protocol.ErrorEvent); !ok || e.Kind != protocol.KindInternal {
		t.Errorf("terminal = %+v, want internal_error", res.Terminal)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	reg, _ := persona.NewRegistry("", "neuromind", logger.Discard())
	eng := engine.New(engine.Config{History: s, Model: &llm.Dummy{}, Personas: reg, Logger: logger.Discard()})
	srv := NewServer(ServerConfig{Store: s, Engine: eng, Personas: reg, Logger: logger.Discard()})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	c := NewClient(fmt.Sprintf("http://%s", ln.Addr()), time.Second, StreamSSE)
	if _, err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if ip := clientIP(r); ip != "10.0.0.1" {
		t.Errorf("remote addr ip = %q", ip)
	}
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if ip := clientIP(r); ip != "1.2.3.4" {
		t.Errorf("forwarded ip = %q", ip)
	}
}
