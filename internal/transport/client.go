package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/mlexpertio/neuromind/internal/consumer"
	"github.com/mlexpertio/neuromind/internal/protocol"
)

const (
	StreamSSE       = "sse"
	StreamWebSocket = "ws"
)

type Client struct {
	baseURL string
	http    *http.Client
	// timeout bounds plain requests and the gap between two chat events.
	timeout time.Duration
	stream  string
}

func NewClient(baseURL string, timeout time.Duration, stream string) *Client {
	if stream == "" {
		stream = StreamSSE
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: timeout,
		stream:  stream,
	}
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.getJSON(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) ListPersonas(ctx context.Context) ([]PersonaInfo, error) {
	var out []PersonaInfo
	if err := c.getJSON(ctx, "/personas", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	var out []ThreadSummary
	if err := c.getJSON(ctx, "/threads", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetThread(ctx context.Context, name string) (*ThreadInfo, error) {
	var t ThreadInfo
	if err := c.getJSON(ctx, threadPath(name), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetOrCreateThread looks the thread up first and only creates it when the
// server does not know it. The bool reports creation.
func (c *Client) GetOrCreateThread(ctx context.Context, name, persona string) (*ThreadInfo, bool, error) {
	t, err := c.GetThread(ctx, name)
	if err == nil {
		return t, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	body, err := json.Marshal(createThreadRequest{Name: name, Persona: persona})
	if err != nil {
		return nil, false, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.do(ctx, http.MethodPost, "/threads", body)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, false, checkStatus(resp, http.StatusCreated)
	}
	var out ThreadInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}
	return &out, resp.StatusCode == http.StatusCreated, nil
}

func (c *Client) History(ctx context.Context, name string) ([]MessageInfo, error) {
	var out []MessageInfo
	if err := c.getJSON(ctx, threadPath(name)+"/messages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ClearMessages(ctx context.Context, name string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.do(ctx, http.MethodDelete, threadPath(name)+"/messages", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusNoContent)
}

// Chat sends content to the thread and consumes the resulting event stream.
// The error is non-nil only when the server rejected the request; stream
// and connection failures are reported through the result's terminal event.
func (c *Client) Chat(ctx context.Context, name, content string, onUpdate consumer.UpdateFunc) (*consumer.Result, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("content is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The idle clock covers the wait for response headers as well as the
	// gaps between events.
	var idle *idleSource
	if c.timeout > 0 {
		idle = newIdleSource(c.timeout, cancel)
		defer idle.stop()
	}

	var (
		src consumer.Source
		err error
	)
	if c.stream == StreamWebSocket {
		src, err = c.openWS(ctx, name, content)
	} else {
		src, err = c.openSSE(ctx, name, content)
	}
	var rejected *StatusError
	if errors.As(err, &rejected) {
		return nil, err
	}
	if err != nil {
		if idle != nil {
			err = idle.expired(err)
		}
		return consumer.Failed(err), nil
	}
	if idle != nil {
		idle.src = src
		src = idle
	}
	return consumer.Consume(src, onUpdate), nil
}

func (c *Client) openSSE(ctx context.Context, name, content string) (consumer.Source, error) {
	body, err := json.Marshal(chatRequest{Content: content})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, threadPath(name)+"/chat", body)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, http.StatusOK); err != nil {
		resp.Body.Close()
		return nil, err
	}
	go func() {
		<-ctx.Done()
		resp.Body.Close()
	}()
	return protocol.NewSSEReader(resp.Body), nil
}

func (c *Client) openWS(ctx context.Context, name, content string) (consumer.Source, error) {
	u := c.baseURL + threadPath(name) + "/ws"
	u = "ws" + strings.TrimPrefix(u, "http")

	conn, resp, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, checkStatus(resp, http.StatusSwitchingProtocols)
		}
		return nil, err
	}
	conn.SetReadLimit(512 * 1024)

	data, err := json.Marshal(chatRequest{Content: content})
	if err != nil {
		conn.CloseNow()
		return nil, err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		conn.CloseNow()
		return nil, err
	}
	go func() {
		<-ctx.Done()
		conn.Close(websocket.StatusNormalClosure, "")
	}()
	return &wsSource{ctx: ctx, conn: conn}, nil
}

// idleSource fails a stream that stays silent for longer than timeout.
// The clock starts when the request is sent.
type idleSource struct {
	src      consumer.Source
	timeout  time.Duration
	timer    *time.Timer
	timedOut atomic.Bool
}

func newIdleSource(timeout time.Duration, cancel context.CancelFunc) *idleSource {
	s := &idleSource{timeout: timeout}
	s.timer = time.AfterFunc(timeout, func() {
		s.timedOut.Store(true)
		cancel()
	})
	return s
}

func (s *idleSource) stop() { s.timer.Stop() }

// expired replaces err with a deadline error when the clock ran out.
func (s *idleSource) expired(err error) error {
	if s.timedOut.Load() {
		return fmt.Errorf("no event for %s: %w", s.timeout, context.DeadlineExceeded)
	}
	return err
}

func (s *idleSource) Next() (protocol.Event, error) {
	ev, err := s.src.Next()
	if err != nil {
		s.stop()
		return nil, s.expired(err)
	}
	if protocol.IsTerminal(ev) {
		s.stop()
	} else {
		s.timer.Reset(s.timeout)
	}
	return ev, nil
}

// StatusError is a non-success HTTP answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// HTTP helpers

func threadPath(name string) string {
	return "/threads/" + url.PathEscape(name)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func checkStatus(resp *http.Response, expected int) error {
	if resp.StatusCode == expected {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &StatusError{Code: resp.StatusCode, Message: errResp.Error}
	}
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
