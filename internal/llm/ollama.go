package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const (
	ollamaDefaultModel   = "qwen3:8b"
	ollamaDefaultBaseURL = "http://localhost:11434"
)

// Ollama streams chat completions from a local Ollama server. Thinking
// models report reasoning in message.thinking.
type Ollama struct {
	model       string
	baseURL     string
	temperature float32
	ctxWindow   int
	client      *http.Client
}

func NewOllama(model, baseURL string, temperature float32, ctxWindow int) *Ollama {
	if model == "" {
		model = ollamaDefaultModel
	}
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	if ctxWindow <= 0 {
		ctxWindow = 4096
	}
	return &Ollama{
		model:       model,
		baseURL:     baseURL,
		temperature: temperature,
		ctxWindow:   ctxWindow,
		// no client timeout: a streamed reply is bounded by the caller's context
		client: &http.Client{},
	}
}

func (o *Ollama) Name() string { return o.model }

func (o *Ollama) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	req := ollamaChatRequest{
		Model:  o.model,
		Stream: true,
		Think:  true,
		Options: ollamaOptions{
			NumCtx:      o.ctxWindow,
			Temperature: o.temperature,
		},
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, classify(fmt.Errorf("ollama: request failed: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("ollama: returned %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
		if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusBadGateway {
			err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		return nil, err
	}

	stream := newStream(ctx)
	go func() {
		defer resp.Body.Close()
		stream.close(o.pump(stream, resp.Body))
	}()
	return stream, nil
}

func (o *Ollama) pump(stream *Stream, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("ollama: decode chunk: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama: %s", chunk.Error)
		}
		f := Fragment{Reasoning: chunk.Message.Thinking, Content: chunk.Message.Content}
		if f.Reasoning != "" || f.Content != "" {
			if !stream.send(f) {
				return stream.ctx.Err()
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("ollama: stream ended before done")
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Think    bool            `json:"think"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaOptions struct {
	NumCtx      int     `json:"num_ctx"`
	Temperature float32 `json:"temperature"`
}

type ollamaChatChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}
