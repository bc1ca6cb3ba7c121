package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini streams from the Gemini API. Thought summaries arrive as parts
// flagged Thought and become reasoning fragments.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
}

func NewGemini(ctx context.Context, apiKey, model string, temperature float32) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Gemini{client: client, model: model, temperature: temperature}, nil
}

func (g *Gemini) Name() string { return g.model }

func (g *Gemini) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	contents, system := toGenAIContents(messages)

	cfg := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(g.temperature),
		ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	stream := newStream(ctx)
	go func() {
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
			if err != nil {
				stream.close(fmt.Errorf("gemini: %w", err))
				return
			}
			for _, f := range fragmentsFromResponse(resp) {
				if !stream.send(f) {
					stream.close(ctx.Err())
					return
				}
			}
		}
		stream.close(nil)
	}()
	return stream, nil
}

// toGenAIContents maps chat messages onto Gemini contents. System messages
// are folded into one system instruction.
func toGenAIContents(messages []Message) ([]*genai.Content, string) {
	var (
		contents []*genai.Content
		system   []string
	)
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func fragmentsFromResponse(resp *genai.GenerateContentResponse) []Fragment {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return nil
	}
	var out []Fragment
	for _, part := range cand.Content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		if part.Thought {
			out = append(out, Fragment{Reasoning: part.Text})
		} else {
			out = append(out, Fragment{Content: part.Text})
		}
	}
	return out
}
