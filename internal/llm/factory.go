package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/mlexpertio/neuromind/internal/config"
)

// New creates a Model based on configuration
func New(ctx context.Context, cfg config.ModelConfig) (Model, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return NewOllama(cfg.Name, cfg.BaseURL, cfg.Temperature, cfg.ContextWindow), nil
	case config.ProviderGemini:
		return NewGemini(ctx, cfg.APIKey, cfg.Name, cfg.Temperature)
	case config.ProviderDummy:
		d := NewDummy(50 * time.Millisecond)
		d.Model = cfg.Name
		return d, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
