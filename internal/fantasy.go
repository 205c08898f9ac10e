package internal

import (
	"context"
	"fmt"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/openai"
	"charm.land/fantasy/providers/openrouter"
)

const DefaultMaxOutputTokens = 1024

type FantasyConfig struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

var _ Generator = (*FantasyGenerator)(nil)

// FantasyGenerator answers through a hosted chat model. Every call runs at
// temperature 0 with a bounded output length.
type FantasyGenerator struct {
	model     fantasy.LanguageModel
	provider  string
	name      string
	maxTokens int64
}

func NewFantasyGenerator(ctx context.Context, cfg FantasyConfig) (*FantasyGenerator, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrGeneratorUnavailable)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key for %s", ErrGeneratorUnavailable, cfg.Provider)
	}

	provider, err := newFantasyProvider(cfg)
	if err != nil {
		return nil, err
	}

	model, err := provider.LanguageModel(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrGeneratorUnavailable, cfg.Provider, cfg.Model, err)
	}

	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxOutputTokens
	}
	return &FantasyGenerator{
		model:     model,
		provider:  cfg.Provider,
		name:      cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}, nil
}

func newFantasyProvider(cfg FantasyConfig) (fantasy.Provider, error) {
	var (
		provider fantasy.Provider
		err      error
	)
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{openai.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		provider, err = openai.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		provider, err = anthropic.New(opts...)
	case "openrouter":
		provider, err = openrouter.New(openrouter.WithAPIKey(cfg.APIKey))
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrGeneratorUnavailable, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s provider: %v", ErrGeneratorUnavailable, cfg.Provider, err)
	}
	return provider, nil
}

func (g *FantasyGenerator) Complete(ctx context.Context, system, prompt string) (string, error) {
	agent := fantasy.NewAgent(g.model, fantasy.WithSystemPrompt(system))

	temperature := 0.0
	maxTokens := g.maxTokens

	result, err := agent.Generate(ctx, fantasy.AgentCall{
		Prompt:          prompt,
		Temperature:     &temperature,
		MaxOutputTokens: &maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s/%s: %v", ErrGeneratorUnavailable, g.provider, g.name, err)
	}

	return result.Response.Content.Text(), nil
}

func (g *FantasyGenerator) ModelName() string {
	return g.provider + "/" + g.name
}
