package internal

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var _ Generator = (*OllamaGenerator)(nil)

type OllamaGeneratorConfig struct {
	BaseURL    string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OllamaGenerator calls /api/chat without streaming.
type OllamaGenerator struct {
	client    *http.Client
	baseURL   string
	model     string
	maxTokens int
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaOptions       `json:"options"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Temperature is always sent; zero is meaningful here.
type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

func NewOllamaGenerator(cfg OllamaGeneratorConfig) (*OllamaGenerator, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: ollama model is required", ErrGeneratorUnavailable)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxOutputTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * DefaultRemoteTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OllamaGenerator{
		client:    cfg.HTTPClient,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (g *OllamaGenerator) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := ollamaChatRequest{
		Model: g.model,
		Messages: []ollamaChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Options: ollamaOptions{Temperature: 0, NumPredict: g.maxTokens},
	}

	var resp ollamaChatResponse
	if err := postJSON(ctx, g.client, g.baseURL+"/api/chat", "", req, &resp, ErrGeneratorUnavailable); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (g *OllamaGenerator) ModelName() string {
	return "ollama/" + g.model
}
