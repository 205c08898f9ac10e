package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultOpenAIBaseURL   = "https://api.openai.com/v1"
	DefaultOllamaBaseURL   = "http://localhost:11434"
	DefaultEmbedBatchSize  = 64
	DefaultRemoteTimeout   = 60 * time.Second
	DefaultRequestsPerSec  = 5.0
	maxErrorBodyInMessages = 512
)

type RemoteEmbedderConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Dimension         int
	BatchSize         int
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
}

func (c RemoteEmbedderConfig) withDefaults(baseURL string) RemoteEmbedderConfig {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultEmbedBatchSize
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultRequestsPerSec
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultRemoteTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c
}

// remoteEmbedder holds what the HTTP embedders share: the client, the
// request throttle and the batching loop.
type remoteEmbedder struct {
	cfg     RemoteEmbedderConfig
	limiter *rate.Limiter
	embed   func(ctx context.Context, texts []string) ([][]float32, error)
}

func newRemoteEmbedder(cfg RemoteEmbedderConfig) remoteEmbedder {
	return remoteEmbedder{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

func (r *remoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := r.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (r *remoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(texts))

		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vecs, err := r.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: %s returned %d vectors for %d inputs", ErrEmbeddingUnavailable, r.cfg.Model, len(vecs), end-start)
		}
		for i, v := range vecs {
			if r.cfg.Dimension > 0 && len(v) != r.cfg.Dimension {
				return nil, fmt.Errorf("%w: %s returned %d, expected %d (input %d)", ErrDimensionMismatch, r.cfg.Model, len(v), r.cfg.Dimension, start+i)
			}
		}
		out = append(out, vecs...)
	}

	return out, nil
}

func (r *remoteEmbedder) Dimension() int    { return r.cfg.Dimension }
func (r *remoteEmbedder) ModelName() string { return r.cfg.Model }
func (r *remoteEmbedder) Device() string    { return string(DeviceRemote) }
func (r *remoteEmbedder) Close() error      { return nil }

// postJSON sends body to url and decodes the response into out. Transport
// failures and non-2xx responses are wrapped with unavailable.
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body, out any, unavailable error) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", unavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", unavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBodyInMessages {
			msg = msg[:maxErrorBodyInMessages]
		}
		return fmt.Errorf("%w: %s: status %d: %s", unavailable, url, resp.StatusCode, msg)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", unavailable, err)
	}
	return nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// OpenAIEmbedder talks to any OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	remoteEmbedder
}

type openAIEmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func NewOpenAIEmbedder(cfg RemoteEmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai embedder: model is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("openai embedder: dimension is required")
	}

	e := &OpenAIEmbedder{remoteEmbedder: newRemoteEmbedder(cfg.withDefaults(DefaultOpenAIBaseURL))}
	e.embed = e.post
	return e, nil
}

func (e *OpenAIEmbedder) post(ctx context.Context, texts []string) ([][]float32, error) {
	req := openAIEmbeddingRequest{Model: e.cfg.Model, Input: texts}
	if strings.HasPrefix(e.cfg.Model, "text-embedding-3") {
		req.Dimensions = e.cfg.Dimension
	}

	var resp openAIEmbeddingResponse
	if err := postJSON(ctx, e.cfg.HTTPClient, e.cfg.BaseURL+"/embeddings", e.cfg.APIKey, req, &resp, ErrEmbeddingUnavailable); err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("%w: response index %d out of range", ErrEmbeddingUnavailable, d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding for input %d", ErrEmbeddingUnavailable, i)
		}
	}
	return vecs, nil
}

var _ Embedder = (*OllamaEmbedder)(nil)

// OllamaEmbedder uses the batched /api/embed endpoint.
type OllamaEmbedder struct {
	remoteEmbedder
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func NewOllamaEmbedder(cfg RemoteEmbedderConfig) (*OllamaEmbedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama embedder: model is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("ollama embedder: dimension is required")
	}

	e := &OllamaEmbedder{remoteEmbedder: newRemoteEmbedder(cfg.withDefaults(DefaultOllamaBaseURL))}
	e.embed = e.post
	return e, nil
}

func (e *OllamaEmbedder) post(ctx context.Context, texts []string) ([][]float32, error) {
	var resp ollamaEmbedResponse
	if err := postJSON(ctx, e.cfg.HTTPClient, e.cfg.BaseURL+"/api/embed", "", ollamaEmbedRequest{Model: e.cfg.Model, Input: texts}, &resp, ErrEmbeddingUnavailable); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}
