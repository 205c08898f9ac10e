package internal

import (
	"context"
	"fmt"
)

// NewEmbedder builds the provider for one embedding role.
func NewEmbedder(role EmbeddingRole, debug bool) (Embedder, error) {
	switch role.Backend {
	case BackendGollama:
		path := role.Path
		if path == "" {
			cacheDir, err := DefaultCacheDir()
			if err != nil {
				return nil, fmt.Errorf("resolve model cache: %w", err)
			}
			cache := NewModelCache(cacheDir, "")
			if !cache.Has(DefaultModel) {
				return nil, fmt.Errorf("%w: %s is not downloaded, run `docqa model pull`", ErrEmbeddingUnavailable, DefaultModel.Name)
			}
			path = cache.Path(DefaultModel)
		}
		e, err := NewLocalEmbedder(LocalEmbedderConfig{
			Name:      role.Model,
			Path:      path,
			Dimension: role.Dimension,
			Debug:     debug,
		})
		if err != nil {
			return nil, err
		}
		return e, nil

	case BackendOpenAI:
		e, err := NewOpenAIEmbedder(role.remoteConfig())
		if err != nil {
			return nil, err
		}
		return e, nil

	case BackendOllama:
		e, err := NewOllamaEmbedder(role.remoteConfig())
		if err != nil {
			return nil, err
		}
		return e, nil

	default:
		return nil, fmt.Errorf("%w: unknown embedding backend %q", ErrInvalidConfig, role.Backend)
	}
}

func (r EmbeddingRole) remoteConfig() RemoteEmbedderConfig {
	return RemoteEmbedderConfig{
		BaseURL:           r.BaseURL,
		APIKey:            r.ResolveAPIKey(),
		Model:             r.Model,
		Dimension:         r.Dimension,
		BatchSize:         r.BatchSize,
		RequestsPerSecond: r.RequestsPerSecond,
		Timeout:           r.Timeout,
	}
}

// NewGenerator builds the answer model client.
func NewGenerator(ctx context.Context, cfg GeneratorConfig) (Generator, error) {
	if cfg.Provider == "ollama" {
		g, err := NewOllamaGenerator(OllamaGeneratorConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	}

	g, err := NewFantasyGenerator(ctx, FantasyConfig{
		Provider:  cfg.Provider,
		APIKey:    cfg.ResolveAPIKey(),
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s ExtractSettings) ExtractConfig() ExtractConfig {
	return ExtractConfig{
		OCR:       s.OCR,
		Languages: s.Languages,
		PDFToText: s.PDFToText,
		PDFToPPM:  s.PDFToPPM,
		Tesseract: s.Tesseract,
	}
}
