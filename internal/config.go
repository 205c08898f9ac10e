package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendGollama = "gollama"
	BackendOpenAI  = "openai"
	BackendOllama  = "ollama"

	DefaultEmbeddingModel     = "nomic-embed-text-v1.5"
	DefaultEmbeddingDimension = 768

	DefaultNotFoundMessage    = "I could not find this information in the documents."
	DefaultUnavailableMessage = "Sorry, the answering service is temporarily unavailable. Please try again later."
	DefaultCitationPrefix     = "Source:"
)

var (
	embeddingBackends  = []string{BackendGollama, BackendOpenAI, BackendOllama}
	generatorProviders = []string{"openai", "anthropic", "openrouter", "ollama"}
)

type ChunkConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

type RetrievalConfig struct {
	K           int  `yaml:"k"`
	Trees       int  `yaml:"trees"`
	Oversample  int  `yaml:"oversample"`
	ExactBelow  int  `yaml:"exact_below"`
	Approximate bool `yaml:"approximate"`
}

func (r RetrievalConfig) IndexOptions() IndexOptions {
	return IndexOptions{
		Trees:       r.Trees,
		Oversample:  r.Oversample,
		ExactBelow:  r.ExactBelow,
		Approximate: r.Approximate,
	}.withDefaults()
}

// EmbeddingRole configures one embedding provider. Ingest and query each
// get one; both must produce vectors in the same space.
type EmbeddingRole struct {
	Backend           string        `yaml:"backend"`
	Model             string        `yaml:"model"`
	Dimension         int           `yaml:"dimension"`
	Path              string        `yaml:"path,omitempty"`
	BaseURL           string        `yaml:"base_url,omitempty"`
	APIKey            string        `yaml:"api_key,omitempty"`
	APIKeyEnv         string        `yaml:"api_key_env,omitempty"`
	BatchSize         int           `yaml:"batch_size,omitempty"`
	RequestsPerSecond float64       `yaml:"requests_per_second,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`
}

func (r EmbeddingRole) ResolveAPIKey() string {
	if r.APIKey != "" {
		return r.APIKey
	}
	if r.APIKeyEnv != "" {
		return os.Getenv(r.APIKeyEnv)
	}
	return ""
}

type EmbeddingsConfig struct {
	Ingest EmbeddingRole `yaml:"ingest"`
	Query  EmbeddingRole `yaml:"query"`
}

type GeneratorConfig struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url,omitempty"`
	APIKey    string        `yaml:"api_key,omitempty"`
	APIKeyEnv string        `yaml:"api_key_env,omitempty"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

func (g GeneratorConfig) ResolveAPIKey() string {
	if g.APIKey != "" {
		return g.APIKey
	}
	if g.APIKeyEnv != "" {
		return os.Getenv(g.APIKeyEnv)
	}
	return ""
}

type ExtractSettings struct {
	Workers   int    `yaml:"workers"`
	OCR       bool   `yaml:"ocr"`
	Languages string `yaml:"languages"`
	PDFToText string `yaml:"pdftotext"`
	PDFToPPM  string `yaml:"pdftoppm"`
	Tesseract string `yaml:"tesseract"`
}

type Messages struct {
	NotFound       string `yaml:"not_found"`
	Unavailable    string `yaml:"unavailable"`
	CitationPrefix string `yaml:"citation_prefix"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	CorpusPath string           `yaml:"corpus_path"`
	LedgerPath string           `yaml:"ledger_path"`
	IndexPath  string           `yaml:"index_path"`
	RunsPath   string           `yaml:"runs_path"`
	Chunk      ChunkConfig      `yaml:"chunk"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Extract    ExtractSettings  `yaml:"extract"`
	Messages   Messages         `yaml:"messages"`
	Server     ServerConfig     `yaml:"server"`
}

func DefaultConfig() *Config {
	role := EmbeddingRole{
		Backend:   BackendGollama,
		Model:     DefaultEmbeddingModel,
		Dimension: DefaultEmbeddingDimension,
	}
	extract := DefaultExtractConfig()

	return &Config{
		CorpusPath: "documents",
		LedgerPath: "processed_files.log",
		IndexPath:  filepath.Join(StateDirname, "index"),
		RunsPath:   filepath.Join(StateDirname, "runs.db"),
		Chunk: ChunkConfig{
			Size:    DefaultChunkSize,
			Overlap: DefaultChunkOverlap,
		},
		Retrieval: RetrievalConfig{
			K:          DefaultRetrieveK,
			Trees:      DefaultTrees,
			Oversample: DefaultOversample,
			ExactBelow: DefaultExactBelow,
		},
		Embeddings: EmbeddingsConfig{
			Ingest: role,
			Query:  role,
		},
		Generator: GeneratorConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
			MaxTokens: DefaultMaxOutputTokens,
		},
		Extract: ExtractSettings{
			Workers:   4,
			OCR:       extract.OCR,
			Languages: extract.Languages,
			PDFToText: extract.PDFToText,
			PDFToPPM:  extract.PDFToPPM,
			Tesseract: extract.Tesseract,
		},
		Messages: Messages{
			NotFound:       DefaultNotFoundMessage,
			Unavailable:    DefaultUnavailableMessage,
			CitationPrefix: DefaultCitationPrefix,
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// LoadConfig reads the workspace configuration over the defaults, loads the
// workspace .env without overriding the environment, and anchors relative
// paths at the workspace root. A missing file yields the defaults.
func LoadConfig(ws Workspace) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ws.ConfigPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, ws.ConfigPath, err)
		}
	}

	if err := godotenv.Load(filepath.Join(ws.Root, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg.resolvePaths(ws.Root)
	return cfg, nil
}

func SaveConfig(ws Workspace, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(ws.ConfigPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(ws.ConfigPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

func (c *Config) resolvePaths(root string) {
	for _, p := range []*string{&c.CorpusPath, &c.LedgerPath, &c.IndexPath, &c.RunsPath, &c.Embeddings.Ingest.Path, &c.Embeddings.Query.Path} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(root, *p)
		}
	}
}

// Validate reports every problem at once, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error

	if c.CorpusPath == "" {
		errs = append(errs, errors.New("corpus_path is required"))
	}
	if c.LedgerPath == "" {
		errs = append(errs, errors.New("ledger_path is required"))
	}
	if c.IndexPath == "" {
		errs = append(errs, errors.New("index_path is required"))
	}

	if c.Chunk.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunk.size must be positive, got %d", c.Chunk.Size))
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		errs = append(errs, fmt.Errorf("chunk.overlap must be in [0, chunk.size), got %d", c.Chunk.Overlap))
	}

	if c.Retrieval.K < 0 {
		errs = append(errs, fmt.Errorf("retrieval.k must not be negative, got %d", c.Retrieval.K))
	}
	if c.Retrieval.Trees < 0 || c.Retrieval.Oversample < 0 || c.Retrieval.ExactBelow < 0 {
		errs = append(errs, errors.New("retrieval.trees, oversample and exact_below must not be negative"))
	}

	errs = append(errs, c.Embeddings.Ingest.validate("embeddings.ingest")...)
	errs = append(errs, c.Embeddings.Query.validate("embeddings.query")...)

	in, q := c.Embeddings.Ingest, c.Embeddings.Query
	if in.Model != q.Model || in.Dimension != q.Dimension {
		errs = append(errs, fmt.Errorf("%w: ingest uses %s/%d, query uses %s/%d", ErrModelMismatch, in.Model, in.Dimension, q.Model, q.Dimension))
	}

	if !slices.Contains(generatorProviders, c.Generator.Provider) {
		errs = append(errs, fmt.Errorf("generator.provider must be one of %v, got %q", generatorProviders, c.Generator.Provider))
	}
	if c.Generator.Model == "" {
		errs = append(errs, errors.New("generator.model is required"))
	}
	if c.Generator.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("generator.max_tokens must not be negative, got %d", c.Generator.MaxTokens))
	}

	if c.Extract.Workers < 1 {
		errs = append(errs, fmt.Errorf("extract.workers must be at least 1, got %d", c.Extract.Workers))
	}

	if c.Messages.NotFound == "" || c.Messages.Unavailable == "" {
		errs = append(errs, errors.New("messages.not_found and messages.unavailable are required"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func (r EmbeddingRole) validate(field string) []error {
	var errs []error
	if !slices.Contains(embeddingBackends, r.Backend) {
		errs = append(errs, fmt.Errorf("%s.backend must be one of %v, got %q", field, embeddingBackends, r.Backend))
	}
	if r.Model == "" {
		errs = append(errs, fmt.Errorf("%s.model is required", field))
	}
	if r.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("%s.dimension must be positive, got %d", field, r.Dimension))
	}
	if r.BatchSize < 0 || r.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("%s.batch_size and requests_per_second must not be negative", field))
	}
	return errs
}
