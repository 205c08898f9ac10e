package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"unsafe"

	"github.com/dianlight/gollama.cpp"
)

type Device string

const (
	DeviceMPS    Device = "mps"
	DeviceCUDA   Device = "cuda"
	DeviceCPU    Device = "cpu"
	DeviceRemote Device = "remote"

	DefaultLocalContext = 512
)

func DetectHardware() Device {
	switch {
	case runtime.GOOS == "darwin" && runtime.GOARCH == "arm64":
		return DeviceMPS
	case fileExists("/dev/nvidia0"):
		return DeviceCUDA
	}
	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		return DeviceCUDA
	}
	return DeviceCPU
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (d Device) accelerated() bool {
	return d == DeviceMPS || d == DeviceCUDA
}

var _ Embedder = (*LocalEmbedder)(nil)

type LocalEmbedderConfig struct {
	// Name is the model identity recorded in the index manifest.
	Name      string
	Path      string
	Dimension int
	// Context caps the tokens embedded per chunk; longer chunks are cut.
	Context uint32
	Debug   bool
}

// LocalEmbedder runs a GGUF embedding model in-process through llama.cpp.
// Calls are serialized on one context.
type LocalEmbedder struct {
	mu     sync.Mutex
	model  gollama.LlamaModel
	lctx   gollama.LlamaContext
	cfg    LocalEmbedderConfig
	device Device
	closed bool
}

func NewLocalEmbedder(cfg LocalEmbedderConfig) (*LocalEmbedder, error) {
	if cfg.Name == "" {
		return nil, errors.New("local embedder: model name is required")
	}
	if !fileExists(cfg.Path) {
		return nil, fmt.Errorf("%w: model file %s not found", ErrEmbeddingUnavailable, cfg.Path)
	}
	if cfg.Context == 0 {
		cfg.Context = DefaultLocalContext
	}

	if err := gollama.Backend_init(); err != nil {
		return nil, fmt.Errorf("%w: init llama backend: %v", ErrEmbeddingUnavailable, err)
	}
	if !cfg.Debug {
		_ = gollama.Log_disable()
	}

	e := &LocalEmbedder{cfg: cfg, device: DetectHardware()}
	if err := e.load(); err != nil {
		e.release()
		return nil, err
	}
	return e, nil
}

func (e *LocalEmbedder) load() error {
	params := gollama.Model_default_params()
	params.NGpuLayers = 0
	if e.device.accelerated() {
		params.NGpuLayers = 99
	}

	model, err := gollama.Model_load_from_file(e.cfg.Path, params)
	if err != nil {
		return fmt.Errorf("%w: load %s: %v", ErrEmbeddingUnavailable, e.cfg.Path, err)
	}
	e.model = model

	native := int(gollama.Model_n_embd(model))
	switch {
	case e.cfg.Dimension == 0:
		e.cfg.Dimension = native
	case e.cfg.Dimension != native:
		return fmt.Errorf("%w: %s produces %d, configured %d", ErrDimensionMismatch, e.cfg.Name, native, e.cfg.Dimension)
	}

	ctxParams := gollama.Context_default_params()
	ctxParams.Embeddings = 1
	ctxParams.NCtx = e.cfg.Context

	lctx, err := gollama.Init_from_model(model, ctxParams)
	if err != nil {
		return fmt.Errorf("%w: init context: %v", ErrEmbeddingUnavailable, err)
	}
	e.lctx = lctx
	gollama.Set_embeddings(lctx, true)
	return nil
}

func (e *LocalEmbedder) release() {
	if e.lctx != 0 {
		gollama.Free(e.lctx)
		e.lctx = 0
	}
	if e.model != 0 {
		gollama.Model_free(e.model)
		e.model = 0
	}
	gollama.Backend_free()
}

func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("%w: embedder closed", ErrEmbeddingUnavailable)
	}

	tokens, err := gollama.Tokenize(e.model, text, true, false)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	if len(tokens) == 0 {
		return make([]float32, e.cfg.Dimension), nil
	}
	if len(tokens) > int(e.cfg.Context) {
		tokens = tokens[:e.cfg.Context]
	}

	gollama.Memory_clear(e.lctx, false)
	if err := e.decode(tokens); err != nil {
		return nil, err
	}

	// pooled models expose one embedding per sequence
	ptr := gollama.Get_embeddings_seq(e.lctx, 0)
	if ptr == nil {
		return nil, fmt.Errorf("%w: %s returned no pooled embedding", ErrEmbeddingUnavailable, e.cfg.Name)
	}
	return normalize(copyFloats(ptr, e.cfg.Dimension)), nil
}

// decode runs tokens as a single sequence.
func (e *LocalEmbedder) decode(tokens []gollama.LlamaToken) error {
	n := int32(len(tokens))
	batch := gollama.Batch_init(n, 0, 1)
	defer gollama.Batch_free(batch)

	tok := unsafe.Slice(batch.Token, n)
	pos := unsafe.Slice(batch.Pos, n)
	nSeq := unsafe.Slice(batch.NSeqId, n)
	seq := unsafe.Slice(batch.SeqId, n)
	logits := unsafe.Slice(batch.Logits, n)

	for i := range n {
		tok[i] = tokens[i]
		pos[i] = gollama.LlamaPos(i)
		nSeq[i] = 1
		*seq[i] = 0
		logits[i] = 1
	}
	batch.NTokens = n

	if err := gollama.Decode(e.lctx, batch); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (e *LocalEmbedder) Dimension() int    { return e.cfg.Dimension }
func (e *LocalEmbedder) ModelName() string { return e.cfg.Name }
func (e *LocalEmbedder) Device() string    { return string(e.device) }

func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.release()
	return nil
}

func copyFloats(ptr *float32, n int) []float32 {
	out := make([]float32, n)
	copy(out, unsafe.Slice(ptr, n))
	return out
}
