package internal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var ErrChecksumMismatch = errors.New("checksum mismatch")

// ModelSpec names a downloadable GGUF embedding model. SHA256 is optional;
// when set the download is verified before it lands in the cache.
type ModelSpec struct {
	Name      string
	URL       string
	Filename  string
	Dimension int
	SHA256    string
}

var DefaultModel = ModelSpec{
	Name:      DefaultEmbeddingModel,
	URL:       "https://huggingface.co/nomic-ai/nomic-embed-text-v1.5-GGUF/resolve/main/nomic-embed-text-v1.5.Q4_K_M.gguf",
	Filename:  "nomic-embed-text-v1.5.Q4_K_M.gguf",
	Dimension: DefaultEmbeddingDimension,
}

// ProgressFunc receives the bytes written so far and the expected total,
// which is -1 when the server does not announce a length.
type ProgressFunc func(written, total int64)

// ModelCache keeps downloaded models in one directory.
type ModelCache struct {
	dir    string
	token  string
	client *http.Client
}

func NewModelCache(dir, token string) *ModelCache {
	return &ModelCache{dir: dir, token: token, client: http.DefaultClient}
}

// WithClient replaces the HTTP client used for downloads.
func (c *ModelCache) WithClient(client *http.Client) *ModelCache {
	c.client = client
	return c
}

func (c *ModelCache) Path(spec ModelSpec) string {
	return filepath.Join(c.dir, spec.Filename)
}

func (c *ModelCache) Has(spec ModelSpec) bool {
	info, err := os.Stat(c.Path(spec))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Ensure returns the cached path of spec, downloading it first if needed.
// fetched reports whether a download happened.
func (c *ModelCache) Ensure(ctx context.Context, spec ModelSpec, progress ProgressFunc) (path string, fetched bool, err error) {
	path = c.Path(spec)
	if c.Has(spec) {
		return path, false, nil
	}
	if spec.URL == "" || spec.Filename == "" {
		return "", false, fmt.Errorf("model %s: url and filename are required", spec.Name)
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", false, fmt.Errorf("create model cache: %w", err)
	}
	if err := c.fetch(ctx, spec, path, progress); err != nil {
		return "", false, fmt.Errorf("fetch %s: %w", spec.Name, err)
	}
	return path, true, nil
}

func (c *ModelCache) fetch(ctx context.Context, spec ModelSpec, dest string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(c.dir, "."+spec.Filename+".part-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			os.Remove(tmpName)
		}
	}()

	counter := &countingWriter{total: resp.ContentLength, progress: progress}
	var sum hash.Hash
	sinks := []io.Writer{tmp, counter}
	if spec.SHA256 != "" {
		sum = sha256.New()
		sinks = append(sinks, sum)
	}

	_, copyErr := io.Copy(io.MultiWriter(sinks...), resp.Body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return err
	}

	if resp.ContentLength > 0 && counter.written != resp.ContentLength {
		return fmt.Errorf("truncated: got %d of %d bytes", counter.written, resp.ContentLength)
	}
	if sum != nil {
		got := hex.EncodeToString(sum.Sum(nil))
		if !strings.EqualFold(got, spec.SHA256) {
			return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, spec.SHA256)
		}
	}

	if err := os.Rename(tmpName, dest); err != nil {
		return err
	}
	keep = true
	return nil
}

type countingWriter struct {
	written  int64
	total    int64
	progress ProgressFunc
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.progress != nil {
		w.progress(w.written, w.total)
	}
	return len(p), nil
}

func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "docqa", "models"), nil
}
