package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mariotoffia/goannoy/builder"
	"github.com/mariotoffia/goannoy/interfaces"
)

const (
	ManifestFilename = "manifest.json"
	manifestVersion  = 1

	DefaultRetrieveK  = 4
	DefaultTrees      = 10
	DefaultOversample = 10
	DefaultExactBelow = 2048

	// goannoy cannot persist a forest over a single item
	minForestItems = 2
	forestChecks   = 32
)

// IndexOptions tunes retrieval. Retrieve scans every entry unless
// Approximate is set; then collections of at least ExactBelow entries get
// an Annoy forest whose k*Oversample candidates are rescored exactly.
type IndexOptions struct {
	Trees       int
	Oversample  int
	ExactBelow  int
	Approximate bool
}

func DefaultIndexOptions() IndexOptions {
	return IndexOptions{
		Trees:      DefaultTrees,
		Oversample: DefaultOversample,
		ExactBelow: DefaultExactBelow,
	}
}

func (o IndexOptions) withDefaults() IndexOptions {
	if o.Trees <= 0 {
		o.Trees = DefaultTrees
	}
	if o.Oversample <= 0 {
		o.Oversample = DefaultOversample
	}
	if o.ExactBelow < 0 {
		o.ExactBelow = 0
	}
	return o
}

type indexManifest struct {
	Version    int       `json:"version"`
	Model      string    `json:"model"`
	Dimension  int       `json:"dimension"`
	Count      int       `json:"count"`
	Trees      int       `json:"trees"`
	Generation int64     `json:"generation"`
	Entries    string    `json:"entries"`
	Forest     string    `json:"forest,omitempty"`
	SavedAt    time.Time `json:"saved_at"`
}

// VectorIndex holds chunk entries and an angular Annoy forest over their
// vectors. Retrieve only takes the read lock.
type VectorIndex struct {
	mu         sync.RWMutex
	model      string
	dimension  int
	opts       IndexOptions
	entries    []Entry
	forest     interfaces.AnnoyIndex[float32, uint32]
	generation int64
}

func NewVectorIndex(model string, dimension int, opts IndexOptions) (*VectorIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	if model == "" {
		return nil, fmt.Errorf("index needs an embedding model identity")
	}
	return &VectorIndex{
		model:     model,
		dimension: dimension,
		opts:      opts.withDefaults(),
	}, nil
}

func newForest(dimension, items int) interfaces.AnnoyIndex[float32, uint32] {
	return builder.Index[float32, uint32]().
		AngularDistance(dimension).
		IndexNumHint(items).
		SingleWorkerPolicy().
		MmapIndexAllocator().
		Build()
}

func (v *VectorIndex) wantsForest(n int) bool {
	return v.opts.Approximate && n >= minForestItems && n >= v.opts.ExactBelow
}

// buildForest indexes entries and keeps the forest only if it passes
// verifyForest.
func (v *VectorIndex) buildForest(entries []Entry) interfaces.AnnoyIndex[float32, uint32] {
	forest := newForest(v.dimension, len(entries))
	for i, e := range entries {
		forest.AddItem(uint32(i), e.Vector)
	}
	forest.Build(v.opts.Trees, 1)

	if !verifyForest(forest, entries, v.opts.Oversample) {
		forest.Close()
		return nil
	}
	return forest
}

// verifyForest queries the forest with a spread of stored vectors; each must
// come back among its own candidates.
func verifyForest(forest interfaces.AnnoyIndex[float32, uint32], entries []Entry, want int) bool {
	n := len(entries)
	step := max(1, n/forestChecks)
	searchCtx := forest.CreateContext()
	for i := 0; i < n; i += step {
		ids, _ := forest.GetNnsByVector(entries[i].Vector, min(want, n), -1, searchCtx)
		if !slices.Contains(ids, uint32(i)) {
			return false
		}
	}
	return true
}

// UsesForest reports whether Retrieve goes through the Annoy forest.
func (v *VectorIndex) UsesForest() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.forest != nil
}

// Close unmaps the forest. The entries stay searchable by exact scan.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dropForest()
}

func (v *VectorIndex) dropForest() error {
	if v.forest == nil {
		return nil
	}
	err := v.forest.Close()
	v.forest = nil
	return err
}

func (v *VectorIndex) Model() string {
	return v.model
}

func (v *VectorIndex) Dimension() int {
	return v.dimension
}

func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// Sources returns the distinct source names present in the index, sorted.
func (v *VectorIndex) Sources() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, e := range v.entries {
		seen[e.Chunk.Source] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// CheckModel fails unless the index was built with the given model identity
// and dimension.
func (v *VectorIndex) CheckModel(model string, dimension int) error {
	if model != v.model || dimension != v.dimension {
		return fmt.Errorf("%w: index has %s/%d, embedder is %s/%d",
			ErrModelMismatch, v.model, v.dimension, model, dimension)
	}
	return nil
}

// Append adds entries after the existing ones and rebuilds the forest when
// one is wanted.
// Nothing is added if any entry has the wrong dimension.
func (v *VectorIndex) Append(ctx context.Context, entries []Entry) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, e := range entries {
		if len(e.Vector) != v.dimension {
			return fmt.Errorf("%w: entry %d has %d, expected %d",
				ErrDimensionMismatch, i, len(e.Vector), v.dimension)
		}
	}
	if len(entries) == 0 {
		return nil
	}

	all := make([]Entry, 0, len(v.entries)+len(entries))
	all = append(all, v.entries...)
	all = append(all, entries...)

	if err := ctx.Err(); err != nil {
		return err
	}

	_ = v.dropForest()
	v.entries = all
	if v.wantsForest(len(all)) {
		v.forest = v.buildForest(all)
	}
	return nil
}

// Retrieve returns the k entries most similar to query, best first. Equal
// scores keep insertion order. k <= 0 means DefaultRetrieveK.
func (v *VectorIndex) Retrieve(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(query) != v.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, v.dimension, len(query))
	}
	if k <= 0 {
		k = DefaultRetrieveK
	}

	n := len(v.entries)
	if n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	candidates := v.candidates(query, k)

	type scored struct {
		id    uint32
		score float32
	}
	results := make([]scored, 0, len(candidates))
	for _, id := range candidates {
		if int(id) >= n {
			continue
		}
		results = append(results, scored{id: id, score: cosine(query, v.entries[id].Vector)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].id < results[j].id
	})

	if len(results) > k {
		results = results[:k]
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{Chunk: v.entries[r.id].Chunk, Score: r.score}
	}
	return out, nil
}

func (v *VectorIndex) candidates(query []float32, k int) []uint32 {
	n := len(v.entries)

	if v.forest == nil {
		return v.allIDs()
	}

	want := min(k*v.opts.Oversample, n)

	searchCtx := v.forest.CreateContext()
	ids, _ := v.forest.GetNnsByVector(query, want, -1, searchCtx)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) < k {
		return v.allIDs()
	}
	return ids
}

func (v *VectorIndex) allIDs() []uint32 {
	ids := make([]uint32, len(v.entries))
	for i := range ids {
		ids[i] = uint32(i)
	}
	return ids
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Save writes the index under dir. Data files carry a generation suffix and
// the manifest is replaced last, so a crash leaves the previous generation
// readable.
func (v *VectorIndex) Save(ctx context.Context, dir string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	gen := time.Now().UnixNano()
	if gen <= v.generation {
		gen = v.generation + 1
	}

	m := indexManifest{
		Version:    manifestVersion,
		Model:      v.model,
		Dimension:  v.dimension,
		Count:      len(v.entries),
		Trees:      v.opts.Trees,
		Generation: gen,
		Entries:    fmt.Sprintf("entries-%d.json", gen),
		SavedAt:    time.Now().UTC(),
	}

	entries := v.entries
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, m.Entries), data); err != nil {
		return fmt.Errorf("write entries: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if v.forest != nil {
		m.Forest = fmt.Sprintf("forest-%d.ann", gen)
		if err := v.forest.Save(filepath.Join(dir, m.Forest)); err != nil {
			return fmt.Errorf("save forest: %w", err)
		}
	}

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, ManifestFilename), manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	v.generation = gen
	removeStaleGenerations(dir, m)
	return nil
}

// LoadVectorIndex restores an index saved by Save. A missing manifest is
// ErrIndexNotFound; anything unreadable or inconsistent is ErrIndexCorrupt.
func LoadVectorIndex(ctx context.Context, dir string, opts IndexOptions) (*VectorIndex, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrIndexCorrupt, err)
	}

	var m indexManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %v", ErrIndexCorrupt, err)
	}
	if m.Version != manifestVersion || m.Dimension <= 0 || m.Model == "" || m.Entries == "" {
		return nil, fmt.Errorf("%w: bad manifest in %s", ErrIndexCorrupt, dir)
	}

	raw, err := os.ReadFile(filepath.Join(dir, m.Entries))
	if err != nil {
		return nil, fmt.Errorf("%w: read entries: %v", ErrIndexCorrupt, err)
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: parse entries: %v", ErrIndexCorrupt, err)
	}
	if len(entries) != m.Count {
		return nil, fmt.Errorf("%w: manifest counts %d entries, found %d", ErrIndexCorrupt, m.Count, len(entries))
	}
	for i, e := range entries {
		if len(e.Vector) != m.Dimension {
			return nil, fmt.Errorf("%w: entry %d has dimension %d", ErrIndexCorrupt, i, len(e.Vector))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	if m.Trees > 0 {
		opts.Trees = m.Trees
	}

	v := &VectorIndex{
		model:      m.Model,
		dimension:  m.Dimension,
		opts:       opts,
		entries:    entries,
		generation: m.Generation,
	}

	if m.Forest != "" {
		forestPath := filepath.Join(dir, m.Forest)
		if _, err := os.Stat(forestPath); err != nil {
			return nil, fmt.Errorf("%w: forest: %v", ErrIndexCorrupt, err)
		}
		if v.wantsForest(len(entries)) {
			v.forest = loadForest(forestPath, entries, opts)
		}
	}

	return v, nil
}

// loadForest maps a saved forest. One that fails to load or to verify is
// left out and retrieval falls back to exact scan.
func loadForest(path string, entries []Entry, opts IndexOptions) interfaces.AnnoyIndex[float32, uint32] {
	forest := newForest(len(entries[0].Vector), len(entries))
	if err := forest.Load(path); err != nil {
		forest.Close()
		return nil
	}
	if !verifyForest(forest, entries, opts.Oversample) {
		forest.Close()
		return nil
	}
	return forest
}

// IndexExists reports whether dir holds a manifest.
func IndexExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ManifestFilename))
	return err == nil
}

func removeStaleGenerations(dir string, current indexManifest) {
	names, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, de := range names {
		name := de.Name()
		if name == current.Entries || name == current.Forest {
			continue
		}
		if (strings.HasPrefix(name, "entries-") && strings.HasSuffix(name, ".json")) ||
			(strings.HasPrefix(name, "forest-") && strings.HasSuffix(name, ".ann")) {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(data)
	serr := tmp.Sync()
	cerr := tmp.Close()
	if err := errors.Join(werr, serr, cerr); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	if d, err := os.Open(filepath.Dir(path)); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// IndexStore loads and persists the index at one location.
type IndexStore interface {
	Load(ctx context.Context) (*VectorIndex, error)
	Save(ctx context.Context, idx *VectorIndex) error
	Create(model string, dimension int) (*VectorIndex, error)
	Exists() bool
	Path() string
}

var _ IndexStore = (*DirIndexStore)(nil)

type DirIndexStore struct {
	dir  string
	opts IndexOptions
}

func NewDirIndexStore(dir string, opts IndexOptions) *DirIndexStore {
	return &DirIndexStore{dir: dir, opts: opts}
}

func (s *DirIndexStore) Load(ctx context.Context) (*VectorIndex, error) {
	return LoadVectorIndex(ctx, s.dir, s.opts)
}

func (s *DirIndexStore) Save(ctx context.Context, idx *VectorIndex) error {
	return idx.Save(ctx, s.dir)
}

func (s *DirIndexStore) Exists() bool {
	return IndexExists(s.dir)
}

func (s *DirIndexStore) Path() string {
	return s.dir
}

func (s *DirIndexStore) Create(model string, dimension int) (*VectorIndex, error) {
	return NewVectorIndex(model, dimension, s.opts)
}
