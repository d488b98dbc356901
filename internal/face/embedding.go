package face

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"
)

// EmbeddingMatcher verifies pairs by embedding both images and comparing the
// vectors. Vectors are cached per file version so gallery entries are embedded
// once rather than on every probe.
type EmbeddingMatcher struct {
	embedder  Embedder
	distance  DistanceFunc
	threshold float64

	mu    sync.RWMutex
	cache map[string]cachedVector
	group singleflight.Group
}

type cachedVector struct {
	version string
	vector  []float32
}

// NewEmbeddingMatcher builds a matcher. Pairs with distance below threshold verify.
func NewEmbeddingMatcher(embedder Embedder, distance DistanceFunc, threshold float64) *EmbeddingMatcher {
	if distance == nil {
		distance = CosineDistance
	}
	return &EmbeddingMatcher{
		embedder:  embedder,
		distance:  distance,
		threshold: threshold,
		cache:     make(map[string]cachedVector),
	}
}

// Verify embeds both references and compares them.
func (m *EmbeddingMatcher) Verify(ctx context.Context, probeRef, galleryRef string) (Verdict, error) {
	a, err := m.vector(ctx, probeRef)
	if err != nil {
		return Verdict{}, fmt.Errorf("probe: %w", err)
	}
	b, err := m.vector(ctx, galleryRef)
	if err != nil {
		return Verdict{}, fmt.Errorf("gallery %s: %w", galleryRef, err)
	}
	d := m.distance(a, b)
	return Verdict{Verified: d < m.threshold, Distance: d}, nil
}

// Threshold is the exclusive distance bound used by Verify.
func (m *EmbeddingMatcher) Threshold() float64 { return m.threshold }

// Forget drops the cached vector for ref.
func (m *EmbeddingMatcher) Forget(ref string) {
	m.mu.Lock()
	delete(m.cache, ref)
	m.mu.Unlock()
}

// Cached reports how many vectors are held.
func (m *EmbeddingMatcher) Cached() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

func (m *EmbeddingMatcher) vector(ctx context.Context, ref string) ([]float32, error) {
	version := fileVersion(ref)

	m.mu.RLock()
	entry, ok := m.cache[ref]
	m.mu.RUnlock()
	if ok && entry.version == version {
		return entry.vector, nil
	}

	// Concurrent comparisons share the probe; embed it once.
	v, err, _ := m.group.Do(ref+"@"+version, func() (any, error) {
		vec, err := m.embedder.Embed(ctx, ref)
		if err != nil {
			return nil, err
		}
		if len(vec) == 0 {
			return nil, ErrNoFace
		}
		m.mu.Lock()
		m.cache[ref] = cachedVector{version: version, vector: vec}
		m.mu.Unlock()
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// fileVersion identifies a file's content generation by size and mtime, so a
// re-enrolled face (same name, new image) is embedded again.
func fileVersion(ref string) string {
	info, err := os.Stat(ref)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano())
}
