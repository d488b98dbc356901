package face

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

func TestCosineDistance(t *testing.T) {
	if d := CosineDistance([]float32{1, 0}, []float32{1, 0}); d != 0 {
		t.Errorf("identical vectors: expected 0, got %v", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{0, 1}); math.Abs(d-1) > 1e-9 {
		t.Errorf("orthogonal vectors: expected 1, got %v", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{-1, 0}); math.Abs(d-2) > 1e-9 {
		t.Errorf("opposite vectors: expected 2, got %v", d)
	}
	if d := CosineDistance([]float32{1}, []float32{1, 2}); d != 2 {
		t.Errorf("mismatched lengths: expected 2, got %v", d)
	}
	if d := CosineDistance([]float32{0, 0}, []float32{1, 2}); d != 2 {
		t.Errorf("zero vector: expected 2, got %v", d)
	}
}

func TestEuclideanDistance(t *testing.T) {
	if d := EuclideanDistance([]float32{0, 0}, []float32{3, 4}); d != 5 {
		t.Errorf("expected 5, got %v", d)
	}
	if d := EuclideanDistance(nil, nil); !math.IsInf(d, 1) {
		t.Errorf("expected +Inf for empty, got %v", d)
	}
}

func TestDistanceByName(t *testing.T) {
	if _, th, err := DistanceByName("cosine"); err != nil || th <= 0 {
		t.Errorf("cosine: threshold %v err %v", th, err)
	}
	if _, th, err := DistanceByName("euclidean"); err != nil || th != 0.6 {
		t.Errorf("euclidean: threshold %v err %v", th, err)
	}
	if _, _, err := DistanceByName("manhattan"); err == nil {
		t.Error("expected error for unknown metric")
	}
}

// mapEmbedder returns fixed vectors per file name and counts calls.
type mapEmbedder struct {
	vectors map[string][]float32
	calls   atomic.Int32
}

func (e *mapEmbedder) Embed(_ context.Context, ref string) ([]float32, error) {
	e.calls.Add(1)
	v, ok := e.vectors[filepath.Base(ref)]
	if !ok {
		return nil, ErrNoFace
	}
	return v, nil
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEmbeddingMatcher_VerifyAndCache(t *testing.T) {
	dir := t.TempDir()
	probe := writeFile(t, dir, "probe.jpg")
	alice := writeFile(t, dir, "alice.jpg")
	bob := writeFile(t, dir, "bob.jpg")

	emb := &mapEmbedder{vectors: map[string][]float32{
		"probe.jpg": {1, 0},
		"alice.jpg": {1, 0.05},
		"bob.jpg":   {0, 1},
	}}
	m := NewEmbeddingMatcher(emb, CosineDistance, 0.3)
	ctx := context.Background()

	v, err := m.Verify(ctx, probe, alice)
	if err != nil {
		t.Fatalf("verify alice: %v", err)
	}
	if !v.Verified {
		t.Errorf("expected alice to verify, distance %v", v.Distance)
	}

	v, err = m.Verify(ctx, probe, bob)
	if err != nil {
		t.Fatalf("verify bob: %v", err)
	}
	if v.Verified {
		t.Errorf("expected bob not to verify, distance %v", v.Distance)
	}

	if got := emb.calls.Load(); got != 3 {
		t.Errorf("expected 3 embed calls (probe cached), got %d", got)
	}
	if m.Cached() != 3 {
		t.Errorf("expected 3 cached vectors, got %d", m.Cached())
	}

	m.Forget(probe)
	if m.Cached() != 2 {
		t.Errorf("expected probe forgotten, got %d cached", m.Cached())
	}
}

func TestEmbeddingMatcher_NoFace(t *testing.T) {
	dir := t.TempDir()
	probe := writeFile(t, dir, "probe.jpg")
	blank := writeFile(t, dir, "blank.jpg")

	emb := &mapEmbedder{vectors: map[string][]float32{"probe.jpg": {1, 0}}}
	m := NewEmbeddingMatcher(emb, nil, 0.3)

	_, err := m.Verify(context.Background(), probe, blank)
	if !errors.Is(err, ErrNoFace) {
		t.Fatalf("expected ErrNoFace, got %v", err)
	}
}

func TestEmbeddingMatcher_ConcurrentProbeEmbeddedOnce(t *testing.T) {
	dir := t.TempDir()
	probe := writeFile(t, dir, "probe.jpg")
	emb := &mapEmbedder{vectors: map[string][]float32{"probe.jpg": {1, 0}}}
	names := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"}
	refs := make([]string, 0, len(names))
	for _, n := range names {
		refs = append(refs, writeFile(t, dir, n))
		emb.vectors[n] = []float32{0.5, 0.5}
	}
	m := NewEmbeddingMatcher(emb, CosineDistance, 0.5)

	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			if _, err := m.Verify(context.Background(), probe, ref); err != nil {
				t.Errorf("verify %s: %v", ref, err)
			}
		}(ref)
	}
	wg.Wait()

	// Probe embedded at most a handful of times, gallery entries once each.
	if got := emb.calls.Load(); got > int32(len(refs))+int32(len(refs)) {
		t.Errorf("too many embed calls: %d", got)
	}
	if m.Cached() != len(refs)+1 {
		t.Errorf("expected %d cached vectors, got %d", len(refs)+1, m.Cached())
	}
}

func TestEmbeddingMatcher_ThresholdIsExclusive(t *testing.T) {
	dir := t.TempDir()
	probe := writeFile(t, dir, "probe.jpg")
	edge := writeFile(t, dir, "edge.jpg")

	emb := &mapEmbedder{vectors: map[string][]float32{
		"probe.jpg": {0, 0},
		"edge.jpg":  {0.6, 0},
	}}
	d := EuclideanDistance([]float32{0, 0}, []float32{0.6, 0})

	v, err := NewEmbeddingMatcher(emb, EuclideanDistance, d).Verify(context.Background(), probe, edge)
	if err != nil {
		t.Fatal(err)
	}
	if v.Verified {
		t.Errorf("distance equal to the threshold must not verify, got %+v", v)
	}
	if m := NewEmbeddingMatcher(emb, EuclideanDistance, 0.61); m.Threshold() != 0.61 {
		t.Errorf("unexpected threshold %v", m.Threshold())
	}
}
