package recognition

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"faceattend/internal/clock"
	"faceattend/internal/face"
	"faceattend/internal/faceclient"
	"faceattend/internal/gallery"
)

type staticGallery struct {
	entries []gallery.Entry
	err     error
}

func (g staticGallery) Known(context.Context) ([]gallery.Entry, error) {
	return g.entries, g.err
}

// fakeMatcher answers by gallery file name.
type fakeMatcher struct {
	verdicts map[string]face.Verdict
	errs     map[string]error
	delay    time.Duration

	calls     atomic.Int32
	inflight  atomic.Int32
	maxFlight atomic.Int32

	mu     sync.Mutex
	probes []string
}

func (m *fakeMatcher) Verify(ctx context.Context, probeRef, galleryRef string) (face.Verdict, error) {
	m.calls.Add(1)
	n := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		cur := m.maxFlight.Load()
		if n <= cur || m.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	m.probes = append(m.probes, probeRef)
	m.mu.Unlock()

	if _, err := os.Stat(probeRef); err != nil {
		return face.Verdict{}, err
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return face.Verdict{}, ctx.Err()
		}
	}
	name := filepath.Base(galleryRef)
	if err := m.errs[name]; err != nil {
		return face.Verdict{}, err
	}
	if v, ok := m.verdicts[name]; ok {
		return v, nil
	}
	return face.Verdict{Verified: false, Distance: 0.9}, nil
}

func entry(ref string) gallery.Entry {
	id, ok := gallery.Decode(ref, nil)
	return gallery.Entry{Ref: ref, Path: filepath.Join("/faces", ref), Identity: id, Decoded: ok}
}

func probeImage(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x * 4), B: uint8(y * 4), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	left, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("expected probe dir to be empty, found %d files", len(left))
	}
}

func TestRecognize_SingleMatch(t *testing.T) {
	probeDir := t.TempDir()
	m := &fakeMatcher{verdicts: map[string]face.Verdict{
		"alice_HR.jpg": {Verified: true, Distance: 0.25},
	}}
	eng := NewEngine(staticGallery{entries: []gallery.Entry{entry("alice_HR.jpg"), entry("bob_IT.jpg")}}, m, Options{
		Threshold: 0.3,
		ProbeDir:  probeDir,
	})

	match, err := eng.Recognize(context.Background(), probeImage(t, 10))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if !match.Known {
		t.Fatal("expected a match")
	}
	if match.Identity.Name != "alice" || match.Identity.Service != "HR" || match.Distance != 0.25 {
		t.Errorf("unexpected match %+v", match)
	}
	assertEmptyDir(t, probeDir)
}

func TestRecognize_BestMatchWins(t *testing.T) {
	m := &fakeMatcher{verdicts: map[string]face.Verdict{
		"alice_HR.jpg": {Verified: true, Distance: 0.28},
		"bob_IT.jpg":   {Verified: true, Distance: 0.12},
		"carol_HR.jpg": {Verified: true, Distance: 0.20},
	}}
	g := staticGallery{entries: []gallery.Entry{entry("alice_HR.jpg"), entry("bob_IT.jpg"), entry("carol_HR.jpg")}}
	eng := NewEngine(g, m, Options{Threshold: 0.3, ProbeDir: t.TempDir()})

	for i := 0; i < 5; i++ {
		match, err := eng.Recognize(context.Background(), probeImage(t, 20))
		if err != nil {
			t.Fatal(err)
		}
		if match.Identity.Name != "bob" {
			t.Fatalf("run %d: expected bob, got %+v", i, match)
		}
	}
}

func TestRecognize_TieBreaksOnRef(t *testing.T) {
	m := &fakeMatcher{verdicts: map[string]face.Verdict{
		"zoe_HR.jpg":  {Verified: true, Distance: 0.1},
		"adam_HR.jpg": {Verified: true, Distance: 0.1},
	}}
	g := staticGallery{entries: []gallery.Entry{entry("zoe_HR.jpg"), entry("adam_HR.jpg")}}
	eng := NewEngine(g, m, Options{Threshold: 0.3, ProbeDir: t.TempDir()})

	match, err := eng.Recognize(context.Background(), probeImage(t, 30))
	if err != nil {
		t.Fatal(err)
	}
	if match.Ref != "adam_HR.jpg" {
		t.Errorf("expected adam_HR.jpg, got %s", match.Ref)
	}
}

func TestRecognize_ThresholdIsExclusive(t *testing.T) {
	m := &fakeMatcher{verdicts: map[string]face.Verdict{
		"alice_HR.jpg": {Verified: true, Distance: 0.3},
		"bob_IT.jpg":   {Verified: false, Distance: 0.05},
	}}
	g := staticGallery{entries: []gallery.Entry{entry("alice_HR.jpg"), entry("bob_IT.jpg")}}
	eng := NewEngine(g, m, Options{Threshold: 0.3, ProbeDir: t.TempDir()})

	match, err := eng.Recognize(context.Background(), probeImage(t, 40))
	if err != nil {
		t.Fatal(err)
	}
	if match.Known {
		t.Errorf("expected unknown, got %+v", match)
	}
}

func TestRecognize_EmptyGallery(t *testing.T) {
	probeDir := t.TempDir()
	m := &fakeMatcher{}
	eng := NewEngine(staticGallery{}, m, Options{ProbeDir: probeDir})

	match, err := eng.Recognize(context.Background(), probeImage(t, 50))
	if err != nil {
		t.Fatal(err)
	}
	if match.Known {
		t.Error("expected unknown on empty gallery")
	}
	if m.calls.Load() != 0 {
		t.Errorf("expected no comparisons, got %d", m.calls.Load())
	}
	assertEmptyDir(t, probeDir)
}

func TestRecognize_FailedComparisonsAreNoVerdict(t *testing.T) {
	m := &fakeMatcher{
		verdicts: map[string]face.Verdict{"bob_IT.jpg": {Verified: true, Distance: 0.2}},
		errs: map[string]error{
			"alice_HR.jpg": face.ErrNoFace,
			"carol_HR.jpg": errors.New("service down"),
		},
	}
	g := staticGallery{entries: []gallery.Entry{entry("alice_HR.jpg"), entry("bob_IT.jpg"), entry("carol_HR.jpg")}}
	eng := NewEngine(g, m, Options{Threshold: 0.3, ProbeDir: t.TempDir()})

	match, err := eng.Recognize(context.Background(), probeImage(t, 60))
	if err != nil {
		t.Fatal(err)
	}
	if match.Identity.Name != "bob" {
		t.Errorf("expected bob despite failures, got %+v", match)
	}
}

func TestRecognize_AllComparisonsFail(t *testing.T) {
	m := &fakeMatcher{errs: map[string]error{"alice_HR.jpg": face.ErrNoFace}}
	eng := NewEngine(staticGallery{entries: []gallery.Entry{entry("alice_HR.jpg")}}, m, Options{ProbeDir: t.TempDir()})

	match, err := eng.Recognize(context.Background(), probeImage(t, 70))
	if err != nil {
		t.Fatalf("a failed comparison must not fail recognition: %v", err)
	}
	if match.Known {
		t.Error("expected unknown")
	}
}

func TestRecognize_UndecodableEntriesAreSkipped(t *testing.T) {
	m := &fakeMatcher{verdicts: map[string]face.Verdict{
		"nounderscore.jpg": {Verified: true, Distance: 0.01},
	}}
	eng := NewEngine(staticGallery{entries: []gallery.Entry{entry("nounderscore.jpg")}}, m, Options{ProbeDir: t.TempDir()})

	match, err := eng.Recognize(context.Background(), probeImage(t, 80))
	if err != nil {
		t.Fatal(err)
	}
	if match.Known {
		t.Errorf("expected unknown for undecodable ref, got %+v", match)
	}
}

func TestRecognize_InvalidProbe(t *testing.T) {
	probeDir := t.TempDir()
	m := &fakeMatcher{}
	eng := NewEngine(staticGallery{entries: []gallery.Entry{entry("alice_HR.jpg")}}, m, Options{ProbeDir: probeDir})

	_, err := eng.Recognize(context.Background(), []byte("not an image"))
	if !errors.Is(err, ErrProbe) {
		t.Fatalf("expected ErrProbe, got %v", err)
	}
	if m.calls.Load() != 0 {
		t.Error("no comparisons expected for an invalid probe")
	}
	assertEmptyDir(t, probeDir)
}

func TestRecognize_UnwritableProbeDir(t *testing.T) {
	eng := NewEngine(staticGallery{}, &fakeMatcher{}, Options{ProbeDir: filepath.Join(t.TempDir(), "missing")})

	if _, err := eng.Recognize(context.Background(), probeImage(t, 90)); !errors.Is(err, ErrProbe) {
		t.Fatalf("expected ErrProbe, got %v", err)
	}
}

func TestRecognize_GalleryError(t *testing.T) {
	probeDir := t.TempDir()
	eng := NewEngine(staticGallery{err: errors.New("disk gone")}, &fakeMatcher{}, Options{ProbeDir: probeDir})

	_, err := eng.Recognize(context.Background(), probeImage(t, 100))
	if err == nil || errors.Is(err, ErrProbe) {
		t.Fatalf("expected gallery error, got %v", err)
	}
	assertEmptyDir(t, probeDir)
}

func TestRecognize_BoundedConcurrency(t *testing.T) {
	entries := make([]gallery.Entry, 0, 12)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		entries = append(entries, entry(name+"_HR.jpg"))
	}
	m := &fakeMatcher{delay: 10 * time.Millisecond}
	eng := NewEngine(staticGallery{entries: entries}, m, Options{Workers: 3, ProbeDir: t.TempDir()})

	if _, err := eng.Recognize(context.Background(), probeImage(t, 110)); err != nil {
		t.Fatal(err)
	}
	if m.calls.Load() != 12 {
		t.Errorf("expected 12 comparisons, got %d", m.calls.Load())
	}
	if got := m.maxFlight.Load(); got > 3 {
		t.Errorf("expected at most 3 concurrent comparisons, saw %d", got)
	}
}

func TestRecognize_ComparisonTimeout(t *testing.T) {
	m := &fakeMatcher{delay: time.Second}
	eng := NewEngine(staticGallery{entries: []gallery.Entry{entry("alice_HR.jpg")}}, m, Options{
		ComparisonTimeout: 20 * time.Millisecond,
		ProbeDir:          t.TempDir(),
	})

	start := time.Now()
	match, err := eng.Recognize(context.Background(), probeImage(t, 120))
	if err != nil {
		t.Fatal(err)
	}
	if match.Known {
		t.Error("timed-out comparison must not match")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("comparison timeout was not applied")
	}
}

func TestRecognize_ProbeRemovedOnEveryCall(t *testing.T) {
	probeDir := t.TempDir()
	m := &fakeMatcher{verdicts: map[string]face.Verdict{"alice_HR.jpg": {Verified: true, Distance: 0.1}}}
	eng := NewEngine(staticGallery{entries: []gallery.Entry{entry("alice_HR.jpg"), entry("bob_IT.jpg")}}, m, Options{ProbeDir: probeDir})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(shade uint8) {
			defer wg.Done()
			if _, err := eng.Recognize(context.Background(), probeImage(t, shade)); err != nil {
				t.Error(err)
			}
		}(uint8(i))
	}
	wg.Wait()
	assertEmptyDir(t, probeDir)

	seen := map[string]bool{}
	for _, p := range m.probes {
		seen[p] = true
	}
	if len(seen) != 8 {
		t.Errorf("expected 8 distinct probe files, got %d", len(seen))
	}
}

func TestRecognize_EnrollThenRecognize(t *testing.T) {
	dir, err := gallery.OpenDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	clk := clock.Fake(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	cache := gallery.NewCache(dir, clk, time.Hour)

	// Prime the cache while the gallery is empty.
	if _, err := cache.Known(context.Background()); err != nil {
		t.Fatal(err)
	}

	upload := probeImage(t, 200)
	normalized, err := gallery.NormalizeJPEG(upload)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dir.Save(gallery.Identity{Name: "Alice Martin", Service: "HR"}, normalized); err != nil {
		t.Fatal(err)
	}
	cache.Invalidate()

	eng := NewEngine(cache, faceclient.New("", true), Options{ProbeDir: t.TempDir()})
	match, err := eng.Recognize(context.Background(), upload)
	if err != nil {
		t.Fatal(err)
	}
	if !match.Known || match.Identity.Name != "Alice Martin" || match.Identity.Service != "HR" {
		t.Errorf("expected Alice Martin/HR right after enrollment, got %+v", match)
	}
}
