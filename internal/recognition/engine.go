// Package recognition resolves a probe image to an enrolled identity by
// comparing it against every face in the gallery.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"faceattend/internal/face"
	"faceattend/internal/gallery"
	"faceattend/internal/observability"
)

// ErrProbe means the probe could not be prepared for matching (undecodable
// image, or the transient file could not be written). It is distinct from an
// unknown subject.
var ErrProbe = errors.New("probe image unusable")

// Gallery serves the current known faces.
type Gallery interface {
	Known(ctx context.Context) ([]gallery.Entry, error)
}

// Options tunes the engine.
type Options struct {
	// Threshold is the exclusive upper bound on distance for a match.
	Threshold float64
	// Workers bounds concurrent comparisons.
	Workers int
	// ComparisonTimeout bounds a single comparison; zero means no bound.
	ComparisonTimeout time.Duration
	// ProbeDir receives the transient probe files.
	ProbeDir string
}

// Match is the result of a recognition. Known is false for an unknown subject.
type Match struct {
	Known    bool
	Identity gallery.Identity
	Ref      string
	Distance float64
}

// Engine runs recognitions. It is safe for concurrent use.
type Engine struct {
	gallery Gallery
	matcher face.Matcher
	opts    Options
}

// NewEngine builds an engine, filling unset options with defaults.
func NewEngine(g Gallery, m face.Matcher, opts Options) *Engine {
	if opts.Threshold <= 0 {
		opts.Threshold = 0.3
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ProbeDir == "" {
		opts.ProbeDir = os.TempDir()
	}
	return &Engine{gallery: g, matcher: m, opts: opts}
}

// Threshold is the exclusive distance bound for a match.
func (e *Engine) Threshold() float64 { return e.opts.Threshold }

type comparison struct {
	entry   gallery.Entry
	verdict face.Verdict
	err     error
}

// Recognize matches probe (raw image bytes) against the gallery and returns
// the closest qualifying identity. The transient probe file is removed before
// returning on every path.
func (e *Engine) Recognize(ctx context.Context, probe []byte) (Match, error) {
	start := time.Now()
	match, err := e.recognize(ctx, probe)
	observability.RecognitionDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		observability.Recognitions.WithLabelValues("failed").Inc()
	case match.Known:
		observability.Recognitions.WithLabelValues("known").Inc()
	default:
		observability.Recognitions.WithLabelValues("unknown").Inc()
	}
	return match, err
}

func (e *Engine) recognize(ctx context.Context, probe []byte) (Match, error) {
	jpeg, err := gallery.NormalizeJPEG(probe)
	if err != nil {
		return Match{}, fmt.Errorf("%w: %v", ErrProbe, err)
	}

	probePath, err := e.writeProbe(jpeg)
	if err != nil {
		return Match{}, fmt.Errorf("%w: %v", ErrProbe, err)
	}
	defer e.removeProbe(probePath)

	entries, err := e.gallery.Known(ctx)
	if err != nil {
		return Match{}, fmt.Errorf("load gallery: %w", err)
	}
	observability.GallerySize.Set(float64(len(entries)))

	results, err := e.compareAll(ctx, probePath, entries)
	if err != nil {
		return Match{}, err
	}

	best, ok := selectBest(results, e.opts.Threshold)
	if !ok {
		return Match{}, nil
	}
	return Match{
		Known:    true,
		Identity: best.entry.Identity,
		Ref:      best.entry.Ref,
		Distance: best.verdict.Distance,
	}, nil
}

// compareAll fans the probe out to every decodable gallery entry on a bounded
// pool. A failed comparison is kept as a no-verdict result.
func (e *Engine) compareAll(ctx context.Context, probePath string, entries []gallery.Entry) ([]comparison, error) {
	candidates := make([]gallery.Entry, 0, len(entries))
	for _, entry := range entries {
		if !entry.Decoded {
			slog.Debug("skipping undecodable gallery entry", "ref", entry.Ref)
			continue
		}
		candidates = append(candidates, entry)
	}

	results := make([]comparison, len(candidates))
	g := new(errgroup.Group)
	g.SetLimit(e.opts.Workers)
	for i, entry := range candidates {
		i, entry := i, entry
		g.Go(func() error {
			results[i] = e.compare(ctx, probePath, entry)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) compare(ctx context.Context, probePath string, entry gallery.Entry) comparison {
	if e.opts.ComparisonTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ComparisonTimeout)
		defer cancel()
	}

	verdict, err := e.matcher.Verify(ctx, probePath, entry.Path)
	switch {
	case err != nil:
		observability.Comparisons.WithLabelValues("no_verdict").Inc()
		slog.Debug("comparison without verdict", "ref", entry.Ref, "error", err)
	case verdict.Verified && verdict.Distance < e.opts.Threshold:
		observability.Comparisons.WithLabelValues("match").Inc()
	default:
		observability.Comparisons.WithLabelValues("reject").Inc()
	}
	return comparison{entry: entry, verdict: verdict, err: err}
}

// selectBest picks the qualifying comparison with the smallest distance.
// Equal distances resolve to the lexicographically smaller reference so the
// outcome does not depend on completion order.
func selectBest(results []comparison, threshold float64) (comparison, bool) {
	var best comparison
	found := false
	for _, r := range results {
		if r.err != nil || !r.verdict.Verified || r.verdict.Distance >= threshold {
			continue
		}
		if !found ||
			r.verdict.Distance < best.verdict.Distance ||
			(r.verdict.Distance == best.verdict.Distance && r.entry.Ref < best.entry.Ref) {
			best = r
			found = true
		}
	}
	return best, found
}

func (e *Engine) writeProbe(jpeg []byte) (string, error) {
	f, err := os.CreateTemp(e.opts.ProbeDir, "probe-*.jpg")
	if err != nil {
		return "", err
	}
	path := f.Name()
	if _, err := f.Write(jpeg); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (e *Engine) removeProbe(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("remove probe file", "path", path, "error", err)
	}
	if f, ok := e.matcher.(face.Forgetter); ok {
		f.Forget(path)
	}
}
