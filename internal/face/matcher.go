// Package face defines the face matching capability consumed by recognition:
// pairwise verification, embeddings, and the distance functions between them.
package face

import (
	"context"
	"errors"
)

// ErrNoFace is returned when no face could be detected in an image.
var ErrNoFace = errors.New("no face detected")

// Verdict is the outcome of comparing two face images.
type Verdict struct {
	Verified bool    `json:"verified"`
	Distance float64 `json:"distance"`
}

// Matcher compares two stored images. A non-nil error means the pair has no
// verdict; it never describes the gallery as a whole.
type Matcher interface {
	Verify(ctx context.Context, probeRef, galleryRef string) (Verdict, error)
}

// Embedder turns a stored image into a feature vector.
type Embedder interface {
	Embed(ctx context.Context, ref string) ([]float32, error)
}

// Forgetter is implemented by matchers that cache per-reference state which
// should be dropped once a reference is gone (e.g. a removed probe file).
type Forgetter interface {
	Forget(ref string)
}
