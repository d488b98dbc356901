package gallery

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ErrInvalidImage is returned when uploaded bytes cannot be decoded as an image.
var ErrInvalidImage = errors.New("invalid image")

const (
	jpegQuality = 80
	maxSide     = 1280
	// maxPixels bounds the declared canvas checked before decoding.
	maxPixels = 40_000_000
)

// NormalizeJPEG decodes an uploaded image (JPEG, PNG or GIF), applies EXIF
// orientation, bounds its size and re-encodes it as JPEG. Enrollment and
// probes go through the same path so identical uploads produce identical files.
// Images declaring more than maxPixels are rejected without being decoded.
func NormalizeJPEG(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidImage
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, maxPixels)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	b := img.Bounds()
	if b.Dx() > maxSide || b.Dy() > maxSide {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
