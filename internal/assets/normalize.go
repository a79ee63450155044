package assets

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder

	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
)

// ContentTypeJPEG is the content type of every normalized image.
const ContentTypeJPEG = "image/jpeg"

// Normalizer turns any supported image into a bounded JPEG.
type Normalizer struct {
	maxDimension int
	quality      int
}

// NewNormalizer creates a normalizer. maxDimension bounds the longest edge.
func NewNormalizer(maxDimension, quality int) *Normalizer {
	if maxDimension <= 0 {
		maxDimension = 1024
	}
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Normalizer{maxDimension: maxDimension, quality: quality}
}

// Normalize decodes jpeg, png, gif or webp data. JPEGs already within bounds
// pass through untouched; everything else is scaled onto a white background
// and re-encoded.
func (n *Normalizer) Normalize(data []byte) ([]byte, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domainerrors.Validationf("unsupported image: %v", err)
	}

	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), n.maxDimension)
	if format == "jpeg" && w == b.Dx() && h == b.Dy() {
		return data, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: n.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales w x h down so the longest edge is at most bound, keeping the aspect ratio.
func fit(w, h, bound int) (int, int) {
	if w <= bound && h <= bound {
		return w, h
	}
	if w >= h {
		return bound, max(1, h*bound/w)
	}
	return max(1, w*bound/h), bound
}
