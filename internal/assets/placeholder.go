package assets

import (
	"bytes"
	"fmt"
	"image"

	"github.com/bbrks/go-blurhash"
	"golang.org/x/image/draw"
)

// placeholderSize bounds the image a placeholder is computed from.
// BlurHash output barely changes above this.
const placeholderSize = 64

// Placeholder computes the BlurHash of an image, a short string clients
// render as a blurred preview while the asset downloads.
func Placeholder(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	// 4x3 components suit portrait book covers.
	hash, err := blurhash.Encode(4, 3, shrink(img))
	if err != nil {
		return "", fmt.Errorf("encode blurhash: %w", err)
	}
	return hash, nil
}

func shrink(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() <= placeholderSize && b.Dy() <= placeholderSize {
		return img
	}
	w, h := fit(b.Dx(), b.Dy(), placeholderSize)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
