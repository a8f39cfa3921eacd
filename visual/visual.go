// Package visual scores the pixel-level similarity of two raster images.
// It backs the restore path's optional verification gate: the score is
// compared against a threshold, and any decode problem yields 0.0 so the
// gate degrades to strict rather than silently passing.
package visual

import (
	"bytes"
	"image"

	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// Similarity compares two encoded images and returns a score in
// [0.0, 1.0]. The current image is resized to the reference's bounds
// (nearest neighbour; the exact filter is not correctness-relevant),
// then similarity = 1 − MSE/255² over all channels. Identical images
// score exactly 1.0; undecodable input scores 0.0.
func Similarity(reference, current []byte) float64 {
	refImg, _, err := image.Decode(bytes.NewReader(reference))
	if err != nil {
		return 0.0
	}
	curImg, _, err := image.Decode(bytes.NewReader(current))
	if err != nil {
		return 0.0
	}

	bounds := refImg.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return 0.0
	}

	ref := image.NewRGBA(bounds)
	xdraw.Draw(ref, bounds, refImg, bounds.Min, xdraw.Src)

	cur := image.NewRGBA(bounds)
	xdraw.NearestNeighbor.Scale(cur, bounds, curImg, curImg.Bounds(), xdraw.Src, nil)

	var sum float64
	for i := range ref.Pix {
		d := float64(int(ref.Pix[i]) - int(cur.Pix[i]))
		sum += d * d
	}
	mse := sum / float64(len(ref.Pix))

	sim := 1.0 - mse/(255.0*255.0)
	// Resampling error can push MSE past the 8-bit theoretical bound.
	if sim < 0 {
		return 0.0
	}
	if sim > 1 {
		return 1.0
	}
	return sim
}
