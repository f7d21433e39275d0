// Package classify provides production classifier collaborators for the
// pipeline: an OpenCV DNN scorer and the preprocessing transforms models
// typically expect.
package classify

import (
	"image"

	"golang.org/x/image/draw"

	"lime-explainer/blackbox"
	"lime-explainer/tensor"
)

// Resize returns a preprocessor scaling every image to width×height with
// Catmull-Rom interpolation. Perturbed images keep the original resolution
// through the pipeline; models with fixed input sizes resize here.
func Resize(width, height int) blackbox.Preprocessor {
	return func(img *tensor.Dense) (*tensor.Dense, error) {
		if img.Width == width && img.Height == height {
			return img, nil
		}
		src := img.ToRGBA()
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
		return tensor.FromImage(dst), nil
	}
}

// Normalize returns a preprocessor dividing every value by scale, the usual
// [0,255] to [0,1] model input mapping. No per-channel normalization is
// applied; models needing channel means should do it in their own scorer.
func Normalize(scale float64) blackbox.Preprocessor {
	return func(img *tensor.Dense) (*tensor.Dense, error) {
		out := img.Clone()
		for i := range out.Pix {
			out.Pix[i] /= scale
		}
		return out, nil
	}
}

// Chain composes preprocessors left to right.
func Chain(steps ...blackbox.Preprocessor) blackbox.Preprocessor {
	return func(img *tensor.Dense) (*tensor.Dense, error) {
		var err error
		for _, step := range steps {
			img, err = step(img)
			if err != nil {
				return nil, err
			}
		}
		return img, nil
	}
}
