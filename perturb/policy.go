// Package perturb samples binary superpixel masks and materializes them
// into perturbed images against a baseline built from a masking policy.
package perturb

import (
	"fmt"

	"lime-explainer/tensor"
)

// MaskPolicy builds the baseline image that stands in for hidden
// superpixels. Key identifies the policy for the orchestrator's baseline
// cache: a changed key invalidates the cached baseline.
type MaskPolicy interface {
	Build(img *tensor.Dense, grid *tensor.LabelGrid) (*tensor.Dense, error)
	Key() string
}

// MeanPolicy replaces every pixel with the channel-wise mean of its
// superpixel, hiding a region without shifting the image's overall color
// statistics.
type MeanPolicy struct{}

func (MeanPolicy) Key() string { return "mean" }

func (MeanPolicy) Build(img *tensor.Dense, grid *tensor.LabelGrid) (*tensor.Dense, error) {
	if err := checkGrid(img, grid); err != nil {
		return nil, err
	}
	baseline := tensor.NewDense(img.Height, img.Width, img.Channels)
	ch := img.Channels
	for _, bucket := range grid.Buckets() {
		if len(bucket) == 0 {
			continue
		}
		means := make([]float64, ch)
		for _, off := range bucket {
			for c := 0; c < ch; c++ {
				means[c] += img.Pix[off*ch+c]
			}
		}
		n := float64(len(bucket))
		for c := 0; c < ch; c++ {
			means[c] /= n
		}
		for _, off := range bucket {
			for c := 0; c < ch; c++ {
				baseline.Pix[off*ch+c] = means[c]
			}
		}
	}
	return baseline, nil
}

// FillPolicy replaces every pixel with a constant value, the "gray image"
// style of baseline.
type FillPolicy struct {
	Value float64
}

func (p FillPolicy) Key() string { return fmt.Sprintf("fill:%v", p.Value) }

func (p FillPolicy) Build(img *tensor.Dense, grid *tensor.LabelGrid) (*tensor.Dense, error) {
	if err := checkGrid(img, grid); err != nil {
		return nil, err
	}
	baseline := tensor.NewDense(img.Height, img.Width, img.Channels)
	for i := range baseline.Pix {
		baseline.Pix[i] = p.Value
	}
	return baseline, nil
}

func checkGrid(img *tensor.Dense, grid *tensor.LabelGrid) error {
	if grid.Height != img.Height || grid.Width != img.Width {
		return &tensor.DimensionMismatchError{
			Context: "baseline grid size",
			Want:    img.Height * img.Width,
			Got:     grid.Height * grid.Width,
		}
	}
	return nil
}
