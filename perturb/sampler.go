package perturb

import (
	"math/rand"

	"lime-explainer/tensor"
)

// Mask is a binary superpixel selection: bit i true means superpixel i keeps
// its original pixels, false means it is replaced by the baseline.
type Mask []bool

// Reference returns the all-ones mask of length n, the unperturbed
// configuration every sampled mask is weighted against.
func Reference(n int) Mask {
	m := make(Mask, n)
	for i := range m {
		m[i] = true
	}
	return m
}

// On counts the enabled bits.
func (m Mask) On() int {
	n := 0
	for _, b := range m {
		if b {
			n++
		}
	}
	return n
}

// Sampler draws perturbation masks from its own rand source so a fixed seed
// reproduces the exact batch.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler creates a sampler seeded for reproducible draws.
func NewSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// Sample draws numSamples masks of length numSuperpixels, each bit an
// independent fair coin flip. No stratification or coverage guarantee is
// made; quality comes from sample count alone.
func (s *Sampler) Sample(numSuperpixels, numSamples int) []Mask {
	masks := make([]Mask, 0, numSamples)
	for i := 0; i < numSamples; i++ {
		m := make(Mask, numSuperpixels)
		for j := range m {
			m[j] = s.rng.Intn(2) == 1
		}
		masks = append(masks, m)
	}
	return masks
}

// Materialize builds the perturbed image for a mask: superpixels with bit
// true keep the original pixels, the rest take the baseline's. The all-ones
// mask reproduces the original exactly and the all-zeros mask reproduces
// the baseline exactly.
func Materialize(img *tensor.Dense, grid *tensor.LabelGrid, baseline *tensor.Dense, mask Mask) (*tensor.Dense, error) {
	if err := checkGrid(img, grid); err != nil {
		return nil, err
	}
	if !img.SameShape(baseline) {
		return nil, &tensor.DimensionMismatchError{
			Context: "baseline shape",
			Want:    len(img.Pix),
			Got:     len(baseline.Pix),
		}
	}
	if len(mask) != grid.NumSegments() {
		return nil, &tensor.DimensionMismatchError{
			Context: "mask length",
			Want:    grid.NumSegments(),
			Got:     len(mask),
		}
	}

	out := img.Clone()
	ch := img.Channels
	for i, bucket := range grid.Buckets() {
		if mask[i] {
			continue
		}
		for _, off := range bucket {
			for c := 0; c < ch; c++ {
				out.Pix[off*ch+c] = baseline.Pix[off*ch+c]
			}
		}
	}
	return out, nil
}
