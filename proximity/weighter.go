// Package proximity scores each perturbation by how close its mask stays to
// the unperturbed reference and converts that into regression weights.
package proximity

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"lime-explainer/kernel"
	"lime-explainer/perturb"
)

// Weighter computes cosine distances from masks to a reference mask and
// feeds them through a kernel. Cosine distance on binary vectors reflects
// the fraction of superpixels toggled rather than the absolute count, so
// weights stay comparable across segmentation granularities.
type Weighter struct {
	// Kernel shapes distance into weight. Required.
	Kernel *kernel.Kernel
	// Reference anchors the distance. Nil means the all-ones mask.
	Reference perturb.Mask
}

// Distances returns the cosine distance 1 - cos(mask, reference) for each
// mask. The all-zeros mask has no defined angle with anything; it is
// assigned the maximal distance 1 instead of failing, since fair-coin
// sampling produces it legitimately.
func (w *Weighter) Distances(masks []perturb.Mask) []float64 {
	distances := make([]float64, len(masks))
	var ref []float64
	var refNorm float64
	for i, m := range masks {
		if ref == nil || len(ref) != len(m) {
			ref = maskVector(w.reference(len(m)))
			refNorm = floats.Norm(ref, 2)
		}
		v := maskVector(m)
		vNorm := floats.Norm(v, 2)
		if vNorm == 0 || refNorm == 0 {
			distances[i] = 1
			continue
		}
		cos := floats.Dot(v, ref) / (vNorm * refNorm)
		// Clamp against rounding before the subtraction.
		cos = math.Min(1, math.Max(-1, cos))
		distances[i] = 1 - cos
	}
	return distances
}

// Weights runs Distances through the kernel, yielding the per-sample
// regression weight vector.
func (w *Weighter) Weights(masks []perturb.Mask) []float64 {
	return w.Kernel.Weigh(w.Distances(masks))
}

func (w *Weighter) reference(n int) perturb.Mask {
	if len(w.Reference) == n {
		return w.Reference
	}
	return perturb.Reference(n)
}

func maskVector(m perturb.Mask) []float64 {
	v := make([]float64, len(m))
	for i, b := range m {
		if b {
			v[i] = 1
		}
	}
	return v
}
