package segment

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"lime-explainer/tensor"
)

// pixelFeatures converts an image into a flat per-pixel feature buffer for
// the distance computations of the built-in segmenters. RGB images map to
// CIE Lab, which makes Euclidean color distance perceptually meaningful;
// single-channel images keep their raw intensity. Returns the buffer and
// the feature count per pixel.
func pixelFeatures(img *tensor.Dense) ([]float64, int) {
	h, w := img.Height, img.Width
	if img.Channels == 1 {
		feat := make([]float64, h*w)
		copy(feat, img.Pix)
		return feat, 1
	}

	feat := make([]float64, h*w*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := img.Offset(x, y)
			c := colorful.Color{
				R: img.Pix[off] / 255.0,
				G: img.Pix[off+1] / 255.0,
				B: img.Pix[off+2] / 255.0,
			}
			l, a, b := c.Lab()
			fo := (y*w + x) * 3
			// Scale Lab into a 0..100-ish range comparable to intensity.
			feat[fo] = l * 100.0
			feat[fo+1] = a * 100.0
			feat[fo+2] = b * 100.0
		}
	}
	return feat, 3
}

func featureDistanceSq(feat []float64, fc, i, j int) float64 {
	sum := 0.0
	for c := 0; c < fc; c++ {
		d := feat[i*fc+c] - feat[j*fc+c]
		sum += d * d
	}
	return sum
}

// gaussianSmooth applies a separable Gaussian blur to the feature buffer.
// Used by felzenszwalb to suppress noise-driven over-segmentation.
func gaussianSmooth(feat []float64, fc, w, h int, sigma float64) []float64 {
	if sigma <= 0 {
		return feat
	}
	radius := int(sigma*3 + 0.5)
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := gauss(float64(i), sigma)
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	tmp := make([]float64, len(feat))
	out := make([]float64, len(feat))

	// Horizontal pass.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < fc; c++ {
				acc := 0.0
				for k := -radius; k <= radius; k++ {
					xx := clamp(x+k, 0, w-1)
					acc += kernel[k+radius] * feat[(y*w+xx)*fc+c]
				}
				tmp[(y*w+x)*fc+c] = acc
			}
		}
	}
	// Vertical pass.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < fc; c++ {
				acc := 0.0
				for k := -radius; k <= radius; k++ {
					yy := clamp(y+k, 0, h-1)
					acc += kernel[k+radius] * tmp[(yy*w+x)*fc+c]
				}
				out[(y*w+x)*fc+c] = acc
			}
		}
	}
	return out
}

func gauss(x, sigma float64) float64 {
	return math.Exp(-(x * x) / (2 * sigma * sigma))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
