package segment

import (
	"errors"
	"math"

	"lime-explainer/tensor"
)

// quickshiftSegment implements quick shift: estimate a Parzen density over
// the joint (color, position) space, link every pixel to its nearest
// neighbor of higher density, and cut links longer than max_dist. The
// resulting forest's trees are the superpixels.
func quickshiftSegment(img *tensor.Dense, params map[string]interface{}) (*tensor.LabelGrid, error) {
	h, w := img.Height, img.Width
	if h == 0 || w == 0 {
		return nil, errors.New("empty image")
	}
	kernelSize := floatParam(params, "kernel_size")
	maxDist := floatParam(params, "max_dist")
	ratio := floatParam(params, "ratio")
	if kernelSize <= 0 {
		return nil, errors.New("kernel_size must be positive")
	}

	feat, fc := pixelFeatures(img)
	// ratio scales color relative to position, as in the reference
	// formulation: distances are ratio²·dcolor² + dspatial².
	ratioSq := ratio * ratio

	window := int(kernelSize*3 + 0.5)
	if window < 1 {
		window = 1
	}
	inv2h := 1.0 / (2 * kernelSize * kernelSize)

	density := make([]float64, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := y*w + x
			sum := 0.0
			for ny := clamp(y-window, 0, h-1); ny <= clamp(y+window, 0, h-1); ny++ {
				for nx := clamp(x-window, 0, w-1); nx <= clamp(x+window, 0, w-1); nx++ {
					n := ny*w + nx
					d := ratioSq * featureDistanceSq(feat, fc, p, n)
					dx := float64(x - nx)
					dy := float64(y - ny)
					d += dx*dx + dy*dy
					sum += math.Exp(-d * inv2h)
				}
			}
			density[p] = sum
		}
	}

	// Link to the nearest higher-density neighbor within the search window.
	parent := make([]int, h*w)
	parentDist := make([]float64, h*w)
	searchWindow := int(maxDist) + 1
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := y*w + x
			parent[p] = p
			best := math.MaxFloat64
			for ny := clamp(y-searchWindow, 0, h-1); ny <= clamp(y+searchWindow, 0, h-1); ny++ {
				for nx := clamp(x-searchWindow, 0, w-1); nx <= clamp(x+searchWindow, 0, w-1); nx++ {
					n := ny*w + nx
					if density[n] <= density[p] {
						continue
					}
					d := ratioSq * featureDistanceSq(feat, fc, p, n)
					dx := float64(x - nx)
					dy := float64(y - ny)
					d += dx*dx + dy*dy
					if d < best {
						best = d
						parent[p] = n
					}
				}
			}
			parentDist[p] = math.Sqrt(best)
		}
	}

	// Cut links longer than max_dist, then flatten the forest into labels.
	for p := range parent {
		if parentDist[p] > maxDist {
			parent[p] = p
		}
	}
	labels := make([]int, h*w)
	remap := make(map[int]int)
	for p := range parent {
		root := p
		for parent[root] != root {
			root = parent[root]
		}
		// Path compression keeps repeated root walks cheap.
		for q := p; parent[q] != root; {
			parent[q], q = root, parent[q]
		}
		id, ok := remap[root]
		if !ok {
			id = len(remap)
			remap[root] = id
		}
		labels[p] = id
	}
	return tensor.NewLabelGrid(h, w, labels), nil
}
