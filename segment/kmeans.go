package segment

import (
	"errors"
	"fmt"
	"math"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"

	"lime-explainer/tensor"
)

// pixelObservation carries the pixel offset alongside its clustering
// coordinates so cluster membership can be mapped back onto the grid.
type pixelObservation struct {
	offset int
	coords clusters.Coordinates
}

func (p pixelObservation) Coordinates() clusters.Coordinates {
	return p.coords
}

func (p pixelObservation) Distance(point clusters.Coordinates) float64 {
	return p.coords.Distance(point)
}

// kmeansSegment clusters pixels by Lab color plus (optionally weighted)
// position. Unlike SLIC it makes no connectivity guarantee: one label may
// cover several disjoint same-colored areas, which for explanation purposes
// treats visually identical regions as a single toggleable unit.
func kmeansSegment(img *tensor.Dense, params map[string]interface{}) (*tensor.LabelGrid, error) {
	h, w := img.Height, img.Width
	if h == 0 || w == 0 {
		return nil, errors.New("empty image")
	}
	k := intParam(params, "clusters")
	spatialWeight := floatParam(params, "spatial_weight")
	deltaThreshold := floatParam(params, "delta_threshold")
	if k <= 0 {
		return nil, errors.New("clusters must be positive")
	}
	if k > h*w {
		k = h * w
	}

	feat, fc := pixelFeatures(img)
	diag := math.Sqrt(float64(h*h + w*w))

	observations := make(clusters.Observations, 0, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := y*w + x
			coords := make(clusters.Coordinates, 0, fc+2)
			for c := 0; c < fc; c++ {
				coords = append(coords, feat[p*fc+c])
			}
			// Positions normalized by the diagonal so spatial_weight has a
			// resolution-independent meaning.
			coords = append(coords,
				spatialWeight*100.0*float64(x)/diag,
				spatialWeight*100.0*float64(y)/diag)
			observations = append(observations, pixelObservation{offset: p, coords: coords})
		}
	}

	km, err := kmeans.NewWithOptions(deltaThreshold, nil)
	if err != nil {
		return nil, fmt.Errorf("kmeans setup: %w", err)
	}
	partition, err := km.Partition(observations, k)
	if err != nil {
		return nil, fmt.Errorf("kmeans partition: %w", err)
	}

	labels := make([]int, h*w)
	for ci, cluster := range partition {
		for _, obs := range cluster.Observations {
			po, ok := obs.(pixelObservation)
			if !ok {
				return nil, errors.New("kmeans returned foreign observation type")
			}
			labels[po.offset] = ci
		}
	}
	return tensor.NewLabelGrid(h, w, labels), nil
}
