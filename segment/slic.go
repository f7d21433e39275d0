package segment

import (
	"errors"
	"math"

	"lime-explainer/tensor"
)

type slicCenter struct {
	feat []float64
	x, y float64
}

// slicSegment implements SLIC: k-means in the joint color+position space,
// seeded on a regular grid, with assignments restricted to a 2×step window
// around each center and a final connectivity sweep that absorbs orphaned
// fragments into an adjacent region.
func slicSegment(img *tensor.Dense, params map[string]interface{}) (*tensor.LabelGrid, error) {
	h, w := img.Height, img.Width
	if h == 0 || w == 0 {
		return nil, errors.New("empty image")
	}
	numSuperpixels := intParam(params, "num_superpixels")
	compactness := floatParam(params, "compactness")
	iterations := intParam(params, "iterations")
	if numSuperpixels <= 0 {
		numSuperpixels = 1
	}
	if iterations <= 0 {
		iterations = 1
	}

	feat, fc := pixelFeatures(img)

	step := int(math.Sqrt(float64(h*w)/float64(numSuperpixels)))
	if step < 1 {
		step = 1
	}
	nc := compactness
	if nc <= 0 {
		nc = 1
	}
	ns := float64(step)

	centers := seedCenters(feat, fc, w, h, step)

	clusters := make([]int, h*w)
	distances := make([]float64, h*w)

	for it := 0; it < iterations; it++ {
		for i := range distances {
			distances[i] = math.MaxFloat64
		}
		for ci, c := range centers {
			x0 := clamp(int(c.x)-step, 0, w)
			x1 := clamp(int(c.x)+step, 0, w)
			y0 := clamp(int(c.y)-step, 0, h)
			y1 := clamp(int(c.y)+step, 0, h)
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					p := y*w + x
					dc := 0.0
					for f := 0; f < fc; f++ {
						d := feat[p*fc+f] - c.feat[f]
						dc += d * d
					}
					dx := float64(x) - c.x
					dy := float64(y) - c.y
					ds := dx*dx + dy*dy
					d := dc/(nc*nc) + ds/(ns*ns)
					if d < distances[p] {
						distances[p] = d
						clusters[p] = ci
					}
				}
			}
		}

		// Recompute centers as the mean of their members.
		featAcc := make([]float64, len(centers)*fc)
		xAcc := make([]float64, len(centers))
		yAcc := make([]float64, len(centers))
		counts := make([]int, len(centers))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p := y*w + x
				ci := clusters[p]
				for f := 0; f < fc; f++ {
					featAcc[ci*fc+f] += feat[p*fc+f]
				}
				xAcc[ci] += float64(x)
				yAcc[ci] += float64(y)
				counts[ci]++
			}
		}
		for ci := range centers {
			if counts[ci] == 0 {
				continue
			}
			n := float64(counts[ci])
			for f := 0; f < fc; f++ {
				centers[ci].feat[f] = featAcc[ci*fc+f] / n
			}
			centers[ci].x = xAcc[ci] / n
			centers[ci].y = yAcc[ci] / n
		}
	}

	labels := enforceConnectivity(clusters, w, h, len(centers))
	return tensor.NewLabelGrid(h, w, labels), nil
}

// seedCenters places initial centers on a step grid, nudged to the lowest
// local gradient position so seeds avoid region boundaries.
func seedCenters(feat []float64, fc, w, h, step int) []slicCenter {
	var centers []slicCenter
	for cy := step / 2; cy < h; cy += step {
		for cx := step / 2; cx < w; cx += step {
			lx, ly := cx, cy
			minGrad := math.MaxFloat64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := cx+dx, cy+dy
					if nx < 0 || nx >= w-1 || ny < 0 || ny >= h-1 {
						continue
					}
					p := ny*w + nx
					grad := math.Abs(feat[(p+w)*fc]-feat[p*fc]) + math.Abs(feat[(p+1)*fc]-feat[p*fc])
					if grad < minGrad {
						minGrad = grad
						lx, ly = nx, ny
					}
				}
			}
			p := ly*w + lx
			cf := make([]float64, fc)
			copy(cf, feat[p*fc:(p+1)*fc])
			centers = append(centers, slicCenter{feat: cf, x: float64(lx), y: float64(ly)})
		}
	}
	if len(centers) == 0 {
		p := (h/2)*w + w/2
		cf := make([]float64, fc)
		copy(cf, feat[p*fc:(p+1)*fc])
		centers = append(centers, slicCenter{feat: cf, x: float64(w / 2), y: float64(h / 2)})
	}
	return centers
}

// enforceConnectivity relabels with a flood fill so every output label is a
// single connected component, merging fragments smaller than a quarter of
// the mean region size into a neighboring label.
func enforceConnectivity(clusters []int, w, h, numCenters int) []int {
	minSize := (h * w) / numCenters / 4
	if minSize < 1 {
		minSize = 1
	}
	dx4 := [4]int{-1, 0, 1, 0}
	dy4 := [4]int{0, -1, 0, 1}

	labels := make([]int, h*w)
	for i := range labels {
		labels[i] = -1
	}
	next := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			start := y*w + x
			if labels[start] != -1 {
				continue
			}
			labels[start] = next
			adjacent := next
			for k := 0; k < 4; k++ {
				nx, ny := x+dx4[k], y+dy4[k]
				if nx >= 0 && nx < w && ny >= 0 && ny < h && labels[ny*w+nx] >= 0 {
					adjacent = labels[ny*w+nx]
					break
				}
			}

			component := []int{start}
			for i := 0; i < len(component); i++ {
				cur := component[i]
				cx, cy := cur%w, cur/w
				for k := 0; k < 4; k++ {
					nx, ny := cx+dx4[k], cy+dy4[k]
					if nx < 0 || nx >= w || ny < 0 || ny >= h {
						continue
					}
					n := ny*w + nx
					if labels[n] == -1 && clusters[n] == clusters[cur] {
						labels[n] = next
						component = append(component, n)
					}
				}
			}
			if len(component) < minSize && adjacent != next {
				for _, p := range component {
					labels[p] = adjacent
				}
				continue
			}
			next++
		}
	}
	return labels
}
