package segment

import (
	"errors"
	"math"
	"sort"

	"lime-explainer/tensor"
)

type edge struct {
	a, b   int
	weight float64
}

type disjointSet struct {
	parent []int
	rank   []int
	size   []int
}

func newDisjointSet(n int) *disjointSet {
	ds := &disjointSet{
		parent: make([]int, n),
		rank:   make([]int, n),
		size:   make([]int, n),
	}
	for i := range ds.parent {
		ds.parent[i] = i
		ds.size[i] = 1
	}
	return ds
}

func (ds *disjointSet) find(x int) int {
	root := x
	for ds.parent[root] != root {
		root = ds.parent[root]
	}
	for ds.parent[x] != root {
		ds.parent[x], x = root, ds.parent[x]
	}
	return root
}

func (ds *disjointSet) union(a, b int) int {
	ra, rb := ds.find(a), ds.find(b)
	if ra == rb {
		return ra
	}
	if ds.rank[ra] < ds.rank[rb] {
		ra, rb = rb, ra
	}
	ds.parent[rb] = ra
	ds.size[ra] += ds.size[rb]
	if ds.rank[ra] == ds.rank[rb] {
		ds.rank[ra]++
	}
	return ra
}

// felzenszwalbSegment implements efficient graph-based segmentation: pixels
// are graph nodes, 8-connected edges are weighted by color distance, and
// components merge in ascending edge-weight order whenever the connecting
// edge is lighter than both components' internal variation plus the
// scale/size tolerance. Undersized components are absorbed in a second pass.
func felzenszwalbSegment(img *tensor.Dense, params map[string]interface{}) (*tensor.LabelGrid, error) {
	h, w := img.Height, img.Width
	if h == 0 || w == 0 {
		return nil, errors.New("empty image")
	}
	scale := floatParam(params, "scale")
	sigma := floatParam(params, "sigma")
	minSize := intParam(params, "min_size")

	feat, fc := pixelFeatures(img)
	feat = gaussianSmooth(feat, fc, w, h, sigma)

	edges := make([]edge, 0, h*w*4)
	addEdge := func(x, y, nx, ny int) {
		if nx < 0 || nx >= w || ny < 0 || ny >= h {
			return
		}
		a := y*w + x
		b := ny*w + nx
		edges = append(edges, edge{a: a, b: b, weight: math.Sqrt(featureDistanceSq(feat, fc, a, b))})
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			addEdge(x, y, x+1, y)
			addEdge(x, y, x, y+1)
			addEdge(x, y, x+1, y+1)
			addEdge(x, y, x+1, y-1)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].weight < edges[j].weight })

	ds := newDisjointSet(h * w)
	threshold := make([]float64, h*w)
	for i := range threshold {
		threshold[i] = scale
	}
	for _, e := range edges {
		ra, rb := ds.find(e.a), ds.find(e.b)
		if ra == rb {
			continue
		}
		if e.weight <= threshold[ra] && e.weight <= threshold[rb] {
			r := ds.union(ra, rb)
			threshold[r] = e.weight + scale/float64(ds.size[r])
		}
	}

	// Merge components below the minimum size along any connecting edge.
	for _, e := range edges {
		ra, rb := ds.find(e.a), ds.find(e.b)
		if ra != rb && (ds.size[ra] < minSize || ds.size[rb] < minSize) {
			ds.union(ra, rb)
		}
	}

	labels := make([]int, h*w)
	remap := make(map[int]int)
	for i := range labels {
		root := ds.find(i)
		id, ok := remap[root]
		if !ok {
			id = len(remap)
			remap[root] = id
		}
		labels[i] = id
	}
	return tensor.NewLabelGrid(h, w, labels), nil
}
