package tensor

import "sort"

// LabelGrid assigns every pixel of an image to a superpixel. Labels need not
// be contiguous or start at zero; the distinct label list defines both the
// superpixel count and the column order of the regression design matrix.
type LabelGrid struct {
	Height int   `json:"height"`
	Width  int   `json:"width"`
	Labels []int `json:"labels"` // len = Height*Width, row-major

	distinct []int
	index    map[int]int
}

// NewLabelGrid wraps a row-major label buffer.
func NewLabelGrid(height, width int, labels []int) *LabelGrid {
	return &LabelGrid{Height: height, Width: width, Labels: labels}
}

// Label returns the superpixel id of pixel (x, y).
func (g *LabelGrid) Label(x, y int) int {
	return g.Labels[y*g.Width+x]
}

// Distinct returns the sorted list of superpixel ids.
func (g *LabelGrid) Distinct() []int {
	g.buildIndex()
	return g.distinct
}

// NumSegments returns the superpixel count, |unique(labels)|.
func (g *LabelGrid) NumSegments() int {
	g.buildIndex()
	return len(g.distinct)
}

// SegmentIndex maps a raw label to its position in Distinct(), which is the
// mask bit / coefficient index for that superpixel. The second return is
// false for labels absent from the grid.
func (g *LabelGrid) SegmentIndex(label int) (int, bool) {
	g.buildIndex()
	i, ok := g.index[label]
	return i, ok
}

// Buckets groups pixel offsets (y*Width+x) by segment index, ordered as
// Distinct(). Baseline construction and materialization both iterate these.
func (g *LabelGrid) Buckets() [][]int {
	g.buildIndex()
	buckets := make([][]int, len(g.distinct))
	for off, label := range g.Labels {
		i := g.index[label]
		buckets[i] = append(buckets[i], off)
	}
	return buckets
}

func (g *LabelGrid) buildIndex() {
	if g.index != nil {
		return
	}
	g.index = make(map[int]int)
	for _, label := range g.Labels {
		if _, seen := g.index[label]; !seen {
			g.index[label] = 0
			g.distinct = append(g.distinct, label)
		}
	}
	sort.Ints(g.distinct)
	for i, label := range g.distinct {
		g.index[label] = i
	}
}
