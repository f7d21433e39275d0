package perturb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lime-explainer/tensor"
)

// quadrantGrid splits a h×w image into four quadrant superpixels.
func quadrantGrid(h, w int) *tensor.LabelGrid {
	labels := make([]int, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			label := 0
			if x >= w/2 {
				label++
			}
			if y >= h/2 {
				label += 2
			}
			labels[y*w+x] = label
		}
	}
	return tensor.NewLabelGrid(h, w, labels)
}

func quadrantImage(h, w int) *tensor.Dense {
	img := tensor.NewDense(h, w, 1)
	grid := quadrantGrid(h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, 0, float64(grid.Label(x, y)+1)*10)
		}
	}
	return img
}

func TestSampleIsSeededAndDeterministic(t *testing.T) {
	a := NewSampler(42).Sample(8, 16)
	b := NewSampler(42).Sample(8, 16)
	require.Equal(t, a, b)

	c := NewSampler(7).Sample(8, 16)
	assert.NotEqual(t, a, c)
}

func TestSampleShapes(t *testing.T) {
	masks := NewSampler(1).Sample(5, 10)
	require.Len(t, masks, 10)
	for _, m := range masks {
		assert.Len(t, m, 5)
	}
}

func TestSampleZeroYieldsEmptyBatch(t *testing.T) {
	masks := NewSampler(1).Sample(5, 0)
	assert.Empty(t, masks)
}

func TestReferenceMask(t *testing.T) {
	ref := Reference(4)
	assert.Equal(t, 4, ref.On())
}

func TestMaterializeAllOnesReproducesOriginal(t *testing.T) {
	img := quadrantImage(4, 4)
	grid := quadrantGrid(4, 4)
	baseline, err := FillPolicy{Value: 0}.Build(img, grid)
	require.NoError(t, err)

	out, err := Materialize(img, grid, baseline, Reference(4))
	require.NoError(t, err)
	assert.True(t, out.Equal(img))
}

func TestMaterializeAllZerosReproducesBaseline(t *testing.T) {
	img := quadrantImage(4, 4)
	grid := quadrantGrid(4, 4)
	baseline, err := MeanPolicy{}.Build(img, grid)
	require.NoError(t, err)

	out, err := Materialize(img, grid, baseline, make(Mask, 4))
	require.NoError(t, err)
	assert.True(t, out.Equal(baseline))
}

func TestMaterializeMixedMask(t *testing.T) {
	img := quadrantImage(4, 4)
	grid := quadrantGrid(4, 4)
	baseline, err := FillPolicy{Value: 0}.Build(img, grid)
	require.NoError(t, err)

	mask := Mask{true, false, false, true}
	out, err := Materialize(img, grid, baseline, mask)
	require.NoError(t, err)

	// Quadrant 0 (top-left) kept, quadrant 1 (top-right) zeroed.
	assert.Equal(t, 10.0, out.At(0, 0, 0))
	assert.Equal(t, 0.0, out.At(3, 0, 0))
	// Original untouched.
	assert.Equal(t, 20.0, img.At(3, 0, 0))
}

func TestMaterializeRejectsWrongMaskLength(t *testing.T) {
	img := quadrantImage(4, 4)
	grid := quadrantGrid(4, 4)
	baseline, err := FillPolicy{Value: 0}.Build(img, grid)
	require.NoError(t, err)

	_, err = Materialize(img, grid, baseline, make(Mask, 3))
	require.Error(t, err)

	var mismatch *tensor.DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 4, mismatch.Want)
	assert.Equal(t, 3, mismatch.Got)
}

func TestMeanPolicyAveragesPerSuperpixel(t *testing.T) {
	img := tensor.NewDense(2, 2, 1)
	img.Set(0, 0, 0, 10)
	img.Set(1, 0, 0, 30)
	img.Set(0, 1, 0, 100)
	img.Set(1, 1, 0, 100)
	grid := tensor.NewLabelGrid(2, 2, []int{0, 0, 1, 1})

	baseline, err := MeanPolicy{}.Build(img, grid)
	require.NoError(t, err)
	assert.Equal(t, 20.0, baseline.At(0, 0, 0))
	assert.Equal(t, 20.0, baseline.At(1, 0, 0))
	assert.Equal(t, 100.0, baseline.At(0, 1, 0))
}

func TestFillPolicyConstantAndKeys(t *testing.T) {
	img := quadrantImage(4, 4)
	grid := quadrantGrid(4, 4)

	baseline, err := FillPolicy{Value: 127}.Build(img, grid)
	require.NoError(t, err)
	for _, v := range baseline.Pix {
		require.Equal(t, 127.0, v)
	}

	assert.NotEqual(t, FillPolicy{Value: 0}.Key(), FillPolicy{Value: 1}.Key())
	assert.NotEqual(t, MeanPolicy{}.Key(), FillPolicy{Value: 0}.Key())
}

func TestPolicyRejectsMismatchedGrid(t *testing.T) {
	img := quadrantImage(4, 4)
	grid := quadrantGrid(8, 8)

	_, err := MeanPolicy{}.Build(img, grid)
	require.Error(t, err)
}
