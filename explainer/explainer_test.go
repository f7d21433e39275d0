package explainer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lime-explainer/blackbox"
	"lime-explainer/perturb"
	"lime-explainer/segment"
	"lime-explainer/surrogate"
	"lime-explainer/tensor"
)

// quadrantImage is 4×4 with one constant-valued quadrant per superpixel:
// 10 top-left, 20 top-right, 30 bottom-left, 40 bottom-right.
func quadrantImage() *tensor.Dense {
	img := tensor.NewDense(4, 4, 1)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			label := 0
			if x >= 2 {
				label++
			}
			if y >= 2 {
				label += 2
			}
			img.Set(x, y, 0, float64(label+1)*10)
		}
	}
	return img
}

// quadrantSegmenter labels the four quadrants 0..3 and counts invocations.
func quadrantSegmenter(calls *int) *segment.Strategy {
	var mu sync.Mutex
	fn := func(img *tensor.Dense, params map[string]interface{}) (*tensor.LabelGrid, error) {
		mu.Lock()
		*calls++
		mu.Unlock()
		labels := make([]int, img.Height*img.Width)
		for y := 0; y < img.Height; y++ {
			for x := 0; x < img.Width; x++ {
				label := 0
				if x >= img.Width/2 {
					label++
				}
				if y >= img.Height/2 {
					label += 2
				}
				labels[y*img.Width+x] = label
			}
		}
		return tensor.NewLabelGrid(img.Height, img.Width, labels), nil
	}
	return segment.NewFunc(fn, nil)
}

// quadrantClassifier scores an image by how many quadrants survived the
// perturbation: p0 = on/4, p1 = 1 - on/4. With a zero-fill baseline this is
// exactly linear in the mask, so the surrogate can recover it.
func quadrantClassifier() blackbox.ScoreFunc {
	centers := [][2]int{{1, 1}, {2, 1}, {1, 2}, {2, 2}}
	return func(ctx context.Context, img *tensor.Dense) ([]float64, error) {
		on := 0
		for _, c := range centers {
			if img.At(c[0], c[1], 0) != 0 {
				on++
			}
		}
		p := float64(on) / 4
		return []float64{p, 1 - p}, nil
	}
}

func constClassifier(probs []float64) blackbox.ScoreFunc {
	return func(ctx context.Context, img *tensor.Dense) ([]float64, error) {
		out := make([]float64, len(probs))
		copy(out, probs)
		return out, nil
	}
}

func TestExplainRejectsZeroSamples(t *testing.T) {
	calls := 0
	e := New(quadrantSegmenter(&calls), blackbox.New(quadrantClassifier()))

	opts := DefaultOptions()
	opts.NumSamples = 0
	_, err := e.Explain(context.Background(), NewSession(quadrantImage()), opts)
	require.Error(t, err)

	var insufficient *surrogate.InsufficientSamplesError
	require.True(t, errors.As(err, &insufficient))
}

func TestExplainConstantClassifierGivesFlatModels(t *testing.T) {
	calls := 0
	e := New(quadrantSegmenter(&calls), blackbox.New(constClassifier([]float64{1, 0})))

	opts := DefaultOptions()
	opts.NumSamples = 64
	exp, err := e.Explain(context.Background(), NewSession(quadrantImage()), opts)
	require.NoError(t, err)

	require.Equal(t, 4, exp.NumSuperpixels)
	require.Len(t, exp.Models, 2)

	class0 := exp.Model(0)
	require.NotNil(t, class0)
	for _, c := range class0.Coefficients {
		assert.InDelta(t, 0.0, c, 1e-6)
	}
	assert.InDelta(t, 1.0, class0.Intercept, 1e-6)
}

func TestExplainRecoversLinearClassifier(t *testing.T) {
	calls := 0
	e := New(quadrantSegmenter(&calls), blackbox.New(quadrantClassifier()))

	opts := DefaultOptions()
	opts.NumSamples = 64
	opts.Policy = perturb.FillPolicy{Value: 0}
	opts.NewRegressor = func() surrogate.Regressor { return surrogate.NewRidge(1e-6) }
	exp, err := e.Explain(context.Background(), NewSession(quadrantImage()), opts)
	require.NoError(t, err)

	// Each quadrant contributes 0.25 to class 0 and -0.25 to class 1.
	class0 := exp.Model(0)
	require.NotNil(t, class0)
	for _, c := range class0.Coefficients {
		assert.InDelta(t, 0.25, c, 0.02)
	}
	class1 := exp.Model(1)
	require.NotNil(t, class1)
	for _, c := range class1.Coefficients {
		assert.InDelta(t, -0.25, c, 0.02)
	}

	// Reference scores the unperturbed image: every quadrant on.
	require.Len(t, exp.Reference, 2)
	assert.InDelta(t, 1.0, exp.Reference[0], 1e-9)
}

func TestExplainIsDeterministicForSeed(t *testing.T) {
	run := func(seed int64) *Explanation {
		calls := 0
		e := New(quadrantSegmenter(&calls), blackbox.New(quadrantClassifier()))
		opts := DefaultOptions()
		opts.NumSamples = 32
		opts.Seed = seed
		opts.Policy = perturb.FillPolicy{Value: 0}
		exp, err := e.Explain(context.Background(), NewSession(quadrantImage()), opts)
		require.NoError(t, err)
		return exp
	}

	first := run(42)
	second := run(42)
	require.Equal(t, first.Models, second.Models)
	require.Equal(t, first.Classes, second.Classes)

	other := run(7)
	assert.NotEqual(t, first.Models, other.Models)
}

func TestExplainTopKRanksByReferenceProbability(t *testing.T) {
	calls := 0
	e := New(quadrantSegmenter(&calls), blackbox.New(constClassifier([]float64{0.2, 0.5, 0.3})))

	opts := DefaultOptions()
	opts.NumSamples = 16
	opts.TopK = 2
	exp, err := e.Explain(context.Background(), NewSession(quadrantImage()), opts)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, exp.Classes)
	require.Len(t, exp.Models, 2)
	assert.Nil(t, exp.Model(0))
	assert.NotNil(t, exp.Model(1))
}

func TestExplainTopKBreaksTiesByAscendingIndex(t *testing.T) {
	calls := 0
	e := New(quadrantSegmenter(&calls), blackbox.New(constClassifier([]float64{0.4, 0.2, 0.4})))

	opts := DefaultOptions()
	opts.NumSamples = 16
	opts.TopK = 2
	exp, err := e.Explain(context.Background(), NewSession(quadrantImage()), opts)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, exp.Classes)
}

type countingPolicy struct {
	inner  perturb.MaskPolicy
	builds *int
}

func (p countingPolicy) Build(img *tensor.Dense, grid *tensor.LabelGrid) (*tensor.Dense, error) {
	*p.builds++
	return p.inner.Build(img, grid)
}

func (p countingPolicy) Key() string { return p.inner.Key() }

func TestSessionCachesGridAndBaseline(t *testing.T) {
	segments := 0
	builds := 0
	e := New(quadrantSegmenter(&segments), blackbox.New(quadrantClassifier()))
	session := NewSession(quadrantImage())

	opts := DefaultOptions()
	opts.NumSamples = 8
	opts.Policy = countingPolicy{inner: perturb.MeanPolicy{}, builds: &builds}

	_, err := e.Explain(context.Background(), session, opts)
	require.NoError(t, err)
	_, err = e.Explain(context.Background(), session, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, segments, "grid must be segmented once per session")
	assert.Equal(t, 1, builds, "baseline must be reused while the policy key matches")
	assert.NotNil(t, session.Grid())

	// A different policy key invalidates the cached baseline.
	opts.Policy = countingPolicy{inner: perturb.FillPolicy{Value: 0}, builds: &builds}
	_, err = e.Explain(context.Background(), session, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, builds)
	assert.Equal(t, 1, segments)
}

func TestExplanationJSONCarriesGrid(t *testing.T) {
	calls := 0
	e := New(quadrantSegmenter(&calls), blackbox.New(quadrantClassifier()))

	opts := DefaultOptions()
	opts.NumSamples = 8
	exp, err := e.Explain(context.Background(), NewSession(quadrantImage()), opts)
	require.NoError(t, err)

	raw, err := json.Marshal(exp)
	require.NoError(t, err)

	var decoded struct {
		Grid struct {
			Height int   `json:"height"`
			Width  int   `json:"width"`
			Labels []int `json:"labels"`
		} `json:"grid"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, 4, decoded.Grid.Height)
	assert.Equal(t, 4, decoded.Grid.Width)
	assert.Equal(t, exp.Grid.Labels, decoded.Grid.Labels)
}

func TestExplainRejectsDriftingReferenceWidth(t *testing.T) {
	// Width 2 for the perturbation batch, width 3 once the reference image
	// is scored afterwards.
	var mu sync.Mutex
	calls := 0
	drifting := blackbox.ScoreFunc(func(ctx context.Context, img *tensor.Dense) ([]float64, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 8 {
			return []float64{0.5, 0.5}, nil
		}
		return []float64{0.2, 0.3, 0.5}, nil
	})

	segments := 0
	e := New(quadrantSegmenter(&segments), blackbox.New(drifting))

	opts := DefaultOptions()
	opts.NumSamples = 8
	_, err := e.Explain(context.Background(), NewSession(quadrantImage()), opts)
	require.Error(t, err)

	var mismatch *tensor.DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 2, mismatch.Want)
	assert.Equal(t, 3, mismatch.Got)
}

func TestExplainRecordsStageTimings(t *testing.T) {
	calls := 0
	e := New(quadrantSegmenter(&calls), blackbox.New(quadrantClassifier()))
	session := NewSession(quadrantImage())

	opts := DefaultOptions()
	opts.NumSamples = 8
	_, err := e.Explain(context.Background(), session, opts)
	require.NoError(t, err)

	timings := session.StageTimings()
	for _, stage := range []string{"segment", "baseline", "sample", "score", "weigh", "fit"} {
		assert.NotEmpty(t, timings[stage], stage)
	}
}

func TestExplainHonorsCancellation(t *testing.T) {
	calls := 0
	e := New(quadrantSegmenter(&calls), blackbox.New(quadrantClassifier()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := DefaultOptions()
	opts.NumSamples = 8
	_, err := e.Explain(ctx, NewSession(quadrantImage()), opts)
	require.ErrorIs(t, err, context.Canceled)
}
