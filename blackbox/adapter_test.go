package blackbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lime-explainer/tensor"
)

func testImages(n int) []*tensor.Dense {
	images := make([]*tensor.Dense, n)
	for i := range images {
		img := tensor.NewDense(2, 2, 1)
		img.Set(0, 0, 0, float64(i))
		images[i] = img
	}
	return images
}

func constScorer(row []float64) ScoreFunc {
	return func(ctx context.Context, input *tensor.Dense) ([]float64, error) {
		out := make([]float64, len(row))
		copy(out, row)
		return out, nil
	}
}

func TestScorePassesThroughProbabilities(t *testing.T) {
	a := New(constScorer([]float64{0.75, 0.25}))

	probs, err := a.Score(context.Background(), testImages(3))
	require.NoError(t, err)

	rows, cols := probs.Dims()
	require.Equal(t, 3, rows)
	require.Equal(t, 2, cols)
	assert.Equal(t, 0.75, probs.At(0, 0))
	assert.Equal(t, 0.25, probs.At(2, 1))
}

func TestScoreSoftmaxesLogits(t *testing.T) {
	a := New(constScorer([]float64{2.0, 2.0, -1.0}))

	probs, err := a.Score(context.Background(), testImages(1))
	require.NoError(t, err)

	sum := probs.At(0, 0) + probs.At(0, 1) + probs.At(0, 2)
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, probs.At(0, 0), probs.At(0, 1), 1e-12)
	assert.Less(t, probs.At(0, 2), probs.At(0, 0))
}

func TestScoreRetriesOnceThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	flaky := ScoreFunc(func(ctx context.Context, input *tensor.Dense) ([]float64, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("transient failure")
		}
		return []float64{1, 0}, nil
	})

	a := New(flaky)
	probs, err := a.Score(context.Background(), testImages(1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, probs.At(0, 0))
	assert.Equal(t, 2, calls)
}

func TestScoreFailsAfterSecondAttempt(t *testing.T) {
	calls := 0
	broken := ScoreFunc(func(ctx context.Context, input *tensor.Dense) ([]float64, error) {
		calls++
		return nil, errors.New("permanent failure")
	})

	a := New(broken)
	_, err := a.Score(context.Background(), testImages(1))
	require.Error(t, err)
	assert.Equal(t, 2, calls, "exactly one retry per image")
	assert.Contains(t, err.Error(), "after retry")
}

func TestScoreTimeoutSurfacesTypedError(t *testing.T) {
	slow := ScoreFunc(func(ctx context.Context, input *tensor.Dense) ([]float64, error) {
		time.Sleep(200 * time.Millisecond)
		return []float64{1}, nil
	})

	a := New(slow, WithTimeout(10*time.Millisecond))
	_, err := a.Score(context.Background(), testImages(1))
	require.Error(t, err)

	var timeout *ScoringTimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, 10*time.Millisecond, timeout.Timeout)
}

func TestScoreRejectsInconsistentRowWidths(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	shifty := ScoreFunc(func(ctx context.Context, input *tensor.Dense) ([]float64, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return []float64{0.5, 0.5}, nil
		}
		return []float64{0.2, 0.3, 0.5}, nil
	})

	a := New(shifty)
	_, err := a.Score(context.Background(), testImages(2))
	require.Error(t, err)

	var mismatch *tensor.DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
}

func TestScoreRejectsEmptyRows(t *testing.T) {
	a := New(constScorer(nil))
	_, err := a.Score(context.Background(), testImages(2))
	require.Error(t, err)

	var mismatch *tensor.DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 0, mismatch.Got)
}

type recordingToggler struct {
	mu       sync.Mutex
	entered  int
	restored int
}

func (r *recordingToggler) EnterEval() func() {
	r.mu.Lock()
	r.entered++
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.restored++
		r.mu.Unlock()
	}
}

func TestEvalModeRestoredOnSuccessAndFailure(t *testing.T) {
	toggler := &recordingToggler{}

	ok := New(constScorer([]float64{1, 0}), WithModeToggler(toggler))
	_, err := ok.Score(context.Background(), testImages(2))
	require.NoError(t, err)
	assert.Equal(t, 1, toggler.entered, "one toggle per batch, outside the loop")
	assert.Equal(t, 1, toggler.restored)

	failing := New(ScoreFunc(func(ctx context.Context, input *tensor.Dense) ([]float64, error) {
		return nil, errors.New("boom")
	}), WithModeToggler(toggler))
	_, err = failing.Score(context.Background(), testImages(1))
	require.Error(t, err)
	assert.Equal(t, 2, toggler.entered)
	assert.Equal(t, 2, toggler.restored, "restore must run on the failure path too")
}

func TestParallelMatchesSequential(t *testing.T) {
	scorer := ScoreFunc(func(ctx context.Context, input *tensor.Dense) ([]float64, error) {
		v := input.At(0, 0, 0)
		return []float64{v / 10, 1 - v/10}, nil
	})
	images := testImages(8)

	seq, err := New(scorer).Score(context.Background(), images)
	require.NoError(t, err)
	par, err := New(scorer, WithWorkers(4)).Score(context.Background(), images)
	require.NoError(t, err)

	rows, cols := seq.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			assert.Equal(t, seq.At(i, j), par.At(i, j))
		}
	}
}

func TestScoreHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New(constScorer([]float64{1}))
	_, err := a.Score(ctx, testImages(4))
	require.ErrorIs(t, err, context.Canceled)
}

func TestScoreOneNormalizes(t *testing.T) {
	a := New(constScorer([]float64{3, 1}))
	row, err := a.ScoreOne(context.Background(), testImages(1)[0])
	require.NoError(t, err)
	require.Len(t, row, 2)
	assert.InDelta(t, 1.0, row[0]+row[1], 1e-9)
	assert.Greater(t, row[0], row[1])
}

func TestScoreEmptyBatchFails(t *testing.T) {
	a := New(constScorer([]float64{1}))
	_, err := a.Score(context.Background(), nil)
	require.Error(t, err)
}
