// Package blackbox adapts an opaque classifier scoring function to the
// explanation pipeline. The adapter owns preprocessing, evaluation-mode
// scoping, per-image timeouts with one retry, logit normalization, and the
// optional worker pool for parallel dispatch.
package blackbox

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"lime-explainer/internal/logger"
	"lime-explainer/tensor"
)

// Scorer is the classifier contract: one preprocessed image in, raw scores
// or probabilities over the class set out. Batching is the adapter's job,
// not the scorer's.
type Scorer interface {
	Score(ctx context.Context, input *tensor.Dense) ([]float64, error)
}

// ScoreFunc adapts a plain function to Scorer.
type ScoreFunc func(ctx context.Context, input *tensor.Dense) ([]float64, error)

func (f ScoreFunc) Score(ctx context.Context, input *tensor.Dense) ([]float64, error) {
	return f(ctx, input)
}

// Preprocessor transforms an image into the scorer's input representation.
type Preprocessor func(img *tensor.Dense) (*tensor.Dense, error)

// ModeToggler lets a stateful classifier be switched into inference mode
// around a scoring batch. EnterEval returns the restore function, which the
// adapter calls on every exit path.
type ModeToggler interface {
	EnterEval() (restore func())
}

// ScoringTimeoutError reports a single image whose scoring call exceeded
// the configured bound.
type ScoringTimeoutError struct {
	Index   int
	Timeout time.Duration
}

func (e *ScoringTimeoutError) Error() string {
	return fmt.Sprintf("scoring image %d exceeded timeout %s", e.Index, e.Timeout)
}

// Adapter wraps a Scorer for batch use by the orchestrator.
type Adapter struct {
	scorer     Scorer
	preprocess Preprocessor
	toggler    ModeToggler
	timeout    time.Duration
	workers    int
	log        logger.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithPreprocessor installs an input transform; the default is identity.
func WithPreprocessor(p Preprocessor) Option {
	return func(a *Adapter) { a.preprocess = p }
}

// WithModeToggler installs the evaluation-mode switch for stateful scorers.
func WithModeToggler(t ModeToggler) Option {
	return func(a *Adapter) { a.toggler = t }
}

// WithTimeout bounds each individual scoring call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

// WithWorkers dispatches scoring across n goroutines. Scoring calls are
// read-only with respect to the classifier, and the evaluation-mode toggle
// happens once outside the parallel region, so parallel dispatch is safe.
func WithWorkers(n int) Option {
	return func(a *Adapter) { a.workers = n }
}

// WithLogger installs a logger; the default discards.
func WithLogger(l logger.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// New creates an adapter around a scorer.
func New(scorer Scorer, opts ...Option) *Adapter {
	a := &Adapter{
		scorer:     scorer,
		preprocess: func(img *tensor.Dense) (*tensor.Dense, error) { return img, nil },
		workers:    1,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.workers < 1 {
		a.workers = 1
	}
	return a
}

// Score runs the full batch and returns the N×C probability matrix. Each
// image is retried at most once; if the retry also fails the whole call
// fails, since the surrogate fit needs a complete matrix. Rows that look
// like logits are softmax-normalized. Cancellation is honored between
// scoring calls, never inside one.
func (a *Adapter) Score(ctx context.Context, images []*tensor.Dense) (*mat.Dense, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("empty image batch")
	}
	if a.toggler != nil {
		restore := a.toggler.EnterEval()
		defer restore()
	}

	rows := make([][]float64, len(images))
	var err error
	if a.workers > 1 {
		err = a.scoreParallel(ctx, images, rows)
	} else {
		err = a.scoreSequential(ctx, images, rows)
	}
	if err != nil {
		return nil, err
	}

	width := len(rows[0])
	if width == 0 {
		return nil, &tensor.DimensionMismatchError{
			Context: "probability row width",
			Want:    1,
			Got:     0,
		}
	}
	for i, row := range rows {
		if len(row) != width {
			return nil, &tensor.DimensionMismatchError{
				Context: fmt.Sprintf("probability row %d", i),
				Want:    width,
				Got:     len(row),
			}
		}
	}

	out := mat.NewDense(len(rows), width, nil)
	for i, row := range rows {
		out.SetRow(i, normalizeRow(row))
	}
	return out, nil
}

// ScoreOne scores a single image, with the same retry and normalization
// behavior as a batch of one.
func (a *Adapter) ScoreOne(ctx context.Context, img *tensor.Dense) ([]float64, error) {
	if a.toggler != nil {
		restore := a.toggler.EnterEval()
		defer restore()
	}
	row, err := a.scoreWithRetry(ctx, 0, img)
	if err != nil {
		return nil, err
	}
	return normalizeRow(row), nil
}

func (a *Adapter) scoreSequential(ctx context.Context, images []*tensor.Dense, rows [][]float64) error {
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := a.scoreWithRetry(ctx, i, img)
		if err != nil {
			return err
		}
		rows[i] = row
	}
	return nil
}

func (a *Adapter) scoreParallel(ctx context.Context, images []*tensor.Dense, rows [][]float64) error {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	indices := make(chan int)
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for w := 0; w < a.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				row, err := a.scoreWithRetry(workCtx, i, images[i])
				if err != nil {
					fail(err)
					return
				}
				rows[i] = row
			}
		}()
	}

feed:
	for i := range images {
		select {
		case indices <- i:
		case <-workCtx.Done():
			break feed
		}
	}
	close(indices)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (a *Adapter) scoreWithRetry(ctx context.Context, index int, img *tensor.Dense) ([]float64, error) {
	row, err := a.scoreOnce(ctx, index, img)
	if err == nil {
		return row, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	a.log.Warning("blackbox", "scoring failed, retrying once", map[string]interface{}{
		"image": index,
		"error": err.Error(),
	})
	row, err = a.scoreOnce(ctx, index, img)
	if err != nil {
		return nil, fmt.Errorf("scoring image %d failed after retry: %w", index, err)
	}
	return row, nil
}

func (a *Adapter) scoreOnce(ctx context.Context, index int, img *tensor.Dense) ([]float64, error) {
	input, err := a.preprocess(img)
	if err != nil {
		return nil, fmt.Errorf("preprocessing image %d: %w", index, err)
	}
	if a.timeout <= 0 {
		return a.scorer.Score(ctx, input)
	}

	type result struct {
		row []float64
		err error
	}
	done := make(chan result, 1)
	go func() {
		row, err := a.scorer.Score(ctx, input)
		done <- result{row: row, err: err}
	}()

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.row, r.err
	case <-timer.C:
		return nil, &ScoringTimeoutError{Index: index, Timeout: a.timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// normalizeRow applies a softmax when the row looks like logits; rows that
// already form a distribution pass through unchanged.
func normalizeRow(row []float64) []float64 {
	if !looksLikeLogits(row) {
		out := make([]float64, len(row))
		copy(out, row)
		return out
	}
	out := make([]float64, len(row))
	maxVal := math.Inf(-1)
	for _, v := range row {
		if v > maxVal {
			maxVal = v
		}
	}
	sum := 0.0
	for i, v := range row {
		out[i] = math.Exp(v - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func looksLikeLogits(row []float64) bool {
	sum := 0.0
	for _, v := range row {
		if v < 0 || v > 1 {
			return true
		}
		sum += v
	}
	return math.Abs(sum-1) > 1e-6
}
