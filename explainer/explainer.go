// Package explainer composes segmentation, perturbation sampling, black-box
// scoring, proximity weighting, and surrogate fitting into the end-to-end
// explanation operation.
package explainer

import (
	"context"
	"errors"
	"sort"

	"lime-explainer/blackbox"
	"lime-explainer/internal/logger"
	"lime-explainer/kernel"
	"lime-explainer/perturb"
	"lime-explainer/proximity"
	"lime-explainer/segment"
	"lime-explainer/surrogate"
	"lime-explainer/tensor"
)

var errNotSegmented = errors.New("session has no segmentation grid")

// Explanation is the pipeline's durable output: the superpixel grid, the
// selected classes in ranking order, and each class's surrogate model. The
// grid is serialized alongside the coefficients so renderers can map each
// coefficient back to its pixel region; the reference probability vector is
// kept so downstream consumers can rank classes without re-querying the
// classifier.
type Explanation struct {
	Grid           *tensor.LabelGrid `json:"grid"`
	NumSuperpixels int               `json:"num_superpixels"`
	Classes        []int             `json:"classes"`
	Models         []surrogate.Model `json:"models"`
	Reference      []float64         `json:"reference_probabilities"`
}

// Model returns the surrogate model for a class, nil when the class was not
// selected.
func (e *Explanation) Model(class int) *surrogate.Model {
	for i := range e.Models {
		if e.Models[i].Class == class {
			return &e.Models[i]
		}
	}
	return nil
}

// Options controls a single Explain call.
type Options struct {
	// NumSamples is the perturbation count. Must be positive; zero samples
	// cannot support a fit.
	NumSamples int
	// TopK limits fitting to the K highest-probability classes of the
	// unperturbed image, ranked descending with ties broken by ascending
	// class index. Zero or negative fits every class.
	TopK int
	// Policy builds the baseline image. Nil means the superpixel-mean
	// policy.
	Policy perturb.MaskPolicy
	// Seed drives mask sampling; the same seed and arguments reproduce the
	// explanation exactly.
	Seed int64
	// Features optionally restricts the fit to a superpixel subset.
	Features []int
	// NewRegressor substitutes the surrogate regressor per class. Nil uses
	// the fitter's ridge default.
	NewRegressor func() surrogate.Regressor
	// Reference overrides the weighting anchor mask. Nil keeps all-ones.
	Reference perturb.Mask
}

// DefaultOptions returns the standard explain configuration.
func DefaultOptions() Options {
	return Options{
		NumSamples: 1000,
		Seed:       1,
	}
}

// Explainer wires the pipeline stages together. Construct once, then run
// Explain against any number of sessions.
type Explainer struct {
	segmenter *segment.Strategy
	kern      *kernel.Kernel
	adapter   *blackbox.Adapter
	fitter    *surrogate.Fitter
	log       logger.Logger
}

// Option configures an Explainer.
type Option func(*Explainer)

// WithKernel replaces the default exponential-similarity kernel.
func WithKernel(k *kernel.Kernel) Option {
	return func(e *Explainer) { e.kern = k }
}

// WithFitter replaces the default ridge fitter.
func WithFitter(f *surrogate.Fitter) Option {
	return func(e *Explainer) { e.fitter = f }
}

// WithLogger installs a logger; the default discards.
func WithLogger(l logger.Logger) Option {
	return func(e *Explainer) { e.log = l }
}

// New builds an explainer around a segmentation strategy and a scorer
// adapter. The default kernel is exponential-similarity with width 0.25
// (the LIME convention for cosine distances in [0,2]); the default fitter
// is ridge with lambda 1.
func New(segmenter *segment.Strategy, adapter *blackbox.Adapter, opts ...Option) *Explainer {
	defaultKernel, _ := kernel.New(kernel.ExponentialSimilarity, map[string]interface{}{"width": 0.25})
	e := &Explainer{
		segmenter: segmenter,
		kern:      defaultKernel,
		adapter:   adapter,
		fitter:    surrogate.NewFitter(1.0),
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Explain runs the full pipeline for one image session. Segmentation and
// baseline construction are skipped when the session already cached them
// for the current policy; everything downstream is recomputed per call.
func (e *Explainer) Explain(ctx context.Context, session *Session, opts Options) (*Explanation, error) {
	if opts.NumSamples <= 0 {
		return nil, &surrogate.InsufficientSamplesError{Samples: opts.NumSamples}
	}
	policy := opts.Policy
	if policy == nil {
		policy = perturb.MeanPolicy{}
	}

	grid, gridCached, err := session.ensureGrid(e.segmenter)
	if err != nil {
		return nil, err
	}
	numSuperpixels := grid.NumSegments()
	e.log.Debug("explainer", "segmentation ready", map[string]interface{}{
		"superpixels": numSuperpixels,
		"cached":      gridCached,
		"strategy":    e.segmenter.Name(),
	})

	baseline, baselineCached, err := session.ensureBaseline(policy)
	if err != nil {
		return nil, err
	}
	e.log.Debug("explainer", "baseline ready", map[string]interface{}{
		"policy": policy.Key(),
		"cached": baselineCached,
	})

	stop := session.timer.track("sample")
	sampler := perturb.NewSampler(opts.Seed)
	masks := sampler.Sample(numSuperpixels, opts.NumSamples)
	images := make([]*tensor.Dense, len(masks))
	for i, m := range masks {
		if err := ctx.Err(); err != nil {
			stop()
			return nil, err
		}
		images[i], err = perturb.Materialize(session.Image(), grid, baseline, m)
		if err != nil {
			stop()
			return nil, err
		}
	}
	stop()

	stop = session.timer.track("score")
	probs, err := e.adapter.Score(ctx, images)
	if err != nil {
		stop()
		return nil, err
	}
	reference, err := e.adapter.ScoreOne(ctx, session.Image())
	stop()
	if err != nil {
		return nil, err
	}
	if _, cols := probs.Dims(); len(reference) != cols {
		return nil, &tensor.DimensionMismatchError{
			Context: "reference probability width",
			Want:    cols,
			Got:     len(reference),
		}
	}

	stop = session.timer.track("weigh")
	weighter := proximity.Weighter{Kernel: e.kern, Reference: opts.Reference}
	weights := weighter.Weights(masks)
	stop()

	classes := selectClasses(reference, opts.TopK)

	stop = session.timer.track("fit")
	models, err := e.fitter.Fit(masks, weights, probs, surrogate.FitOptions{
		Classes:      classes,
		Features:     opts.Features,
		NewRegressor: opts.NewRegressor,
	})
	stop()
	if err != nil {
		return nil, err
	}

	if classes == nil {
		classes = make([]int, len(models))
		for i, m := range models {
			classes[i] = m.Class
		}
	}
	e.log.Info("explainer", "explanation complete", map[string]interface{}{
		"superpixels": numSuperpixels,
		"samples":     opts.NumSamples,
		"classes":     len(classes),
		"score_avg":   session.timer.Average("score").String(),
	})

	return &Explanation{
		Grid:           grid,
		NumSuperpixels: numSuperpixels,
		Classes:        classes,
		Models:         models,
		Reference:      reference,
	}, nil
}

// selectClasses ranks classes by reference probability descending, ties by
// ascending index, and keeps the top k. Nil means fit all classes.
func selectClasses(reference []float64, k int) []int {
	if k <= 0 || k >= len(reference) {
		return nil
	}
	indices := make([]int, len(reference))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		if reference[indices[a]] != reference[indices[b]] {
			return reference[indices[a]] > reference[indices[b]]
		}
		return indices[a] < indices[b]
	})
	return indices[:k]
}
