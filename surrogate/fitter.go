package surrogate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"lime-explainer/internal/logger"
	"lime-explainer/perturb"
	"lime-explainer/tensor"
)

// InsufficientSamplesError reports a fit attempted on zero perturbations.
// The fitter refuses rather than returning a silently degenerate model.
type InsufficientSamplesError struct {
	Samples int
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("cannot fit surrogate on %d samples", e.Samples)
}

// Model is the per-class explanation: one coefficient per superpixel (in
// Distinct() order of the label grid) plus the intercept.
type Model struct {
	Class        int       `json:"class"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// FitOptions selects what the fitter operates on.
type FitOptions struct {
	// Classes are the probability columns to fit. Nil means every class.
	Classes []int
	// Features restricts the fit to a subset of superpixel indices; the
	// returned coefficients keep full length with zeros for excluded
	// superpixels. Nil means all superpixels.
	Features []int
	// NewRegressor supplies the regressor per class. Nil means ridge with
	// the fitter's lambda.
	NewRegressor func() Regressor
}

// Fitter fits one weighted linear surrogate per target class.
type Fitter struct {
	Lambda float64
	Log    logger.Logger
}

// NewFitter creates a fitter with the default ridge penalty.
func NewFitter(lambda float64) *Fitter {
	return &Fitter{Lambda: lambda, Log: logger.Nop()}
}

// Fit regresses each selected probability column onto the mask matrix with
// the given per-sample weights. Mask length must agree across the batch and
// with the probability matrix row count.
func (f *Fitter) Fit(masks []perturb.Mask, weights []float64, probs *mat.Dense, opts FitOptions) ([]Model, error) {
	n := len(masks)
	if n == 0 {
		return nil, &InsufficientSamplesError{Samples: 0}
	}
	rows, numClasses := probs.Dims()
	if rows != n {
		return nil, &tensor.DimensionMismatchError{Context: "probability rows", Want: n, Got: rows}
	}
	if len(weights) != n {
		return nil, &tensor.DimensionMismatchError{Context: "weight vector", Want: n, Got: len(weights)}
	}
	numSuperpixels := len(masks[0])
	if numSuperpixels == 0 {
		return nil, &tensor.DimensionMismatchError{Context: "superpixel count", Want: 1, Got: 0}
	}
	for i, m := range masks {
		if len(m) != numSuperpixels {
			return nil, &tensor.DimensionMismatchError{Context: fmt.Sprintf("mask %d", i), Want: numSuperpixels, Got: len(m)}
		}
	}

	features := opts.Features
	if features == nil {
		features = make([]int, numSuperpixels)
		for i := range features {
			features[i] = i
		}
	}
	if len(features) == 0 {
		return nil, &tensor.DimensionMismatchError{Context: "feature subset", Want: 1, Got: 0}
	}
	for _, fi := range features {
		if fi < 0 || fi >= numSuperpixels {
			return nil, fmt.Errorf("feature index %d out of range [0,%d)", fi, numSuperpixels)
		}
	}

	X := mat.NewDense(n, len(features), nil)
	for i, m := range masks {
		for j, fi := range features {
			if m[fi] {
				X.Set(i, j, 1)
			}
		}
	}

	classes := opts.Classes
	if classes == nil {
		classes = make([]int, numClasses)
		for i := range classes {
			classes[i] = i
		}
	}
	newRegressor := opts.NewRegressor
	if newRegressor == nil {
		lambda := f.Lambda
		newRegressor = func() Regressor { return NewRidge(lambda) }
	}

	log := f.Log
	if log == nil {
		log = logger.Nop()
	}

	models := make([]Model, 0, len(classes))
	y := make([]float64, n)
	for _, class := range classes {
		if class < 0 || class >= numClasses {
			return nil, fmt.Errorf("class index %d out of range [0,%d)", class, numClasses)
		}
		mat.Col(y, class, probs)

		reg := newRegressor()
		if err := reg.Fit(X, y, weights); err != nil {
			return nil, fmt.Errorf("fitting class %d: %w", class, err)
		}

		coef := make([]float64, numSuperpixels)
		for j, fi := range features {
			coef[fi] = reg.Coefficients()[j]
		}
		models = append(models, Model{
			Class:        class,
			Coefficients: coef,
			Intercept:    reg.Intercept(),
		})
		log.Debug("surrogate", "class fitted", map[string]interface{}{
			"class":     class,
			"intercept": reg.Intercept(),
			"features":  len(features),
		})
	}
	return models, nil
}
