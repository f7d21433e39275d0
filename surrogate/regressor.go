// Package surrogate fits the interpretable local model: a weighted linear
// regression from perturbation masks to classifier probabilities, one
// independent fit per target class.
package surrogate

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Regressor is the weighted-fit contract. Implementations must produce one
// coefficient per design-matrix column plus an intercept. The default is
// Ridge; callers may substitute anything honoring the same contract.
type Regressor interface {
	Fit(X *mat.Dense, y, sampleWeight []float64) error
	Coefficients() []float64
	Intercept() float64
}

// Ridge is L2-regularized weighted least squares. The design matrix of a
// perturbation batch is frequently rank-deficient (N below the superpixel
// count, duplicate masks), which makes ordinary least squares ill-posed;
// the ridge penalty keeps the normal equations positive definite. The
// intercept is not penalized.
type Ridge struct {
	Lambda float64

	coef      []float64
	intercept float64
}

// NewRidge creates a ridge regressor with the given penalty. Non-positive
// lambda falls back to a small default rather than degenerating to OLS.
func NewRidge(lambda float64) *Ridge {
	if lambda <= 0 {
		lambda = 1e-6
	}
	return &Ridge{Lambda: lambda}
}

// Fit solves (Xᵃᵀ W Xᵃ + λI) β = Xᵃᵀ W y where Xᵃ is X with an appended
// intercept column. Cholesky is the fast path; if the factorization fails
// despite the regularizer, a QR solve of the same system is the fallback,
// so a degenerate batch yields a stable model instead of an error.
func (r *Ridge) Fit(X *mat.Dense, y, sampleWeight []float64) error {
	n, p := X.Dims()
	if n == 0 {
		return errors.New("ridge: empty design matrix")
	}
	if len(y) != n {
		return fmt.Errorf("ridge: %d targets for %d rows", len(y), n)
	}
	if len(sampleWeight) != n {
		return fmt.Errorf("ridge: %d weights for %d rows", len(sampleWeight), n)
	}

	p1 := p + 1 // intercept column appended last
	ata := mat.NewSymDense(p1, nil)
	atb := make([]float64, p1)

	rowAug := make([]float64, p1)
	for k := 0; k < n; k++ {
		w := sampleWeight[k]
		if w < 0 {
			return fmt.Errorf("ridge: negative sample weight at row %d", k)
		}
		copy(rowAug, X.RawRowView(k))
		rowAug[p] = 1
		for i := 0; i < p1; i++ {
			wi := w * rowAug[i]
			atb[i] += wi * y[k]
			for j := i; j < p1; j++ {
				ata.SetSym(i, j, ata.At(i, j)+wi*rowAug[j])
			}
		}
	}
	for i := 0; i < p; i++ {
		ata.SetSym(i, i, ata.At(i, i)+r.Lambda)
	}

	beta := mat.NewVecDense(p1, nil)
	rhs := mat.NewVecDense(p1, atb)

	var chol mat.Cholesky
	if chol.Factorize(ata) {
		if err := chol.SolveVecTo(beta, rhs); err != nil {
			return fmt.Errorf("ridge: cholesky solve: %w", err)
		}
	} else {
		var qr mat.QR
		qr.Factorize(ata)
		sol := mat.NewDense(p1, 1, nil)
		if err := qr.SolveTo(sol, false, rhs); err != nil {
			return fmt.Errorf("ridge: qr fallback solve: %w", err)
		}
		for i := 0; i < p1; i++ {
			beta.SetVec(i, sol.At(i, 0))
		}
	}

	r.coef = make([]float64, p)
	for i := 0; i < p; i++ {
		r.coef[i] = beta.AtVec(i)
	}
	r.intercept = beta.AtVec(p)
	return nil
}

// Coefficients returns the fitted slope per design column.
func (r *Ridge) Coefficients() []float64 {
	return r.coef
}

// Intercept returns the fitted intercept.
func (r *Ridge) Intercept() float64 {
	return r.intercept
}
