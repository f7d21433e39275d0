// Package kernel converts mask distances into regression weights. Like the
// segmentation strategies, a kernel is either a recognized built-in resolved
// at construction or an injected function.
package kernel

import (
	"errors"
	"fmt"
	"math"
)

// Func maps distances to similarity weights elementwise.
type Func func(distances []float64) []float64

// UnknownKernelError is returned by New for unrecognized kernel names.
type UnknownKernelError struct {
	Name string
}

func (e *UnknownKernelError) Error() string {
	return fmt.Sprintf("unknown kernel: %q", e.Name)
}

// ExponentialSimilarity is the built-in kernel,
// weight = sqrt(exp(-d² / width²)). It maps distance 0 to weight 1 and
// decays monotonically.
const ExponentialSimilarity = "exponential-similarity"

// Kernel is a resolved weighting function.
type Kernel struct {
	name string
	fn   Func
}

// New resolves a built-in kernel by name. The exponential kernel requires a
// positive "width" parameter; a missing or non-positive width fails here so
// weighting can never blow up mid-pipeline.
func New(name string, params map[string]interface{}) (*Kernel, error) {
	if name != ExponentialSimilarity {
		return nil, &UnknownKernelError{Name: name}
	}
	width, err := widthParam(params)
	if err != nil {
		return nil, err
	}
	invW2 := 1.0 / (width * width)
	fn := func(distances []float64) []float64 {
		weights := make([]float64, len(distances))
		for i, d := range distances {
			weights[i] = math.Sqrt(math.Exp(-(d * d) * invW2))
		}
		return weights
	}
	return &Kernel{name: name, fn: fn}, nil
}

// NewFunc wraps a custom kernel function.
func NewFunc(fn Func) *Kernel {
	return &Kernel{name: "custom", fn: fn}
}

// Name returns the kernel name, "custom" for injected functions.
func (k *Kernel) Name() string {
	return k.name
}

// Weigh applies the kernel elementwise.
func (k *Kernel) Weigh(distances []float64) []float64 {
	return k.fn(distances)
}

func widthParam(params map[string]interface{}) (float64, error) {
	raw, ok := params["width"]
	if !ok {
		return 0, errors.New("exponential-similarity kernel requires a width parameter")
	}
	var width float64
	switch v := raw.(type) {
	case float64:
		width = v
	case int:
		width = float64(v)
	default:
		return 0, fmt.Errorf("kernel width: want number, got %T", raw)
	}
	if width <= 0 {
		return 0, fmt.Errorf("kernel width must be positive, got %v", width)
	}
	return width, nil
}
