// Package segment turns an image into a superpixel label grid. Strategies
// are either a recognized built-in algorithm name or an injected function;
// either way the tuning parameters are captured at construction, merged over
// the algorithm's defaults, and validated before the first segmentation runs.
package segment

import (
	"fmt"
	"math"

	"lime-explainer/tensor"
)

// Func is the segmentation contract: image in, label grid out. The parameter
// map carries the algorithm-specific knobs verbatim.
type Func func(img *tensor.Dense, params map[string]interface{}) (*tensor.LabelGrid, error)

// UnknownStrategyError is returned by New for names outside the built-in set.
type UnknownStrategyError struct {
	Name string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown segmentation algorithm: %q", e.Name)
}

// Builtin algorithm names accepted by New.
const (
	SLIC         = "slic"
	Felzenszwalb = "felzenszwalb"
	Quickshift   = "quickshift"
	ColorKMeans  = "color-kmeans"
)

type builtin struct {
	fn       Func
	defaults map[string]interface{}
}

var builtins = map[string]builtin{
	SLIC: {
		fn: slicSegment,
		defaults: map[string]interface{}{
			"num_superpixels": 100,  // target region count, image-size dependent
			"compactness":     40.0, // spatial vs. color distance trade-off
			"iterations":      10,
		},
	},
	Felzenszwalb: {
		fn: felzenszwalbSegment,
		defaults: map[string]interface{}{
			"scale":    100.0, // merge threshold scale, larger => larger regions
			"sigma":    0.8,   // pre-smoothing Gaussian width
			"min_size": 20,    // post-merge minimum region size in pixels
		},
	},
	Quickshift: {
		fn: quickshiftSegment,
		defaults: map[string]interface{}{
			"kernel_size": 3.0,  // density estimation bandwidth
			"max_dist":    10.0, // parent link cut-off distance
			"ratio":       0.5,  // color vs. spatial balance
		},
	},
	ColorKMeans: {
		fn: kmeansSegment,
		defaults: map[string]interface{}{
			"clusters":        8,
			"spatial_weight":  0.4, // weight of (x,y) next to Lab color
			"delta_threshold": 0.01,
		},
	},
}

// Strategy is a resolved segmentation method: one invocable plus its frozen
// parameter set.
type Strategy struct {
	name   string
	fn     Func
	params map[string]interface{}
}

// New resolves a built-in algorithm by name. The given parameters override
// the algorithm defaults; unknown keys and non-numeric values fail here,
// never during Segment.
func New(name string, params map[string]interface{}) (*Strategy, error) {
	b, ok := builtins[name]
	if !ok {
		return nil, &UnknownStrategyError{Name: name}
	}
	merged, err := mergeParameters(name, b.defaults, params)
	if err != nil {
		return nil, err
	}
	return &Strategy{name: name, fn: b.fn, params: merged}, nil
}

// NewFunc wraps a custom segmentation function. Parameters pass through to
// every call without validation since their meaning belongs to the callee.
func NewFunc(fn Func, params map[string]interface{}) *Strategy {
	frozen := make(map[string]interface{}, len(params))
	for k, v := range params {
		frozen[k] = v
	}
	return &Strategy{name: "custom", fn: fn, params: frozen}
}

// Name returns the algorithm name, "custom" for injected functions.
func (s *Strategy) Name() string {
	return s.name
}

// Segment runs the strategy with its construction-time parameters.
func (s *Strategy) Segment(img *tensor.Dense) (*tensor.LabelGrid, error) {
	grid, err := s.fn(img, s.params)
	if err != nil {
		return nil, fmt.Errorf("%s segmentation failed: %w", s.name, err)
	}
	return grid, nil
}

func mergeParameters(name string, defaults, overrides map[string]interface{}) (map[string]interface{}, error) {
	merged := make(map[string]interface{}, len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		base, ok := merged[k]
		if !ok {
			return nil, fmt.Errorf("unknown %s parameter %q", name, k)
		}
		switch base.(type) {
		case int:
			switch val := v.(type) {
			case int:
				merged[k] = val
			case float64:
				if val != math.Trunc(val) {
					return nil, fmt.Errorf("%s parameter %q: want integer, got %v", name, k, val)
				}
				merged[k] = int(val)
			default:
				return nil, fmt.Errorf("%s parameter %q: want integer, got %T", name, k, v)
			}
		case float64:
			switch val := v.(type) {
			case float64:
				merged[k] = val
			case int:
				merged[k] = float64(val)
			default:
				return nil, fmt.Errorf("%s parameter %q: want number, got %T", name, k, v)
			}
		default:
			merged[k] = v
		}
	}
	return merged, nil
}

func intParam(params map[string]interface{}, key string) int {
	return params[key].(int)
}

func floatParam(params map[string]interface{}, key string) float64 {
	return params[key].(float64)
}
