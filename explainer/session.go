package explainer

import (
	"time"

	"sync"

	"lime-explainer/perturb"
	"lime-explainer/segment"
	"lime-explainer/tensor"
)

// Session owns the per-image cache: the segmentation grid and the baseline
// image are computed on first use and reused by every later Explain call on
// the same image. Cache population is serialized under the session mutex,
// so concurrent Explain calls over one session cannot leave the cache
// partially filled; sessions over different images share nothing.
type Session struct {
	img   *tensor.Dense
	timer *stageTimer

	mu          sync.Mutex
	grid        *tensor.LabelGrid
	baseline    *tensor.Dense
	baselineKey string
}

// NewSession wraps an image for explanation. The image is owned by the
// caller and never mutated; every perturbation copies.
func NewSession(img *tensor.Dense) *Session {
	return &Session{img: img, timer: newStageTimer()}
}

// Image returns the wrapped original image.
func (s *Session) Image() *tensor.Dense {
	return s.img
}

// Grid returns the cached segmentation grid, nil before the first Explain.
func (s *Session) Grid() *tensor.LabelGrid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid
}

// StageTimings exposes the accumulated per-stage durations.
func (s *Session) StageTimings() map[string][]time.Duration {
	return s.timer.Timings()
}

// ensureGrid segments on first use. The cached flag reports a cache hit.
func (s *Session) ensureGrid(strategy *segment.Strategy) (grid *tensor.LabelGrid, cached bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grid != nil {
		return s.grid, true, nil
	}
	stop := s.timer.track("segment")
	grid, err = strategy.Segment(s.img)
	stop()
	if err != nil {
		return nil, false, err
	}
	s.grid = grid
	return grid, false, nil
}

// ensureBaseline builds the baseline for the given policy, reusing the
// cached one while the policy key is unchanged. A policy change invalidates
// and rebuilds.
func (s *Session) ensureBaseline(policy perturb.MaskPolicy) (baseline *tensor.Dense, cached bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grid == nil {
		return nil, false, errNotSegmented
	}
	if s.baseline != nil && s.baselineKey == policy.Key() {
		return s.baseline, true, nil
	}
	stop := s.timer.track("baseline")
	baseline, err = policy.Build(s.img, s.grid)
	stop()
	if err != nil {
		return nil, false, err
	}
	s.baseline = baseline
	s.baselineKey = policy.Key()
	return baseline, false, nil
}
