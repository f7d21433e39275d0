package explainer

import (
	"sync"
	"time"
)

// stageTimer records wall-clock durations per pipeline stage. Sessions keep
// one so repeated Explain calls accumulate a timing profile, with
// segmentation expected to dominate the first run and vanish from later
// ones.
type stageTimer struct {
	mu      sync.Mutex
	timings map[string][]time.Duration
}

func newStageTimer() *stageTimer {
	return &stageTimer{timings: make(map[string][]time.Duration)}
}

// track starts timing a stage and returns the stop function.
func (t *stageTimer) track(stage string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		t.mu.Lock()
		t.timings[stage] = append(t.timings[stage], d)
		t.mu.Unlock()
		return d
	}
}

// Timings returns a copy of all recorded durations keyed by stage.
func (t *stageTimer) Timings() map[string][]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]time.Duration, len(t.timings))
	for stage, ds := range t.timings {
		cp := make([]time.Duration, len(ds))
		copy(cp, ds)
		out[stage] = cp
	}
	return out
}

// Average returns the mean duration of a stage, zero when unrecorded.
func (t *stageTimer) Average(stage string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	ds := t.timings[stage]
	if len(ds) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total / time.Duration(len(ds))
}
