package tensor

import "fmt"

// DimensionMismatchError reports a shape disagreement between pipeline
// stages: a mask whose length differs from the superpixel count, a baseline
// that does not match its image, or a classifier whose output width changes
// mid-batch.
type DimensionMismatchError struct {
	Context string
	Want    int
	Got     int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch in %s: want %d, got %d", e.Context, e.Want, e.Got)
}
