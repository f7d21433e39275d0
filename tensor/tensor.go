// Package tensor holds the dense image representation shared by every
// pipeline stage. Images are flat float64 buffers in row-major H×W×C order,
// which keeps perturbation copies cheap and avoids per-pixel interface calls.
package tensor

import (
	"image"
	"math"
)

// Dense is a height×width×channels image. The pipeline treats a Dense as
// immutable once handed over: every transformation allocates a new buffer.
type Dense struct {
	Height   int
	Width    int
	Channels int
	Pix      []float64 // len = Height*Width*Channels
}

// NewDense allocates a zero-filled tensor. Channels of 1 (grayscale) and
// 3 (RGB) are the shapes the built-in segmenters understand; other channel
// counts pass through perturbation and scoring untouched.
func NewDense(height, width, channels int) *Dense {
	return &Dense{
		Height:   height,
		Width:    width,
		Channels: channels,
		Pix:      make([]float64, height*width*channels),
	}
}

// FromImage converts a decoded image into an RGB tensor with values in
// [0,255]. Alpha is dropped.
func FromImage(img image.Image) *Dense {
	bounds := img.Bounds()
	h := bounds.Dy()
	w := bounds.Dx()
	d := NewDense(h, w, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			off := d.Offset(x, y)
			d.Pix[off] = float64(r >> 8)
			d.Pix[off+1] = float64(g >> 8)
			d.Pix[off+2] = float64(b >> 8)
		}
	}
	return d
}

// Offset returns the index of the first channel of pixel (x, y).
func (d *Dense) Offset(x, y int) int {
	return (y*d.Width + x) * d.Channels
}

// At returns channel c of pixel (x, y).
func (d *Dense) At(x, y, c int) float64 {
	return d.Pix[(y*d.Width+x)*d.Channels+c]
}

// Set writes channel c of pixel (x, y).
func (d *Dense) Set(x, y, c int, v float64) {
	d.Pix[(y*d.Width+x)*d.Channels+c] = v
}

// Clone returns a deep copy.
func (d *Dense) Clone() *Dense {
	out := &Dense{
		Height:   d.Height,
		Width:    d.Width,
		Channels: d.Channels,
		Pix:      make([]float64, len(d.Pix)),
	}
	copy(out.Pix, d.Pix)
	return out
}

// SameShape reports whether both tensors have identical dimensions.
func (d *Dense) SameShape(other *Dense) bool {
	return other != nil &&
		d.Height == other.Height &&
		d.Width == other.Width &&
		d.Channels == other.Channels
}

// Equal reports exact elementwise equality. Used by tests to check the
// bit-for-bit materialization guarantees.
func (d *Dense) Equal(other *Dense) bool {
	if !d.SameShape(other) {
		return false
	}
	for i, v := range d.Pix {
		if v != other.Pix[i] {
			return false
		}
	}
	return true
}

// Gray collapses the tensor to a single intensity channel using the
// Rec. 601 luma weights. Single-channel tensors are cloned as-is.
func (d *Dense) Gray() *Dense {
	if d.Channels == 1 {
		return d.Clone()
	}
	out := NewDense(d.Height, d.Width, 1)
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			off := d.Offset(x, y)
			v := 0.299*d.Pix[off] + 0.587*d.Pix[off+1] + 0.114*d.Pix[off+2]
			out.Pix[y*d.Width+x] = v
		}
	}
	return out
}

// MaxValue returns the largest pixel value, used to pick normalization
// scales for model input.
func (d *Dense) MaxValue() float64 {
	m := math.Inf(-1)
	for _, v := range d.Pix {
		if v > m {
			m = v
		}
	}
	return m
}
