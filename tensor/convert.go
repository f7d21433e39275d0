package tensor

import (
	"image"
	"image/color"
	"math"
)

// ToRGBA renders the tensor as an 8-bit RGBA image, clamping values to
// [0,255]. Single-channel tensors replicate intensity across RGB. This is a
// boundary conversion for classifier preprocessing; the pipeline itself
// never round-trips through 8-bit.
func (d *Dense) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			off := d.Offset(x, y)
			var r, g, b float64
			if d.Channels >= 3 {
				r, g, b = d.Pix[off], d.Pix[off+1], d.Pix[off+2]
			} else {
				r = d.Pix[off]
				g, b = r, r
			}
			img.SetRGBA(x, y, color.RGBA{
				R: clampByte(r),
				G: clampByte(g),
				B: clampByte(b),
				A: 255,
			})
		}
	}
	return img
}

func clampByte(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}
