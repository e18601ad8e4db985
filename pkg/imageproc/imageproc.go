// Package imageproc converts raw image bytes into the normalized NCHW
// tensors expected by the face embedding model.
//
// The model consumes [1,3,112,112] tensors: a single image, three colour
// channels in B,G,R order, 112×112 pixels, each channel value mapped through
// (v - 127.5) / 128.0. Images that are not already 112×112 are resized with
// bilinear interpolation before conversion.
//
// All functions are pure and safe for concurrent use.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	// Register the decoders for the supported input formats.
	_ "image/jpeg"
	_ "image/png"
)

const (
	// TargetSize is the width and height in pixels of the model input plane.
	TargetSize = 112

	// Channels is the number of colour channels in the model input.
	Channels = 3
)

// Per-channel normalization constants. Each 8-bit channel value v is mapped
// through (v - normalizeMean) / normalizeScale.
const (
	normalizeMean  = 127.5
	normalizeScale = 128.0
)

// ErrDecode is returned when input bytes cannot be parsed as a supported
// image format (JPEG or PNG).
var ErrDecode = errors.New("imageproc: undecodable image")

// Tensor is a dense NCHW float32 tensor of shape [batch, 3, size, size].
// The zero value is not usable; obtain instances via [ToTensor] or [Concat].
type Tensor struct {
	batch int
	size  int
	data  []float32
}

// Batch returns the number of images in the tensor.
func (t *Tensor) Batch() int { return t.batch }

// Size returns the spatial side length of each image plane.
func (t *Tensor) Size() int { return t.size }

// Data returns the backing buffer in NCHW layout. The slice is owned by the
// tensor; callers must not modify it.
func (t *Tensor) Data() []float32 { return t.data }

// At returns the value at (image n, channel c, row y, column x).
func (t *Tensor) At(n, c, y, x int) float32 {
	plane := t.size * t.size
	return t.data[n*Channels*plane+c*plane+y*t.size+x]
}

// ToTensor decodes data as a JPEG or PNG image, resizes it to
// [TargetSize]×[TargetSize] when necessary, and returns a [1,3,112,112]
// tensor with channels written in B,G,R order.
//
// Returns an error wrapping [ErrDecode] when the bytes cannot be decoded.
func ToTensor(data []byte) (*Tensor, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != TargetSize || bounds.Dy() != TargetSize {
		img = resizeBilinear(img, TargetSize, TargetSize)
	}

	t := &Tensor{
		batch: 1,
		size:  TargetSize,
		data:  make([]float32, Channels*TargetSize*TargetSize),
	}

	plane := TargetSize * TargetSize
	min := img.Bounds().Min
	for y := 0; y < TargetSize; y++ {
		for x := 0; x < TargetSize; x++ {
			r, g, b, _ := img.At(min.X+x, min.Y+y).RGBA()
			// RGBA returns 16-bit values; fold back to 8-bit.
			idx := y*TargetSize + x
			t.data[0*plane+idx] = normalize(uint8(b >> 8))
			t.data[1*plane+idx] = normalize(uint8(g >> 8))
			t.data[2*plane+idx] = normalize(uint8(r >> 8))
		}
	}
	return t, nil
}

// Concat combines single-image tensors into one batch tensor, preserving
// input order. All inputs must have batch 1 and matching spatial size.
func Concat(tensors []*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("imageproc: concat of zero tensors")
	}
	size := tensors[0].size
	out := &Tensor{
		batch: len(tensors),
		size:  size,
		data:  make([]float32, 0, len(tensors)*Channels*size*size),
	}
	for i, t := range tensors {
		if t.batch != 1 {
			return nil, fmt.Errorf("imageproc: concat input %d has batch %d, want 1", i, t.batch)
		}
		if t.size != size {
			return nil, fmt.Errorf("imageproc: concat input %d has size %d, want %d", i, t.size, size)
		}
		out.data = append(out.data, t.data...)
	}
	return out, nil
}

// normalize maps an 8-bit channel value into the model's input range.
func normalize(v uint8) float32 {
	return float32((float64(v) - normalizeMean) / normalizeScale)
}

// resizeBilinear scales img to w×h using bilinear interpolation. Only the
// colour channels are sampled; alpha is dropped because the model input has
// no transparency.
func resizeBilinear(img image.Image, w, h int) image.Image {
	src := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))

	sx := float64(src.Dx()) / float64(w)
	sy := float64(src.Dy()) / float64(h)

	for y := 0; y < h; y++ {
		// Sample at pixel centres to avoid a half-pixel shift.
		fy := (float64(y)+0.5)*sy - 0.5
		y0 := int(fy)
		if y0 < 0 {
			y0 = 0
		}
		y1 := y0 + 1
		if y1 > src.Dy()-1 {
			y1 = src.Dy() - 1
		}
		wy := fy - float64(y0)
		if wy < 0 {
			wy = 0
		}

		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)*sx - 0.5
			x0 := int(fx)
			if x0 < 0 {
				x0 = 0
			}
			x1 := x0 + 1
			if x1 > src.Dx()-1 {
				x1 = src.Dx() - 1
			}
			wx := fx - float64(x0)
			if wx < 0 {
				wx = 0
			}

			r00, g00, b00 := rgb8(img, src.Min.X+x0, src.Min.Y+y0)
			r10, g10, b10 := rgb8(img, src.Min.X+x1, src.Min.Y+y0)
			r01, g01, b01 := rgb8(img, src.Min.X+x0, src.Min.Y+y1)
			r11, g11, b11 := rgb8(img, src.Min.X+x1, src.Min.Y+y1)

			i := out.PixOffset(x, y)
			out.Pix[i+0] = lerp2(r00, r10, r01, r11, wx, wy)
			out.Pix[i+1] = lerp2(g00, g10, g01, g11, wx, wy)
			out.Pix[i+2] = lerp2(b00, b10, b01, b11, wx, wy)
			out.Pix[i+3] = 0xFF
		}
	}
	return out
}

// rgb8 returns the 8-bit colour channels of the pixel at (x, y).
func rgb8(img image.Image, x, y int) (r, g, b float64) {
	r16, g16, b16, _ := img.At(x, y).RGBA()
	return float64(r16 >> 8), float64(g16 >> 8), float64(b16 >> 8)
}

// lerp2 performs bilinear interpolation between four corner samples.
func lerp2(v00, v10, v01, v11, wx, wy float64) uint8 {
	top := v00 + (v10-v00)*wx
	bottom := v01 + (v11-v01)*wx
	v := top + (bottom-top)*wy
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return uint8(v + 0.5)
}
