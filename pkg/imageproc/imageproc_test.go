package imageproc

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
)

// encodePNG renders a solid-colour image of the given dimensions as PNG bytes.
func encodePNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestToTensor_Shape(t *testing.T) {
	data := encodePNG(t, TargetSize, TargetSize, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	tensor, err := ToTensor(data)
	if err != nil {
		t.Fatalf("ToTensor: %v", err)
	}
	if tensor.Batch() != 1 {
		t.Errorf("batch = %d, want 1", tensor.Batch())
	}
	if tensor.Size() != TargetSize {
		t.Errorf("size = %d, want %d", tensor.Size(), TargetSize)
	}
	if got, want := len(tensor.Data()), Channels*TargetSize*TargetSize; got != want {
		t.Errorf("data length = %d, want %d", got, want)
	}
}

func TestToTensor_NormalizationAndChannelOrder(t *testing.T) {
	// R=255, G=0, B=127 lets each channel be identified unambiguously.
	data := encodePNG(t, TargetSize, TargetSize, color.NRGBA{R: 255, G: 0, B: 127, A: 255})
	tensor, err := ToTensor(data)
	if err != nil {
		t.Fatalf("ToTensor: %v", err)
	}

	tests := []struct {
		name    string
		channel int
		want    float64
	}{
		{"blue first", 0, (127 - 127.5) / 128.0},
		{"green second", 1, (0 - 127.5) / 128.0},
		{"red last", 2, (255 - 127.5) / 128.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := float64(tensor.At(0, tt.channel, 0, 0))
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("channel %d value = %f, want %f", tt.channel, got, tt.want)
			}
		})
	}
}

func TestToTensor_ResizesOddDimensions(t *testing.T) {
	// A uniform image stays uniform under bilinear resize, so every value
	// must equal the normalized source colour.
	data := encodePNG(t, 640, 480, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	tensor, err := ToTensor(data)
	if err != nil {
		t.Fatalf("ToTensor: %v", err)
	}
	want := (100 - 127.5) / 128.0
	for c := 0; c < Channels; c++ {
		got := float64(tensor.At(0, c, TargetSize/2, TargetSize/2))
		if math.Abs(got-want) > 1e-6 {
			t.Errorf("channel %d centre value = %f, want %f", c, got, want)
		}
	}
}

func TestToTensor_DecodeError(t *testing.T) {
	_, err := ToTensor([]byte("definitely not an image"))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("error = %v, want ErrDecode", err)
	}
}

func TestToTensor_EmptyInput(t *testing.T) {
	_, err := ToTensor(nil)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("error = %v, want ErrDecode", err)
	}
}

func TestConcat_PreservesOrder(t *testing.T) {
	shades := []uint8{0, 85, 170, 255}
	tensors := make([]*Tensor, 0, len(shades))
	for _, s := range shades {
		data := encodePNG(t, TargetSize, TargetSize, color.NRGBA{R: s, G: s, B: s, A: 255})
		tensor, err := ToTensor(data)
		if err != nil {
			t.Fatalf("ToTensor: %v", err)
		}
		tensors = append(tensors, tensor)
	}

	batch, err := Concat(tensors)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if batch.Batch() != len(shades) {
		t.Fatalf("batch = %d, want %d", batch.Batch(), len(shades))
	}
	for i, s := range shades {
		want := (float64(s) - 127.5) / 128.0
		got := float64(batch.At(i, 0, 0, 0))
		if math.Abs(got-want) > 1e-6 {
			t.Errorf("image %d value = %f, want %f", i, got, want)
		}
	}
}

func TestConcat_Empty(t *testing.T) {
	if _, err := Concat(nil); err == nil {
		t.Fatal("Concat(nil) returned nil error")
	}
}
