package frame

import (
	"errors"
	"image/color"
	"testing"
	"time"
)

func TestSolidFrame(t *testing.T) {
	f, err := Solid("test", 64, 48, color.RGBA{R: 200, A: 255})
	if err != nil {
		t.Fatalf("Solid: %v", err)
	}
	if f.Width() != 64 || f.Height() != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", f.Width(), f.Height())
	}
	if f.Source() != "test" {
		t.Errorf("Source = %q", f.Source())
	}
	if f.Format() != FormatJPEG {
		t.Errorf("Format = %q", f.Format())
	}
	if f.ID().String() == "" {
		t.Error("ID should be set")
	}
	if err := f.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	img, err := f.Image()
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	if img.Bounds().Dx() != 64 {
		t.Errorf("decoded width = %d", img.Bounds().Dx())
	}
}

func TestNewReadsHeader(t *testing.T) {
	src, err := Solid("a", 32, 16, color.White)
	if err != nil {
		t.Fatal(err)
	}
	f, err := New("b", src.JPEG(), 0, 0, time.Time{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.Width() != 32 || f.Height() != 16 {
		t.Errorf("dimensions = %dx%d, want 32x16", f.Width(), f.Height())
	}
	if f.CapturedAt().IsZero() {
		t.Error("CapturedAt should default to now")
	}
	if f.ID() == src.ID() {
		t.Error("each frame gets its own ID")
	}
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		w, h int
		want error
	}{
		{name: "empty", data: nil, want: ErrEmpty},
		{name: "negative size", data: []byte{1, 2, 3}, w: -1, h: 10},
		{name: "garbage header", data: []byte("not a jpeg")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("x", tc.data, tc.w, tc.h, time.Now())
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestFrameIsImmutable(t *testing.T) {
	data := []byte("fake-jpeg-data")
	f, err := New("x", data, 10, 10, time.Now())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data[0] = 'X'
	out := f.JPEG()
	if out[0] != 'f' {
		t.Error("frame should copy input data")
	}

	out[0] = 'Y'
	if f.JPEG()[0] != 'f' {
		t.Error("JPEG should return a copy")
	}
}

func TestZeroFrameInvalid(t *testing.T) {
	var f Frame
	if err := f.Validate(); !errors.Is(err, ErrEmpty) {
		t.Errorf("Validate = %v, want ErrEmpty", err)
	}
	if _, err := f.Image(); err == nil {
		t.Error("Image should fail on zero frame")
	}
}
