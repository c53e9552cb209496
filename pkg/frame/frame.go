// Package frame defines the immutable image snapshot that flows through the
// classification pipeline.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/google/uuid"
)

// FormatJPEG is the only encoding frames carry.
const FormatJPEG = "jpeg"

// DefaultQuality is the JPEG quality used by FromImage.
const DefaultQuality = 85

var (
	// ErrEmpty is returned when a frame has no pixel data.
	ErrEmpty = errors.New("frame: empty data")

	// ErrBadDimensions is returned when width or height is not positive.
	ErrBadDimensions = errors.New("frame: invalid dimensions")
)

// Frame is one captured image sample. The zero value is not a valid frame;
// build frames with New or FromImage. Frames are never mutated after
// construction, so they can be shared between goroutines.
type Frame struct {
	id         uuid.UUID
	data       []byte
	width      int
	height     int
	source     string
	capturedAt time.Time
}

// New builds a frame from JPEG bytes. The data is copied. When width or
// height is zero the JPEG header is read to fill them in.
func New(source string, jpegData []byte, width, height int, capturedAt time.Time) (Frame, error) {
	if len(jpegData) == 0 {
		return Frame{}, ErrEmpty
	}
	if width <= 0 || height <= 0 {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(jpegData))
		if err != nil {
			return Frame{}, fmt.Errorf("frame: read jpeg header: %w", err)
		}
		width, height = cfg.Width, cfg.Height
	}
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	data := make([]byte, len(jpegData))
	copy(data, jpegData)
	f := Frame{
		id:         uuid.New(),
		data:       data,
		width:      width,
		height:     height,
		source:     source,
		capturedAt: capturedAt,
	}
	return f, f.Validate()
}

// FromImage encodes img as JPEG and wraps it in a frame.
func FromImage(source string, img image.Image, quality int, capturedAt time.Time) (Frame, error) {
	if img == nil {
		return Frame{}, ErrEmpty
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return Frame{}, fmt.Errorf("frame: encode jpeg: %w", err)
	}
	b := img.Bounds()
	return New(source, buf.Bytes(), b.Dx(), b.Dy(), capturedAt)
}

// Validate reports whether the frame carries usable pixel data.
func (f Frame) Validate() error {
	if len(f.data) == 0 {
		return ErrEmpty
	}
	if f.width <= 0 || f.height <= 0 {
		return ErrBadDimensions
	}
	return nil
}

// ID returns the unique frame identifier.
func (f Frame) ID() uuid.UUID { return f.id }

// Width returns the frame width in pixels.
func (f Frame) Width() int { return f.width }

// Height returns the frame height in pixels.
func (f Frame) Height() int { return f.height }

// Source names the capture source that produced the frame.
func (f Frame) Source() string { return f.source }

// CapturedAt is when the frame was captured.
func (f Frame) CapturedAt() time.Time { return f.capturedAt }

// Format is always FormatJPEG.
func (f Frame) Format() string { return FormatJPEG }

// Size returns the encoded size in bytes.
func (f Frame) Size() int { return len(f.data) }

// JPEG returns a copy of the encoded bytes.
func (f Frame) JPEG() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

// Image decodes the frame.
func (f Frame) Image() (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(f.data))
	if err != nil {
		return nil, fmt.Errorf("frame: decode jpeg: %w", err)
	}
	return img, nil
}

// Age returns how long ago the frame was captured.
func (f Frame) Age() time.Duration {
	return time.Since(f.capturedAt)
}
