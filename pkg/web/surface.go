package web

import (
	"bytes"
	"log/slog"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-signcam/pkg/frame"
	"github.com/teslashibe/go-signcam/pkg/hub"
	"github.com/teslashibe/go-signcam/pkg/protocol"
	"github.com/teslashibe/go-signcam/pkg/publisher"
)

const previewQuality = 70

// DisplaySurface sends display updates as label messages to /ws/display and
// thumbnails of classified frames to /ws/preview.
type DisplaySurface struct {
	display *hub.Hub
	preview *hub.Hub
	limiter *rate.Limiter
	width   int
	logger  *slog.Logger

	sent atomic.Uint64
}

func newDisplaySurface(display, preview *hub.Hub, fps float64, width int, logger *slog.Logger) *DisplaySurface {
	s := &DisplaySurface{
		display: display,
		preview: preview,
		width:   width,
		logger:  logger,
	}
	if fps > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(fps), 1)
	}
	return s
}

// Render implements publisher.Surface.
func (s *DisplaySurface) Render(d publisher.Display) error {
	msg, err := protocol.NewLabelMessage(protocol.LabelData{
		State:      string(d.State),
		Text:       d.Text,
		Label:      d.Label,
		Confidence: d.Confidence,
		Seq:        d.Seq,
		FrameID:    d.FrameID,
	})
	if err != nil {
		return err
	}
	return s.display.BroadcastJSON(msg)
}

// ShowFrame implements publisher.FrameSurface. Frames beyond the preview
// rate are skipped; encoding happens off the caller's goroutine.
func (s *DisplaySurface) ShowFrame(f frame.Frame) {
	if s.limiter == nil || !s.limiter.Allow() {
		return
	}
	go func() {
		thumb, err := Thumbnail(f, s.width)
		if err != nil {
			s.logger.Debug("preview skipped", "error", err)
			return
		}
		s.preview.BroadcastBinary(thumb)
		s.sent.Add(1)
	}()
}

// PreviewsSent returns how many thumbnails were broadcast.
func (s *DisplaySurface) PreviewsSent() uint64 { return s.sent.Load() }

// Thumbnail scales f to width (keeping the aspect ratio) and encodes it as
// JPEG. Frames already narrower than width are re-encoded unscaled.
func Thumbnail(f frame.Frame, width int) ([]byte, error) {
	img, err := f.Image()
	if err != nil {
		return nil, err
	}
	if width > 0 && img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(previewQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ publisher.FrameSurface = (*DisplaySurface)(nil)
