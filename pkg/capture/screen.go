package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/vova616/screenshot"

	"github.com/teslashibe/go-signcam/pkg/frame"
)

// Screen captures the primary display, or a region of it. Handy for
// classifying a video call or a recorded clip playing on screen.
type Screen struct {
	cfg    Config
	region image.Rectangle

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
}

// NewScreen creates a screen source. An empty region captures the whole screen.
func NewScreen(cfg Config, region image.Rectangle) *Screen {
	return &Screen{
		cfg:    cfg,
		region: region,
		done:   make(chan struct{}),
	}
}

// Name implements Source.
func (s *Screen) Name() string { return "screen" }

// Start checks that the screen can be grabbed.
func (s *Screen) Start(ctx context.Context) error {
	rect, err := screenshot.ScreenRect()
	if err != nil {
		return NewDeviceError(DeviceUnavailable, s.Name(), err)
	}
	if !s.region.Empty() && !s.region.In(rect) {
		return NewDeviceError(DeviceUnavailable, s.Name(),
			fmt.Errorf("region %v outside screen %v", s.region, rect))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.done = make(chan struct{})
		s.stopped = false
	}
	s.started = true
	return nil
}

// Read grabs the screen and encodes it as JPEG.
func (s *Screen) Read(ctx context.Context) (frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}
	s.mu.Lock()
	started, stopped := s.started, s.stopped
	s.mu.Unlock()
	if stopped {
		return frame.Frame{}, ErrStopped
	}
	if !started {
		return frame.Frame{}, ErrNotStarted
	}

	var (
		img *image.RGBA
		err error
	)
	if s.region.Empty() {
		img, err = screenshot.CaptureScreen()
	} else {
		img, err = screenshot.CaptureRect(s.region)
	}
	if err != nil {
		return frame.Frame{}, NewDeviceError(DeviceUnavailable, s.Name(), err)
	}
	return frame.FromImage(s.Name(), img, s.cfg.Quality, time.Now())
}

// Done implements Source.
func (s *Screen) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stop implements Source.
func (s *Screen) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.done)
	}
	return nil
}

var _ Source = (*Screen)(nil)
