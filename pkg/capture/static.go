package capture

import (
	"context"
	"image/color"
	"sync"
	"time"

	"github.com/teslashibe/go-signcam/pkg/frame"
)

// Static replays a fixed list of frames in a loop. It backs the demo mode
// and tests; StartErr simulates a device that cannot be opened.
type Static struct {
	name   string
	frames []frame.Frame

	// StartErr is returned by Start when set.
	StartErr error

	mu      sync.Mutex
	next    int
	started bool
	stopped bool
	done    chan struct{}
}

// NewStatic creates a static source over frames.
func NewStatic(name string, frames ...frame.Frame) *Static {
	return &Static{
		name:   name,
		frames: frames,
		done:   make(chan struct{}),
	}
}

// NewDemo returns a static source cycling through a few solid colors.
func NewDemo(cfg Config) (*Static, error) {
	colors := []color.Color{
		color.RGBA{R: 220, G: 180, B: 150, A: 255},
		color.RGBA{R: 90, G: 140, B: 200, A: 255},
		color.RGBA{R: 120, G: 200, B: 120, A: 255},
	}
	frames := make([]frame.Frame, 0, len(colors))
	for _, c := range colors {
		f, err := frame.Solid("demo", cfg.Width, cfg.Height, c)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return NewStatic("demo", frames...), nil
}

// Name implements Source.
func (s *Static) Name() string { return s.name }

// Start implements Source.
func (s *Static) Start(ctx context.Context) error {
	if s.StartErr != nil {
		return s.StartErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return NewDeviceError(DeviceUnavailable, s.name, frame.ErrEmpty)
	}
	if s.stopped {
		s.done = make(chan struct{})
		s.stopped = false
	}
	s.started = true
	return nil
}

// Read implements Source. Each read restamps the frame with the current time.
func (s *Static) Read(ctx context.Context) (frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return frame.Frame{}, ErrNotStarted
	}
	if s.stopped {
		return frame.Frame{}, ErrStopped
	}
	f := s.frames[s.next%len(s.frames)]
	s.next++
	return frame.New(s.name, f.JPEG(), f.Width(), f.Height(), time.Now())
}

// Done implements Source.
func (s *Static) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stop implements Source.
func (s *Static) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.done)
	}
	return nil
}

var _ Source = (*Static)(nil)
