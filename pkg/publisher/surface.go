package publisher

import (
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-signcam/pkg/frame"
)

// LogSurface writes every display to a structured logger.
type LogSurface struct {
	logger *slog.Logger
}

// NewLogSurface creates a log surface.
func NewLogSurface(logger *slog.Logger) *LogSurface {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSurface{logger: logger.With("component", "display")}
}

// Render implements Surface.
func (l *LogSurface) Render(d Display) error {
	attrs := []any{"state", d.State, "text", d.Text, "seq", d.Seq}
	if d.Label != "" {
		attrs = append(attrs, "label", d.Label, "confidence", d.Confidence)
	}
	switch d.State {
	case StateError, StateDeviceError:
		attrs = append(attrs, "error", d.Error)
		l.logger.Warn("display", attrs...)
	default:
		l.logger.Info("display", attrs...)
	}
	return nil
}

// Recorded is one display seen by a Recorder.
type Recorded struct {
	Display Display
	At      time.Time
}

// Recorder keeps every display and frame it is shown. It backs tests and
// the status history endpoint.
type Recorder struct {
	clock func() time.Time
	limit int

	mu      sync.Mutex
	renders []Recorded
	frames  []frame.Frame
}

// NewRecorder creates a recorder holding up to limit renders (0 is
// unlimited). clock defaults to time.Now.
func NewRecorder(limit int, clock func() time.Time) *Recorder {
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{clock: clock, limit: limit}
}

// Render implements Surface.
func (r *Recorder) Render(d Display) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders = append(r.renders, Recorded{Display: d, At: r.clock()})
	if r.limit > 0 && len(r.renders) > r.limit {
		r.renders = r.renders[len(r.renders)-r.limit:]
	}
	return nil
}

// ShowFrame implements FrameSurface.
func (r *Recorder) ShowFrame(f frame.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	if r.limit > 0 && len(r.frames) > r.limit {
		r.frames = r.frames[len(r.frames)-r.limit:]
	}
}

// Renders returns a copy of the recorded displays.
func (r *Recorder) Renders() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.renders...)
}

// Texts returns the recorded display texts in order.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.renders))
	for i, rec := range r.renders {
		out[i] = rec.Display.Text
	}
	return out
}

// Frames returns how many frames were shown.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

var (
	_ Surface      = (*LogSurface)(nil)
	_ FrameSurface = (*Recorder)(nil)
)
