// Package publisher renders the pipeline's display state to one or more
// surfaces: a log, browser pages over WebSocket, test recorders.
package publisher

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-signcam/pkg/capture"
	"github.com/teslashibe/go-signcam/pkg/classify"
	"github.com/teslashibe/go-signcam/pkg/frame"
)

// Display texts.
const (
	TextPrefix            = "Recognized Sign: "
	TextIdle              = TextPrefix + "-"
	TextProcessing        = TextPrefix + "Processing..."
	TextUnknown           = TextPrefix + "Unknown"
	TextPermissionDenied  = "Camera permission denied. Allow camera access and retry."
	TextDeviceUnavailable = "Camera unavailable. Check the camera and retry."
)

// DefaultDebounce is the window in which an identical render is not resent.
const DefaultDebounce = 250 * time.Millisecond

// State is the display state.
type State string

const (
	StateIdle        State = "idle"
	StateProcessing  State = "processing"
	StateResult      State = "result"
	StateError       State = "error"
	StateDeviceError State = "device_error"
)

// Display is everything a surface shows. It is replaced as a whole on every
// transition.
type Display struct {
	State      State     `json:"state"`
	Text       string    `json:"text"`
	Label      string    `json:"label,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Seq        uint64    `json:"seq"`
	FrameID    string    `json:"frame_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Surface shows display updates.
type Surface interface {
	Render(d Display) error
}

// FrameSurface is a Surface that also shows the frame being classified.
type FrameSurface interface {
	Surface
	ShowFrame(f frame.Frame)
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(d Display) error

// Render implements Surface.
func (fn SurfaceFunc) Render(d Display) error { return fn(d) }

// Options configures a Publisher.
type Options struct {
	// Debounce suppresses a render identical in state and text to the
	// previous one within this window. Zero disables debouncing.
	Debounce time.Duration
	// Clock defaults to time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
}

// Stats counts publisher activity.
type Stats struct {
	Renders    uint64 `json:"renders"`
	Suppressed uint64 `json:"suppressed"`
	Stale      uint64 `json:"stale"`
}

// Publisher turns cycle events into displays. Results and failures for a
// cycle older than the most recently begun one are ignored.
type Publisher struct {
	surfaces []Surface
	debounce time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.Mutex
	current    Display
	latestSeq  uint64
	lastSent   Display
	lastSentAt time.Time
	sentAny    bool
	stats      Stats
}

// New creates a publisher rendering to surfaces. The initial display is
// idle and is not rendered until the first transition.
func New(opts Options, surfaces ...Surface) *Publisher {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Publisher{
		surfaces: surfaces,
		debounce: opts.Debounce,
		now:      opts.Clock,
		logger:   opts.Logger.With("component", "publisher"),
	}
	p.current = Display{State: StateIdle, Text: TextIdle, UpdatedAt: p.now()}
	return p
}

// Begin shows the processing state for cycle seq and hands f to frame
// surfaces. It returns false for a seq older than the latest begun cycle.
func (p *Publisher) Begin(seq uint64, f frame.Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq < p.latestSeq {
		p.stats.Stale++
		return false
	}
	p.latestSeq = seq

	for _, s := range p.surfaces {
		if fs, ok := s.(FrameSurface); ok {
			fs.ShowFrame(f)
		}
	}
	p.renderLocked(Display{
		State:   StateProcessing,
		Text:    TextProcessing,
		Seq:     seq,
		FrameID: f.ID().String(),
	})
	return true
}

// Publish shows the result of cycle seq. A stale seq is ignored.
func (p *Publisher) Publish(seq uint64, res classify.Result) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.latestSeq {
		p.stats.Stale++
		return false
	}
	p.renderLocked(Display{
		State:      StateResult,
		Text:       TextPrefix + res.Label,
		Label:      res.Label,
		Confidence: res.Confidence,
		Seq:        seq,
		FrameID:    res.FrameID.String(),
	})
	return true
}

// Fail shows the error state for cycle seq. A stale seq is ignored.
func (p *Publisher) Fail(seq uint64, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.latestSeq {
		p.stats.Stale++
		return false
	}
	d := Display{
		State:   StateError,
		Text:    TextUnknown,
		Seq:     seq,
		FrameID: p.current.FrameID,
	}
	if err != nil {
		d.Error = err.Error()
	}
	p.renderLocked(d)
	return true
}

// DeviceFailed shows a camera problem.
func (p *Publisher) DeviceFailed(err error) {
	text := TextDeviceUnavailable
	if errors.Is(err, capture.ErrPermissionDenied) {
		text = TextPermissionDenied
	}
	d := Display{State: StateDeviceError, Text: text}
	if err != nil {
		d.Error = err.Error()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	d.Seq = p.latestSeq
	p.renderLocked(d)
}

// Reset returns to the idle display.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.renderLocked(Display{State: StateIdle, Text: TextIdle, Seq: p.latestSeq})
}

// Snapshot returns the current display.
func (p *Publisher) Snapshot() Display {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Stats returns a snapshot of the counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Publisher) renderLocked(d Display) {
	now := p.now()
	d.UpdatedAt = now
	p.current = d

	if p.sentAny && p.debounce > 0 &&
		d.State == p.lastSent.State && d.Text == p.lastSent.Text &&
		now.Sub(p.lastSentAt) < p.debounce {
		p.stats.Suppressed++
		return
	}

	p.lastSent, p.lastSentAt, p.sentAny = d, now, true
	p.stats.Renders++
	for _, s := range p.surfaces {
		if err := s.Render(d); err != nil {
			p.logger.Warn("surface render failed", "error", err)
		}
	}
}
