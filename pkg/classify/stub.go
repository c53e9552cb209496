package classify

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/teslashibe/go-signcam/pkg/frame"
)

// DefaultStubDelay matches the simulated recognition time of the demo.
const DefaultStubDelay = 2000 * time.Millisecond

// Mode selects how the stub picks its label.
type Mode string

const (
	// ModeRandom picks a label uniformly at random.
	ModeRandom Mode = "random"
	// ModeFixed always answers the same label.
	ModeFixed Mode = "fixed"
)

// ParseMode validates a mode name. Empty means ModeRandom.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeRandom:
		return ModeRandom, nil
	case ModeFixed:
		return ModeFixed, nil
	}
	return "", fmt.Errorf("classify: unknown stub mode %q", s)
}

// Stub is the classifier used when no model is configured. It waits for a
// delay and then answers a label from its set.
type Stub struct {
	labels Labels
	delay  time.Duration
	mode   Mode
	fixed  string
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// StubOption configures a Stub.
type StubOption func(*Stub)

// WithDelay sets the simulated inference time.
func WithDelay(d time.Duration) StubOption {
	return func(s *Stub) { s.delay = d }
}

// WithFixedLabel switches the stub to ModeFixed answering label.
func WithFixedLabel(label string) StubOption {
	return func(s *Stub) {
		s.mode = ModeFixed
		s.fixed = label
	}
}

// WithSeed makes random selection reproducible.
func WithSeed(seed uint64) StubOption {
	return func(s *Stub) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithSleep replaces the delay implementation, e.g. with a fake clock.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) StubOption {
	return func(s *Stub) { s.sleep = fn }
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) StubOption {
	return func(s *Stub) { s.now = now }
}

// NewStub creates a stub over labels. In ModeFixed without an explicit label
// the first label is used.
func NewStub(labels Labels, opts ...StubOption) (*Stub, error) {
	if len(labels) == 0 {
		return nil, ErrNoLabels
	}
	s := &Stub{
		labels: labels,
		delay:  DefaultStubDelay,
		mode:   ModeRandom,
		sleep:  sleep,
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mode == ModeFixed {
		if s.fixed == "" {
			s.fixed = labels[0]
		}
		if !labels.Contains(s.fixed) {
			return nil, fmt.Errorf("classify: fixed label %q not in set", s.fixed)
		}
	}
	return s, nil
}

// Name implements Classifier.
func (s *Stub) Name() string { return "stub" }

// Delay returns the configured delay.
func (s *Stub) Delay() time.Duration { return s.delay }

// Classify waits for the delay and answers a label.
func (s *Stub) Classify(ctx context.Context, f frame.Frame) (Result, error) {
	if err := checkFrame(s.Name(), f); err != nil {
		return Result{}, err
	}
	start := s.now()
	if err := s.sleep(ctx, s.delay); err != nil {
		return Result{}, err
	}

	label, confidence := s.fixed, 1.0
	if s.mode == ModeRandom {
		s.mu.Lock()
		label = s.labels[s.rng.IntN(len(s.labels))]
		s.mu.Unlock()
		confidence = 1 / float64(len(s.labels))
	}

	end := s.now()
	return Result{
		Label:      label,
		Confidence: confidence,
		Timestamp:  end,
		FrameID:    f.ID(),
		Classifier: s.Name(),
		Latency:    end.Sub(start),
	}, nil
}

var _ Classifier = (*Stub)(nil)
