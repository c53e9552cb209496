package classify

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-signcam/pkg/frame"
)

// Mock implements Classifier for testing.
type Mock struct {
	// ClassifyFunc is called when Classify is invoked.
	ClassifyFunc func(ctx context.Context, f frame.Frame) (Result, error)

	// NameOverride replaces the default name "mock".
	NameOverride string

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a Classify invocation.
type MockCall struct {
	FrameID string
	Time    time.Time
}

// NewMock creates a mock that always answers label with full confidence.
func NewMock(label string) *Mock {
	m := &Mock{}
	m.ClassifyFunc = func(ctx context.Context, f frame.Frame) (Result, error) {
		return Result{
			Label:      label,
			Confidence: 1,
			Timestamp:  time.Now(),
			FrameID:    f.ID(),
			Classifier: m.Name(),
		}, nil
	}
	return m
}

// NewFailingMock creates a mock that always fails with err.
func NewFailingMock(err error) *Mock {
	return &Mock{
		ClassifyFunc: func(context.Context, frame.Frame) (Result, error) {
			return Result{}, err
		},
	}
}

// Name implements Classifier.
func (m *Mock) Name() string {
	if m.NameOverride != "" {
		return m.NameOverride
	}
	return "mock"
}

// Classify calls ClassifyFunc and records the call.
func (m *Mock) Classify(ctx context.Context, f frame.Frame) (Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{FrameID: f.ID().String(), Time: time.Now()})
	m.mu.Unlock()
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, f)
	}
	return Result{}, newError(KindUnavailable, m.Name(), nil)
}

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Classify was called.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears the recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ Classifier = (*Mock)(nil)
