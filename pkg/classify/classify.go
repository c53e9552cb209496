// Package classify turns frames into sign labels. Every backend, from the
// delay-based stub to remote vision models, implements Classifier.
package classify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-signcam/pkg/frame"
)

// Classifier maps one frame to one label.
type Classifier interface {
	// Name identifies the classifier in results and logs.
	Name() string

	// Classify returns a label from the configured set. Failures are
	// *Error values; a done ctx aborts the call with ctx.Err().
	Classify(ctx context.Context, f frame.Frame) (Result, error)
}

// Result is the outcome of one classification.
type Result struct {
	Label      string        `json:"label"`
	Confidence float64       `json:"confidence"` // In [0, 1]
	Timestamp  time.Time     `json:"timestamp"`
	FrameID    uuid.UUID     `json:"frame_id"`
	Classifier string        `json:"classifier"`
	Latency    time.Duration `json:"latency"`
}

// Valid reports whether the result names a label of the set with a
// confidence in range.
func (r Result) Valid(labels Labels) bool {
	return labels.Contains(r.Label) && r.Confidence >= 0 && r.Confidence <= 1
}

// checkFrame rejects frames no backend could use.
func checkFrame(classifier string, f frame.Frame) error {
	if err := f.Validate(); err != nil {
		return newError(KindMalformed, classifier, err)
	}
	return nil
}

// clamp keeps a confidence inside [0, 1].
func clamp(c float64) float64 {
	switch {
	case c < 0 || c != c:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
