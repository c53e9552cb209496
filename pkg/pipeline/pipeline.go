// Package pipeline runs the capture, sample, classify and publish loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-signcam/pkg/capture"
	"github.com/teslashibe/go-signcam/pkg/classify"
	"github.com/teslashibe/go-signcam/pkg/publisher"
	"github.com/teslashibe/go-signcam/pkg/sampler"
)

// State is the pipeline's lifecycle state.
type State string

const (
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateDeviceError State = "device_error"
	StateStopped     State = "stopped"
)

// ErrAlreadyRunning is returned by Run while another Run is active.
var ErrAlreadyRunning = errors.New("pipeline: already running")

// Status describes what the pipeline is doing.
type Status struct {
	State      State             `json:"state"`
	Source     string            `json:"source"`
	Classifier string            `json:"classifier"`
	Labels     []string          `json:"labels"`
	LastError  string            `json:"last_error,omitempty"`
	Display    publisher.Display `json:"display"`
}

// Stats aggregates counters of the pipeline and its parts.
type Stats struct {
	Results      uint64          `json:"results"`
	Failures     uint64          `json:"failures"`
	Invalid      uint64          `json:"invalid"`
	Superseded   uint64          `json:"superseded"`
	DeviceErrors uint64          `json:"device_errors"`
	Retries      uint64          `json:"retries"`
	LastLatency  time.Duration   `json:"last_latency"`
	Sampler      sampler.Stats   `json:"sampler"`
	Publisher    publisher.Stats `json:"publisher"`
}

// Pipeline owns one capture source. Run drives everything from a single
// goroutine; Trigger, Retry, Status and Stats are safe from any goroutine.
type Pipeline struct {
	source     capture.Source
	sampler    *sampler.Sampler
	classifier classify.Classifier
	publisher  *publisher.Publisher
	labels     classify.Labels
	logger     *slog.Logger

	retry   chan struct{}
	running atomic.Bool

	mu      sync.Mutex
	state   State
	lastErr error

	results      atomic.Uint64
	failures     atomic.Uint64
	invalid      atomic.Uint64
	superseded   atomic.Uint64
	deviceErrors atomic.Uint64
	retries      atomic.Uint64
	lastLatency  atomic.Int64
}

// New wires a pipeline. Results naming a label outside labels are treated
// as classification failures.
func New(src capture.Source, smp *sampler.Sampler, cls classify.Classifier, pub *publisher.Publisher, labels classify.Labels, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:     src,
		sampler:    smp,
		classifier: cls,
		publisher:  pub,
		labels:     labels,
		logger:     logger.With("component", "pipeline"),
		retry:      make(chan struct{}, 1),
		state:      StateStopped,
	}
}

// Run starts the source and classifies sampled frames until ctx is done.
// A device error is shown on the display and the pipeline waits for Retry
// without starting any cycle. Run returns nil when ctx ends.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)
	defer p.setState(StateStopped, nil)
	defer p.source.Stop()

	for {
		p.setState(StateStarting, nil)
		err := p.source.Start(ctx)
		if err == nil {
			p.setState(StateRunning, nil)
			p.logger.Info("pipeline running", "source", p.source.Name(), "classifier", p.classifier.Name())
			err = p.runCycles(ctx)
		}
		if ctx.Err() != nil {
			return nil
		}

		de, ok := capture.AsDeviceError(err)
		if !ok {
			if err == nil {
				err = capture.ErrStopped
			}
			de = capture.NewDeviceError(capture.DeviceUnavailable, p.source.Name(), err)
		}
		p.deviceErrors.Add(1)
		p.setState(StateDeviceError, de)
		p.publisher.DeviceFailed(de)
		p.logger.Warn("capture source failed, waiting for retry", "source", p.source.Name(), "kind", de.Kind, "error", de.Err)

		select {
		case <-ctx.Done():
			return nil
		case <-p.retry:
			p.retries.Add(1)
			p.publisher.Reset()
			p.logger.Info("retrying capture source", "source", p.source.Name())
		}
	}
}

func (p *Pipeline) runCycles(ctx context.Context) error {
	for cycle, err := range p.sampler.Sample(ctx, p.source) {
		if err != nil {
			return err
		}
		p.runCycle(ctx, cycle)
	}
	return nil
}

func (p *Pipeline) runCycle(ctx context.Context, cycle *sampler.Cycle) {
	log := p.logger.With("seq", cycle.Seq, "reason", cycle.Reason)
	if !p.publisher.Begin(cycle.Seq, cycle.Frame) {
		return
	}

	start := time.Now()
	res, err := p.classifier.Classify(cycle.Context(), cycle.Frame)
	p.lastLatency.Store(int64(time.Since(start)))

	switch {
	case cycle.Superseded():
		p.superseded.Add(1)
		log.Debug("dropping superseded cycle")
		return
	case ctx.Err() != nil:
		return
	case err != nil:
		p.failures.Add(1)
		p.publisher.Fail(cycle.Seq, err)
		log.Warn("classification failed", "error", err)
		return
	}

	if len(p.labels) > 0 && !res.Valid(p.labels) {
		p.invalid.Add(1)
		err := fmt.Errorf("pipeline: %s returned %q (confidence %.2f) outside the label set", res.Classifier, res.Label, res.Confidence)
		p.publisher.Fail(cycle.Seq, err)
		log.Warn("invalid classification", "error", err)
		return
	}

	p.results.Add(1)
	p.publisher.Publish(cycle.Seq, res)
	log.Debug("classified", "label", res.Label, "confidence", res.Confidence, "classifier", res.Classifier, "latency", time.Since(start))
}

// Trigger requests an immediate cycle. It reports false when the pipeline
// is not running or the sampler dropped the request.
func (p *Pipeline) Trigger() bool {
	if p.State() != StateRunning {
		return false
	}
	return p.sampler.Trigger()
}

// Retry restarts the source after a device error. It reports whether the
// pipeline was waiting for one.
func (p *Pipeline) Retry() bool {
	if p.State() != StateDeviceError {
		return false
	}
	select {
	case p.retry <- struct{}{}:
	default:
	}
	return true
}

// State returns the lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns the current display.
func (p *Pipeline) Snapshot() publisher.Display {
	return p.publisher.Snapshot()
}

// Status returns the lifecycle state and current display.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	st := Status{
		State:      p.state,
		Source:     p.source.Name(),
		Classifier: p.classifier.Name(),
		Labels:     p.labels,
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	p.mu.Unlock()
	st.Display = p.publisher.Snapshot()
	return st
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Results:      p.results.Load(),
		Failures:     p.failures.Load(),
		Invalid:      p.invalid.Load(),
		Superseded:   p.superseded.Load(),
		DeviceErrors: p.deviceErrors.Load(),
		Retries:      p.retries.Load(),
		LastLatency:  time.Duration(p.lastLatency.Load()),
		Sampler:      p.sampler.Stats(),
		Publisher:    p.publisher.Stats(),
	}
}

func (p *Pipeline) setState(s State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
	if err != nil || s == StateRunning {
		p.lastErr = err
	}
}
