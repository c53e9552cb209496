// Package sampler decides when a frame is pulled from a capture source,
// decoupling the capture rate from the classification rate.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-signcam/pkg/capture"
	"github.com/teslashibe/go-signcam/pkg/frame"
)

// DefaultInterval matches the demo's recognition cadence.
const DefaultInterval = 2 * time.Second

var (
	// ErrSuperseded is the cancellation cause of a cycle replaced by a
	// newer trigger.
	ErrSuperseded = errors.New("sampler: cycle superseded")

	// errCycleDone cancels a cycle's context once its body returns.
	errCycleDone = errors.New("sampler: cycle finished")
)

// Policy says what happens to a trigger that arrives while a cycle is
// pending. Interval ticks are always dropped while pending.
type Policy int

const (
	// PolicyDrop discards the trigger.
	PolicyDrop Policy = iota
	// PolicySupersede cancels the pending cycle and starts a new one as
	// soon as it returns.
	PolicySupersede
)

// String returns the policy name.
func (p Policy) String() string {
	if p == PolicySupersede {
		return "supersede"
	}
	return "drop"
}

// ParsePolicy maps a name to a policy. Empty means PolicyDrop.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "drop":
		return PolicyDrop, nil
	case "supersede":
		return PolicySupersede, nil
	}
	return PolicyDrop, fmt.Errorf("sampler: unknown policy %q", s)
}

// Reason says what started a cycle.
type Reason string

const (
	ReasonInitial Reason = "initial"
	ReasonTick    Reason = "tick"
	ReasonTrigger Reason = "trigger"
)

// Options configures a Sampler.
type Options struct {
	// Interval between automatic cycles. Zero disables ticking.
	Interval time.Duration
	// Immediate starts the first cycle without waiting for a tick.
	Immediate bool
	Policy    Policy
	Logger    *slog.Logger
}

// DefaultOptions returns a 2s interval with an immediate first cycle.
func DefaultOptions() Options {
	return Options{
		Interval:  DefaultInterval,
		Immediate: true,
		Policy:    PolicyDrop,
	}
}

// Cycle is one sample: a frame and the context its classification runs
// under. The context is cancelled when the cycle is superseded and once the
// loop body returns.
type Cycle struct {
	Seq     uint64
	Frame   frame.Frame
	Reason  Reason
	Started time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Context returns the cycle's cancellation token.
func (c *Cycle) Context() context.Context { return c.ctx }

// Superseded reports whether a newer trigger replaced this cycle.
func (c *Cycle) Superseded() bool {
	return errors.Is(context.Cause(c.ctx), ErrSuperseded)
}

// Stats counts sampler activity since creation.
type Stats struct {
	Cycles     uint64 `json:"cycles"`
	Dropped    uint64 `json:"dropped"`
	Superseded uint64 `json:"superseded"`
	Triggers   uint64 `json:"triggers"`
	LastSeq    uint64 `json:"last_seq"`
	Pending    bool   `json:"pending"`
}

// Sampler produces at most one outstanding Cycle at a time. A Sampler
// serves one Sample run at a time; Trigger and Stats are safe from any
// goroutine.
type Sampler struct {
	opts   Options
	logger *slog.Logger

	triggers chan struct{}
	seq      atomic.Uint64

	mu      sync.Mutex
	pending *Cycle

	cycles     atomic.Uint64
	dropped    atomic.Uint64
	superseded atomic.Uint64
	triggered  atomic.Uint64
}

// New creates a sampler.
func New(opts Options) *Sampler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval < 0 {
		opts.Interval = 0
	}
	return &Sampler{
		opts:     opts,
		logger:   logger.With("component", "sampler"),
		triggers: make(chan struct{}, 1),
	}
}

// Options returns the sampler configuration.
func (s *Sampler) Options() Options { return s.opts }

// Trigger requests an immediate cycle. It reports whether the request was
// accepted; a dropped request is counted.
func (s *Sampler) Trigger() bool {
	s.triggered.Add(1)

	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()

	if pending != nil {
		if s.opts.Policy != PolicySupersede {
			s.dropped.Add(1)
			return false
		}
		pending.cancel(ErrSuperseded)
		s.superseded.Add(1)
		s.logger.Debug("cycle superseded", "seq", pending.Seq)
	}

	select {
	case s.triggers <- struct{}{}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Stats returns a snapshot of the counters.
func (s *Sampler) Stats() Stats {
	s.mu.Lock()
	pending := s.pending != nil
	s.mu.Unlock()
	return Stats{
		Cycles:     s.cycles.Load(),
		Dropped:    s.dropped.Load(),
		Superseded: s.superseded.Load(),
		Triggers:   s.triggered.Load(),
		LastSeq:    s.seq.Load(),
		Pending:    pending,
	}
}

// Sample returns the sequence of cycles over src. The sequence is lazy and
// restartable. It ends when ctx is done or src stops; a read error is
// yielded once and ends it. The frame for each cycle is read when the cycle
// starts, never buffered ahead.
func (s *Sampler) Sample(ctx context.Context, src capture.Source) iter.Seq2[*Cycle, error] {
	return func(yield func(*Cycle, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var ticks <-chan struct{}
		if s.opts.Interval > 0 {
			tc := make(chan struct{}, 1)
			ticks = tc
			go s.pump(ctx, tc)
		}
		done := src.Done()

		reason := ReasonInitial
		start := s.opts.Immediate
		for {
			if !start {
				select {
				case <-ctx.Done():
					return
				case <-done:
					return
				case <-ticks:
					reason = ReasonTick
				case <-s.triggers:
					reason = ReasonTrigger
				}
			}
			start = false

			// Signals that arrived together are covered by this cycle.
			s.drain(ticks)
			s.drain(s.triggers)

			f, err := src.Read(ctx)
			if err != nil {
				if ctx.Err() != nil || isClosed(done) {
					return
				}
				yield(nil, err)
				return
			}

			cycle := s.begin(ctx, f, reason)
			more := yield(cycle, nil)
			s.end(cycle)
			if !more {
				return
			}
		}
	}
}

// pump forwards ticks, dropping those that arrive while a cycle is pending
// or while an earlier tick is still unconsumed.
func (s *Sampler) pump(ctx context.Context, out chan<- struct{}) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.isPending() {
				s.dropped.Add(1)
				continue
			}
			select {
			case out <- struct{}{}:
			default:
				s.dropped.Add(1)
			}
		}
	}
}

func (s *Sampler) begin(ctx context.Context, f frame.Frame, reason Reason) *Cycle {
	cctx, cancel := context.WithCancelCause(ctx)
	c := &Cycle{
		Seq:     s.seq.Add(1),
		Frame:   f,
		Reason:  reason,
		Started: time.Now(),
		ctx:     cctx,
		cancel:  cancel,
	}
	s.mu.Lock()
	s.pending = c
	s.mu.Unlock()
	s.cycles.Add(1)
	return c
}

func (s *Sampler) end(c *Cycle) {
	s.mu.Lock()
	if s.pending == c {
		s.pending = nil
	}
	s.mu.Unlock()
	c.cancel(errCycleDone)
}

func (s *Sampler) isPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

func (s *Sampler) drain(ch <-chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case <-ch:
		s.dropped.Add(1)
	default:
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
