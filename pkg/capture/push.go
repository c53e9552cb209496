package capture

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-signcam/pkg/frame"
)

// Push is a source fed from outside: browser cameras streaming over
// WebSocket or WebRTC, or a remote producer. Only the latest frame is kept.
type Push struct {
	name string

	mu      sync.Mutex
	latest  frame.Frame
	seq     uint64
	readSeq uint64
	devErr  *DeviceError
	started bool
	stopped bool
	done    chan struct{}
	notify  chan struct{}

	pushed     atomic.Uint64
	overwrites atomic.Uint64
}

// NewPush creates a push source.
func NewPush(name string) *Push {
	return &Push{
		name:   name,
		done:   make(chan struct{}),
		notify: make(chan struct{}),
	}
}

// Name implements Source.
func (p *Push) Name() string { return p.name }

// Start implements Source. A previously stopped push source can be started
// again; any reported device error is cleared.
func (p *Push) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		p.done = make(chan struct{})
		p.stopped = false
	}
	p.started = true
	p.devErr = nil
	return nil
}

// Read implements Source. It returns a frame newer than the last one read,
// waiting for one if necessary.
func (p *Push) Read(ctx context.Context) (frame.Frame, error) {
	for {
		p.mu.Lock()
		switch {
		case !p.started:
			p.mu.Unlock()
			return frame.Frame{}, ErrNotStarted
		case p.stopped:
			p.mu.Unlock()
			return frame.Frame{}, ErrStopped
		case p.devErr != nil:
			err := p.devErr
			p.mu.Unlock()
			return frame.Frame{}, err
		case p.seq > p.readSeq:
			p.readSeq = p.seq
			f := p.latest
			p.mu.Unlock()
			return f, nil
		}
		wait, done := p.notify, p.done
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return frame.Frame{}, ctx.Err()
		case <-done:
		case <-wait:
		}
	}
}

// Push stores f as the latest frame, replacing any unread one. A fresh frame
// clears a previously reported device error.
func (p *Push) Push(f frame.Frame) {
	p.mu.Lock()
	if p.seq > p.readSeq {
		p.overwrites.Add(1)
	}
	p.latest = f
	p.seq++
	p.devErr = nil
	p.broadcastLocked()
	p.mu.Unlock()
	p.pushed.Add(1)
}

// Fail records a device error reported by the producer, e.g. a browser that
// was refused camera access. Pending and future reads return a copy named
// after this source when the reporter left the device empty; err itself is
// not modified.
func (p *Push) Fail(err *DeviceError) {
	if err == nil {
		return
	}
	de := *err
	if de.Device == "" {
		de.Device = p.name
	}
	p.mu.Lock()
	p.devErr = &de
	p.broadcastLocked()
	p.mu.Unlock()
}

// Done implements Source.
func (p *Push) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Stop implements Source.
func (p *Push) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.done)
	}
	return nil
}

// Pushed returns how many frames were pushed and how many of them replaced
// a frame nobody read.
func (p *Push) Pushed() (total, overwritten uint64) {
	return p.pushed.Load(), p.overwrites.Load()
}

func (p *Push) broadcastLocked() {
	close(p.notify)
	p.notify = make(chan struct{})
}

var _ Source = (*Push)(nil)
