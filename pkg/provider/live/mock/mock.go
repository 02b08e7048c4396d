// Package mock provides scripted in-memory implementations of the live
// provider interfaces for use in tests. No network connection is involved:
// tests script the events a handle emits and inspect what was sent to it.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/Zachwitte21/reminisce-poc/pkg/provider/live"
)

var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*Handle)(nil)

// ErrClosed is returned by send methods after the handle is closed.
var ErrClosed = errors.New("mock: session closed")

// Provider is a scripted live.Provider. Each call to Connect consumes the
// next entry from the Outcomes list; when the list is exhausted, Connect
// returns a fresh successful Handle.
type Provider struct {
	mu sync.Mutex

	// Outcomes scripts successive Connect calls. A nil error yields the
	// paired Handle (or a fresh one if the Handle is nil).
	Outcomes []ConnectOutcome

	connects []live.SessionConfig
}

// ConnectOutcome scripts a single Connect call.
type ConnectOutcome struct {
	Handle *Handle
	Err    error
}

// Connect records the config and returns the next scripted outcome.
func (p *Provider) Connect(_ context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.connects = append(p.connects, cfg)

	if len(p.Outcomes) == 0 {
		return NewHandle(), nil
	}
	out := p.Outcomes[0]
	p.Outcomes = p.Outcomes[1:]
	if out.Err != nil {
		return nil, out.Err
	}
	if out.Handle == nil {
		return NewHandle(), nil
	}
	return out.Handle, nil
}

// Connects returns a copy of the configs passed to Connect, in order.
func (p *Provider) Connects() []live.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]live.SessionConfig, len(p.connects))
	copy(out, p.connects)
	return out
}

// Handle is a scripted live.SessionHandle. Tests push events with Emit and
// inspect recorded sends with AudioSent and TurnsSent.
type Handle struct {
	mu sync.Mutex

	events chan live.Event
	closed bool
	errVal error

	audioSent [][]byte
	turnsSent [][]live.Turn

	// SendAudioErr, when set, is returned by every SendAudio call.
	SendAudioErr error
	// SendTurnsErr, when set, is returned by every SendTurns call.
	SendTurnsErr error
}

// NewHandle returns an open Handle with a buffered event channel.
func NewHandle() *Handle {
	return &Handle{events: make(chan live.Event, 64)}
}

// Emit delivers ev to the handle's event channel. Panics if the buffer is
// full; tests should consume events or size their scripts accordingly.
func (h *Handle) Emit(ev live.Event) {
	h.events <- ev
}

// Fail records err and closes the event stream, simulating a mid-stream
// transport failure.
func (h *Handle) Fail(err error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.errVal = err
	h.mu.Unlock()
	close(h.events)
}

func (h *Handle) SendAudio(chunk []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.SendAudioErr != nil {
		return h.SendAudioErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	h.audioSent = append(h.audioSent, cp)
	return nil
}

func (h *Handle) SendTurns(turns []live.Turn, _ bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.SendTurnsErr != nil {
		return h.SendTurnsErr
	}
	cp := make([]live.Turn, len(turns))
	copy(cp, turns)
	h.turnsSent = append(h.turnsSent, cp)
	return nil
}

func (h *Handle) Events() <-chan live.Event { return h.events }

func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errVal
}

func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	close(h.events)
	return nil
}

// AudioSent returns copies of all chunks passed to SendAudio, in order.
func (h *Handle) AudioSent() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.audioSent))
	copy(out, h.audioSent)
	return out
}

// TurnsSent returns all turn batches passed to SendTurns, in order.
func (h *Handle) TurnsSent() [][]live.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]live.Turn, len(h.turnsSent))
	copy(out, h.turnsSent)
	return out
}

// Closed reports whether Close or Fail has been called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
