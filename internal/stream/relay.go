package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
)

// ErrClosed reports a write against a relay that has already closed.
var ErrClosed = errors.New("stream relay closed")

type relayState int

const (
	stateOpen relayState = iota
	stateClosing
	stateClosed
)

func (s relayState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Relay owns the output channel of one streaming response. The heartbeat,
// the executor and the cleanup path all write through it; it serializes
// their writes and closes the channel exactly once.
type Relay struct {
	mu       sync.Mutex
	w        io.Writer
	flush    func() error
	ids      Correlation
	state    relayState
	terminal Status
	done     chan struct{}

	onDisconnect []func()
}

func NewRelay(w io.Writer, ids Correlation) *Relay {
	return &Relay{
		w:     w,
		flush: flusherFor(w),
		ids:   ids,
		done:  make(chan struct{}),
	}
}

func flusherFor(w io.Writer) func() error {
	switch f := w.(type) {
	case interface{ FlushError() error }:
		return f.FlushError
	case http.Flusher:
		return func() error {
			f.Flush()
			return nil
		}
	default:
		return func() error { return nil }
	}
}

// OnDisconnect registers fn to run once when a write finds the consumer gone.
func (r *Relay) OnDisconnect(fn func()) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = append(r.onDisconnect, fn)
}

// Emit writes a data frame. It is a no-op once the relay has closed, and
// a vanished consumer closes the relay instead of failing the caller.
func (r *Relay) Emit(event string, payload any) error {
	frame, err := EncodeData(event, payload)
	if err != nil {
		return err
	}
	return r.write(frame)
}

// Comment writes a comment frame with the same semantics as Emit.
func (r *Relay) Comment(text string) error {
	return r.write(EncodeComment(text))
}

func (r *Relay) write(frame []byte) error {
	r.mu.Lock()
	if r.state != stateOpen {
		r.mu.Unlock()
		return nil
	}
	err := r.writeLocked(frame)
	hooks := r.takeHooksLocked(err)
	r.mu.Unlock()

	runHooks(hooks)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// writeLocked must be called with mu held and the state open or closing.
func (r *Relay) writeLocked(frame []byte) error {
	if _, err := r.w.Write(frame); err != nil {
		if IsDisconnect(err) {
			r.markClosedLocked()
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return fmt.Errorf("write frame: %w", err)
	}
	if err := r.flush(); err != nil {
		if IsDisconnect(err) {
			r.markClosedLocked()
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}

// Terminate writes the terminal frame and closes the relay. Only the first
// call has any effect; it reports whether this call claimed the terminal
// slot. A consumer that is already gone still counts as terminated.
func (r *Relay) Terminate(status Status, message string) (bool, error) {
	r.mu.Lock()
	if r.terminal != "" || r.state == stateClosing {
		r.mu.Unlock()
		return false, nil
	}
	r.terminal = status
	if r.state == stateClosed {
		r.mu.Unlock()
		return true, nil
	}

	r.state = stateClosing
	var writeErr error
	frame, err := EncodeData(doneEvent, newDone(r.ids, status, message))
	if err != nil {
		writeErr = err
	} else {
		writeErr = r.writeLocked(frame)
	}
	hooks := r.takeHooksLocked(writeErr)
	closeErr := r.closeLocked()
	r.mu.Unlock()

	runHooks(hooks)
	if errors.Is(writeErr, ErrClosed) {
		writeErr = nil
	}
	return true, errors.Join(writeErr, closeErr)
}

// Close releases the channel. It is safe to call any number of times from
// any goroutine; exactly one call performs the release.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateClosed {
		return nil
	}
	return r.closeLocked()
}

func (r *Relay) closeLocked() error {
	if r.state == stateClosed {
		return nil
	}
	err := r.flush()
	r.markClosedLocked()
	if err != nil && !IsDisconnect(err) {
		return fmt.Errorf("close relay: %w", err)
	}
	return nil
}

func (r *Relay) markClosedLocked() {
	if r.state == stateClosed {
		return
	}
	r.state = stateClosed
	close(r.done)
}

func (r *Relay) takeHooksLocked(err error) []func() {
	if !errors.Is(err, ErrClosed) || len(r.onDisconnect) == 0 {
		return nil
	}
	hooks := r.onDisconnect
	r.onDisconnect = nil
	return hooks
}

func runHooks(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}

// Closed reports whether the relay accepts no further frames.
func (r *Relay) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != stateOpen
}

// Done is closed once the relay reaches the closed state.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// TerminalStatus returns the status of the terminal frame, or "" if none
// has been claimed yet.
func (r *Relay) TerminalStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminal
}

func (r *Relay) Correlation() Correlation {
	return r.ids
}

// IsDisconnect reports whether err means the consumer can no longer be
// written to.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, http.ErrHandlerTimeout) ||
		errors.Is(err, context.Canceled)
}
