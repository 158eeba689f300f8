package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Executor produces the data frames of one session. It returns nil on
// success and must stop emitting once the session's token is aborted.
type Executor interface {
	Execute(ctx context.Context, s *Session) error
}

type ExecutorFunc func(ctx context.Context, s *Session) error

func (f ExecutorFunc) Execute(ctx context.Context, s *Session) error {
	return f(ctx, s)
}

// Options tune a session. The zero value is usable.
type Options struct {
	HeartbeatInterval time.Duration
	OnHeartbeat       func()
}

// Session is the request-scoped state of one streaming response. It is
// passed by reference to the executor and never shared across requests.
type Session struct {
	relay *Relay
	token *Token
	ids   Correlation
}

// Emit writes a progress frame. After the session closes it does nothing.
func (s *Session) Emit(event string, payload any) error {
	if event == doneEvent {
		return fmt.Errorf("event name %q is reserved for the terminal frame", doneEvent)
	}
	return s.relay.Emit(event, payload)
}

// Complete ends the stream with a completed terminal frame ahead of the
// executor returning. Later frames, including the session's own terminal
// frame, are dropped.
func (s *Session) Complete() error {
	_, err := s.relay.Terminate(StatusCompleted, "")
	return err
}

func (s *Session) Aborted() bool {
	return s.token.Aborted()
}

func (s *Session) Token() *Token {
	return s.token
}

func (s *Session) Correlation() Correlation {
	return s.ids
}

// Serve runs exec against a fresh event stream on w. It writes the SSE
// headers, keeps the connection alive with heartbeats, emits exactly one
// terminal frame and always closes the stream. The returned error reports
// transport failures while writing the terminal frame or closing; the
// executor's own failure is delivered in-band only.
func Serve(w http.ResponseWriter, r *http.Request, ids Correlation, opts Options, exec Executor) (status Status, err error) {
	WriteHeaders(w)
	w.WriteHeader(http.StatusOK)

	relay := NewRelay(w, ids)
	// Flush headers so the client sees the stream open before the first frame.
	_ = relay.flush()

	bridge := NewBridge(r.Context(), relay)
	heartbeat := StartHeartbeat(relay, opts.HeartbeatInterval, opts.OnHeartbeat)

	s := &Session{relay: relay, token: bridge.Token(), ids: ids}

	defer func() {
		heartbeat.Stop()
		bridge.Release()
		if closeErr := relay.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		if status == "" {
			status = relay.TerminalStatus()
		}
	}()

	execErr := s.run(exec)
	status, err = s.dispatch(execErr)
	return status, err
}

func (s *Session) run(exec Executor) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = panicError{value: recovered}
		}
	}()
	return exec.Execute(s.token.Context(), s)
}

// dispatch picks the terminal status. Cancellation wins over failure
// because an aborted request usually also surfaces as an executor error.
func (s *Session) dispatch(execErr error) (Status, error) {
	var err error
	switch {
	case s.token.Aborted():
		_, err = s.relay.Terminate(StatusAborted, "")
	case execErr != nil:
		_, err = s.relay.Terminate(StatusError, ErrorMessage(execErr))
	default:
		_, err = s.relay.Terminate(StatusCompleted, "")
	}
	return s.relay.TerminalStatus(), err
}

// ErrorMessage renders a failure for the terminal frame: its message when
// it has one, otherwise its type.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}

type panicError struct {
	value any
}

func (e panicError) Error() string {
	if err, ok := e.value.(error); ok {
		return ErrorMessage(err)
	}
	if msg := strings.TrimSpace(fmt.Sprint(e.value)); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", e.value)
}
