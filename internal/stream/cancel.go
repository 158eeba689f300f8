package stream

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	// ErrClientClosed is the cancellation cause when the inbound request ends early.
	ErrClientClosed = errors.New("client closed request")
	// ErrConsumerGone is the cancellation cause when the stream consumer stops reading.
	ErrConsumerGone = errors.New("stream consumer stopped reading")

	errSessionEnded = errors.New("session ended")
)

// Token is a cooperative cancellation flag shared by reference between the
// session and the executor. Its context keeps the parent's values but not
// its cancellation; only Cancel or release end it.
type Token struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	aborted atomic.Bool
}

func NewToken(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(parent))
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel requests cancellation. Only the first call records its cause.
func (t *Token) Cancel(cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	if t.aborted.CompareAndSwap(false, true) {
		t.cancel(cause)
	}
}

func (t *Token) Aborted() bool {
	return t.aborted.Load()
}

func (t *Token) Context() context.Context {
	return t.ctx
}

func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Cause returns the reason passed to the first Cancel, or nil.
func (t *Token) Cause() error {
	if !t.Aborted() {
		return nil
	}
	return context.Cause(t.ctx)
}

// release ends the token's context without marking it aborted.
func (t *Token) release() {
	t.cancel(errSessionEnded)
}

// Bridge funnels the request's own cancellation and the relay's
// consumer-gone signal into one Token.
type Bridge struct {
	token *Token
	stop  func() bool
}

func NewBridge(requestCtx context.Context, relay *Relay) *Bridge {
	if requestCtx == nil {
		requestCtx = context.Background()
	}
	token := NewToken(requestCtx)
	stop := context.AfterFunc(requestCtx, func() {
		token.Cancel(ErrClientClosed)
	})
	if relay != nil {
		relay.OnDisconnect(func() {
			token.Cancel(ErrConsumerGone)
		})
	}
	return &Bridge{token: token, stop: stop}
}

func (b *Bridge) Token() *Token {
	return b.token
}

// Release detaches the bridge from the request and frees the token's
// context. The aborted flag keeps whatever value it had.
func (b *Bridge) Release() {
	b.stop()
	b.token.release()
}
