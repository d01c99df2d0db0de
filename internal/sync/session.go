package sync

import (
	"context"
	stdsync "sync"
	"time"
)

// Kind identifies the direction of a sync session.
type Kind int

const (
	// KindDown pulls the route graph from the backend into the local store.
	KindDown Kind = iota
	// KindUp pushes pending local readings to the backend.
	KindUp
)

// String returns the direction name used in logs and sync_meta keys.
func (k Kind) String() string {
	switch k {
	case KindDown:
		return "down"
	case KindUp:
		return "up"
	default:
		return "unknown"
	}
}

// Session is one bounded, cancellable execution of a sync direction.
//
// It owns a context derived from the caller's with the session deadline
// applied. Every request the engines issue derives from that context, so
// the session is a structured cancellation scope: Close cancels all
// in-flight work and releases the deadline timer, on every exit path,
// exactly once.
type Session struct {
	kind   Kind
	ctx    context.Context
	cancel context.CancelFunc
	once   stdsync.Once
}

// NewSession creates a session with the given wall-clock deadline.
// The caller MUST call Close when the run finishes, errors, or is
// abandoned; deferring it immediately after creation is the usual shape.
func NewSession(ctx context.Context, kind Kind, deadline time.Duration) *Session {
	sctx, cancel := context.WithTimeout(ctx, deadline)
	return &Session{kind: kind, ctx: sctx, cancel: cancel}
}

// Kind returns the session direction.
func (s *Session) Kind() Kind {
	return s.kind
}

// Context returns the session's cancellation scope. All work inside the
// session must derive from it.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Cancelled reports whether the session scope has been closed, the
// deadline has passed, or the caller's context fired.
func (s *Session) Cancelled() bool {
	return s.ctx.Err() != nil
}

// Close cancels everything in flight and releases the deadline timer.
// Idempotent: closing twice is a no-op.
func (s *Session) Close() {
	s.once.Do(s.cancel)
}
