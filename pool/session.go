package pool

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

type sessionKey struct{}

// session is the logical execution context that owns allocated connections.
// It plays the role a thread plays in a classic thread-keyed pool: one
// session holds at most one connection per shard, and nested holds made
// with the same session reuse it.
//
// A session lives until its end func is called. Cancelling the context it
// was created from does not end it, so a worker may keep a lease past a
// request deadline. An ended session with no hold running is dead and its
// connections may be reclaimed.
type session struct {
	id     string
	life   context.Context
	end    context.CancelFunc
	active atomic.Int32
}

// NewSession returns a context carrying a fresh session and the func that
// ends it. Connections the session still holds once it has ended are
// reclaimed when their shard runs out of capacity.
//
// Goroutines must not share a session: a goroutine started from inside a
// Hold callback should derive its context with NewSession, otherwise it
// would be handed the very connection its parent is using.
func NewSession(ctx context.Context) (context.Context, func()) {
	s := newSession()
	return context.WithValue(ctx, sessionKey{}, s), s.end
}

// WithSession is NewSession unless ctx already carries a session, in which
// case ctx is returned with an end func that does nothing.
func WithSession(ctx context.Context) (context.Context, func()) {
	if sessionFrom(ctx) != nil {
		return ctx, func() {}
	}
	return NewSession(ctx)
}

func newSession() *session {
	life, end := context.WithCancel(context.Background())
	return &session{id: uuid.NewString(), life: life, end: end}
}

// SessionID returns the identifier of the session carried by ctx, or "".
func SessionID(ctx context.Context) string {
	if s := sessionFrom(ctx); s != nil {
		return s.id
	}
	return ""
}

func sessionFrom(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{}).(*session)
	return s
}

// ensureSession returns the session of ctx along with the context carrying
// it. When ctx has none a new session is started and owned reports true: the
// caller is then responsible for ending it.
func ensureSession(ctx context.Context) (_ context.Context, _ *session, owned bool) {
	if s := sessionFrom(ctx); s != nil {
		return ctx, s, false
	}
	s := newSession()
	return context.WithValue(ctx, sessionKey{}, s), s, true
}

// enter marks the session as running a hold callback; the returned func undoes it.
func (s *session) enter() func() {
	s.active.Add(1)
	return func() { s.active.Add(-1) }
}

// dead reports whether the session can no longer release what it holds.
func (s *session) dead() bool {
	return s.active.Load() == 0 && s.life.Err() != nil
}
