package strix

import (
	"context"
	"sync/atomic"
)

// turn serialises node logic within one scheduler. A token in the buffer means
// the turn is held. Blocked acquirers are served in arrival order, so a release
// hands the turn straight to the longest waiter.
type turn chan struct{}

func newTurn() turn { return make(turn, 1) }

func (t turn) acquire() { t <- struct{}{} }

func (t turn) release() {
	select {
	case <-t:
	default:
		panic("strix: turn released while not held")
	}
}

// lease is one execution's hold on a scheduler turn: the loop's, or a single
// handler run's. It travels in the context handed to bodies and callbacks.
type lease struct {
	s    *Scheduler
	held atomic.Bool
}

func (s *Scheduler) newLease() *lease {
	return &lease{s: s}
}

func (l *lease) acquire() {
	l.s.turn.acquire()
	l.held.Store(true)
}

// release gives the turn up and reports whether this lease was holding it.
func (l *lease) release() bool {
	if !l.held.CompareAndSwap(true, false) {
		return false
	}
	l.s.turn.release()
	return true
}

// yield lets waiting handlers run before continuing.
func (l *lease) yield() {
	if l.release() {
		l.acquire()
	}
}

type leaseKey struct{}

func withLease(ctx context.Context, l *lease) context.Context {
	return context.WithValue(ctx, leaseKey{}, l)
}

func leaseFrom(ctx context.Context) *lease {
	l, _ := ctx.Value(leaseKey{}).(*lease)
	return l
}

// holds reports whether ctx belongs to an execution currently holding s's turn.
func (s *Scheduler) holds(ctx context.Context) bool {
	l := leaseFrom(ctx)
	return l != nil && l.s == s && l.held.Load()
}

// suspend runs fn with the caller's turn released, if it holds one.
func suspend(ctx context.Context, fn func()) {
	if l := leaseFrom(ctx); l != nil && l.release() {
		defer l.acquire()
	}
	fn()
}

// Offload runs blocking work from inside a job or handler body. The scheduler
// turn is released while fn runs so other handlers can make progress, and
// reacquired before Offload returns. Outside a body it simply calls fn.
//
// The context must be the one the body received; handing it to another
// goroutine and offloading from there is not supported.
func Offload[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	suspend(ctx, func() {
		v, err = fn(ctx)
	})
	return v, err
}
