package strix

import (
	"context"
	"log/slog"

	"github.com/casualjim/strix/pkg/slogx"
)

// emit fires a lifecycle point for the node: telemetry, the scheduler
// observer, then the node's own callbacks.
func (n *TaskNode) emit(ctx context.Context, kind Kind, cause error) {
	s := n.sched()
	s.notify(ctx, kind, n, cause)

	cb := n.Callback()
	if cb == nil {
		return
	}
	if err := cb.invoke(ctx, kind, n.self(), cause); err != nil {
		n.callbackFailed(ctx, kind, err)
	}
}

func (n *TaskNode) emitEnd(ctx context.Context) {
	switch n.self().(type) {
	case *Job:
		n.emit(ctx, AtJobEnd, nil)
	case *Handler:
		n.emit(ctx, AtHandlerEnd, nil)
	}
}

// callbackFailed handles an error returned or raised by a callback. Failures
// at the start points fail the node. Once a node has reached a final state,
// at its end points, while handling a failure, a termination or the scheduler
// stop, failures are only logged.
func (n *TaskNode) callbackFailed(ctx context.Context, kind Kind, err error) {
	nerr := &NodeError{NodeID: n.currentID(), Kind: kind, Err: err}
	switch kind {
	case AtJobEnd, AtHandlerEnd, AtException, AtTerminate, AtSchedulerEnd:
		n.sched().log().ErrorContext(ctx, "callback failed", slog.String("kind", string(kind)), slogx.Error(nerr))
	default:
		n.fail(ctx, nerr)
	}
}

// fail moves the node to EXCEPTION, records the error and fires at_exception.
// A terminated node stays terminated and the failure is only logged.
func (n *TaskNode) fail(ctx context.Context, err error) {
	var nerr *NodeError
	if ne, ok := err.(*NodeError); ok {
		nerr = ne
	} else {
		nerr = &NodeError{NodeID: n.currentID(), Err: err}
	}

	s := n.sched()
	switch x := n.self().(type) {
	case *Job:
		x.record(x.Result(), nerr)
	case *Handler:
		x.record(x.Result(), nerr)
	}

	if !n.markFailed() {
		s.log().WarnContext(ctx, "failure after termination", slog.String("node", n.label()), slogx.Error(nerr))
		return
	}
	s.log().ErrorContext(ctx, "node failed", slog.String("node", n.label()), slog.String("kind", n.kind()), slogx.Error(nerr))
	n.recordSpanError(nerr)
	n.emit(ctx, AtException, nerr)
}

func (n *TaskNode) currentID() ID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.id
}

// notify forwards a lifecycle point to telemetry and the observer. A node
// that is not bound to a scheduler has neither.
func (s *Scheduler) notify(ctx context.Context, kind Kind, n *TaskNode, cause error) {
	if s == nil {
		return
	}
	switch kind {
	case AtJobStart:
		j, ok := n.self().(*Job)
		if !ok {
			return
		}
		n.startSpan(ctx, s)
		s.tel.jobs.Add(ctx, 1, s.metricAttrs())
		s.observer.OnJobStart(ctx, j)
	case AtHandlerStart:
		h, ok := n.self().(*Handler)
		if !ok {
			return
		}
		n.startSpan(ctx, s)
		s.tel.handlers.Add(ctx, 1, s.metricAttrs())
		s.observer.OnHandlerStart(ctx, h)
	case AtException:
		s.tel.failed.Add(ctx, 1, s.metricAttrs())
		s.observer.OnException(ctx, n.self(), cause)
	case AtTerminate:
		s.tel.terminated.Add(ctx, 1, s.metricAttrs())
		s.observer.OnTerminate(ctx, n.self())
	case AtHandlerEnd:
		if h, ok := n.self().(*Handler); ok {
			s.observer.OnHandlerEnd(ctx, h)
		}
	case AtJobEnd:
		if j, ok := n.self().(*Job); ok {
			s.observer.OnJobEnd(ctx, j)
		}
	}
}
