package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/casualjim/strix"
	"github.com/casualjim/strix/pkg/slogx"
	"github.com/go-openapi/strfmt"
)

// Publisher accepts events; a broker topic is one.
type Publisher interface {
	Publish(context.Context, Event) error
}

// NewObserver returns a scheduler observer that publishes every lifecycle
// notification. Publish errors are logged and otherwise ignored. Publishing
// happens while the scheduler turn is held, so the publisher should not block
// for long; a local broker should be built with a short
// broker.WithSlowSubscriberTimeout.
func NewObserver(pub Publisher) strix.Observer {
	return &observer{pub: pub, now: time.Now}
}

type observer struct {
	pub Publisher
	now func() time.Time
}

func (o *observer) header(s *strix.Scheduler) Header {
	return Header{
		RunID:     s.RunID(),
		Scheduler: s.Name(),
		Timestamp: strfmt.DateTime(o.now().UTC()),
	}
}

// nodeHeader builds the header of a node event. Nodes that are not bound to a
// scheduler have nothing to report.
func (o *observer) nodeHeader(n strix.Node) (Header, NodeRef, bool) {
	s, err := schedulerOf(n)
	if err != nil {
		return Header{}, NodeRef{}, false
	}
	return o.header(s), refOf(n), true
}

func schedulerOf(n strix.Node) (*strix.Scheduler, error) {
	switch x := n.(type) {
	case *strix.Job:
		return x.Scheduler()
	case *strix.Handler:
		return x.Scheduler()
	case *strix.Scheduler:
		return x, nil
	case *strix.TaskNode:
		return x.Scheduler()
	default:
		return nil, strix.ErrAttributeNotSet
	}
}

func refOf(n strix.Node) NodeRef {
	var (
		id   strix.ID
		kind string
	)
	switch x := n.(type) {
	case *strix.Job:
		id, _ = x.ID()
		kind = "job"
	case *strix.Handler:
		id, _ = x.ID()
		kind = "handler"
	case *strix.Scheduler:
		id, _ = x.ID()
		kind = "scheduler"
	case *strix.TaskNode:
		id, _ = x.ID()
		kind = "node"
	}
	return NodeRef{NodeID: id.String(), NodeKind: kind}
}

func (o *observer) publish(ctx context.Context, e Event) {
	if err := o.pub.Publish(ctx, e); err != nil {
		slog.WarnContext(ctx, "failed to publish event", slog.String("type", e.EventType()), slogx.Error(err))
	}
}

func (o *observer) OnJobStart(ctx context.Context, j *strix.Job) {
	if h, ref, ok := o.nodeHeader(j); ok {
		o.publish(ctx, JobStarted{Header: h, NodeRef: ref})
	}
}

func (o *observer) OnHandlerStart(ctx context.Context, hd *strix.Handler) {
	if h, ref, ok := o.nodeHeader(hd); ok {
		o.publish(ctx, HandlerStarted{Header: h, NodeRef: ref})
	}
}

func (o *observer) OnException(ctx context.Context, n strix.Node, err error) {
	if h, ref, ok := o.nodeHeader(n); ok {
		o.publish(ctx, NodeFailed{Header: h, NodeRef: ref, Err: err})
	}
}

func (o *observer) OnTerminate(ctx context.Context, n strix.Node) {
	if h, ref, ok := o.nodeHeader(n); ok {
		o.publish(ctx, NodeTerminated{Header: h, NodeRef: ref})
	}
}

func (o *observer) OnHandlerEnd(ctx context.Context, hd *strix.Handler) {
	if h, ref, ok := o.nodeHeader(hd); ok {
		o.publish(ctx, HandlerEnded{Header: h, NodeRef: ref, State: hd.State().String()})
	}
}

func (o *observer) OnJobEnd(ctx context.Context, j *strix.Job) {
	if h, ref, ok := o.nodeHeader(j); ok {
		o.publish(ctx, JobEnded{Header: h, NodeRef: ref, State: j.State().String()})
	}
}

func (o *observer) OnSchedulerEnd(ctx context.Context, s *strix.Scheduler, result any) {
	o.publish(ctx, SchedulerStopped{Header: o.header(s), Result: ResultJSON(result)})
}
