package strix

import (
	"context"
	"log/slog"
	"slices"

	"github.com/casualjim/strix/pkg/slogx"
)

// Observer is notified at every lifecycle point of every node of a scheduler.
// Unlike callbacks, which are attached per node, an observer sees the whole
// tree. Notifications are delivered while holding the scheduler turn, so
// implementations must not block.
type Observer interface {
	OnJobStart(context.Context, *Job)
	OnHandlerStart(context.Context, *Handler)
	OnException(context.Context, Node, error)
	OnTerminate(context.Context, Node)
	OnHandlerEnd(context.Context, *Handler)
	OnJobEnd(context.Context, *Job)
	OnSchedulerEnd(ctx context.Context, s *Scheduler, result any)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) OnJobStart(context.Context, *Job)               {}
func (NopObserver) OnHandlerStart(context.Context, *Handler)       {}
func (NopObserver) OnException(context.Context, Node, error)      {}
func (NopObserver) OnTerminate(context.Context, Node)             {}
func (NopObserver) OnHandlerEnd(context.Context, *Handler)        {}
func (NopObserver) OnJobEnd(context.Context, *Job)                {}
func (NopObserver) OnSchedulerEnd(context.Context, *Scheduler, any) {}

// LoggingObserver writes every notification to a slog logger.
func LoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingObserver{logger: logger.With(slogx.LoggerName("strix.observer"))}
}

type loggingObserver struct {
	logger *slog.Logger
}

func nodeAttrs(n Node) slog.Attr {
	tn := n.taskNode()
	return slog.Group("node", slog.String("id", tn.label()), slog.String("kind", tn.kind()))
}

func (o *loggingObserver) OnJobStart(ctx context.Context, j *Job) {
	o.logger.DebugContext(ctx, "job started", nodeAttrs(j))
}

func (o *loggingObserver) OnHandlerStart(ctx context.Context, h *Handler) {
	o.logger.DebugContext(ctx, "handler started", nodeAttrs(h))
}

func (o *loggingObserver) OnException(ctx context.Context, n Node, err error) {
	o.logger.ErrorContext(ctx, "node failed", nodeAttrs(n), slogx.Error(err))
}

func (o *loggingObserver) OnTerminate(ctx context.Context, n Node) {
	o.logger.InfoContext(ctx, "node terminated", nodeAttrs(n))
}

func (o *loggingObserver) OnHandlerEnd(ctx context.Context, h *Handler) {
	o.logger.DebugContext(ctx, "handler ended", nodeAttrs(h), slog.String("state", h.State().String()))
}

func (o *loggingObserver) OnJobEnd(ctx context.Context, j *Job) {
	o.logger.DebugContext(ctx, "job ended", nodeAttrs(j), slog.String("state", j.State().String()))
}

func (o *loggingObserver) OnSchedulerEnd(ctx context.Context, s *Scheduler, result any) {
	o.logger.InfoContext(ctx, "scheduler stopped", slog.String("scheduler", s.Name()), slog.Any("result", result))
}

// CompositeObserver fans notifications out to several observers in order.
type CompositeObserver []Observer

func NewCompositeObserver(observers ...Observer) CompositeObserver {
	return CompositeObserver(observers)
}

func (c CompositeObserver) OnJobStart(ctx context.Context, j *Job) {
	for o := range slices.Values(c) {
		o.OnJobStart(ctx, j)
	}
}

func (c CompositeObserver) OnHandlerStart(ctx context.Context, h *Handler) {
	for o := range slices.Values(c) {
		o.OnHandlerStart(ctx, h)
	}
}

func (c CompositeObserver) OnException(ctx context.Context, n Node, err error) {
	for o := range slices.Values(c) {
		o.OnException(ctx, n, err)
	}
}

func (c CompositeObserver) OnTerminate(ctx context.Context, n Node) {
	for o := range slices.Values(c) {
		o.OnTerminate(ctx, n)
	}
}

func (c CompositeObserver) OnHandlerEnd(ctx context.Context, h *Handler) {
	for o := range slices.Values(c) {
		o.OnHandlerEnd(ctx, h)
	}
}

func (c CompositeObserver) OnJobEnd(ctx context.Context, j *Job) {
	for o := range slices.Values(c) {
		o.OnJobEnd(ctx, j)
	}
}

func (c CompositeObserver) OnSchedulerEnd(ctx context.Context, s *Scheduler, result any) {
	for o := range slices.Values(c) {
		o.OnSchedulerEnd(ctx, s, result)
	}
}
