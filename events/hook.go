package events

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/casualjim/strix/pkg/slogx"
	json "github.com/goccy/go-json"
)

// Hook consumes events delivered by a broker subscription.
//
// There is no no-op base implementation: when a new event type is
// added every consumer has to decide how to handle it.
type Hook interface {
	OnJobStarted(context.Context, JobStarted)
	OnHandlerStarted(context.Context, HandlerStarted)
	OnJobEnded(context.Context, JobEnded)
	OnHandlerEnded(context.Context, HandlerEnded)
	OnNodeFailed(context.Context, NodeFailed)
	OnNodeTerminated(context.Context, NodeTerminated)
	OnSchedulerStopped(context.Context, SchedulerStopped)
}

// Dispatch calls the hook method matching the event type.
func Dispatch(ctx context.Context, hook Hook, event Event) error {
	switch e := event.(type) {
	case JobStarted:
		hook.OnJobStarted(ctx, e)
	case HandlerStarted:
		hook.OnHandlerStarted(ctx, e)
	case JobEnded:
		hook.OnJobEnded(ctx, e)
	case HandlerEnded:
		hook.OnHandlerEnded(ctx, e)
	case NodeFailed:
		hook.OnNodeFailed(ctx, e)
	case NodeTerminated:
		hook.OnNodeTerminated(ctx, e)
	case SchedulerStopped:
		hook.OnSchedulerStopped(ctx, e)
	default:
		return fmt.Errorf("unknown event type: %T", event)
	}
	return nil
}

func LoggingHook() Hook {
	return &loggingHook{}
}

type loggingHook struct{}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func (loggingHook) OnJobStarted(ctx context.Context, e JobStarted) {
	slog.DebugContext(ctx, "job started", "event", mustJSON(e))
}

func (loggingHook) OnHandlerStarted(ctx context.Context, e HandlerStarted) {
	slog.DebugContext(ctx, "handler started", "event", mustJSON(e))
}

func (loggingHook) OnJobEnded(ctx context.Context, e JobEnded) {
	slog.InfoContext(ctx, "job ended", "event", mustJSON(e))
}

func (loggingHook) OnHandlerEnded(ctx context.Context, e HandlerEnded) {
	slog.InfoContext(ctx, "handler ended", "event", mustJSON(e))
}

func (loggingHook) OnNodeFailed(ctx context.Context, e NodeFailed) {
	slog.ErrorContext(ctx, "node failed", slog.String("node", e.NodeID), slogx.Error(e))
}

func (loggingHook) OnNodeTerminated(ctx context.Context, e NodeTerminated) {
	slog.InfoContext(ctx, "node terminated", "event", mustJSON(e))
}

func (loggingHook) OnSchedulerStopped(ctx context.Context, e SchedulerStopped) {
	slog.InfoContext(ctx, "scheduler stopped", "event", mustJSON(e))
}

func NewCompositeHook(hooks ...Hook) Hook {
	return CompositeHook(hooks)
}

// CompositeHook fans events out to several hooks in order.
type CompositeHook []Hook

func (c CompositeHook) OnJobStarted(ctx context.Context, e JobStarted) {
	for h := range slices.Values(c) {
		h.OnJobStarted(ctx, e)
	}
}

func (c CompositeHook) OnHandlerStarted(ctx context.Context, e HandlerStarted) {
	for h := range slices.Values(c) {
		h.OnHandlerStarted(ctx, e)
	}
}

func (c CompositeHook) OnJobEnded(ctx context.Context, e JobEnded) {
	for h := range slices.Values(c) {
		h.OnJobEnded(ctx, e)
	}
}

func (c CompositeHook) OnHandlerEnded(ctx context.Context, e HandlerEnded) {
	for h := range slices.Values(c) {
		h.OnHandlerEnded(ctx, e)
	}
}

func (c CompositeHook) OnNodeFailed(ctx context.Context, e NodeFailed) {
	for h := range slices.Values(c) {
		h.OnNodeFailed(ctx, e)
	}
}

func (c CompositeHook) OnNodeTerminated(ctx context.Context, e NodeTerminated) {
	for h := range slices.Values(c) {
		h.OnNodeTerminated(ctx, e)
	}
}

func (c CompositeHook) OnSchedulerStopped(ctx context.Context, e SchedulerStopped) {
	for h := range slices.Values(c) {
		h.OnSchedulerStopped(ctx, e)
	}
}
