package strix

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/casualjim/strix"

type telemetry struct {
	tracer     trace.Tracer
	jobs       metric.Int64Counter
	handlers   metric.Int64Counter
	failed     metric.Int64Counter
	terminated metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*telemetry, error) {
	meter := mp.Meter(scopeName)

	jobs, err := meter.Int64Counter("strix.jobs.started",
		metric.WithDescription("Jobs started by the scheduler loop"),
		metric.WithUnit("{job}"))
	if err != nil {
		return nil, err
	}

	handlers, err := meter.Int64Counter("strix.handlers.started",
		metric.WithDescription("Handler runs started"),
		metric.WithUnit("{handler}"))
	if err != nil {
		return nil, err
	}

	failed, err := meter.Int64Counter("strix.nodes.failed",
		metric.WithDescription("Nodes that ended in EXCEPTION"),
		metric.WithUnit("{node}"))
	if err != nil {
		return nil, err
	}

	terminated, err := meter.Int64Counter("strix.nodes.terminated",
		metric.WithDescription("Nodes that were terminated"),
		metric.WithUnit("{node}"))
	if err != nil {
		return nil, err
	}

	return &telemetry{
		tracer:     tp.Tracer(scopeName),
		jobs:       jobs,
		handlers:   handlers,
		failed:     failed,
		terminated: terminated,
	}, nil
}

func (s *Scheduler) metricAttrs() metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("scheduler", s.name))
}

// startSpan opens the span of a node run, nested under the span of its parent.
func (n *TaskNode) startSpan(ctx context.Context, s *Scheduler) {
	n.mu.RLock()
	parent := n.parent
	id := n.id
	n.mu.RUnlock()

	if parent != nil {
		parent.mu.RLock()
		if parent.span != nil {
			ctx = trace.ContextWithSpan(ctx, parent.span)
		}
		parent.mu.RUnlock()
	}

	_, span := s.tel.tracer.Start(ctx, "strix."+n.kind(),
		trace.WithAttributes(
			attribute.String("strix.node.id", id.String()),
			attribute.String("strix.node.kind", n.kind()),
			attribute.String("strix.scheduler", s.name),
			attribute.String("strix.run_id", s.RunID().String()),
		))

	n.mu.Lock()
	prev := n.span
	n.span = span
	n.mu.Unlock()
	if prev != nil {
		prev.End()
	}
}

func (n *TaskNode) recordSpanError(err error) {
	n.mu.RLock()
	span := n.span
	n.mu.RUnlock()
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (n *TaskNode) endSpan() {
	n.mu.Lock()
	span := n.span
	n.span = nil
	state := n.state
	n.mu.Unlock()
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String("strix.node.state", state.String()))
	span.End()
}
