package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/casualjim/strix/events"
	"github.com/fatih/color"
)

// printer renders broker events as a compact trace.
type printer struct {
	out     io.Writer
	dim     *color.Color
	fail    *color.Color
	stopped chan struct{}
	once    sync.Once
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:     out,
		dim:     color.New(color.Faint),
		fail:    color.New(color.FgRed, color.Bold),
		stopped: make(chan struct{}),
	}
}

func (p *printer) trace(format string, args ...any) {
	p.dim.Fprintf(p.out, "  · "+format+"\n", args...)
}

func (p *printer) OnJobStarted(_ context.Context, e events.JobStarted) {
	p.trace("job %s started", e.NodeID)
}

func (p *printer) OnHandlerStarted(_ context.Context, e events.HandlerStarted) {
	p.trace("handler %s started", e.NodeID)
}

func (p *printer) OnJobEnded(_ context.Context, e events.JobEnded) {
	p.trace("job %s %s", e.NodeID, e.State)
}

func (p *printer) OnHandlerEnded(_ context.Context, e events.HandlerEnded) {
	p.trace("handler %s %s", e.NodeID, e.State)
}

func (p *printer) OnNodeFailed(_ context.Context, e events.NodeFailed) {
	p.fail.Fprintf(p.out, "%s %s: %v\n", e.NodeKind, e.NodeID, e.Err)
}

func (p *printer) OnNodeTerminated(_ context.Context, e events.NodeTerminated) {
	p.trace("%s %s terminated", e.NodeKind, e.NodeID)
}

func (p *printer) OnSchedulerStopped(_ context.Context, e events.SchedulerStopped) {
	fmt.Fprintf(p.out, "%s %s stopped, result %s\n", color.YellowString("scheduler:"), e.Scheduler, e.Result.Raw)
	p.once.Do(func() { close(p.stopped) })
}
