package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/casualjim/strix"
	"github.com/casualjim/strix/edge"
	"github.com/casualjim/strix/stream"
	"github.com/fatih/color"
)

const (
	routeTools  = "tools"
	routeDirect = "direct"
)

type transcript struct {
	Question  string
	Text      []string
	ToolCalls []string
	Tools     []string
}

// model fakes a streaming completion: words come back as text fragments and
// every "search ..." clause becomes a tool call.
func model(ctx context.Context, question string, latency time.Duration) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		send := func(fragment string) bool {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(latency / 10):
			}
			select {
			case <-ctx.Done():
				return false
			case out <- fragment:
				return true
			}
		}
		for clause := range strings.SplitSeq(question, " and ") {
			clause = strings.TrimSpace(clause)
			if query, ok := strings.CutPrefix(clause, "search "); ok {
				if !send("tool:" + query) {
					return
				}
				continue
			}
			for _, word := range strings.Fields(clause) {
				if !send("text:" + word) {
					return
				}
			}
		}
	}()
	return out
}

func classify(fragment string) (string, bool) {
	name, _, ok := strings.Cut(fragment, ":")
	return name, ok
}

func drain(ctx context.Context, router *stream.Router[string], t *transcript) error {
	text, tools := router.Stream("text"), router.Stream("tool")
	for text != nil || tools != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-text:
			if !ok {
				text = nil
				continue
			}
			t.Text = append(t.Text, strings.TrimPrefix(f, "text:"))
		case f, ok := <-tools:
			if !ok {
				tools = nil
				continue
			}
			t.ToolCalls = append(t.ToolCalls, strings.TrimPrefix(f, "tool:"))
		}
	}
	return nil
}

func toolHandler(query string, latency time.Duration) *strix.Handler {
	return strix.NewHandlerFunc(func(ctx context.Context, h *strix.Handler) (any, error) {
		return strix.Offload(ctx, func(ctx context.Context) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(latency):
				return fmt.Sprintf("3 results for %q", query), nil
			}
		})
	}, strix.WithRandomID())
}

// pipeline builds the node graph of questions: ask -> answer, then answer
// routes to compose when tools ran, or straight to report.
type pipeline struct {
	latency time.Duration
	total   int
	done    atomic.Int64
	logger  *slog.Logger
}

func (p *pipeline) question(n int, question string) (*strix.Job, error) {
	answer := strix.NewHandlerFunc(func(ctx context.Context, h *strix.Handler) (any, error) {
		t := &transcript{Question: question}
		router, err := stream.Split(ctx, model(ctx, question, p.latency), classify, "text", "tool")
		if err != nil {
			return nil, err
		}
		if _, err := strix.Offload(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, drain(ctx, router, t)
		}); err != nil {
			return nil, err
		}

		calls := make([]*strix.Handler, 0, len(t.ToolCalls))
		for _, query := range t.ToolCalls {
			tool := toolHandler(query, p.latency)
			if err := h.CallHandler(ctx, tool); err != nil {
				return nil, err
			}
			calls = append(calls, tool)
		}
		for _, tool := range calls {
			res, err := strix.Await[string](ctx, tool)
			if err != nil {
				return nil, fmt.Errorf("tool: %w", err)
			}
			t.Tools = append(t.Tools, res)
		}
		h.SetData(t)

		if len(t.Text) > 0 {
			fmt.Printf("%s %s\n", color.GreenString("assistant:"), strings.Join(t.Text, " "))
		}
		if len(t.Tools) > 0 {
			return routeTools, nil
		}
		return routeDirect, nil
	}, strix.WithID(fmt.Sprintf("answer-%d", n)))

	report := strix.NewJobFunc(func(ctx context.Context, j *strix.Job) (any, error) {
		done := p.done.Add(1)
		p.logger.InfoContext(ctx, "question answered", slog.Int("n", n), slog.Int64("done", done))
		if int(done) >= p.total {
			return done, j.ExitScheduler(done)
		}
		return done, nil
	}, strix.WithID(fmt.Sprintf("report-%d", n)))

	compose := strix.NewJobFunc(func(ctx context.Context, j *strix.Job) (any, error) {
		t, _ := answer.Data().(*transcript)
		if t == nil {
			return nil, fmt.Errorf("answer %d left no transcript", n)
		}
		for _, res := range t.Tools {
			fmt.Printf("%s %s\n", color.MagentaString("tool:"), res)
		}
		return len(t.Tools), nil
	}, strix.WithID(fmt.Sprintf("compose-%d", n)))

	routes := edge.NewRoutes().
		Route(routeTools, compose).
		Route(routeDirect, report)
	if err := edge.AddConditionalEdge(answer, routes, nil); err != nil {
		return nil, err
	}
	if err := edge.AddEdge(compose, report, nil); err != nil {
		return nil, err
	}

	return strix.NewJobFunc(func(ctx context.Context, j *strix.Job) (any, error) {
		fmt.Printf("%s %s\n", color.CyanString("user:"), question)
		return answer, nil
	}, strix.WithID(fmt.Sprintf("ask-%d", n))), nil
}
