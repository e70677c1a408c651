package strix

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/casualjim/strix/pkg/stdx"
	"github.com/fogfish/opts"
)

// HandlerBody is the work of a handler. Each invocation runs on its own
// goroutine while holding the scheduler turn, which it gives up only inside
// Offload and Wait.
type HandlerBody interface {
	Handle(ctx context.Context, h *Handler) (any, error)
}

// HandlerFunc adapts a function to the HandlerBody interface.
type HandlerFunc func(ctx context.Context, h *Handler) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, h *Handler) (any, error) {
	return f(ctx, h)
}

// Handler is an awaitable unit of work spawned by a job or another handler.
// A handler runs once unless it is marked reusable.
type Handler struct {
	TaskNode
	body HandlerBody

	run       sync.Mutex
	reusable  bool
	invoked   bool
	done      chan struct{}
	result    any
	resultSet bool
	err       error
}

func NewHandler(body HandlerBody, options ...opts.Option[TaskNode]) *Handler {
	h := &Handler{body: body}
	h.init(h, options)
	return h
}

// NewHandlerFunc is NewHandler for a plain function.
func NewHandlerFunc(fn func(ctx context.Context, h *Handler) (any, error), options ...opts.Option[TaskNode]) *Handler {
	if fn == nil {
		return NewHandler(nil, options...)
	}
	return NewHandler(HandlerFunc(fn), options...)
}

func (h *Handler) Body() HandlerBody { return h.body }

func (h *Handler) SetReusable(reusable bool) {
	h.run.Lock()
	h.reusable = reusable
	h.run.Unlock()
}

func (h *Handler) Reusable() bool {
	h.run.Lock()
	defer h.run.Unlock()
	return h.reusable
}

// Result is the value of the last run: what the body returned, or what it
// passed to SetResult when it returned nil.
func (h *Handler) Result() any {
	h.run.Lock()
	defer h.run.Unlock()
	return h.result
}

func (h *Handler) SetResult(v any) {
	h.run.Lock()
	h.result = v
	h.resultSet = true
	h.run.Unlock()
}

func (h *Handler) Err() error {
	h.run.Lock()
	defer h.run.Unlock()
	return h.err
}

// Done is closed when the current run finishes. It is nil before the first invocation.
func (h *Handler) Done() <-chan struct{} {
	h.run.Lock()
	defer h.run.Unlock()
	return h.done
}

// Wait blocks until the current run of the handler finishes and returns its
// result. Called from a body, the scheduler turn is released while waiting.
func (h *Handler) Wait(ctx context.Context) (any, error) {
	done := h.Done()
	if done == nil {
		return nil, fmt.Errorf("wait %s: %w", h, ErrNotInvoked)
	}
	var werr error
	suspend(ctx, func() {
		select {
		case <-done:
		case <-ctx.Done():
			werr = ctx.Err()
		}
	})
	if werr != nil {
		return nil, werr
	}
	h.run.Lock()
	defer h.run.Unlock()
	return h.result, h.err
}

// Await waits for the handler and asserts its result to T.
func Await[T any](ctx context.Context, h *Handler) (T, error) {
	v, err := h.Wait(ctx)
	if err != nil {
		return stdx.Zero[T](), err
	}
	if v == nil {
		return stdx.Zero[T](), nil
	}
	t, ok := v.(T)
	if !ok {
		return stdx.Zero[T](), fmt.Errorf("await %s: result is %T, not %s", h, v, reflect.TypeFor[T]())
	}
	return t, nil
}

func (h *Handler) validate() error {
	if h == nil || h.body == nil {
		return ErrNotHandler
	}
	return nil
}

// begin claims a run. undo gives the claim back when the run never starts.
func (h *Handler) begin() (done chan struct{}, undo func(), err error) {
	h.run.Lock()
	defer h.run.Unlock()
	if h.invoked && !h.reusable {
		return nil, nil, fmt.Errorf("call %s: %w", h, ErrHandlerSpent)
	}
	prevInvoked, prevDone := h.invoked, h.done
	done = make(chan struct{})
	h.invoked = true
	h.done = done
	h.resultSet = false
	h.err = nil
	undo = func() {
		h.run.Lock()
		defer h.run.Unlock()
		if h.done == done {
			h.invoked, h.done = prevInvoked, prevDone
		}
	}
	return done, undo, nil
}

func (h *Handler) record(result any, err error) {
	h.run.Lock()
	defer h.run.Unlock()
	if result != nil || !h.resultSet {
		h.result = result
	}
	if err != nil {
		h.err = err
	}
}

// abandon gives back a claimed run that never started and releases its
// waiters with err.
func (h *Handler) abandon(done chan struct{}, undo func(), err error) {
	undo()
	h.run.Lock()
	h.err = err
	h.run.Unlock()
	close(done)
}

// conclude releases everyone waiting on the run.
func (h *Handler) conclude(done chan struct{}) {
	close(done)
}

func (h *Handler) call(ctx context.Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverErr(r)
		}
	}()
	return h.body.Handle(ctx, h)
}

func (h *Handler) String() string {
	return fmt.Sprintf("handler(%s)", h.label())
}
