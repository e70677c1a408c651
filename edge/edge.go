// Package edge wires nodes into graphs: when one node ends, another is
// re-submitted under the scheduler root. Edges may form cycles; a node that is
// re-submitted starts a new run with its state reset to ACTIVE.
package edge

import (
	"context"
	"errors"
	"fmt"

	"github.com/casualjim/strix"
)

// ErrUnsupportedNode is returned when an edge endpoint is neither a job nor a handler.
var ErrUnsupportedNode = errors.New("edge endpoints must be jobs or handlers")

func base(n strix.Node) (*strix.TaskNode, strix.Kind, error) {
	switch x := n.(type) {
	case *strix.Job:
		return &x.TaskNode, strix.AtJobEnd, nil
	case *strix.Handler:
		return &x.TaskNode, strix.AtHandlerEnd, nil
	default:
		return nil, "", fmt.Errorf("%w: got %T", ErrUnsupportedNode, n)
	}
}

// AddEdge makes to run every time from ends. A non-nil data is shared with to.
// Handlers on either end are marked reusable so they can run repeatedly.
func AddEdge(from, to strix.Node, data any) error {
	src, end, err := base(from)
	if err != nil {
		return err
	}
	dst, _, err := base(to)
	if err != nil {
		return err
	}
	if h, ok := from.(*strix.Handler); ok {
		h.SetReusable(true)
	}
	if data != nil {
		dst.SetData(data)
	}
	return src.AddCallbackEntries(end, strix.Entry{
		Func: func(ctx context.Context, _ strix.Call) error {
			return resubmit(ctx, src, to)
		},
	})
}

// AddConditionalEdge picks the next node from routes, keyed by the result of
// from each time it ends. No matching route means nothing runs next. A non-nil
// data is shared with the chosen node. The result is turned into a key by
// ResultKey unless another selector is given.
func AddConditionalEdge(from strix.Node, routes *Routes, data any, selector ...Selector) error {
	src, end, err := base(from)
	if err != nil {
		return err
	}
	if routes == nil {
		return errors.New("routes are required")
	}
	for key, to := range routes.All() {
		if _, _, err := base(to); err != nil {
			return fmt.Errorf("route %q: %w", key, err)
		}
	}
	keyOf := ResultKey
	if len(selector) > 0 && selector[0] != nil {
		keyOf = selector[0]
	}
	if h, ok := from.(*strix.Handler); ok {
		h.SetReusable(true)
	}

	return src.AddCallbackEntries(end, strix.Entry{
		Func: func(ctx context.Context, _ strix.Call) error {
			key, ok := keyOf(from)
			if !ok {
				return nil
			}
			to, ok := routes.Get(key)
			if !ok {
				return nil
			}
			if data != nil {
				dst, _, _ := base(to)
				dst.SetData(data)
			}
			return resubmit(ctx, src, to)
		},
	})
}

func resubmit(ctx context.Context, from *strix.TaskNode, to strix.Node) error {
	s, err := from.Scheduler()
	if err != nil {
		return err
	}
	switch x := to.(type) {
	case *strix.Job:
		return from.PutJob(ctx, x, strix.UnderParent(s))
	case *strix.Handler:
		x.SetReusable(true)
		return from.CallHandler(ctx, x, strix.UnderParent(s))
	default:
		return fmt.Errorf("%w: got %T", ErrUnsupportedNode, to)
	}
}
