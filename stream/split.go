// Package stream splits one channel of items into named sub-streams.
//
// It is the plumbing used by handlers that consume an incremental source, for
// example an LLM response parsed into content and tool-call fragments, and
// feed each kind to a different consumer.
package stream

import (
	"context"
	"fmt"

	"github.com/alphadose/haxmap"
)

// Classifier names the stream an item belongs to. Items it rejects are dropped.
type Classifier[T any] func(T) (string, bool)

type Router[T any] struct {
	streams *haxmap.Map[string, chan T]
	names   []string
	done    chan struct{}
	dropped int
}

// Split starts routing src into one output per name. Items classified into a
// name that was not declared are dropped. Every output is closed once src is
// closed or ctx is done.
//
// Outputs are unbuffered and written in source order, so a consumer that stops
// reading stalls the other streams. Drain every stream you asked for.
func Split[T any](ctx context.Context, src <-chan T, classify Classifier[T], names ...string) (*Router[T], error) {
	if src == nil {
		return nil, fmt.Errorf("source is required")
	}
	if classify == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one stream name is required")
	}

	r := &Router[T]{
		streams: haxmap.New[string, chan T](),
		done:    make(chan struct{}),
	}
	for _, name := range names {
		if _, exists := r.streams.Get(name); exists {
			return nil, fmt.Errorf("duplicate stream name %q", name)
		}
		r.streams.Set(name, make(chan T))
		r.names = append(r.names, name)
	}

	go r.route(ctx, src, classify)
	return r, nil
}

func (r *Router[T]) route(ctx context.Context, src <-chan T, classify Classifier[T]) {
	defer func() {
		r.streams.ForEach(func(_ string, ch chan T) bool {
			close(ch)
			return true
		})
		close(r.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-src:
			if !ok {
				return
			}
			name, ok := classify(item)
			if !ok {
				r.dropped++
				continue
			}
			out, ok := r.streams.Get(name)
			if !ok {
				r.dropped++
				continue
			}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stream returns the output for name, or nil when no such stream was declared.
func (r *Router[T]) Stream(name string) <-chan T {
	ch, ok := r.streams.Get(name)
	if !ok {
		return nil
	}
	return ch
}

// Names lists the declared streams in declaration order.
func (r *Router[T]) Names() []string {
	return append([]string(nil), r.names...)
}

// Done is closed after every output has been closed.
func (r *Router[T]) Done() <-chan struct{} {
	return r.done
}

// Dropped counts items that matched no stream. It is only meaningful after Done.
func (r *Router[T]) Dropped() int {
	<-r.done
	return r.dropped
}
