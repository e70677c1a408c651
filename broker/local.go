package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/strix/events"
	"github.com/casualjim/strix/pkg/slogx"
	"github.com/casualjim/strix/pkg/stdx"
	"github.com/casualjim/strix/pkg/uuidx"
	"github.com/fogfish/opts"
)

const (
	defaultSlowSubscriberTimeout = 100 * time.Millisecond
	subscriptionBuffer           = 50
)

type localBroker struct {
	topics                *haxmap.Map[string, *topic]
	slowSubscriberTimeout time.Duration
}

// WithSlowSubscriberTimeout configures how long a publish waits on a full
// subscriber before dropping it. Publishers that hold a scheduler turn wait
// this long per event, so keep it short for them.
func WithSlowSubscriberTimeout(timeout time.Duration) opts.Option[localBroker] {
	return opts.Type[localBroker](func(b *localBroker) error {
		if timeout <= 0 {
			return fmt.Errorf("slow subscriber timeout must be positive, got %s", timeout)
		}
		b.slowSubscriberTimeout = timeout
		return nil
	})
}

// NewLocal returns an in-process broker.
func NewLocal(options ...opts.Option[localBroker]) (Broker, error) {
	b := &localBroker{
		topics:                haxmap.New[string, *topic](),
		slowSubscriberTimeout: defaultSlowSubscriberTimeout,
	}
	if err := opts.Apply(b, options); err != nil {
		return nil, err
	}
	return b, nil
}

// Local is NewLocal for options known to be valid. It panics otherwise.
func Local(options ...opts.Option[localBroker]) Broker {
	return stdx.Must(NewLocal(options...))
}

func (b *localBroker) Topic(ctx context.Context, id string) Topic {
	topic, _ := b.topics.GetOrCompute(id, func() *topic {
		return &topic{
			ID:                    id,
			subscriptions:         haxmap.New[string, *subscription](),
			slowSubscriberTimeout: b.slowSubscriberTimeout,
		}
	})
	return topic
}

type topic struct {
	ID                    string
	subscriptions         *haxmap.Map[string, *subscription]
	slowSubscriberTimeout time.Duration
}

func (t *topic) Publish(ctx context.Context, event events.Event) error {
	t.subscriptions.ForEach(func(id string, sub *subscription) bool {
		if sub == nil {
			return true
		}
		if err := ctx.Err(); err != nil {
			return false
		}
		if !sub.send(ctx, event, t.slowSubscriberTimeout) {
			sub.Unsubscribe()
		}
		return ctx.Err() == nil
	})
	return ctx.Err()
}

func (t *topic) Subscribe(ctx context.Context, hook events.Hook) (Subscription, error) {
	if hook == nil {
		return nil, fmt.Errorf("hook is required")
	}
	return t.newSubscription(ctx, hook), nil
}

func (t *topic) newSubscription(ctx context.Context, hook events.Hook) *subscription {
	id := uuidx.NewString()
	sub := &subscription{
		id:      id,
		ctx:     ctx,
		channel: make(chan events.Event, subscriptionBuffer),
		onClose: func() { t.subscriptions.Del(id) },
		hook:    hook,
	}
	t.subscriptions.Set(id, sub)
	go sub.forwardToHook()
	return sub
}

type subscription struct {
	id        string
	ctx       context.Context
	channel   chan events.Event
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	onClose   func()
	hook      events.Hook
}

func (s *subscription) ID() string {
	return s.id
}

// send delivers an event to the subscriber. It reports false when the
// subscriber is gone or too slow and should be dropped.
func (s *subscription) send(ctx context.Context, event events.Event, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}

	select {
	case <-s.ctx.Done():
		return false
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-s.ctx.Done():
		return false
	case s.channel <- event:
		return true
	case <-timer.C:
		slog.WarnContext(ctx, "dropping slow subscriber", slog.String("subscription", s.id))
		return false
	}
}

func (s *subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		s.mu.Lock()
		s.closed = true
		close(s.channel)
		s.mu.Unlock()
	})
}

func (s *subscription) forwardToHook() {
	for {
		select {
		case event, ok := <-s.channel:
			if !ok {
				return
			}
			if err := events.Dispatch(s.ctx, s.hook, event); err != nil {
				slog.ErrorContext(s.ctx, "failed to dispatch event", slog.String("subscription", s.id), slogx.Error(err))
			}
		case <-s.ctx.Done():
			return
		}
	}
}
