// Package broker distributes scheduler events between components through
// named topics. It provides a minimal interface with two implementations: an
// in-process broker and one backed by NATS subjects.
//
// Design decisions:
//   - Context-first: all operations accept context.Context for cancellation
//   - Topic-based: events are distributed through named topics
//   - Hook integration: subscribers are events.Hook implementations
//   - Subscription management: explicit subscription lifecycle with cleanup
//   - Slow subscribers are dropped rather than allowed to stall publishers
//
// Interface hierarchy:
//   - Broker: access to topics
//     └── Topic: publish and subscribe
//     └── Subscription: unsubscribe
//
// Example usage:
//
//	topic := broker.Local().Topic(ctx, "pipeline")
//
//	sub, err := topic.Subscribe(ctx, events.LoggingHook())
//	if err != nil {
//	    return err
//	}
//	defer sub.Unsubscribe()
//
//	s := strix.New(strix.WithObserver(events.NewObserver(topic)))
package broker
