// Package events turns scheduler lifecycle notifications into serialisable
// events that can be published on a broker topic and consumed elsewhere.
//
// Design decisions:
//   - One type per lifecycle point, so consumers switch on concrete types
//   - Compact JSON: each type writes a pre-built {"type":...} marker and sets
//     fields with sjson; decoding reads fields with gjson and rejects events
//     missing required fields
//   - Every event carries the run id, the scheduler name and a timestamp; node
//     events also carry the node id and kind
//
// Event hierarchy:
//   - Event: base interface
//     ├── JobStarted, HandlerStarted
//     ├── JobEnded, HandlerEnded: with the final node state
//     ├── NodeFailed: with the error message
//     ├── NodeTerminated
//     └── SchedulerStopped: with the exit result as raw JSON
//
// Example usage:
//
//	topic := broker.Local().Topic(ctx, "pipeline")
//	s := strix.New(strix.WithObserver(events.NewObserver(topic)))
//
//	sub, _ := topic.Subscribe(ctx, events.LoggingHook())
//	defer sub.Unsubscribe()
package events
