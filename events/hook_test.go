package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHook struct {
	calls []string
	last  Event
}

func (m *mockHook) seen(name string, e Event) {
	m.calls = append(m.calls, name)
	m.last = e
}

func (m *mockHook) OnJobStarted(_ context.Context, e JobStarted)         { m.seen("job_started", e) }
func (m *mockHook) OnHandlerStarted(_ context.Context, e HandlerStarted) { m.seen("handler_started", e) }
func (m *mockHook) OnJobEnded(_ context.Context, e JobEnded)             { m.seen("job_ended", e) }
func (m *mockHook) OnHandlerEnded(_ context.Context, e HandlerEnded)     { m.seen("handler_ended", e) }
func (m *mockHook) OnNodeFailed(_ context.Context, e NodeFailed)         { m.seen("node_failed", e) }
func (m *mockHook) OnNodeTerminated(_ context.Context, e NodeTerminated) { m.seen("node_terminated", e) }
func (m *mockHook) OnSchedulerStopped(_ context.Context, e SchedulerStopped) {
	m.seen("scheduler_stopped", e)
}

type unknownEvent struct{}

func (unknownEvent) strixEvent()       {}
func (unknownEvent) EventType() string { return "unknown" }

func allEvents() []Event {
	header := testHeader()
	ref := NodeRef{NodeID: "#1", NodeKind: "job"}
	return []Event{
		JobStarted{Header: header, NodeRef: ref},
		HandlerStarted{Header: header, NodeRef: ref},
		JobEnded{Header: header, NodeRef: ref, State: "COMPLETED"},
		HandlerEnded{Header: header, NodeRef: ref, State: "COMPLETED"},
		NodeFailed{Header: header, NodeRef: ref, Err: errors.New("boom")},
		NodeTerminated{Header: header, NodeRef: ref},
		SchedulerStopped{Header: header},
	}
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("routes by type", func(t *testing.T) {
		for _, event := range allEvents() {
			hook := &mockHook{}
			require.NoError(t, Dispatch(ctx, hook, event))
			assert.Equal(t, []string{event.EventType()}, hook.calls)
			assert.Equal(t, event, hook.last)
		}
	})

	t.Run("rejects unknown events", func(t *testing.T) {
		hook := &mockHook{}
		err := Dispatch(ctx, hook, unknownEvent{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown event type")
		assert.Empty(t, hook.calls)
	})
}

func TestCompositeHook(t *testing.T) {
	mock1 := &mockHook{}
	mock2 := &mockHook{}
	composite := NewCompositeHook(mock1, mock2)
	ctx := context.Background()

	for _, event := range allEvents() {
		require.NoError(t, Dispatch(ctx, composite, event))
	}

	expected := []string{
		TypeJobStarted, TypeHandlerStarted, TypeJobEnded, TypeHandlerEnded,
		TypeNodeFailed, TypeNodeTerminated, TypeSchedulerStopped,
	}
	assert.Equal(t, expected, mock1.calls)
	assert.Equal(t, expected, mock2.calls)
}

func TestLoggingHook(t *testing.T) {
	hook := LoggingHook()
	ctx := context.Background()
	for _, event := range allEvents() {
		require.NotPanics(t, func() {
			require.NoError(t, Dispatch(ctx, hook, event))
		})
	}
}

func TestMustJSON(t *testing.T) {
	t.Run("encodes events", func(t *testing.T) {
		out := mustJSON(JobStarted{Header: testHeader(), NodeRef: NodeRef{NodeID: "#1"}})
		assert.Contains(t, out, `"type":"job_started"`)
	})

	t.Run("panics on unencodable values", func(t *testing.T) {
		assert.Panics(t, func() { mustJSON(make(chan int)) })
	})
}
