package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/casualjim/strix/events"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokerFactory creates a new broker instance for testing
type brokerFactory func(t *testing.T) Broker

type acceptanceTest struct {
	name string
	test func(t *testing.T, createBroker brokerFactory)
}

// runAcceptanceTests runs all acceptance tests against a broker implementation
func runAcceptanceTests(t *testing.T, factory brokerFactory) {
	tests := []acceptanceTest{
		{"creates unique topics", testUniqueTopics},
		{"reuses existing topics", testReuseTopics},
		{"publishes events to all subscribers", testPublishToAllSubscribers},
		{"handles subscription lifecycle", testSubscriptionLifecycle},
		{"handles context cancellation", testContextCancellation},
		{"handles concurrent operations", testConcurrentOperations},
		{"validates hook requirement", testHookValidation},
		{"handles slow subscribers", testSlowSubscribers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.test(t, factory)
		})
	}
}

func TestBrokerImplementations(t *testing.T) {
	t.Run("Local", func(t *testing.T) {
		runAcceptanceTests(t, func(t *testing.T) Broker {
			return Local()
		})
	})

	t.Run("NATS", func(t *testing.T) {
		runAcceptanceTests(t, func(t *testing.T) Broker {
			nc, err := nats.Connect(nats.DefaultURL)
			if err != nil {
				t.Skipf("nats server not available: %v", err)
			}
			t.Cleanup(func() { nc.Close() })
			return NATS(nc)
		})
	})
}

// subject returns a topic name that does not collide with other tests sharing
// a NATS server.
func subject(t *testing.T) string {
	return fmt.Sprintf("strix-test-%s", uuid.NewString())
}

func jobStarted(i int) events.JobStarted {
	return events.JobStarted{
		Header: events.Header{
			RunID:     uuid.New(),
			Scheduler: "test",
			Timestamp: strfmt.DateTime(time.Now().UTC()),
		},
		NodeRef: events.NodeRef{NodeID: fmt.Sprintf("#%d", i), NodeKind: "job"},
	}
}

func waitGroup(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for events to be processed")
	}
}

func testUniqueTopics(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic1 := broker.Topic(context.Background(), "test1")
	topic2 := broker.Topic(context.Background(), "test2")
	assert.NotSame(t, topic1, topic2)
}

func testReuseTopics(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic1 := broker.Topic(context.Background(), "test")
	topic2 := broker.Topic(context.Background(), "test")
	assert.Same(t, topic1, topic2)
}

func testPublishToAllSubscribers(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic := broker.Topic(context.Background(), subject(t))

	var wg sync.WaitGroup
	recorder1 := newRecordingHook()
	recorder2 := newRecordingHook()
	wg.Add(4) // 2 recorders * 2 events
	recorder1.wg = &wg
	recorder2.wg = &wg

	ctx := context.Background()
	sub1, err := topic.Subscribe(ctx, recorder1)
	require.NoError(t, err)
	sub2, err := topic.Subscribe(ctx, recorder2)
	require.NoError(t, err)
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	runID := uuid.New()
	header := events.Header{RunID: runID, Scheduler: "test", Timestamp: strfmt.DateTime(time.Now().UTC())}

	require.NoError(t, topic.Publish(ctx, events.JobStarted{
		Header:  header,
		NodeRef: events.NodeRef{NodeID: "#1", NodeKind: "job"},
	}))
	require.NoError(t, topic.Publish(ctx, events.NodeFailed{
		Header:  header,
		NodeRef: events.NodeRef{NodeID: "#2", NodeKind: "handler"},
		Err:     fmt.Errorf("boom"),
	}))

	waitGroup(t, &wg, 2*time.Second)

	for _, rec := range []*recordingHook{recorder1, recorder2} {
		rec.mu.Lock()
		if assert.Len(t, rec.jobsStarted, 1) {
			assert.Equal(t, runID, rec.jobsStarted[0].RunID)
			assert.Equal(t, "#1", rec.jobsStarted[0].NodeID)
		}
		if assert.Len(t, rec.failures, 1) {
			assert.EqualError(t, rec.failures[0].Err, "boom")
		}
		rec.mu.Unlock()
	}
}

func testSubscriptionLifecycle(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic := broker.Topic(context.Background(), subject(t))

	ctx := context.Background()
	recorder := newRecordingHook()
	sub, err := topic.Subscribe(ctx, recorder)
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID())

	sub.Unsubscribe()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, topic.Publish(ctx, jobStarted(1)))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, recorder.total())
}

func testContextCancellation(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic := broker.Topic(context.Background(), subject(t))

	ctx, cancel := context.WithCancel(context.Background())
	recorder := newRecordingHook()
	sub, err := topic.Subscribe(ctx, recorder)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	cancel()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, topic.Publish(context.Background(), jobStarted(1)))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, recorder.total())
}

func testConcurrentOperations(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic := broker.Topic(context.Background(), subject(t))
	ctx := context.Background()

	const (
		numSubscribers = 10
		numEvents      = 100
	)
	recorders := make([]*recordingHook, numSubscribers)
	subs := make([]Subscription, numSubscribers)
	var processWg sync.WaitGroup
	processWg.Add(numSubscribers * numEvents)

	for i := range numSubscribers {
		recorders[i] = newRecordingHook()
		recorders[i].wg = &processWg
		sub, err := topic.Subscribe(ctx, recorders[i])
		require.NoError(t, err)
		subs[i] = sub
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	var publishWg sync.WaitGroup
	publishWg.Add(numEvents)
	for i := range numEvents {
		go func(i int) {
			defer publishWg.Done()
			assert.NoError(t, topic.Publish(ctx, jobStarted(i)))
		}(i)
	}

	publishWg.Wait()
	waitGroup(t, &processWg, 5*time.Second)

	for _, recorder := range recorders {
		recorder.mu.Lock()
		assert.Len(t, recorder.jobsStarted, numEvents)
		recorder.mu.Unlock()
	}
}

func testHookValidation(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic := broker.Topic(context.Background(), subject(t))

	_, err := topic.Subscribe(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook is required")
}

type slowHook struct {
	*recordingHook
	delay time.Duration
}

func (h *slowHook) OnJobStarted(ctx context.Context, e events.JobStarted) {
	time.Sleep(h.delay)
	h.recordingHook.OnJobStarted(ctx, e)
}

func testSlowSubscribers(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic := broker.Topic(context.Background(), subject(t))
	ctx := context.Background()

	recorder := &slowHook{
		recordingHook: newRecordingHook(),
		delay:         200 * time.Millisecond,
	}
	sub, err := topic.Subscribe(ctx, recorder)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	const numEvents = 10
	for i := range numEvents {
		require.NoError(t, topic.Publish(ctx, jobStarted(i)))
	}

	time.Sleep(500 * time.Millisecond)

	recorder.mu.Lock()
	assert.Less(t, len(recorder.jobsStarted), numEvents)
	recorder.mu.Unlock()
}

type recordingHook struct {
	mu          sync.Mutex
	wg          *sync.WaitGroup
	jobsStarted []events.JobStarted
	other       []events.Event
	failures    []events.NodeFailed
}

func newRecordingHook() *recordingHook {
	return &recordingHook{}
}

func (r *recordingHook) record(fn func()) {
	r.mu.Lock()
	fn()
	r.mu.Unlock()
	if r.wg != nil {
		r.wg.Done()
	}
}

func (r *recordingHook) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobsStarted) + len(r.failures) + len(r.other)
}

func (r *recordingHook) OnJobStarted(_ context.Context, e events.JobStarted) {
	r.record(func() { r.jobsStarted = append(r.jobsStarted, e) })
}

func (r *recordingHook) OnHandlerStarted(_ context.Context, e events.HandlerStarted) {
	r.record(func() { r.other = append(r.other, e) })
}

func (r *recordingHook) OnJobEnded(_ context.Context, e events.JobEnded) {
	r.record(func() { r.other = append(r.other, e) })
}

func (r *recordingHook) OnHandlerEnded(_ context.Context, e events.HandlerEnded) {
	r.record(func() { r.other = append(r.other, e) })
}

func (r *recordingHook) OnNodeFailed(_ context.Context, e events.NodeFailed) {
	r.record(func() { r.failures = append(r.failures, e) })
}

func (r *recordingHook) OnNodeTerminated(_ context.Context, e events.NodeTerminated) {
	r.record(func() { r.other = append(r.other, e) })
}

func (r *recordingHook) OnSchedulerStopped(_ context.Context, e events.SchedulerStopped) {
	r.record(func() { r.other = append(r.other, e) })
}
