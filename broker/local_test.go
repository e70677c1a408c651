package broker

import (
	"context"
	"testing"
	"time"

	"github.com/casualjim/strix/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingHook struct {
	*recordingHook
	release chan struct{}
}

func (h *blockingHook) OnJobStarted(ctx context.Context, e events.JobStarted) {
	<-h.release
	h.recordingHook.OnJobStarted(ctx, e)
}

func TestNewLocal(t *testing.T) {
	t.Run("rejects a non-positive timeout", func(t *testing.T) {
		_, err := NewLocal(WithSlowSubscriberTimeout(0))
		require.Error(t, err)
		assert.Panics(t, func() { Local(WithSlowSubscriberTimeout(-time.Second)) })
	})

	t.Run("topics inherit the timeout", func(t *testing.T) {
		b, err := NewLocal(WithSlowSubscriberTimeout(5 * time.Millisecond))
		require.NoError(t, err)
		tp, ok := b.Topic(context.Background(), subject(t)).(*topic)
		require.True(t, ok)
		assert.Equal(t, 5*time.Millisecond, tp.slowSubscriberTimeout)

		tp, ok = Local().Topic(context.Background(), subject(t)).(*topic)
		require.True(t, ok)
		assert.Equal(t, defaultSlowSubscriberTimeout, tp.slowSubscriberTimeout)
	})
}

func TestLocalDropsStalledSubscriber(t *testing.T) {
	ctx := context.Background()
	b := Local(WithSlowSubscriberTimeout(5 * time.Millisecond))
	tp := b.Topic(ctx, subject(t)).(*topic)

	hook := &blockingHook{recordingHook: newRecordingHook(), release: make(chan struct{})}
	sub, err := tp.Subscribe(ctx, hook)
	require.NoError(t, err)
	defer close(hook.release)
	defer sub.Unsubscribe()

	// One event is held by the hook and the buffer fills behind it. Every
	// publish after that would stall without the timeout.
	start := time.Now()
	for i := range subscriptionBuffer + 20 {
		require.NoError(t, tp.Publish(ctx, jobStarted(i)))
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, tp.subscriptions.Len())
}
