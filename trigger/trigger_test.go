package trigger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/casualjim/strix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingFactory(count *atomic.Int32) Factory {
	return func(time.Time) *strix.Job {
		return strix.NewJobFunc(func(ctx context.Context, j *strix.Job) (any, error) {
			count.Add(1)
			return nil, nil
		})
	}
}

func TestNew(t *testing.T) {
	s := strix.New()
	var count atomic.Int32

	t.Run("requires a scheduler", func(t *testing.T) {
		_, err := New(nil, countingFactory(&count), Spec("@every 1s"))
		require.Error(t, err)
	})

	t.Run("requires a factory", func(t *testing.T) {
		_, err := New(s, nil, Spec("@every 1s"))
		require.Error(t, err)
	})

	t.Run("requires exactly one schedule", func(t *testing.T) {
		_, err := New(s, countingFactory(&count))
		require.Error(t, err)

		_, err = New(s, countingFactory(&count), Spec("@every 1s"), Schedule(Every(time.Second)))
		require.Error(t, err)
	})

	t.Run("rejects invalid specs", func(t *testing.T) {
		_, err := New(s, countingFactory(&count), Spec("not a cron spec"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cron spec")
	})

	t.Run("accepts standard specs", func(t *testing.T) {
		tr, err := New(s, countingFactory(&count), Spec("*/5 * * * *"), WithLocation(time.UTC))
		require.NoError(t, err)
		assert.True(t, tr.Next().IsZero())
	})
}

func TestEvery(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(250*time.Millisecond), Every(250*time.Millisecond).Next(now))
}

func TestTriggerSubmitsJobs(t *testing.T) {
	s := strix.New(strix.WithName("triggered"))
	var count atomic.Int32

	tr, err := New(s, countingFactory(&count), Schedule(Every(20*time.Millisecond)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx)
		done <- err
	}()
	require.Eventually(t, s.Running, time.Second, 5*time.Millisecond)

	tr.Start()
	assert.False(t, tr.Next().IsZero())
	require.Eventually(t, func() bool { return count.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, tr.Stop(ctx))

	fired, _ := tr.Stats()
	assert.GreaterOrEqual(t, fired, 3)

	require.NoError(t, s.Exit(ctx, "done"))
	require.NoError(t, <-done)
}

func TestTriggerSkipsWhileStopped(t *testing.T) {
	s := strix.New()
	var count atomic.Int32

	tr, err := New(s, countingFactory(&count), Schedule(Every(10*time.Millisecond)))
	require.NoError(t, err)

	tr.Start()
	require.Eventually(t, func() bool {
		_, skipped := tr.Stats()
		return skipped >= 2
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, tr.Stop(context.Background()))

	fired, _ := tr.Stats()
	assert.Zero(t, fired)
	assert.Zero(t, count.Load())
	assert.True(t, s.IsEmpty())
}

func TestTriggerNilJobSkipsTick(t *testing.T) {
	s := strix.New()
	var calls atomic.Int32
	tr, err := New(s, func(time.Time) *strix.Job {
		calls.Add(1)
		return nil
	}, Schedule(Every(10*time.Millisecond)))
	require.NoError(t, err)

	tr.Start()
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, tr.Stop(context.Background()))

	fired, skipped := tr.Stats()
	assert.Zero(t, fired)
	assert.Zero(t, skipped)
}
