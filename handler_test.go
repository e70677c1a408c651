package strix

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobReturningHandler(t *testing.T) {
	ctx := testContext(t)
	s := New()

	var (
		order       []string
		parentInRun Node
		jobState    State
	)
	var job *Job
	h := NewHandlerFunc(func(ctx context.Context, h *Handler) (any, error) {
		order = append(order, "handler")
		parentInRun, _ = h.Parent()
		jobState = job.State()
		return "answer", nil
	})
	job = NewJobFunc(func(ctx context.Context, j *Job) (any, error) {
		order = append(order, "job")
		return h, nil
	}, WithCallback(NewCallback(With(AtJobEnd, Func(func(context.Context, Call) error {
		order = append(order, "job end")
		return nil
	})))))

	_, err := s.Run(ctx, WithJobs(job), AutoExit(true))
	require.NoError(t, err)

	assert.Equal(t, []string{"job", "handler", "job end"}, order)
	assert.Same(t, job, parentInRun)
	assert.Equal(t, Active, jobState)
	assert.Equal(t, Completed, job.State())
	assert.Equal(t, Completed, h.State())
	assert.Equal(t, "answer", h.Result())
}

func TestHandlerWaitAndAwait(t *testing.T) {
	ctx := testContext(t)
	s := New()

	var (
		waited  any
		typed   string
		wrong   error
		unknown error
	)
	produce := NewHandlerFunc(func(ctx context.Context, h *Handler) (any, error) {
		return "draft", nil
	})
	job := NewJobFunc(func(ctx context.Context, j *Job) (any, error) {
		_, unknown = NewHandlerFunc(func(context.Context, *Handler) (any, error) { return nil, nil }).Wait(ctx)

		if err := j.CallHandler(ctx, produce); err != nil {
			return nil, err
		}
		var err error
		if waited, err = produce.Wait(ctx); err != nil {
			return nil, err
		}
		if typed, err = Await[string](ctx, produce); err != nil {
			return nil, err
		}
		_, wrong = Await[int](ctx, produce)
		return nil, nil
	})

	_, err := s.Run(ctx, WithJobs(job), AutoExit(true))
	require.NoError(t, err)
	require.NoError(t, job.Err())

	assert.Equal(t, "draft", waited)
	assert.Equal(t, "draft", typed)
	require.Error(t, wrong)
	assert.Contains(t, wrong.Error(), "not int")
	require.ErrorIs(t, unknown, ErrNotInvoked)
}

func TestHandlerFailure(t *testing.T) {
	ctx := testContext(t)
	s := New()

	boom := errors.New("boom")
	var waitErr error
	h := NewHandlerFunc(func(ctx context.Context, h *Handler) (any, error) {
		return nil, boom
	})
	job := NewJobFunc(func(ctx context.Context, j *Job) (any, error) {
		if err := j.CallHandler(ctx, h); err != nil {
			return nil, err
		}
		_, waitErr = h.Wait(ctx)
		return nil, nil
	})

	_, err := s.Run(ctx, WithJobs(job), AutoExit(true))
	require.NoError(t, err)
	assert.Equal(t, Exception, h.State())
	assert.Equal(t, Completed, job.State())
	require.ErrorIs(t, waitErr, boom)
	var nerr *NodeError
	require.ErrorAs(t, waitErr, &nerr)
}

func TestHandlerReuse(t *testing.T) {
	ctx := testContext(t)

	t.Run("spent handlers refuse a second run", func(t *testing.T) {
		s := New()
		var runs int
		var second error
		h := NewHandlerFunc(func(context.Context, *Handler) (any, error) {
			runs++
			return nil, nil
		})
		job := NewJobFunc(func(ctx context.Context, j *Job) (any, error) {
			if err := j.CallHandler(ctx, h); err != nil {
				return nil, err
			}
			if _, err := h.Wait(ctx); err != nil {
				return nil, err
			}
			second = j.CallHandler(ctx, h)
			return nil, nil
		})

		_, err := s.Run(ctx, WithJobs(job), AutoExit(true))
		require.NoError(t, err)
		assert.Equal(t, 1, runs)
		require.ErrorIs(t, second, ErrHandlerSpent)
	})

	t.Run("reusable handlers run again", func(t *testing.T) {
		s := New()
		var runs int
		h := NewHandlerFunc(func(context.Context, *Handler) (any, error) {
			runs++
			return runs, nil
		})
		h.SetReusable(true)
		assert.True(t, h.Reusable())

		var results []any
		job := NewJobFunc(func(ctx context.Context, j *Job) (any, error) {
			for range 3 {
				if err := j.CallHandler(ctx, h); err != nil {
					return nil, err
				}
				v, err := h.Wait(ctx)
				if err != nil {
					return nil, err
				}
				results = append(results, v)
			}
			return nil, nil
		})

		_, err := s.Run(ctx, WithJobs(job), AutoExit(true))
		require.NoError(t, err)
		assert.Equal(t, []any{1, 2, 3}, results)
	})
}

func TestHandlerSetResult(t *testing.T) {
	ctx := testContext(t)
	s := New()

	h := NewHandlerFunc(func(ctx context.Context, h *Handler) (any, error) {
		h.SetResult("partial")
		return nil, nil
	})
	require.NoError(t, s.PutJob(ctx, NewJobFunc(func(context.Context, *Job) (any, error) {
		return h, nil
	})))

	_, err := s.Run(ctx, AutoExit(true))
	require.NoError(t, err)
	assert.Equal(t, "partial", h.Result())
}

func TestOffload(t *testing.T) {
	ctx := testContext(t)
	s := New()

	var (
		got          int
		handlerFirst bool
	)
	h := NewHandlerFunc(func(ctx context.Context, h *Handler) (any, error) {
		return "side work", nil
	})
	job := NewJobFunc(func(ctx context.Context, j *Job) (any, error) {
		if err := j.CallHandler(ctx, h); err != nil {
			return nil, err
		}
		var err error
		// The handler can only finish while the job has released the turn.
		got, err = Offload(ctx, func(ctx context.Context) (int, error) {
			select {
			case <-h.Done():
				handlerFirst = true
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			return 7, nil
		})
		return nil, err
	})

	_, err := s.Run(ctx, WithJobs(job), AutoExit(true))
	require.NoError(t, err)
	require.NoError(t, job.Err())
	assert.Equal(t, 7, got)
	assert.True(t, handlerFirst)
	assert.Equal(t, "side work", h.Result())

	t.Run("outside a body it just calls through", func(t *testing.T) {
		v, err := Offload(context.Background(), func(context.Context) (string, error) {
			return "direct", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "direct", v)
	})
}

func TestInvokeHandlerThreadsafe(t *testing.T) {
	ctx := testContext(t)
	s := New()
	done := startScheduler(t, ctx, s)

	h := NewHandlerFunc(func(ctx context.Context, h *Handler) (any, error) {
		return "remote", nil
	})
	require.NoError(t, s.InvokeHandlerThreadsafe(h))

	v, err := Await[string](ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "remote", v)

	parent, err := h.Parent()
	require.NoError(t, err)
	assert.Same(t, s, parent)

	require.NoError(t, s.Exit(ctx, nil))
	require.NoError(t, <-done)
}
