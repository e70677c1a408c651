package strix

import (
	"context"
	"fmt"
	"sync"

	"github.com/fogfish/opts"
)

// Tasker is the entry point of a job. It runs on the scheduler loop and must not
// block; blocking work goes through Offload. Returning a *Handler invokes it
// with the job as its parent.
type Tasker interface {
	Task(ctx context.Context, job *Job) (any, error)
}

// TaskerFunc adapts a function to the Tasker interface.
type TaskerFunc func(ctx context.Context, job *Job) (any, error)

func (f TaskerFunc) Task(ctx context.Context, job *Job) (any, error) {
	return f(ctx, job)
}

// Job is a queued unit of work executed by the scheduler loop in FIFO order.
type Job struct {
	TaskNode
	tasker Tasker

	outcome sync.Mutex
	result  any
	err     error
}

func NewJob(tasker Tasker, options ...opts.Option[TaskNode]) *Job {
	j := &Job{tasker: tasker}
	j.init(j, options)
	return j
}

// NewJobFunc is NewJob for a plain function.
func NewJobFunc(fn func(ctx context.Context, job *Job) (any, error), options ...opts.Option[TaskNode]) *Job {
	if fn == nil {
		return NewJob(nil, options...)
	}
	return NewJob(TaskerFunc(fn), options...)
}

func (j *Job) Tasker() Tasker { return j.tasker }

// Result is the value returned by the last run of the tasker.
func (j *Job) Result() any {
	j.outcome.Lock()
	defer j.outcome.Unlock()
	return j.result
}

// Err is the failure of the last run, if any.
func (j *Job) Err() error {
	j.outcome.Lock()
	defer j.outcome.Unlock()
	return j.err
}

// record stores the outcome of a run. A failure recorded earlier in the same
// run, by a start callback, survives a body that succeeded.
func (j *Job) record(result any, err error) {
	j.outcome.Lock()
	j.result = result
	if err != nil {
		j.err = err
	}
	j.outcome.Unlock()
}

func (j *Job) reset() {
	j.outcome.Lock()
	j.result, j.err = nil, nil
	j.outcome.Unlock()
}

func (j *Job) validate() error {
	if j == nil || j.tasker == nil {
		return ErrNotTasker
	}
	return nil
}

func (j *Job) call(ctx context.Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverErr(r)
		}
	}()
	return j.tasker.Task(ctx, j)
}

func (j *Job) String() string {
	return fmt.Sprintf("job(%s)", j.label())
}
