/*
Package strix is a cooperative task-tree scheduler for orchestrating chains of
asynchronous jobs and handlers, the kind of pipeline an LLM agent runs: stream
a model response, split it into user-facing text and tool calls, run the tools,
and feed their results into the next round of generation.

# Concepts

A Scheduler owns a FIFO queue of jobs and the tree of nodes they spawn. It is
itself the root of that tree.

  - Job: a queued unit of work. The loop runs jobs one at a time, in order.
    A job whose Tasker returns a *Handler invokes that handler as its child.
  - Handler: an awaitable unit of work running on its own goroutine. It may
    spawn jobs and handlers of its own.
  - Callback: functions attached to a node at seven lifecycle points.

A node completes when its own body has returned and all of its children have
completed. Completion cascades upward: the last child finishing completes the
parent, which may complete its own parent, and so on. When the root runs out
of children the loop can stop on its own (auto-exit).

# Turns

All node logic of one scheduler is serialised. The loop, each handler run and
every callback take turns; a body gives its turn away only inside Offload and
Handler.Wait. Bodies therefore never need locks to share state with each
other, but must not block outside those two calls.

Goroutines that are not bodies of the scheduler reach it through
SubmitThreadsafe and InvokeHandlerThreadsafe. PutJob and CallHandler detect
when the caller does not hold the target scheduler's turn, including a body of
another scheduler, and forward the submission the same way.

# Basic Usage

	s := strix.New(strix.WithName("pipeline"), strix.WithLogger(slog.Default()))

	reply := strix.NewHandlerFunc(func(ctx context.Context, h *strix.Handler) (any, error) {
		text, err := strix.Offload(ctx, func(ctx context.Context) (string, error) {
			return model.Complete(ctx, prompt)
		})
		if err != nil {
			return nil, err
		}
		fmt.Println(text)
		return text, nil
	})

	ask := strix.NewJobFunc(func(ctx context.Context, j *strix.Job) (any, error) {
		return reply, nil
	})

	if _, err := s.RunAuto(ctx, strix.WithJobs(ask)); err != nil {
		// handle error
	}

# Related packages

  - edge: re-submit nodes when others finish, optionally routed on results.
  - events and broker: publish lifecycle events locally or over NATS.
  - trigger: submit jobs on a cron schedule.
  - stream: split one channel into named channels.
*/
package strix
