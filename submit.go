package strix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/casualjim/strix/pkg/slogx"
	"github.com/casualjim/strix/pkg/uuidx"
	"github.com/fogfish/opts"
)

type placement struct {
	parent    Node
	requester Node
}

// SubmitOption places a submitted job or handler in the tree.
type SubmitOption = opts.Option[placement]

// UnderParent attaches the submitted node under parent instead of the caller.
func UnderParent(parent Node) SubmitOption {
	return opts.Type[placement](func(o *placement) error {
		if parent == nil {
			return errors.New("parent is required")
		}
		o.parent = parent
		return nil
	})
}

// RequestedBy records which node asked for the submission when it is not the parent.
func RequestedBy(requester Node) SubmitOption {
	return opts.Type[placement](func(o *placement) error {
		o.requester = requester
		return nil
	})
}

func resolvePlacement(defaultParent Node, options []SubmitOption) (*TaskNode, *Scheduler, Node, error) {
	p := placement{parent: defaultParent}
	if err := opts.Apply(&p, options); err != nil {
		return nil, nil, nil, err
	}
	parent := p.parent.taskNode()
	target := parent.sched()
	if target == nil {
		return nil, nil, nil, fmt.Errorf("parent %s scheduler: %w", parent.label(), ErrAttributeNotSet)
	}
	return parent, target, p.requester, nil
}

// PutJob queues a job under this node, or under the node given with
// UnderParent. If the parent belongs to another scheduler, or the caller is not
// running on the parent's scheduler, the job is handed to that scheduler's
// loop. A job whose parent is TERMINATED is silently dropped.
func (n *TaskNode) PutJob(ctx context.Context, j *Job, options ...SubmitOption) error {
	if err := j.validate(); err != nil {
		return fmt.Errorf("put job: %w", err)
	}
	parent, target, requester, err := resolvePlacement(n.self(), options)
	if err != nil {
		return fmt.Errorf("put job %s: %w", j.label(), err)
	}
	if parent.State() == Terminated {
		target.logger.DebugContext(ctx, "dropping job under terminated parent", slog.String("job", j.label()), slog.String("parent", parent.label()))
		return nil
	}
	if s := j.sched(); s != nil && s != target {
		return fmt.Errorf("put job %s: %w", j.label(), ErrSchedulerMismatch)
	}

	if target.holds(ctx) {
		return target.putJob(ctx, parent, j, requester)
	}

	err = target.post(j.label(), func(ctx context.Context) {
		if err := target.putJob(ctx, parent, j, requester); err != nil {
			target.logger.ErrorContext(ctx, "failed to put forwarded job", slog.String("job", j.label()), slogx.Error(err))
		}
	}, nil)
	if !errors.Is(err, ErrNotRunning) {
		return err
	}

	// Nobody drives the loop: queue directly for the next run.
	l := target.newLease()
	l.acquire()
	defer l.release()
	return target.putJob(withLease(ctx, l), parent, j, requester)
}

func (s *Scheduler) putJob(ctx context.Context, parent *TaskNode, j *Job, requester Node) error {
	if parent.State() == Terminated {
		return nil
	}
	if err := j.bind(s); err != nil {
		return err
	}
	parent.AddChild(j)
	j.setRequester(requester)

	s.ctl.Lock()
	s.queue = append(s.queue, j)
	s.ctl.Unlock()
	s.signal()
	return nil
}

// CallHandler starts a handler under this node, or under the node given with
// UnderParent. The handler runs on its own goroutine once it gets the
// scheduler turn. Invoking a handler that already ran fails with
// ErrHandlerSpent unless it is reusable.
func (n *TaskNode) CallHandler(ctx context.Context, h *Handler, options ...SubmitOption) error {
	if err := h.validate(); err != nil {
		return fmt.Errorf("call handler: %w", err)
	}
	parent, target, requester, err := resolvePlacement(n.self(), options)
	if err != nil {
		return fmt.Errorf("call handler %s: %w", h.label(), err)
	}
	if parent.State() == Terminated {
		target.logger.DebugContext(ctx, "dropping handler under terminated parent", slog.String("handler", h.label()), slog.String("parent", parent.label()))
		return nil
	}
	if s := h.sched(); s != nil && s != target {
		return fmt.Errorf("call handler %s: %w", h.label(), ErrSchedulerMismatch)
	}

	done, undo, err := h.begin()
	if err != nil {
		return err
	}

	if target.holds(ctx) {
		if err := target.startHandler(parent, h, done, requester); err != nil {
			undo()
			return err
		}
		return nil
	}

	err = target.post(h.label(), func(ctx context.Context) {
		if err := target.startHandler(parent, h, done, requester); err != nil {
			h.abandon(done, undo, err)
			target.logger.ErrorContext(ctx, "failed to start forwarded handler", slog.String("handler", h.label()), slogx.Error(err))
		}
	}, func() { h.abandon(done, undo, ErrNotRunning) })
	if err != nil {
		undo()
		return fmt.Errorf("call handler %s: %w", h.label(), err)
	}
	return nil
}

func (s *Scheduler) startHandler(parent *TaskNode, h *Handler, done chan struct{}, requester Node) error {
	if parent.State() == Terminated {
		h.conclude(done)
		return nil
	}
	if err := h.bind(s); err != nil {
		return err
	}
	parent.AddChild(h)
	h.setRequester(requester)
	h.ensureID(s.nextNodeID)
	s.collectEnd(&h.TaskNode)

	s.ctl.Lock()
	runCtx := s.runCtx
	s.ctl.Unlock()
	if runCtx == nil {
		c, cancel := context.WithCancel(context.Background())
		cancel()
		runCtx = c
	}

	s.handlers.Add(1)
	go s.runHandler(runCtx, h, done)
	return nil
}

// post hands fn to the loop from any goroutine. The submission counts as in
// flight, keeping the scheduler non-empty, until the loop has run it. If the
// run stops before that, drop is called instead.
func (s *Scheduler) post(label string, fn func(context.Context), drop func()) error {
	id := uuidx.NewString()
	s.ctl.Lock()
	if !s.running {
		s.ctl.Unlock()
		return ErrNotRunning
	}
	s.pending.Set(id, label)
	s.inbox = append(s.inbox, inboxItem{id: id, fn: fn, drop: drop})
	s.ctl.Unlock()
	s.signal()
	return nil
}

// SubmitThreadsafe queues a job under the scheduler root from any goroutine.
func (s *Scheduler) SubmitThreadsafe(j *Job, options ...SubmitOption) error {
	if err := j.validate(); err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	parent, target, requester, err := resolvePlacement(s, options)
	if err != nil {
		return fmt.Errorf("submit job %s: %w", j.label(), err)
	}
	return target.post(j.label(), func(ctx context.Context) {
		if err := target.putJob(ctx, parent, j, requester); err != nil {
			target.logger.ErrorContext(ctx, "failed to put submitted job", slog.String("job", j.label()), slogx.Error(err))
		}
	}, nil)
}

// InvokeHandlerThreadsafe starts a handler under the scheduler root from any goroutine.
func (s *Scheduler) InvokeHandlerThreadsafe(h *Handler, options ...SubmitOption) error {
	if err := h.validate(); err != nil {
		return fmt.Errorf("invoke handler: %w", err)
	}
	parent, target, requester, err := resolvePlacement(s, options)
	if err != nil {
		return fmt.Errorf("invoke handler %s: %w", h.label(), err)
	}
	done, undo, err := h.begin()
	if err != nil {
		return err
	}
	err = target.post(h.label(), func(ctx context.Context) {
		if err := target.startHandler(parent, h, done, requester); err != nil {
			h.abandon(done, undo, err)
			target.logger.ErrorContext(ctx, "failed to start submitted handler", slog.String("handler", h.label()), slogx.Error(err))
		}
	}, func() { h.abandon(done, undo, ErrNotRunning) })
	if err != nil {
		undo()
		return fmt.Errorf("invoke handler %s: %w", h.label(), err)
	}
	return nil
}

// ExitScheduler asks the node's scheduler to stop with the given result. It
// does not wait, so it is safe to call from a body.
func (n *TaskNode) ExitScheduler(result any) error {
	s, err := n.Scheduler()
	if err != nil {
		return err
	}
	s.RequestExit(result)
	return nil
}

func (n *TaskNode) setRequester(r Node) {
	n.mu.Lock()
	n.requester = r
	n.mu.Unlock()
}
