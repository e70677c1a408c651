package strix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/strix/pkg/slogx"
	"github.com/casualjim/strix/pkg/uuidx"
	"github.com/fogfish/opts"
	"github.com/google/uuid"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var nopLogger = slog.New(zeroslog.NewHandler(zerolog.Nop(), nil))

// WithName names the scheduler in logs and telemetry.
var WithName = opts.ForName[Scheduler, string]("name")

func WithLogger(logger *slog.Logger) opts.Option[Scheduler] {
	return opts.Type[Scheduler](func(o *Scheduler) error {
		if logger == nil {
			return errors.New("logger is required")
		}
		o.logger = logger
		return nil
	})
}

func WithObserver(observer Observer) opts.Option[Scheduler] {
	return opts.Type[Scheduler](func(o *Scheduler) error {
		if observer == nil {
			return errors.New("observer is required")
		}
		o.observer = observer
		return nil
	})
}

func WithTracerProvider(tp trace.TracerProvider) opts.Option[Scheduler] {
	return opts.Type[Scheduler](func(o *Scheduler) error {
		o.tracerProvider = tp
		return nil
	})
}

func WithMeterProvider(mp metric.MeterProvider) opts.Option[Scheduler] {
	return opts.Type[Scheduler](func(o *Scheduler) error {
		o.meterProvider = mp
		return nil
	})
}

type runOptions struct {
	jobs     []*Job
	autoExit bool
}

// RunOption configures a single run of the scheduler loop.
type RunOption = opts.Option[runOptions]

// WithJobs seeds the run with jobs placed under the scheduler root.
func WithJobs(jobs ...*Job) RunOption {
	return opts.Type[runOptions](func(o *runOptions) error {
		o.jobs = append(o.jobs, jobs...)
		return nil
	})
}

// AutoExit stops the loop as soon as there is no queued job, no live node and
// no submission in flight.
func AutoExit(enabled bool) RunOption {
	return opts.Type[runOptions](func(o *runOptions) error {
		o.autoExit = enabled
		return nil
	})
}

type inboxItem struct {
	id string
	fn func(context.Context)
	// drop releases whatever the submission claimed when it never runs.
	drop func()
}

type endCallback struct {
	node Node
	cb   *Callback
}

// Scheduler owns a task tree and the loop that drives it. It is itself the
// root node of the tree.
//
// All node logic of a scheduler is serialised: the loop, every handler run and
// every callback take turns, and a body only gives up its turn inside Offload
// or Handler.Wait. Other goroutines reach the loop through SubmitThreadsafe and
// InvokeHandlerThreadsafe.
type Scheduler struct {
	TaskNode

	name           string
	logger         *slog.Logger
	observer       Observer
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tel            *telemetry

	turn     turn
	wake     chan struct{}
	nextID   atomic.Uint64
	pending  *haxmap.Map[string, string]
	handlers sync.WaitGroup

	ctl          sync.Mutex
	running      bool
	autoExit     bool
	queue        []*Job
	inbox        []inboxItem
	result       any
	exited       chan struct{}
	endCallbacks []endCallback
	runCtx       context.Context
	runID        uuid.UUID
}

func New(options ...opts.Option[Scheduler]) *Scheduler {
	exited := make(chan struct{})
	close(exited)

	s := &Scheduler{
		name:     "strix",
		logger:   nopLogger,
		observer: NopObserver{},
		turn:     newTurn(),
		wake:     make(chan struct{}, 1),
		pending:  haxmap.New[string, string](),
		exited:   exited,
	}
	s.TaskNode.init(s, nil)
	s.TaskNode.root = true
	s.TaskNode.open = false
	s.TaskNode.state = Active
	s.TaskNode.scheduler = s
	s.TaskNode.id = NumericID(0)

	if err := opts.Apply(s, options); err != nil {
		panic(err)
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}
	if s.meterProvider == nil {
		s.meterProvider = otel.GetMeterProvider()
	}
	tel, err := newTelemetry(s.tracerProvider, s.meterProvider)
	if err != nil {
		panic(fmt.Errorf("strix telemetry: %w", err))
	}
	s.tel = tel
	s.logger = s.logger.With(slogx.LoggerName("strix"), slog.String("scheduler", s.name))
	return s
}

func (s *Scheduler) Name() string { return s.name }

// RunID identifies the current or last run.
func (s *Scheduler) RunID() uuid.UUID {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	return s.runID
}

func (s *Scheduler) Running() bool {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	return s.running
}

// Result is the exit result of the current or last run.
func (s *Scheduler) Result() any {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	return s.result
}

func (s *Scheduler) log() *slog.Logger {
	if s == nil {
		return nopLogger
	}
	return s.logger
}

func (s *Scheduler) nextNodeID() uint64 {
	return s.nextID.Add(1)
}

// signal wakes the loop if it is idle.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// IsEmpty reports whether there is no queued job, no node under the root and
// no thread-safe submission in flight.
func (s *Scheduler) IsEmpty() bool {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	return s.isEmptyLocked()
}

func (s *Scheduler) isEmptyLocked() bool {
	return len(s.queue) == 0 && len(s.inbox) == 0 && s.pending.Len() == 0 && s.ChildrenLen() == 0
}

// Run drives the loop on the calling goroutine until the scheduler is asked to
// exit, auto-exit finds it empty, or ctx is done. It returns the exit result.
//
// Before returning, Run waits for every handler goroutine to finish. Bodies
// receive a context that is cancelled when the loop stops and should honour it.
func (s *Scheduler) Run(ctx context.Context, options ...RunOption) (any, error) {
	var cfg runOptions
	if err := opts.Apply(&cfg, options); err != nil {
		return nil, err
	}
	return s.run(ctx, cfg)
}

// RunAuto runs with auto-exit enabled unless told otherwise. When the loop is
// already running, the jobs are submitted to it instead and RunAuto returns
// false without blocking.
func (s *Scheduler) RunAuto(ctx context.Context, options ...RunOption) (bool, error) {
	cfg := runOptions{autoExit: true}
	if err := opts.Apply(&cfg, options); err != nil {
		return false, err
	}

	for {
		if !s.Running() {
			_, err := s.run(ctx, cfg)
			if !errors.Is(err, ErrAlreadyRunning) {
				return true, err
			}
		}
		submitted, err := s.submitAll(cfg.jobs)
		if errors.Is(err, ErrNotRunning) {
			cfg.jobs = cfg.jobs[submitted:]
			continue
		}
		return false, err
	}
}

func (s *Scheduler) submitAll(jobs []*Job) (int, error) {
	for i, j := range jobs {
		if err := s.SubmitThreadsafe(j); err != nil {
			return i, err
		}
	}
	return len(jobs), nil
}

func (s *Scheduler) run(ctx context.Context, cfg runOptions) (any, error) {
	for _, j := range cfg.jobs {
		if err := j.validate(); err != nil {
			return nil, fmt.Errorf("seed job: %w", err)
		}
	}

	s.ctl.Lock()
	if s.running {
		s.ctl.Unlock()
		return nil, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.autoExit = cfg.autoExit
	s.result = nil
	s.exited = make(chan struct{})
	s.runCtx = runCtx
	s.runID = uuidx.New()
	exited := s.exited
	runID := s.runID
	s.ctl.Unlock()

	l := s.newLease()
	l.acquire()
	lctx := withLease(runCtx, l)
	s.logger.DebugContext(ctx, "scheduler started", slogx.Stringer("run_id", runID), slog.Bool("auto_exit", cfg.autoExit))

	for _, j := range cfg.jobs {
		if err := s.PutJob(lctx, j); err != nil {
			s.logger.ErrorContext(ctx, "failed to seed job", slog.String("job", j.label()), slogx.Error(err))
		}
	}

	s.loop(lctx, l)
	result := s.shutdown(lctx, l, cancel, exited)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Scheduler) loop(ctx context.Context, l *lease) {
	for {
		s.drainInbox(ctx)
		if ctx.Err() != nil || !s.Running() {
			return
		}

		if s.autoExit {
			stop, contended := s.tryAutoExit()
			if stop {
				return
			}
			if contended {
				l.yield()
				runtime.Gosched()
				continue
			}
		}

		if j := s.dequeue(); j != nil {
			s.runJob(ctx, j)
			l.yield()
			continue
		}

		l.release()
		select {
		case <-s.wake:
		case <-ctx.Done():
		}
		l.acquire()
	}
}

// tryAutoExit stops the run when the scheduler is empty. When a submitter holds
// the lock it backs off instead of blocking the loop.
func (s *Scheduler) tryAutoExit() (stop, contended bool) {
	if !s.ctl.TryLock() {
		return false, true
	}
	defer s.ctl.Unlock()
	if !s.isEmptyLocked() {
		return false, false
	}
	s.running = false
	return true, false
}

func (s *Scheduler) dequeue() *Job {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	j := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return j
}

func (s *Scheduler) drainInbox(ctx context.Context) {
	s.ctl.Lock()
	items := s.inbox
	s.inbox = nil
	s.ctl.Unlock()

	for _, it := range items {
		it.fn(ctx)
		s.pending.Del(it.id)
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *Job) {
	if j.State() == Terminated {
		s.logger.DebugContext(ctx, "skipping terminated job", slog.String("job", j.label()))
		return
	}

	j.reset()
	j.ensureID(s.nextNodeID)
	j.emit(ctx, AtJobStart, nil)
	s.collectEnd(&j.TaskNode)

	result, err := j.call(ctx)
	j.record(result, err)
	switch {
	case err == nil:
		if h, ok := result.(*Handler); ok && h != nil {
			if herr := j.CallHandler(ctx, h); herr != nil {
				j.fail(ctx, herr)
			}
		}
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		j.Terminate(ctx)
	default:
		j.fail(ctx, err)
	}
	j.finish(ctx)
}

func (s *Scheduler) runHandler(runCtx context.Context, h *Handler, done chan struct{}) {
	defer s.handlers.Done()

	l := s.newLease()
	l.acquire()
	ctx := withLease(runCtx, l)
	defer func() {
		l.release()
		s.signal()
	}()
	defer h.conclude(done)

	if runCtx.Err() != nil {
		h.record(nil, runCtx.Err())
		h.Terminate(ctx)
		return
	}

	h.emit(ctx, AtHandlerStart, nil)
	result, err := h.call(ctx)
	h.record(result, err)
	switch {
	case err == nil:
	case runCtx.Err() != nil && errors.Is(err, context.Canceled):
		h.Terminate(ctx)
	default:
		h.fail(ctx, err)
	}
	h.finish(ctx)
}

// collectEnd remembers at_scheduler_end callbacks of a node, once per node.
func (s *Scheduler) collectEnd(n *TaskNode) {
	cb := n.Callback()
	if cb == nil || !cb.Has(AtSchedulerEnd) {
		return
	}
	node := n.self()
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if slices.ContainsFunc(s.endCallbacks, func(e endCallback) bool { return e.node == node && e.cb == cb }) {
		return
	}
	s.endCallbacks = append(s.endCallbacks, endCallback{node: node, cb: cb})
}

// shutdown runs once the loop has stopped. Work still queued or in flight is
// dropped, at_scheduler_end callbacks fire in registration order, and handler
// goroutines are drained before the exit is signalled.
func (s *Scheduler) shutdown(ctx context.Context, l *lease, cancel context.CancelFunc, exited chan struct{}) any {
	s.ctl.Lock()
	s.running = false
	ends := s.endCallbacks
	s.endCallbacks = nil
	dropped := len(s.queue) + len(s.inbox)
	inbox := s.inbox
	s.queue = nil
	s.inbox = nil
	result := s.result
	s.ctl.Unlock()

	for _, it := range inbox {
		if it.drop != nil {
			it.drop()
		}
	}

	var ids []string
	s.pending.ForEach(func(id string, _ string) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		s.pending.Del(id)
	}
	if dropped > 0 {
		s.logger.WarnContext(ctx, "dropping unprocessed work", slog.Int("count", dropped))
	}

	s.TaskNode.mu.Lock()
	s.TaskNode.children = nil
	s.TaskNode.mu.Unlock()

	for _, e := range ends {
		if err := e.cb.invoke(ctx, AtSchedulerEnd, e.node, nil); err != nil {
			e.node.taskNode().callbackFailed(ctx, AtSchedulerEnd, err)
		}
	}
	s.observer.OnSchedulerEnd(ctx, s, result)

	cancel()
	l.release()
	s.handlers.Wait()

	s.logger.DebugContext(ctx, "scheduler stopped", slogx.Stringer("run_id", s.RunID()))
	close(exited)
	return s.Result()
}

// RequestExit asks the loop to stop after the current step, recording result as
// the value Run returns. The returned channel is closed once the run has fully stopped.
func (s *Scheduler) RequestExit(result any) <-chan struct{} {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.result = result
	if s.running {
		s.running = false
		s.signal()
	}
	return s.exited
}

// Exit asks the loop to stop and waits until it has. Called from inside a body
// of this scheduler it does not wait, since the loop cannot stop before the body returns.
func (s *Scheduler) Exit(ctx context.Context, result any) error {
	exited := s.RequestExit(result)
	if s.holds(ctx) {
		return nil
	}
	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForExit blocks until the current run stops and returns its result.
func (s *Scheduler) WaitForExit(ctx context.Context) (any, error) {
	s.ctl.Lock()
	exited := s.exited
	s.ctl.Unlock()
	select {
	case <-exited:
		return s.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
