package strix

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/fogfish/opts"
	"go.opentelemetry.io/otel/trace"
)

// Node is anything that lives in a scheduler's task tree: a *TaskNode, *Job,
// *Handler or *Scheduler.
type Node interface {
	taskNode() *TaskNode
}

// TaskNode is the unit of the task tree. Jobs, handlers and the scheduler root embed it.
//
// A node is open from the moment it is attached until its own body has returned.
// An open node is never considered empty, even without children, so it cannot
// complete before its body has finished.
//
// Structural fields are mutated only by the holder of the owning scheduler's turn.
// The mutex makes reads from other goroutines safe.
type TaskNode struct {
	mu        sync.RWMutex
	id        ID
	parent    *TaskNode
	children  []*TaskNode
	open      bool
	settled   bool
	root      bool
	gen       uint64
	state     State
	callback  *Callback
	data      any
	scheduler *Scheduler
	owner     Node
	requester Node
	span      trace.Span
}

// WithID sets a manual id.
func WithID(name string) opts.Option[TaskNode] {
	return opts.Type[TaskNode](func(o *TaskNode) error {
		if name == "" {
			return fmt.Errorf("node id must not be empty")
		}
		o.id = NamedID(name)
		return nil
	})
}

// WithRandomID sets a random manual id.
func WithRandomID() opts.Option[TaskNode] {
	return opts.Type[TaskNode](func(o *TaskNode) error {
		o.id = RandomID()
		return nil
	})
}

func WithData(data any) opts.Option[TaskNode] {
	return opts.Type[TaskNode](func(o *TaskNode) error {
		o.data = data
		return nil
	})
}

// WithCallback attaches callbacks to the node; several are merged in order.
func WithCallback(cbs ...*Callback) opts.Option[TaskNode] {
	return opts.Type[TaskNode](func(o *TaskNode) error {
		o.addCallback(cbs...)
		return nil
	})
}

// NewTaskNode creates a detached node in the PENDING state.
func NewTaskNode(options ...opts.Option[TaskNode]) *TaskNode {
	n := &TaskNode{}
	n.init(n, options)
	return n
}

func (n *TaskNode) init(owner Node, options []opts.Option[TaskNode]) {
	n.owner = owner
	n.open = true
	n.state = Pending
	if err := opts.Apply(n, options); err != nil {
		panic(err)
	}
}

func (n *TaskNode) taskNode() *TaskNode { return n }

// self returns the outermost value embedding this node.
func (n *TaskNode) self() Node {
	if n.owner != nil {
		return n.owner
	}
	return n
}

func (n *TaskNode) ID() (ID, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.id.IsZero() {
		return ID{}, fmt.Errorf("node id: %w", ErrAttributeNotSet)
	}
	return n.id, nil
}

// SetID assigns a manual id.
func (n *TaskNode) SetID(name string) {
	n.mu.Lock()
	n.id = NamedID(name)
	n.mu.Unlock()
}

func (n *TaskNode) ensureID(next func() uint64) ID {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.id.IsZero() {
		n.id = NumericID(next())
	}
	return n.id
}

// label is the id or a placeholder, for logs.
func (n *TaskNode) label() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.id.String()
}

// Parent returns the parent node. A scheduler root has no parent and returns nil
// without error; any other detached node returns ErrAttributeNotSet.
func (n *TaskNode) Parent() (Node, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.parent != nil {
		return n.parent.self(), nil
	}
	if n.root {
		return nil, nil
	}
	return nil, fmt.Errorf("node %s parent: %w", n.id, ErrAttributeNotSet)
}

// Scheduler returns the scheduler the node is bound to.
func (n *TaskNode) Scheduler() (*Scheduler, error) {
	s := n.sched()
	if s == nil {
		return nil, fmt.Errorf("node %s scheduler: %w", n.label(), ErrAttributeNotSet)
	}
	return s, nil
}

func (n *TaskNode) sched() *Scheduler {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.scheduler
}

// bind sets the scheduler back-reference once.
func (n *TaskNode) bind(s *Scheduler) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.scheduler {
	case nil:
		n.scheduler = s
		return nil
	case s:
		return nil
	default:
		return fmt.Errorf("node %s: %w", n.id, ErrSchedulerMismatch)
	}
}

func (n *TaskNode) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// complete moves the node to COMPLETED unless it already failed or was terminated.
func (n *TaskNode) complete() {
	n.mu.Lock()
	if !n.state.Final() {
		n.state = Completed
	}
	n.mu.Unlock()
}

// markFailed moves the node to EXCEPTION unless it was terminated. It reports
// whether the state changed.
func (n *TaskNode) markFailed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == Terminated {
		return false
	}
	n.state = Exception
	return true
}

func (n *TaskNode) Data() any {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.data
}

func (n *TaskNode) SetData(data any) {
	n.mu.Lock()
	n.data = data
	n.mu.Unlock()
}

// Requester returns the node that asked for this node to be submitted, if it
// differs from the parent.
func (n *TaskNode) Requester() Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.requester
}

func (n *TaskNode) IsRoot() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.root
}

func (n *TaskNode) Children() []Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c.self())
	}
	return out
}

func (n *TaskNode) ChildrenLen() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.children)
}

// AddChild attaches child under n and starts a new active cycle for it.
// Attaching a node that is already a child is a no-op for the children list.
func (n *TaskNode) AddChild(child Node) {
	c := child.taskNode()
	n.mu.Lock()
	if !slices.Contains(n.children, c) {
		n.children = append(n.children, c)
	}
	n.mu.Unlock()

	c.mu.Lock()
	c.parent = n
	c.state = Active
	c.open = true
	c.settled = false
	c.gen++
	c.mu.Unlock()
}

// RemoveChild detaches child. When that leaves n empty and n's body has
// finished, n completes: its end callbacks fire and it detaches from its own
// parent, cascading up the tree. Removing a node that is not a child does nothing.
func (n *TaskNode) RemoveChild(ctx context.Context, child Node) {
	c := child.taskNode()
	n.mu.Lock()
	idx := slices.Index(n.children, c)
	if idx < 0 {
		n.mu.Unlock()
		return
	}
	n.children = slices.Delete(n.children, idx, idx+1)
	empty := len(n.children) == 0 && !n.open
	n.mu.Unlock()

	if empty {
		n.settle(ctx)
	}
}

// finish closes the node after its body returned.
func (n *TaskNode) finish(ctx context.Context) {
	n.mu.Lock()
	n.open = false
	empty := len(n.children) == 0
	n.mu.Unlock()
	if empty {
		n.settle(ctx)
	}
}

// settle completes the node once per active cycle.
func (n *TaskNode) settle(ctx context.Context) {
	n.mu.Lock()
	if n.root {
		s := n.scheduler
		n.mu.Unlock()
		if s != nil {
			s.signal()
		}
		return
	}
	if n.settled {
		n.mu.Unlock()
		return
	}
	n.settled = true
	parent, gen := n.parent, n.gen
	n.mu.Unlock()

	n.complete()
	n.emitEnd(ctx)
	n.endSpan()

	// An end callback may have re-attached the node to start a new cycle under
	// the same parent; the parent then keeps it.
	n.mu.RLock()
	reattached := n.gen != gen && n.parent == parent
	n.mu.RUnlock()
	if parent != nil && !reattached {
		parent.RemoveChild(ctx, n.self())
	}
}

// Terminate stops the node: its children are dropped without being stopped,
// at_terminate fires and the node detaches from its parent. Dropped children
// keep running unobserved; use Close to stop a whole subtree. Terminating a
// node that is already TERMINATED does nothing.
func (n *TaskNode) Terminate(ctx context.Context) {
	n.mu.Lock()
	if n.state == Terminated {
		n.mu.Unlock()
		return
	}
	n.children = nil
	n.open = false
	n.settled = true
	n.state = Terminated
	parent := n.parent
	n.mu.Unlock()

	n.emit(ctx, AtTerminate, nil)
	n.endSpan()
	if parent != nil {
		parent.RemoveChild(ctx, n.self())
	}
}

// Close marks every descendant TERMINATED, so none of them can submit further
// work, and then terminates the node.
func (n *TaskNode) Close(ctx context.Context) {
	visited := map[*TaskNode]struct{}{n: {}}
	stack := n.childNodes()
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[c]; seen {
			continue
		}
		visited[c] = struct{}{}
		c.mu.Lock()
		c.state = Terminated
		c.mu.Unlock()
		stack = append(stack, c.childNodes()...)
	}
	n.Terminate(ctx)
}

func (n *TaskNode) childNodes() []*TaskNode {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.children)
}

// Ancestors yields the node itself and then each ancestor up to the node without a parent.
func (n *TaskNode) Ancestors() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		for cur := n; cur != nil; {
			if !yield(cur.self()) {
				return
			}
			cur.mu.RLock()
			next := cur.parent
			cur.mu.RUnlock()
			cur = next
		}
	}
}

// AncestorChain lists the node itself followed by every ancestor, nearest first.
// It is recomputed on every call.
func (n *TaskNode) AncestorChain() []Node {
	return slices.Collect(n.Ancestors())
}

// Lookup walks the ancestor chain of n and returns the first node, job tasker
// or handler body that is a T.
func Lookup[T any](n Node) (T, bool) {
	for a := range n.taskNode().Ancestors() {
		if v, ok := a.(T); ok {
			return v, true
		}
		switch x := a.(type) {
		case *Job:
			if v, ok := x.tasker.(T); ok {
				return v, true
			}
		case *Handler:
			if v, ok := x.body.(T); ok {
				return v, true
			}
		}
	}
	var zero T
	return zero, false
}

func (n *TaskNode) Callback() *Callback {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.callback
}

// AddCallbackEntries registers entries for one lifecycle point on the node.
func (n *TaskNode) AddCallbackEntries(kind Kind, entries ...Entry) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedCallbackKind, kind)
	}
	n.mu.Lock()
	if n.callback == nil {
		n.callback = NewCallback()
	}
	cb := n.callback
	n.mu.Unlock()

	if err := cb.Add(kind, entries...); err != nil {
		return err
	}
	cb.SetNode(n.self())
	return nil
}

// AddCallback merges callbacks into the node's own, in order.
func (n *TaskNode) AddCallback(cbs ...*Callback) {
	n.addCallback(cbs...)
}

func (n *TaskNode) addCallback(cbs ...*Callback) {
	n.mu.Lock()
	cb := n.callback
	if cb == nil {
		cb = NewCallback()
		n.callback = cb
	}
	owner := n.owner
	n.mu.Unlock()

	cb.Update(cbs...)
	if owner != nil {
		cb.SetNode(owner)
	}
}

func (n *TaskNode) kind() string {
	switch n.self().(type) {
	case *Job:
		return "job"
	case *Handler:
		return "handler"
	case *Scheduler:
		return "scheduler"
	default:
		return "node"
	}
}
