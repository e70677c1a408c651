package strix

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/fogfish/opts"
)

// Kind names one of the seven lifecycle points a callback can attach to.
type Kind string

const (
	AtJobStart       Kind = "at_job_start"
	AtHandlerStart   Kind = "at_handler_start"
	AtException      Kind = "at_exception"
	AtTerminate      Kind = "at_terminate"
	AtHandlerEnd     Kind = "at_handler_end"
	AtJobEnd         Kind = "at_job_end"
	AtSchedulerEnd   Kind = "at_scheduler_end"
	numCallbackKinds      = 7
)

// Kinds lists every lifecycle point in firing order.
var Kinds = [numCallbackKinds]Kind{
	AtJobStart,
	AtHandlerStart,
	AtException,
	AtTerminate,
	AtHandlerEnd,
	AtJobEnd,
	AtSchedulerEnd,
}

func (k Kind) index() int {
	return slices.Index(Kinds[:], k)
}

// Valid reports whether k is one of the lifecycle points.
func (k Kind) Valid() bool {
	return k.index() >= 0
}

// ParseKind resolves a lifecycle point by name. "at_commander_end" is accepted as
// an alias of at_scheduler_end.
func ParseKind(name string) (Kind, error) {
	if name == "at_commander_end" {
		return AtSchedulerEnd, nil
	}
	k := Kind(name)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCallbackKind, name)
	}
	return k, nil
}

// Call is what a callback function receives.
type Call struct {
	Kind   Kind
	Args   []any
	Kwargs map[string]any
	// Node is the node the callback fired for. It is only set when the entry asked for it.
	Node Node
	// Err is the failure that triggered an at_exception callback.
	Err error
}

// CallbackFunc is invoked at a lifecycle point. It runs while holding the scheduler turn.
type CallbackFunc func(context.Context, Call) error

// Entry is one registered callback.
type Entry struct {
	Func       CallbackFunc
	Args       []any
	Kwargs     map[string]any
	InjectNode bool
}

// Func is a shorthand for an entry without arguments.
func Func(fn CallbackFunc) Entry {
	return Entry{Func: fn}
}

// Callback holds the ordered callback entries for each lifecycle point, plus an
// optional reference to the node it was attached to.
type Callback struct {
	mu      sync.Mutex
	entries [numCallbackKinds][]Entry

	node    Node
	credits int
	limited bool
	locked  bool
}

// ForNode attaches the callback to a node at construction. This consumes one write credit.
func ForNode(n Node) opts.Option[Callback] {
	return opts.Type[Callback](func(o *Callback) error {
		o.node = n
		return nil
	})
}

// AutoLockAfter limits how many times the attached node can be written. Once the
// credits run out the reference is locked and further writes are ignored.
func AutoLockAfter(credits int) opts.Option[Callback] {
	return opts.Type[Callback](func(o *Callback) error {
		if credits < 0 {
			return fmt.Errorf("auto lock credits must not be negative, got %d", credits)
		}
		o.credits = credits
		o.limited = true
		return nil
	})
}

// With registers entries for a lifecycle point at construction.
func With(kind Kind, entries ...Entry) opts.Option[Callback] {
	return opts.Type[Callback](func(o *Callback) error {
		return o.Add(kind, entries...)
	})
}

func NewCallback(options ...opts.Option[Callback]) *Callback {
	cb := &Callback{}
	if err := opts.Apply(cb, options); err != nil {
		panic(err)
	}
	switch {
	case cb.node != nil:
		cb.consumeCredit()
	case cb.limited && cb.credits == 0:
		cb.locked = true
	}
	return cb
}

// Add appends entries to the list of a lifecycle point.
func (c *Callback) Add(kind Kind, entries ...Entry) error {
	idx := kind.index()
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnsupportedCallbackKind, kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[idx] = append(c.entries[idx], entries...)
	return nil
}

// AddNamed is Add with the lifecycle point given by name.
func (c *Callback) AddNamed(name string, entries ...Entry) error {
	kind, err := ParseKind(name)
	if err != nil {
		return err
	}
	return c.Add(kind, entries...)
}

// Entries returns a copy of the entries registered for a lifecycle point.
func (c *Callback) Entries(kind Kind) []Entry {
	idx := kind.index()
	if idx < 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries[idx])
}

// Has reports whether any entry is registered for the lifecycle point.
func (c *Callback) Has(kind Kind) bool {
	idx := kind.index()
	if idx < 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries[idx]) > 0
}

// Update appends the entries of every other callback to this one, per lifecycle
// point and in argument order. Nil callbacks are skipped.
func (c *Callback) Update(others ...*Callback) {
	for _, o := range others {
		if o == nil || o == c {
			continue
		}
		o.mu.Lock()
		snapshot := o.entries
		for i := range snapshot {
			snapshot[i] = slices.Clone(snapshot[i])
		}
		o.mu.Unlock()

		c.mu.Lock()
		for i := range c.entries {
			c.entries[i] = append(c.entries[i], snapshot[i]...)
		}
		c.mu.Unlock()
	}
}

// MergeCallbacks returns a fresh callback holding the entries of all the given
// callbacks in order.
func MergeCallbacks(cbs ...*Callback) *Callback {
	merged := NewCallback()
	merged.Update(cbs...)
	return merged
}

// Node returns the node the callback is attached to, if any.
func (c *Callback) Node() Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.node
}

// SetNode attaches the callback to a node unless the reference is locked.
// It reports whether the write was applied.
func (c *Callback) SetNode(n Node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return false
	}
	c.node = n
	c.consumeCreditLocked()
	return true
}

// Lock freezes the node reference.
func (c *Callback) Lock() {
	c.mu.Lock()
	c.locked = true
	c.mu.Unlock()
}

// Unlock allows the node reference to be written again. It does not restore spent credits.
func (c *Callback) Unlock() {
	c.mu.Lock()
	c.locked = false
	c.mu.Unlock()
}

func (c *Callback) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

func (c *Callback) consumeCredit() {
	c.mu.Lock()
	c.consumeCreditLocked()
	c.mu.Unlock()
}

func (c *Callback) consumeCreditLocked() {
	if !c.limited {
		return
	}
	if c.credits > 0 {
		c.credits--
	}
	if c.credits == 0 {
		c.locked = true
	}
}

// invoke runs every entry of a lifecycle point in order. A failing or panicking
// entry does not stop the others; all failures are joined.
func (c *Callback) invoke(ctx context.Context, kind Kind, n Node, cause error) error {
	entries := c.Entries(kind)
	if len(entries) == 0 {
		return nil
	}
	if n == nil {
		n = c.Node()
	}

	var errs error
	for _, e := range entries {
		if e.Func == nil {
			continue
		}
		call := Call{Kind: kind, Args: e.Args, Kwargs: e.Kwargs, Err: cause}
		if e.InjectNode {
			call.Node = n
		}
		errs = errors.Join(errs, runEntry(ctx, e.Func, call))
	}
	return errs
}

func runEntry(ctx context.Context, fn CallbackFunc, call Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverErr(r)
		}
	}()
	return fn(ctx, call)
}
