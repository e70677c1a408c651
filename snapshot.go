package strix

import (
	"slices"

	json "github.com/goccy/go-json"
)

// NodeSnapshot is a point-in-time view of a subtree.
type NodeSnapshot struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	State    State          `json:"state"`
	Children []NodeSnapshot `json:"children,omitempty"`
}

// SchedulerSnapshot is a point-in-time view of a scheduler.
type SchedulerSnapshot struct {
	Name    string       `json:"name"`
	RunID   string       `json:"run_id,omitempty"`
	Running bool         `json:"running"`
	Queued  int          `json:"queued"`
	Pending []string     `json:"pending,omitempty"`
	Tree    NodeSnapshot `json:"tree"`
}

// Snapshot captures the subtree rooted at n.
func (n *TaskNode) Snapshot() NodeSnapshot {
	n.mu.RLock()
	snap := NodeSnapshot{ID: n.id.String(), State: n.state}
	children := slices.Clone(n.children)
	n.mu.RUnlock()
	snap.Kind = n.kind()

	for _, c := range children {
		snap.Children = append(snap.Children, c.Snapshot())
	}
	return snap
}

// Describe captures the scheduler state. It is safe to call from any goroutine,
// though the tree may change while it is being walked.
func (s *Scheduler) Describe() SchedulerSnapshot {
	s.ctl.Lock()
	snap := SchedulerSnapshot{
		Name:    s.name,
		Running: s.running,
		Queued:  len(s.queue),
	}
	if s.runCtx != nil {
		snap.RunID = s.runID.String()
	}
	s.ctl.Unlock()

	s.pending.ForEach(func(_ string, label string) bool {
		snap.Pending = append(snap.Pending, label)
		return true
	})
	slices.Sort(snap.Pending)
	snap.Tree = s.TaskNode.Snapshot()
	return snap
}

// MarshalJSON renders the scheduler as its snapshot.
func (s *Scheduler) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Describe())
}
