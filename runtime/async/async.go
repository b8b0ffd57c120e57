// Package async implements the async-task correlation layer
// §4.5): it assigns task identities, tracks parent/child relations, and
// enforces the DAG invariant by construction.
package async

import (
	"fmt"
	"sync"
)

// State mirrors runtime.TaskState without importing the runtime package,
// keeping this package free-standing and independently testable.
type State int

const (
	Created State = iota
	Running
	Suspended
	Completed
)

// Task is one node in the async task tree.
type Task struct {
	ID       int64
	ParentID int64 // -1 when task has no parent (the root task)
	Function string
	State    State
}

// HasParent reports whether ParentID names a real parent task.
func (t Task) HasParent() bool { return t.ParentID >= 0 }

// NoParent is the sentinel ParentID for a task with no parent.
const NoParent int64 = -1

// RootTaskID is task 0, the synchronous root execution.
const RootTaskID int64 = 0

// Correlator owns the task-id -> Task table. Safe for concurrent use: it
// is consulted from arbitrary debuggee threads, and the runtime engine
// calls it without holding the engine's own lock, so it carries its own
// mutex; that also lets it be unit-tested without an engine.
type Correlator struct {
	mu     sync.Mutex
	tasks  map[int64]*Task
	nextID int64
}

// NewCorrelator creates a Correlator pre-seeded with the root task.
func NewCorrelator() *Correlator {
	c := &Correlator{
		tasks:  make(map[int64]*Task),
		nextID: RootTaskID + 1,
	}
	c.tasks[RootTaskID] = &Task{ID: RootTaskID, ParentID: NoParent, Function: "<root>", State: Running}
	return c
}

// Spawn allocates a new task id monotonically, records the parent, and
// returns the new Task. parentID must already exist in the table (this is
// what makes the parent/child graph a DAG by construction — a task can
// never name a parent that doesn't exist, so no cycle can form).
func (c *Correlator) Spawn(function string, parentID int64) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tasks[parentID]; !ok {
		return nil, fmt.Errorf("async: unknown parent task %d", parentID)
	}
	t := &Task{ID: c.nextID, ParentID: parentID, Function: function, State: Created}
	c.tasks[t.ID] = t
	c.nextID++
	t.State = Running
	return t, nil
}

// Get returns a task by id.
func (c *Correlator) Get(id int64) (*Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	return t, ok
}

// SetState transitions a task's lifecycle state.
func (c *Correlator) SetState(id int64, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tasks[id]; ok {
		t.State = state
	}
}

// Children returns the direct children of a task, in spawn order.
func (c *Correlator) Children(id int64) []*Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Task
	for childID := RootTaskID + 1; childID < c.nextID; childID++ {
		if t, ok := c.tasks[childID]; ok && t.ParentID == id {
			out = append(out, t)
		}
	}
	return out
}
