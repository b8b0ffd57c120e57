package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbug-project/dbug/ipc"
	"github.com/dbug-project/dbug/runtime"
	"github.com/dbug-project/dbug/runtime/breakpoints"
)

// recordingEmitter collects every event emitted, in order, and lets a test
// block until a particular kind has arrived.
type recordingEmitter struct {
	mu     sync.Mutex
	events []ipc.Event
	notify chan struct{}
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{notify: make(chan struct{}, 64)}
}

func (r *recordingEmitter) Emit(ev ipc.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *recordingEmitter) snapshot() []ipc.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ipc.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingEmitter) waitFor(t *testing.T, kind ipc.EventKind) ipc.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, ev := range r.snapshot() {
			if ev.Kind == kind {
				return ev
			}
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %s", kind)
		}
	}
}

func loc(file string, line int, fn string) runtime.DebugPoint {
	return runtime.DebugPoint{File: file, Line: line, Function: fn}
}

// Scenario: a breakpoint set at a line fires on the first hit and
// Continue resumes execution past it.
func TestSimpleBreakAndContinue(t *testing.T) {
	emitter := newRecordingEmitter()
	e := New(emitter)
	e.ApplyControlNow(ipc.Command{Kind: ipc.CmdSetBreakpoint, File: "main.glyph", Line: 10, HitCount: "always"})

	done := make(chan struct{})
	go func() {
		e.BreakHere(runtime.RootTaskID, loc("main.glyph", 10, "main"))
		close(done)
	}()

	emitter.waitFor(t, ipc.EventBreakpointHit)
	e.DeliverResponse(runtime.RootTaskID, ipc.Command{Kind: ipc.CmdContinue})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("BreakHere never returned after Continue")
	}
}

// Scenario: StepInto pauses on the very next function entry.
func TestStepIntoPausesOnNextEntry(t *testing.T) {
	emitter := newRecordingEmitter()
	e := New(emitter)

	done := make(chan struct{})
	go func() {
		e.BreakHere(runtime.RootTaskID, loc("main.glyph", 1, "main"))
		close(done)
	}()
	emitter.waitFor(t, ipc.EventBreakpointHit)
	e.DeliverResponse(runtime.RootTaskID, ipc.Command{Kind: ipc.CmdStepInto})
	<-done

	entered := make(chan struct{})
	go func() {
		e.EnterFunction(runtime.RootTaskID, "helper", loc("main.glyph", 5, "main"))
		close(entered)
	}()

	ev := emitter.waitFor(t, ipc.EventStepPaused)
	assert.Equal(t, "helper", ev.Function)
	e.DeliverResponse(runtime.RootTaskID, ipc.Command{Kind: ipc.CmdContinue})

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("EnterFunction never returned after Continue")
	}
}

// Scenario: a conditional breakpoint set with hit-count equals(3) fires
// only on the third call at that location.
func TestConditionalBreakpointThirdHitOnly(t *testing.T) {
	emitter := newRecordingEmitter()
	e := New(emitter)
	eq3, err := breakpoints.ParsePredicate("equals(3)")
	require.NoError(t, err)
	e.Breakpoints().Add(breakpoints.Location{File: "loop.glyph", Line: 20}, "", eq3)

	hits := 0
	for i := 0; i < 4; i++ {
		done := make(chan struct{})
		go func() {
			e.BreakHere(runtime.RootTaskID, loc("loop.glyph", 20, "loop"))
			close(done)
		}()

		select {
		case <-done:
			// did not suspend
		case <-time.After(100 * time.Millisecond):
			hits++
			e.DeliverResponse(runtime.RootTaskID, ipc.Command{Kind: ipc.CmdContinue})
			<-done
		}
	}
	assert.Equal(t, 1, hits, "equals(3) must fire on exactly one of four hits")
}

// Scenario: a panic unwinding through instrumented frames still pops every
// frame via ExitFunction, so the call stack returns to depth zero.
func TestPanicUnwindStillPopsEveryFrame(t *testing.T) {
	e := New(nil)

	func() {
		defer func() {
			recover()
		}()
		e.EnterFunction(runtime.RootTaskID, "outer", loc("f.glyph", 1, ""))
		defer e.ExitFunction(runtime.RootTaskID, "outer")

		e.EnterFunction(runtime.RootTaskID, "inner", loc("f.glyph", 2, ""))
		defer e.ExitFunction(runtime.RootTaskID, "inner")

		panic("boom")
	}()

	assert.Equal(t, 0, e.CurrentDepth(runtime.RootTaskID))
}

// Scenario: an async task's AsyncTaskCreated event always names its
// parent, and the parent is created (or is the root) before the child.
func TestAsyncParentPrecedesChild(t *testing.T) {
	emitter := newRecordingEmitter()
	e := New(emitter)

	childID, err := e.AsyncEnter("worker", runtime.RootTaskID)
	require.NoError(t, err)
	assert.NotEqual(t, runtime.RootTaskID, childID)

	ev := emitter.waitFor(t, ipc.EventAsyncTaskCreated)
	require.NotNil(t, ev.ParentID)
	assert.Equal(t, runtime.RootTaskID, *ev.ParentID)
	assert.Equal(t, childID, ev.TaskID)

	grandchildID, err := e.AsyncEnter("grandworker", childID)
	require.NoError(t, err)
	ev2 := emitter.waitFor2(t, ipc.EventAsyncTaskCreated, grandchildID)
	require.NotNil(t, ev2.ParentID)
	assert.Equal(t, childID, *ev2.ParentID)
}

func (r *recordingEmitter) waitFor2(t *testing.T, kind ipc.EventKind, taskID int64) ipc.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, ev := range r.snapshot() {
			if ev.Kind == kind && ev.TaskID == taskID {
				return ev
			}
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %s task %d", kind, taskID)
		}
	}
}

// Unknown parent ids are rejected, keeping the task table a DAG by
// construction.
func TestAsyncEnterRejectsUnknownParent(t *testing.T) {
	e := New(nil)
	_, err := e.AsyncEnter("orphan", 999)
	assert.Error(t, err)
}

// Detach releases every suspended task with an implicit Continue.
func TestDetachReleasesSuspendedTasks(t *testing.T) {
	emitter := newRecordingEmitter()
	e := New(emitter)
	e.Breakpoints().Add(breakpoints.Location{File: "m.glyph", Line: 3}, "", breakpoints.Predicate{Kind: breakpoints.Always})

	done := make(chan struct{})
	go func() {
		e.BreakHere(runtime.RootTaskID, loc("m.glyph", 3, "m"))
		close(done)
	}()
	emitter.waitFor(t, ipc.EventBreakpointHit)

	e.Detach("controller disconnected")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("BreakHere never returned after Detach")
	}
	assert.True(t, e.Detached())
}
