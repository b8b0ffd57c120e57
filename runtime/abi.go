package runtime

import (
	"sync"

	"github.com/dbug-project/dbug/ipc"
	"github.com/dbug-project/dbug/runtime/engine"
)

var (
	globalMu  sync.Mutex
	globalEng *engine.Engine
)

// Emitter is re-exported so an event emitter (runtime/attach.Conn, which
// wraps an ipc/shm or ipc/ws channel) can be handed to Init without
// importing runtime/engine directly.
type Emitter = engine.Emitter

// Init installs the process-wide engine with the given event emitter. It
// must be called once before any ABI function is used; calling it twice
// without an intervening Teardown panics.
func Init(emitter Emitter) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalEng != nil {
		panic("runtime: Init called twice without Teardown")
	}
	globalEng = engine.New(emitter)
}

// Teardown releases the process-wide engine, detaching any still-suspended
// tasks first.
func Teardown() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalEng == nil {
		return
	}
	globalEng.Detach("runtime teardown")
	globalEng = nil
}

// ResetForTest discards the current engine (if any) without emitting a
// Detached event, and installs a fresh one. Test-only.
func ResetForTest(emitter Emitter) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalEng = engine.New(emitter)
}

func current() *engine.Engine {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalEng == nil {
		panic("runtime: ABI called before Init")
	}
	return globalEng
}

// TaskHandle identifies one async task (or the synchronous root, the zero
// value). It is a thin value type, not a pointer into engine state, so
// holding one never pins a call stack alive.
type TaskHandle struct {
	id int64
}

// Root is the handle for the synchronous, non-async execution.
var Root = TaskHandle{id: RootTaskID}

// ID returns the underlying task id, e.g. for inclusion in application logs.
func (t TaskHandle) ID() int64 { return t.id }

// FrameGuard is returned by EnterFunction; the instrumentation pass is
// expected to `defer g.Exit()` immediately at the call site. It carries the
// task id and function name, not a pointer to the live frame, so display
// code never dereferences a popped frame.
type FrameGuard struct {
	task     TaskHandle
	function string
}

// EnterFunction records entry into function on the root task and returns a
// guard whose Exit must be deferred by the caller.
func EnterFunction(function string) FrameGuard {
	return Root.EnterFunction(function)
}

// EnterFunction records entry into function on task t.
func (t TaskHandle) EnterFunction(function string) FrameGuard {
	current().EnterFunction(t.id, function, DebugPoint{Function: function, Kind: FunctionEntry})
	return FrameGuard{task: t, function: function}
}

// Exit pops the frame pushed by the matching EnterFunction. Safe to call
// via defer on every exit path, including panics.
func (g FrameGuard) Exit() {
	current().ExitFunction(g.task.id, g.function)
}

// RegisterVariable upserts a variable into the current frame of the root
// task.
func RegisterVariable(name, typeName, rendering string, mutable bool) {
	Root.RegisterVariable(name, typeName, rendering, mutable)
}

// RegisterVariable upserts a variable into the current frame of task t.
func (t TaskHandle) RegisterVariable(name, typeName, rendering string, mutable bool) {
	current().RegisterVariable(t.id, name, typeName, rendering, mutable)
}

// BreakHere suspends the root task at this source location unless stepping
// state says otherwise.
func BreakHere(file string, line, col int, fn string) {
	Root.BreakHere(file, line, col, fn)
}

// BreakHere suspends task t at this source location unless stepping state
// says otherwise.
func (t TaskHandle) BreakHere(file string, line, col int, fn string) {
	current().BreakHere(t.id, DebugPoint{File: file, Line: line, Column: col, Function: fn, Kind: InlineBreak})
}

// BreakIf suspends the root task at this source location if conditionText
// evaluates truthy against the current scope.
func BreakIf(file string, line, col int, fn, conditionText string) {
	Root.BreakIf(file, line, col, fn, conditionText)
}

// BreakIf suspends task t at this source location if conditionText
// evaluates truthy against the current scope.
func (t TaskHandle) BreakIf(file string, line, col int, fn, conditionText string) {
	current().BreakIf(t.id, DebugPoint{File: file, Line: line, Column: col, Function: fn, Kind: ConditionalBreak, Condition: conditionText}, conditionText)
}

// AsyncEnter spawns a new task named name as a child of parent (Root if
// nil) and returns its handle.
func AsyncEnter(name string, parent *TaskHandle) *TaskHandle {
	parentID := RootTaskID
	if parent != nil {
		parentID = parent.id
	}
	id, err := current().AsyncEnter(name, parentID)
	if err != nil {
		// The instrumentation handed us a parent task id the engine has
		// never seen; fail the async task back onto the root so the
		// debuggee keeps running rather than crashing on a debug-only
		// path.
		return &Root
	}
	return &TaskHandle{id: id}
}

// AsyncExit marks task t completed.
func (t *TaskHandle) AsyncExit() {
	current().AsyncExit(t.id)
}

// AsyncBreak suspends task t at this source location unless stepping
// state says otherwise.
func (t *TaskHandle) AsyncBreak(file string, line, col int, fn string) {
	current().BreakHere(t.id, DebugPoint{File: file, Line: line, Column: col, Function: fn, Kind: AsyncBreak})
}

// HandleCommand routes one decoded controller command to the task it
// targets. The IPC reader goroutine calls it for every FrameCommand other
// than a breakpoint-table mutation, which goes through ApplyControlNow.
func HandleCommand(taskID int64, cmd ipc.Command) {
	current().DeliverResponse(taskID, cmd)
}

// ApplyControlNow applies a breakpoint-table mutation command immediately
// and returns its acknowledgment, for a controller issuing SetBreakpoint/
// ClearBreakpoint/EnableBreakpoint outside of any suspension.
func ApplyControlNow(cmd ipc.Command) ipc.Ack {
	return current().ApplyControlNow(cmd)
}

// Detached reports whether the runtime has detached from its controller.
func Detached() bool {
	return current().Detached()
}
