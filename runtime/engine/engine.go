// Package engine implements the runtime engine: the single, process-wide,
// in-process state machine that backs the instrumentation ABI (package
// runtime). It owns the call stacks, the variable registry, the breakpoint
// table, and the flow-control state machine, and decides at every debug
// point whether to suspend the calling debuggee thread.
package engine

import (
	"fmt"
	"log"
	"sync"

	"github.com/dbug-project/dbug/ipc"
	"github.com/dbug-project/dbug/runtime"
	"github.com/dbug-project/dbug/runtime/async"
	"github.com/dbug-project/dbug/runtime/breakpoints"
	"github.com/dbug-project/dbug/runtime/eval"
)

// Emitter sends an event to the controller over whatever transport the
// embedding program configured. Emit must be safe to call
// without the Engine's lock held — it is expected to perform I/O.
type Emitter interface {
	Emit(ipc.Event) error
}

// New constructs an Engine. emitter may be nil in tests that don't care
// about the wire format; in that case events are dropped silently.
func New(emitter Emitter) *Engine {
	e := &Engine{
		emitter:    emitter,
		bp:         breakpoints.NewTable(),
		correlator: async.NewCorrelator(),
		stacks:     map[int64]*runtime.CallStack{runtime.RootTaskID: runtime.NewCallStack()},
		flow:       map[int64]*runtime.FlowState{runtime.RootTaskID: {Kind: runtime.FlowRunning}},
		waiters:    map[int64]chan ipc.Command{},
	}
	return e
}

// Engine is the runtime's single logical state machine. All exported
// methods are safe for concurrent use from arbitrary debuggee threads and
// from the IPC reader thread that delivers commands.
type Engine struct {
	mu         sync.Mutex
	emitter    Emitter
	bp         *breakpoints.Table
	correlator *async.Correlator
	stacks     map[int64]*runtime.CallStack
	flow       map[int64]*runtime.FlowState
	waiters    map[int64]chan ipc.Command
	detached   bool
}

// Breakpoints exposes the engine's breakpoint table, e.g. for a local
// SetBreakpoint call issued in-process (tests, or an embedded debugger
// without a separate controller process).
func (e *Engine) Breakpoints() *breakpoints.Table { return e.bp }

// Correlator exposes the async task table.
func (e *Engine) Correlator() *async.Correlator { return e.correlator }

// Detached reports whether the engine has detached from the controller.
func (e *Engine) Detached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detached
}

func (e *Engine) emit(ev ipc.Event) error {
	if e.emitter == nil {
		return nil
	}
	return e.emitter.Emit(ev)
}

func (e *Engine) stackFor(taskID int64) *runtime.CallStack {
	s, ok := e.stacks[taskID]
	if !ok {
		s = runtime.NewCallStack()
		e.stacks[taskID] = s
	}
	return s
}

func (e *Engine) flowFor(taskID int64) *runtime.FlowState {
	f, ok := e.flow[taskID]
	if !ok {
		f = &runtime.FlowState{Kind: runtime.FlowRunning}
		e.flow[taskID] = f
	}
	return f
}

// ---- instrumentation ABI entry points ----

// EnterFunction pushes a frame for an invocation of function and, if the
// task is stepping into calls, suspends before returning.
func (e *Engine) EnterFunction(taskID int64, function string, callSite runtime.DebugPoint) {
	e.mu.Lock()
	stack := e.stackFor(taskID)
	stack.Push(function, callSite)
	flow := e.flowFor(taskID)
	stepInto := flow.Kind == runtime.FlowStepInto
	if stepInto {
		flow.Kind = runtime.FlowPaused
	}
	e.mu.Unlock()

	e.emit(ipc.Event{Kind: ipc.EventFunctionEntered, Function: function, TaskID: taskID})

	if stepInto {
		resp := e.suspendAndWait(taskID, ipc.Event{
			Kind: ipc.EventStepPaused, Function: function, TaskID: taskID,
			File: callSite.File, Line: callSite.Line, Column: callSite.Column,
		})
		e.applyFlowTransition(taskID, resp)
	}
}

// ExitFunction pops the matching frame from function's task, reconciling
// an instrumentation bug (a mismatched name) by popping until the name
// matches or the stack empties.
func (e *Engine) ExitFunction(taskID int64, function string) {
	e.mu.Lock()
	stack := e.stackFor(taskID)
	for {
		frame, ok := stack.Pop()
		if !ok {
			break
		}
		if frame.Function == function {
			break
		}
		log.Printf("dbug: protocol violation: exit_function(%q) while top frame was %q (task %d); reconciling by popping", function, frame.Function, taskID)
	}
	depth := stack.Depth()
	flow := e.flowFor(taskID)
	stepOutDone := flow.Kind == runtime.FlowStepOut && depth < flow.Depth
	if stepOutDone {
		flow.Kind = runtime.FlowPaused
	}
	e.mu.Unlock()

	e.emit(ipc.Event{Kind: ipc.EventFunctionExited, Function: function, TaskID: taskID})

	if stepOutDone {
		resp := e.suspendAndWait(taskID, ipc.Event{Kind: ipc.EventStepPaused, Function: function, TaskID: taskID})
		e.applyFlowTransition(taskID, resp)
	}
}

// RegisterVariable upserts a variable into the current frame. Re-
// registration with an identical rendering leaves ChangeCount unchanged;
// a differing rendering bumps it by exactly one. This is the only place a
// VariableRecord's rendering is updated — there is no implicit re-scan on
// repeated execution of the same line; only an explicit call updates it.
func (e *Engine) RegisterVariable(taskID int64, name, typeName, rendering string, mutable bool) {
	e.mu.Lock()
	stack := e.stackFor(taskID)
	frame := stack.Top()
	if frame == nil {
		e.mu.Unlock()
		return
	}
	rec, exists := frame.Variables[name]
	if !exists {
		frame.Variables[name] = &runtime.VariableRecord{
			Name: name, TypeName: typeName, Rendering: rendering, Mutable: mutable,
		}
	} else {
		if rec.Rendering != rendering {
			rec.PreviousRender = rec.Rendering
			rec.Rendering = rendering
			rec.ChangeCount++
		}
		rec.TypeName = typeName
		rec.Mutable = mutable
	}
	e.mu.Unlock()

	e.emit(ipc.Event{Kind: ipc.EventVariableUpdated, VarName: name, VarType: typeName, Rendering: rendering, TaskID: taskID})
}

// BreakHere implements the unconditional inline break ABI call.
func (e *Engine) BreakHere(taskID int64, loc runtime.DebugPoint) {
	e.breakAt(taskID, loc, "")
}

// BreakIf implements the conditional break ABI call; conditionText is the
// original source text of the predicate, evaluated here by the engine —
// never by the instrumentation.
func (e *Engine) BreakIf(taskID int64, loc runtime.DebugPoint, conditionText string) {
	e.breakAt(taskID, loc, conditionText)
}

func (e *Engine) breakAt(taskID int64, loc runtime.DebugPoint, conditionText string) {
	key := breakpoints.Location{File: loc.File, Line: loc.Line}

	e.mu.Lock()
	flow := e.flowFor(taskID)
	depth := e.stackFor(taskID).Depth()
	var suspend bool
	switch flow.Kind {
	case runtime.FlowStepOver:
		suspend = depth <= flow.Depth
	case runtime.FlowStepInto:
		suspend = true
	case runtime.FlowStepOut:
		suspend = false
	default:
		scope := e.scopeSnapshotLocked(taskID)
		condEval := func(expr string) bool { return eval.EvalCondition(expr, scope) }
		candidates := e.bp.Lookup(key)
		if len(candidates) > 0 {
			suspend = e.bp.ShouldSuspend(key, false, condEval)
		} else if conditionText != "" {
			suspend = eval.EvalCondition(conditionText, scope)
		} else {
			suspend = e.bp.ShouldSuspend(key, true, nil)
		}
	}
	if suspend {
		flow.Kind = runtime.FlowPaused
	}
	e.mu.Unlock()

	if !suspend {
		return
	}

	resp := e.suspendAndWait(taskID, ipc.Event{
		Kind: ipc.EventBreakpointHit, File: loc.File, Line: loc.Line, Column: loc.Column,
		Function: loc.Function, TaskID: taskID,
	})
	e.applyFlowTransition(taskID, resp)
}

// scopeSnapshotLocked must be called with e.mu held.
func (e *Engine) scopeSnapshotLocked(taskID int64) eval.Scope {
	scope := eval.MapScope{}
	if frame := e.stackFor(taskID).Top(); frame != nil {
		for name, rec := range frame.Variables {
			scope[name] = rec.Rendering
		}
	}
	return scope
}

// ---- async correlation ----

// AsyncEnter mints a fresh task id, recording parentID as its parent, and
// emits AsyncTaskCreated before any other event can carry the new taskId —
// true by construction, since the caller must receive this call's result
// before it can emit anything else for the new task.
func (e *Engine) AsyncEnter(name string, parentID int64) (int64, error) {
	task, err := e.correlator.Spawn(name, parentID)
	if err != nil {
		return 0, err
	}
	parent := parentID
	e.emit(ipc.Event{Kind: ipc.EventAsyncTaskCreated, Function: name, TaskID: task.ID, ParentID: &parent})

	e.mu.Lock()
	e.stacks[task.ID] = runtime.NewCallStack()
	e.flow[task.ID] = &runtime.FlowState{Kind: runtime.FlowRunning}
	e.mu.Unlock()

	return task.ID, nil
}

// AsyncExit marks a task completed. Its stack must already be empty (every
// EnterFunction within the task has been matched by ExitFunction).
func (e *Engine) AsyncExit(taskID int64) {
	e.correlator.SetState(taskID, async.Completed)
}

// ---- suspend/resume plumbing ----

// suspendAndWait emits ev, then blocks the calling goroutine until a
// terminal flow-control response (Continue/StepOver/StepInto/StepOut)
// arrives for taskID. Evaluate and breakpoint-table mutation commands are
// handled inline without ending the suspension, matching the transition
// table below.
func (e *Engine) suspendAndWait(taskID int64, ev ipc.Event) ipc.Command {
	e.mu.Lock()
	if e.detached {
		e.mu.Unlock()
		return ipc.Command{Kind: ipc.CmdContinue}
	}
	ch := make(chan ipc.Command, 1)
	e.waiters[taskID] = ch
	e.mu.Unlock()

	if err := e.emit(ev); err != nil {
		e.Detach(fmt.Sprintf("ipc failure emitting %s: %v", ev.Kind, err))
		return ipc.Command{Kind: ipc.CmdContinue}
	}

	for {
		cmd, ok := <-ch
		if !ok {
			return ipc.Command{Kind: ipc.CmdContinue}
		}
		switch cmd.Kind {
		case ipc.CmdEvaluate:
			e.mu.Lock()
			scope := e.scopeSnapshotLocked(taskID)
			e.mu.Unlock()
			result := eval.Eval(cmd.Expression, scope)
			e.emit(ipc.Event{Kind: ipc.EventExpressionResult, Expression: cmd.Expression, Rendering: result.Render(), TaskID: taskID})
			continue
		case ipc.CmdSetBreakpoint, ipc.CmdClearBreakpoint, ipc.CmdEnableBreakpoint:
			e.applyControl(cmd)
			continue
		default:
			e.mu.Lock()
			delete(e.waiters, taskID)
			e.mu.Unlock()
			return cmd
		}
	}
}

// DeliverResponse routes a command from the controller to the task
// currently suspended with that id. If no task is suspended with that id,
// the command is treated as a control-plane mutation (SetBreakpoint etc.)
// applied immediately — breakpoints may be set before any suspension ever
// occurs.
func (e *Engine) DeliverResponse(taskID int64, cmd ipc.Command) {
	e.mu.Lock()
	ch, waiting := e.waiters[taskID]
	e.mu.Unlock()

	if waiting {
		ch <- cmd
		return
	}

	switch cmd.Kind {
	case ipc.CmdSetBreakpoint, ipc.CmdClearBreakpoint, ipc.CmdEnableBreakpoint:
		e.applyControl(cmd)
	}
}

func (e *Engine) applyControl(cmd ipc.Command) ipc.Ack {
	switch cmd.Kind {
	case ipc.CmdSetBreakpoint:
		pred, err := breakpoints.ParsePredicate(cmd.HitCount)
		if err != nil {
			pred = breakpoints.Predicate{Kind: breakpoints.Always}
		}
		id := e.bp.Add(breakpoints.Location{File: cmd.File, Line: cmd.Line}, cmd.Condition, pred)
		return ipc.Ack{BreakpointID: id, OK: true}
	case ipc.CmdClearBreakpoint:
		ok := e.bp.Remove(cmd.BreakpointID)
		return ipc.Ack{BreakpointID: cmd.BreakpointID, OK: ok}
	case ipc.CmdEnableBreakpoint:
		ok := e.bp.SetEnabled(cmd.BreakpointID, cmd.Enable)
		return ipc.Ack{BreakpointID: cmd.BreakpointID, OK: ok}
	default:
		return ipc.Ack{OK: false}
	}
}

// ApplyControlNow is the synchronous entry point a controller's command
// handler calls when issuing SetBreakpoint/ClearBreakpoint/
// EnableBreakpoint outside of any suspension — it returns the Ack
// immediately rather than requiring a round trip through DeliverResponse.
func (e *Engine) ApplyControlNow(cmd ipc.Command) ipc.Ack {
	return e.applyControl(cmd)
}

func (e *Engine) applyFlowTransition(taskID int64, cmd ipc.Command) {
	e.mu.Lock()
	flow := e.flowFor(taskID)
	depth := e.stackFor(taskID).Depth()
	switch cmd.Kind {
	case ipc.CmdContinue:
		flow.Kind = runtime.FlowRunning
	case ipc.CmdStepOver:
		flow.Kind = runtime.FlowStepOver
		flow.Depth = depth
	case ipc.CmdStepInto:
		flow.Kind = runtime.FlowStepInto
	case ipc.CmdStepOut:
		flow.Kind = runtime.FlowStepOut
		flow.Depth = depth
	case ipc.CmdQuit:
		flow.Kind = runtime.FlowRunning
		e.mu.Unlock()
		e.Detach("quit")
		return
	default:
		flow.Kind = runtime.FlowRunning
	}
	e.mu.Unlock()
}

// Detach transitions every task to Running and unblocks any currently
// suspended debuggee thread with an implicit Continue, so a lost
// controller never leaves the debuggee deadlocked.
func (e *Engine) Detach(reason string) {
	e.mu.Lock()
	if e.detached {
		e.mu.Unlock()
		return
	}
	e.detached = true
	for _, flow := range e.flow {
		flow.Kind = runtime.FlowRunning
	}
	waiters := e.waiters
	e.waiters = map[int64]chan ipc.Command{}
	e.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	e.emit(ipc.Event{Kind: ipc.EventDetached, Reason: reason})
}

// CurrentDepth returns the call-stack depth for a task — exported for
// tests verifying that BreakpointHit depth equals entered-but-not-exited
// frame count.
func (e *Engine) CurrentDepth(taskID int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stackFor(taskID).Depth()
}
