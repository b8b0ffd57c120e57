// Package ipc implements the bidirectional, framed wire protocol between
// the debug runtime (in the debuggee) and the controller. It defines the
// message schema and the framing; concrete transports
// (shared-memory ring, websocket tunnel, Redis fan-out) live in the ipc/shm,
// ipc/ws, and ipc/eventbus subpackages and all move the same records.
package ipc

// ProtocolVersion is exchanged in the handshake so a runtime and controller
// built from mismatched versions fail fast instead of producing a stream of
// ProtocolViolation errors.
const ProtocolVersion = 1

// EventKind discriminates the Event union.
type EventKind string

const (
	EventFunctionEntered  EventKind = "FunctionEntered"
	EventFunctionExited   EventKind = "FunctionExited"
	EventBreakpointHit    EventKind = "BreakpointHit"
	EventVariableUpdated  EventKind = "VariableUpdated"
	EventAsyncTaskCreated EventKind = "AsyncTaskCreated"
	EventExpressionResult EventKind = "ExpressionResult"
	EventStepPaused       EventKind = "StepPaused"
	EventDetached         EventKind = "Detached"
)

// Event is the tagged union of every record the runtime may emit. Only the
// fields relevant to Kind are populated, favoring small, explicit,
// named structs over a marshaled interface{} payload.
type Event struct {
	Kind EventKind `json:"kind"`

	// FunctionEntered / FunctionExited / BreakpointHit
	Function string `json:"fn,omitempty"`
	TaskID   int64  `json:"taskId"`

	// BreakpointHit / StepPaused
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"col,omitempty"`

	// VariableUpdated
	VarName    string `json:"name,omitempty"`
	VarType    string `json:"type,omitempty"`
	Rendering  string `json:"rendering,omitempty"`

	// AsyncTaskCreated
	ParentID    *int64 `json:"parentId,omitempty"`

	// ExpressionResult
	Expression string `json:"expr,omitempty"`

	// Detached
	Reason string `json:"reason,omitempty"`
}

// CommandKind discriminates the Command/Response union.
type CommandKind string

const (
	CmdContinue         CommandKind = "Continue"
	CmdStepOver         CommandKind = "StepOver"
	CmdStepInto         CommandKind = "StepInto"
	CmdStepOut          CommandKind = "StepOut"
	CmdEvaluate         CommandKind = "Evaluate"
	CmdSetBreakpoint    CommandKind = "SetBreakpoint"
	CmdClearBreakpoint  CommandKind = "ClearBreakpoint"
	CmdEnableBreakpoint CommandKind = "EnableBreakpoint"
	CmdQuit             CommandKind = "Quit"
)

// Command is the tagged union of controller->runtime responses/commands.
type Command struct {
	Kind CommandKind `json:"kind"`

	// Evaluate
	Expression string `json:"expr,omitempty"`

	// SetBreakpoint
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
	Condition string `json:"condition,omitempty"`
	HitCount  string `json:"hitCount,omitempty"`

	// ClearBreakpoint / EnableBreakpoint
	BreakpointID int  `json:"id,omitempty"`
	Enable       bool `json:"enable,omitempty"`
}

// Handshake is the first frame exchanged in both directions before any
// Event or Command frame. A version mismatch must fail fast rather than
// produce ProtocolViolation noise later.
type Handshake struct {
	Version int    `json:"version"`
	Session string `json:"session"`
}

// Ack acknowledges a control-plane command (SetBreakpoint, ClearBreakpoint,
// EnableBreakpoint) applied outside of any suspension. The controller must
// never assume a change is live until the ack arrives.
type Ack struct {
	BreakpointID int  `json:"breakpointId,omitempty"`
	OK           bool `json:"ok"`
}
