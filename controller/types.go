package controller

// Breakpoint is the controller-side mirror of one breakpoint the runtime
// has acknowledged (see Session.SendCommandForAck/applyAck). It holds no
// reference into the debuggee's address space; its fields track the
// runtime-side breakpoints.Breakpoint closely enough for a front end to
// list and describe breakpoints without round-tripping through the
// runtime, per spec.md §3's Breakpoint entry and the "both sides hold
// equivalent but independent breakpoint views" ownership split.
type Breakpoint struct {
	ID        int
	File      string
	Line      int
	Condition string
	HitCount  string
	Enabled   bool
	TotalHits int
}

// Watch is the controller-side mirror of one expression whose results the
// session has observed. The wire protocol re-evaluates ad hoc expressions
// (ipc.CmdEvaluate) rather than registering a persistent watch id, so a
// Watch here is keyed by expression text and refreshed each time a
// matching ExpressionResult event arrives.
type Watch struct {
	Expression string
	Rendering  string
	Tick       int64
}
