// Package rpc exposes a controller session over JSON-RPC 2.0, for
// front ends that want programmatic control without a DAP client or a
// line REPL (editor plugins, scripts, a web UI's backend). Uses the
// standard jrpc2.NewServer + handler.Map + channel.Header wiring, with
// Dbug's own method set.
package rpc

import (
	"context"
	"fmt"
	"io"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/creachadair/jrpc2/handler"

	"github.com/dbug-project/dbug/controller"
	"github.com/dbug-project/dbug/controller/bpsyntax"
	"github.com/dbug-project/dbug/ipc"
)

// Server exposes a controller.Session's control plane as JSON-RPC
// methods: setBreakpoint, clearBreakpoint, enableBreakpoint,
// listBreakpoints, continue, stepOver, stepInto, stepOut, evaluate, quit.
type Server struct {
	sess   *controller.Session
	server *jrpc2.Server
}

// New builds a Server bound to sess.
func New(sess *controller.Session) *Server {
	s := &Server{sess: sess}
	s.server = jrpc2.NewServer(handler.Map{
		"setBreakpoint":    handler.New(s.setBreakpoint),
		"clearBreakpoint":  handler.New(s.clearBreakpoint),
		"enableBreakpoint": handler.New(s.enableBreakpoint),
		"listBreakpoints":  handler.New(s.listBreakpoints),
		"continue":         handler.New(s.continueCmd),
		"stepOver":         handler.New(s.stepOver),
		"stepInto":         handler.New(s.stepInto),
		"stepOut":          handler.New(s.stepOut),
		"evaluate":         handler.New(s.evaluate),
		"quit":             handler.New(s.quit),
	}, &jrpc2.ServerOptions{AllowPush: true})
	return s
}

// Listen serves JSON-RPC requests read from r, with responses written to
// w, until the connection closes.
func (s *Server) Listen(ctx context.Context, r io.Reader, w io.WriteCloser) error {
	conn := s.server.Start(channel.Header("")(r, w))
	return conn.Wait()
}

// SetBreakpointParams is the request body for "setBreakpoint": a single
// line of the controller's breakpoint syntax, e.g. "main.glyph:42 if i>=3".
type SetBreakpointParams struct {
	Spec string `json:"spec"`
}

// SetBreakpointResult reports the runtime-confirmed breakpoint: ID is only
// valid once OK is true, since setBreakpoint blocks on the runtime's Ack
// before returning.
type SetBreakpointResult struct {
	ID        int    `json:"id"`
	OK        bool   `json:"ok"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Condition string `json:"condition,omitempty"`
}

func (s *Server) setBreakpoint(ctx context.Context, p SetBreakpointParams) (SetBreakpointResult, error) {
	parsed, err := bpsyntax.Parse(p.Spec)
	if err != nil {
		return SetBreakpointResult{}, err
	}
	cmd := ipc.Command{
		Kind:      ipc.CmdSetBreakpoint,
		File:      parsed.File,
		Line:      parsed.Line,
		Condition: parsed.Condition,
		HitCount:  parsed.HitCount.String(),
	}
	ack, err := s.sess.SendCommandForAck(cmd)
	if err != nil {
		return SetBreakpointResult{}, err
	}
	return SetBreakpointResult{ID: ack.BreakpointID, OK: ack.OK, File: parsed.File, Line: parsed.Line, Condition: parsed.Condition}, nil
}

// BreakpointIDParams identifies a breakpoint by its runtime-assigned id.
type BreakpointIDParams struct {
	ID int `json:"id"`
}

// AckResult reports whether the runtime confirmed the mutation.
type AckResult struct {
	OK bool `json:"ok"`
}

func (s *Server) clearBreakpoint(ctx context.Context, p BreakpointIDParams) (AckResult, error) {
	ack, err := s.sess.SendCommandForAck(ipc.Command{Kind: ipc.CmdClearBreakpoint, BreakpointID: p.ID})
	return AckResult{OK: ack.OK}, err
}

// EnableBreakpointParams toggles a breakpoint on or off without removing
// it from the table.
type EnableBreakpointParams struct {
	ID     int  `json:"id"`
	Enable bool `json:"enable"`
}

func (s *Server) enableBreakpoint(ctx context.Context, p EnableBreakpointParams) (AckResult, error) {
	ack, err := s.sess.SendCommandForAck(ipc.Command{Kind: ipc.CmdEnableBreakpoint, BreakpointID: p.ID, Enable: p.Enable})
	return AckResult{OK: ack.OK}, err
}

// listBreakpoints returns the controller-side breakpoint mirror, populated
// from confirmed SetBreakpoint/ClearBreakpoint/EnableBreakpoint acks and
// refreshed on every BreakpointHit event.
func (s *Server) listBreakpoints(ctx context.Context) ([]controller.Breakpoint, error) {
	return s.sess.Breakpoints(), nil
}

func (s *Server) continueCmd(ctx context.Context) (struct{}, error) {
	return struct{}{}, s.sess.SendCommand(ipc.Command{Kind: ipc.CmdContinue})
}

func (s *Server) stepOver(ctx context.Context) (struct{}, error) {
	return struct{}{}, s.sess.SendCommand(ipc.Command{Kind: ipc.CmdStepOver})
}

func (s *Server) stepInto(ctx context.Context) (struct{}, error) {
	return struct{}{}, s.sess.SendCommand(ipc.Command{Kind: ipc.CmdStepInto})
}

func (s *Server) stepOut(ctx context.Context) (struct{}, error) {
	return struct{}{}, s.sess.SendCommand(ipc.Command{Kind: ipc.CmdStepOut})
}

// EvaluateParams carries an expression to render against the suspended
// task's current scope. The result arrives asynchronously as an
// ExpressionResult event — evaluate only acknowledges that the request
// was sent, matching the runtime's own asynchronous evaluation model.
type EvaluateParams struct {
	Expression string `json:"expression"`
}

func (s *Server) evaluate(ctx context.Context, p EvaluateParams) (struct{}, error) {
	if p.Expression == "" {
		return struct{}{}, fmt.Errorf("rpc: evaluate requires a non-empty expression")
	}
	return struct{}{}, s.sess.SendCommand(ipc.Command{Kind: ipc.CmdEvaluate, Expression: p.Expression})
}

func (s *Server) quit(ctx context.Context) (struct{}, error) {
	return struct{}{}, s.sess.Stop()
}
