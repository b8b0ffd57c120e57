// Package dap bridges a Dbug controller session to the Debug Adapter
// Protocol, so editors that speak DAP (VS Code, Nvim-DAP) can drive a
// session the same way a line REPL or JSON-RPC client would. It follows
// the common request-dispatch/send-queue shape for a DAP server: every
// handler is wired onto controller.Session and ipc.Command/ipc.Event
// instead of a local in-process debugger.
package dap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"

	dapproto "github.com/google/go-dap"

	"github.com/dbug-project/dbug/controller"
	"github.com/dbug-project/dbug/controller/bpsyntax"
	"github.com/dbug-project/dbug/ipc"
)

// rootThreadID is the DAP thread id for the single root task every
// session starts with; additional async tasks get ids derived from their
// runtime task id.
const rootThreadID = 1

// Server adapts a controller.Session to the Debug Adapter Protocol over
// an arbitrary reader/writer pair (typically stdio).
type Server struct {
	sess *controller.Session
}

// New wraps sess for DAP traffic.
func New(sess *controller.Session) *Server {
	return &Server{sess: sess}
}

// Serve reads DAP protocol messages from r and writes responses/events to
// w until the connection closes or ctx is done.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	conn := &session{
		sess:      s.sess,
		rw:        bufio.NewReadWriter(bufio.NewReader(r), bufio.NewWriter(w)),
		sendQueue: make(chan dapproto.Message, 16),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	go conn.sendLoop()
	s.sess.OnEvent(conn.relayRuntimeEvent)

	for {
		select {
		case <-ctx.Done():
			close(conn.done)
			return ctx.Err()
		case <-conn.stopped:
			return conn.err
		default:
		}
		msg, err := dapproto.ReadProtocolMessage(conn.rw.Reader)
		if err != nil {
			close(conn.done)
			return err
		}
		go conn.dispatch(msg)
	}
}

type session struct {
	sess *controller.Session
	rw   *bufio.ReadWriter

	sendQueue chan dapproto.Message
	done      chan struct{}
	stopped   chan struct{}
	stopOnce  sync.Once
	err       error
}

func (c *session) sendLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sendQueue:
			if err := dapproto.WriteProtocolMessage(c.rw.Writer, msg); err != nil {
				log.Printf("dap: write failed: %v", err)
				continue
			}
			c.rw.Flush()
		}
	}
}

func (c *session) send(msgs ...dapproto.Message) {
	for _, m := range msgs {
		c.sendQueue <- m
	}
}

// relayRuntimeEvent translates an ipc.Event from the attached runtime into
// the matching DAP event, so the editor's UI updates without polling.
func (c *session) relayRuntimeEvent(ev ipc.Event) {
	switch ev.Kind {
	case ipc.EventBreakpointHit, ipc.EventStepPaused:
		c.send(&dapproto.StoppedEvent{
			Event: newEvent("stopped"),
			Body: dapproto.StoppedEventBody{
				Reason:            stopReason(ev.Kind),
				ThreadId:          threadIDFor(ev.TaskID),
				AllThreadsStopped: false,
			},
		})
	case ipc.EventExpressionResult:
		c.send(&dapproto.OutputEvent{
			Event: newEvent("output"),
			Body: dapproto.OutputEventBody{
				Category: "console",
				Output:   ev.Expression + " = " + ev.Rendering + "\n",
			},
		})
	case ipc.EventDetached:
		c.send(&dapproto.TerminatedEvent{Event: newEvent("terminated")})
		c.stopOnce.Do(func() { close(c.stopped) })
	}
}

func stopReason(kind ipc.EventKind) string {
	if kind == ipc.EventBreakpointHit {
		return "breakpoint"
	}
	return "step"
}

func threadIDFor(taskID int64) int {
	return int(taskID) + rootThreadID
}

func (c *session) dispatch(msg dapproto.Message) {
	req, ok := msg.(dapproto.RequestMessage)
	if !ok {
		return
	}

	var err error
	switch r := req.(type) {
	case *dapproto.InitializeRequest:
		err = c.onInitialize(r)
	case *dapproto.LaunchRequest:
		err = c.onLaunch(r)
	case *dapproto.SetBreakpointsRequest:
		err = c.onSetBreakpoints(r)
	case *dapproto.ConfigurationDoneRequest:
		c.send(&dapproto.ConfigurationDoneResponse{Response: newResponse(r)})
	case *dapproto.ContinueRequest:
		err = c.onFlowCommand(r, ipc.CmdContinue)
	case *dapproto.NextRequest:
		err = c.onFlowCommand(r, ipc.CmdStepOver)
	case *dapproto.StepInRequest:
		err = c.onFlowCommand(r, ipc.CmdStepInto)
	case *dapproto.StepOutRequest:
		err = c.onFlowCommand(r, ipc.CmdStepOut)
	case *dapproto.ThreadsRequest:
		c.send(&dapproto.ThreadsResponse{
			Response: newResponse(r),
			Body:     dapproto.ThreadsResponseBody{Threads: []dapproto.Thread{{Id: rootThreadID, Name: "main"}}},
		})
	case *dapproto.EvaluateRequest:
		err = c.onEvaluate(r)
	case *dapproto.DisconnectRequest:
		err = c.onDisconnect(r)
	default:
		err = fmt.Errorf("dap: unsupported request %T", r)
	}
	if err != nil {
		c.send(newErrorResponse(req, err))
	}
}

func (c *session) onInitialize(req *dapproto.InitializeRequest) error {
	c.send(&dapproto.InitializeResponse{
		Response: newResponse(req),
		Body: dapproto.Capabilities{
			SupportsConfigurationDoneRequest:  true,
			SupportsEvaluateForHovers:         true,
			SupportsConditionalBreakpoints:    true,
			SupportsHitConditionalBreakpoints: true,
		},
	})
	c.send(&dapproto.InitializedEvent{Event: newEvent("initialized")})
	return nil
}

func (c *session) onLaunch(req *dapproto.LaunchRequest) error {
	c.send(&dapproto.LaunchResponse{Response: newResponse(req)})
	return nil
}

func (c *session) onSetBreakpoints(req *dapproto.SetBreakpointsRequest) error {
	if req.Arguments.Source.Path == "" {
		return fmt.Errorf("dap: SetBreakpoints requires a source path")
	}
	path := filepath.Base(req.Arguments.Source.Path)

	resp := &dapproto.SetBreakpointsResponse{Response: newResponse(req)}
	resp.Body.Breakpoints = make([]dapproto.Breakpoint, len(req.Arguments.Breakpoints))

	for i, want := range req.Arguments.Breakpoints {
		spec := fmt.Sprintf("%s:%d", path, want.Line)
		if want.Condition != "" {
			spec += " if " + want.Condition
		}
		if want.HitCondition != "" {
			spec += " count=" + want.HitCondition
		}
		parsed, err := bpsyntax.Parse(spec)
		if err != nil {
			resp.Body.Breakpoints[i] = dapproto.Breakpoint{Line: want.Line, Verified: false, Message: err.Error()}
			continue
		}
		ack, err := c.sess.SendCommandForAck(ipc.Command{
			Kind:      ipc.CmdSetBreakpoint,
			File:      parsed.File,
			Line:      parsed.Line,
			Condition: parsed.Condition,
			HitCount:  parsed.HitCount.String(),
		})
		if err != nil {
			resp.Body.Breakpoints[i] = dapproto.Breakpoint{Line: want.Line, Verified: false, Message: err.Error()}
			continue
		}
		if !ack.OK {
			resp.Body.Breakpoints[i] = dapproto.Breakpoint{Line: want.Line, Verified: false, Message: "runtime rejected breakpoint"}
			continue
		}
		resp.Body.Breakpoints[i] = dapproto.Breakpoint{Id: ack.BreakpointID, Line: want.Line, Verified: true}
	}
	c.send(resp)
	return nil
}

func (c *session) onFlowCommand(req dapproto.RequestMessage, kind ipc.CommandKind) error {
	if err := c.sess.SendCommand(ipc.Command{Kind: kind}); err != nil {
		return err
	}
	switch r := req.(type) {
	case *dapproto.ContinueRequest:
		c.send(&dapproto.ContinueResponse{Response: newResponse(r), Body: dapproto.ContinueResponseBody{AllThreadsContinued: true}})
	case *dapproto.NextRequest:
		c.send(&dapproto.NextResponse{Response: newResponse(r)})
	case *dapproto.StepInRequest:
		c.send(&dapproto.StepInResponse{Response: newResponse(r)})
	case *dapproto.StepOutRequest:
		c.send(&dapproto.StepOutResponse{Response: newResponse(r)})
	}
	return nil
}

func (c *session) onEvaluate(req *dapproto.EvaluateRequest) error {
	if err := c.sess.SendCommand(ipc.Command{Kind: ipc.CmdEvaluate, Expression: req.Arguments.Expression}); err != nil {
		return err
	}
	// The rendered value arrives asynchronously as an ExpressionResult event,
	// relayed above as a console OutputEvent since EvaluateResponse must be
	// sent synchronously and cannot be deferred until that event lands.
	c.send(&dapproto.EvaluateResponse{Response: newResponse(req)})
	return nil
}

func (c *session) onDisconnect(req *dapproto.DisconnectRequest) error {
	c.send(&dapproto.DisconnectResponse{Response: newResponse(req)})
	return c.sess.Stop()
}

func newEvent(event string) dapproto.Event {
	return dapproto.Event{ProtocolMessage: dapproto.ProtocolMessage{Type: "event"}, Event: event}
}

func newResponse(msg dapproto.RequestMessage) dapproto.Response {
	req := msg.GetRequest()
	return dapproto.Response{
		ProtocolMessage: dapproto.ProtocolMessage{Type: "response"},
		Command:         req.Command,
		RequestSeq:      req.Seq,
		Success:         true,
	}
}

func newErrorResponse(msg dapproto.RequestMessage, err error) *dapproto.ErrorResponse {
	resp := &dapproto.ErrorResponse{Response: newResponse(msg)}
	resp.Success = false
	resp.Message = err.Error()
	return resp
}
