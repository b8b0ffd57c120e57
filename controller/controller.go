// Package controller implements the debugger-facing half of a debug
// session: it owns the transport to a single attached runtime, serializes
// commands onto it, and fans out received events to whichever front end
// (REPL, DAP, JSON-RPC) is driving the session. Only one session may be
// active at a time — a single-session-per-process assumption turned into
// an explicit invariant enforced by Start/Stop.
package controller

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dbug-project/dbug/internal/dbugerr"
	"github.com/dbug-project/dbug/internal/logging"
	"github.com/dbug-project/dbug/ipc"
)

// Transport is the minimal surface a controller session needs from an IPC
// transport; ipc/shm.Channel and ipc/ws.Tunnel both satisfy it, so a
// Session never has to know which one it was handed.
type Transport interface {
	WriteFrame(kind ipc.FrameKind, payload interface{}) error
	ReadFrame() (ipc.FrameKind, []byte, error)
	Close() error
}

// EventHandler receives events as they arrive off the transport, on the
// session's single reader goroutine. Handlers must not block for long —
// there is exactly one reader per session.
type EventHandler func(ipc.Event)

// Session is one attached controller<->runtime connection. A Session is
// safe for concurrent use by multiple front ends issuing commands; command
// framing itself is serialized through a single mutex so two front ends
// can never interleave partial frames on the wire.
//
// ProjectPath, ExecutablePath, and PID identify the debuggee per spec.md's
// Session data model; they are set once at Start and never mutated.
type Session struct {
	transport Transport
	log       *logging.SessionLogger

	ProjectPath    string
	ExecutablePath string
	PID            int

	writeMu sync.Mutex

	// ackMu serializes ack-expecting commands (SetBreakpoint,
	// ClearBreakpoint, EnableBreakpoint) so at most one is ever outstanding,
	// which lets runLoop route the single next FrameAck it sees straight to
	// ackCh without a correlation id.
	ackMu sync.Mutex
	ackCh chan ipc.Ack

	mu          sync.Mutex
	active      bool
	handler     EventHandler
	listeners   []EventHandler
	breakpoints map[int]Breakpoint
	watches     map[string]*Watch
	evalTick    int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// OnEvent registers an additional handler invoked alongside the primary
// one passed to Start. Used by secondary front ends (the DAP bridge, say)
// that attach to an already-running session rather than owning it.
func (s *Session) OnEvent(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, handler)
}

// singleSession enforces the one-active-session-at-a-time invariant
// across the process.
var (
	singleSessionMu sync.Mutex
	singleSession   *Session
)

// Start performs the version handshake over transport and begins the
// session's read loop, delivering every received event to handler.
// projectPath, executablePath, and pid populate the Session's identity
// fields per spec.md's Session data model. It returns a
// SessionAlreadyActive error if another session is already running.
func Start(transport Transport, sessionID string, projectPath, executablePath string, pid int, handler EventHandler, log *logging.Logger) (*Session, error) {
	singleSessionMu.Lock()
	defer singleSessionMu.Unlock()
	if singleSession != nil {
		return nil, dbugerr.New(dbugerr.SessionAlreadyActive, "a debug session is already active")
	}

	if err := transport.WriteFrame(ipc.FrameHandshake, ipc.Handshake{Version: ipc.ProtocolVersion, Session: sessionID}); err != nil {
		return nil, dbugerr.Wrap(dbugerr.IpcFailure, err, "write handshake")
	}
	kind, payload, err := transport.ReadFrame()
	if err != nil {
		return nil, dbugerr.Wrap(dbugerr.IpcFailure, err, "read handshake reply")
	}
	if kind != ipc.FrameHandshake {
		return nil, dbugerr.New(dbugerr.ProtocolViolation, "expected handshake frame in reply, got a different frame kind")
	}
	hs, err := ipc.DecodeHandshake(payload)
	if err != nil {
		return nil, dbugerr.Wrap(dbugerr.ProtocolViolation, err, "decode handshake reply")
	}
	if hs.Version != ipc.ProtocolVersion {
		return nil, dbugerr.New(dbugerr.ProtocolViolation,
			fmt.Sprintf("runtime protocol version %d does not match controller version %d", hs.Version, ipc.ProtocolVersion))
	}

	s := &Session{
		transport:      transport,
		log:            log.WithSession(sessionID),
		ProjectPath:    projectPath,
		ExecutablePath: executablePath,
		PID:            pid,
		active:         true,
		handler:        handler,
		breakpoints:    make(map[int]Breakpoint),
		watches:        make(map[string]*Watch),
		ackCh:          make(chan ipc.Ack, 1),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	singleSession = s

	go s.runLoop()
	return s, nil
}

// runLoop is the session's single reader goroutine: it blocks on
// ReadFrame and dispatches each event to the handler until the transport
// closes or Stop is called.
func (s *Session) runLoop() {
	defer close(s.doneCh)
	for {
		kind, payload, err := s.transport.ReadFrame()
		if err != nil {
			s.log.Warn("transport read failed, ending session: " + err.Error())
			s.endLocked()
			return
		}
		switch kind {
		case ipc.FrameEvent:
			ev, err := ipc.DecodeEvent(payload)
			if err != nil {
				s.log.Warn("dropping malformed event frame: " + err.Error())
				continue
			}
			s.trackEvent(ev)
			s.handler(ev)
			s.mu.Lock()
			listeners := append([]EventHandler(nil), s.listeners...)
			s.mu.Unlock()
			for _, l := range listeners {
				l(ev)
			}
			if ev.Kind == ipc.EventDetached {
				s.endLocked()
				return
			}
		case ipc.FrameAck:
			ack, err := ipc.DecodeAck(payload)
			if err != nil {
				s.log.Warn("dropping malformed ack frame: " + err.Error())
				continue
			}
			// SendCommandForAck serializes ack-expecting commands one at a
			// time (ackMu), so at most one reader is ever waiting here; a
			// full channel means an ack arrived with nobody waiting for it.
			select {
			case s.ackCh <- ack:
			default:
				s.log.Warn("received ack with no pending request waiting for it")
			}
		default:
			s.log.Warn(fmt.Sprintf("unexpected frame kind %d on event stream", kind))
		}
		select {
		case <-s.stopCh:
			return
		default:
		}
	}
}

// SendCommand serializes cmd onto the transport without waiting for any
// reply. Callers issuing a command that expects an Ack (SetBreakpoint,
// ClearBreakpoint, EnableBreakpoint) must use SendCommandForAck instead —
// spec.md requires the controller never treat such a mutation as live
// until its ack arrives.
func (s *Session) SendCommand(cmd ipc.Command) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.transport.WriteFrame(ipc.FrameCommand, cmd); err != nil {
		return dbugerr.Wrap(dbugerr.IpcFailure, err, "send command")
	}
	return nil
}

// SendCommandForAck serializes cmd onto the transport and blocks until the
// runtime's matching Ack arrives (or the session ends first), then folds
// the ack into the breakpoint mirror. Used for SetBreakpoint,
// ClearBreakpoint, and EnableBreakpoint, the only commands the runtime
// acknowledges outside of a suspension.
func (s *Session) SendCommandForAck(cmd ipc.Command) (ipc.Ack, error) {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()

	s.writeMu.Lock()
	err := s.transport.WriteFrame(ipc.FrameCommand, cmd)
	s.writeMu.Unlock()
	if err != nil {
		return ipc.Ack{}, dbugerr.Wrap(dbugerr.IpcFailure, err, "send command")
	}

	select {
	case ack := <-s.ackCh:
		s.applyAck(cmd, ack)
		return ack, nil
	case <-s.doneCh:
		return ipc.Ack{}, dbugerr.New(dbugerr.SessionNotActive, "session ended before its ack arrived")
	}
}

// applyAck folds a confirmed breakpoint mutation into the controller-side
// mirror. A !ack.OK response (unknown breakpoint id, say) leaves the
// mirror untouched.
func (s *Session) applyAck(cmd ipc.Command, ack ipc.Ack) {
	if !ack.OK {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd.Kind {
	case ipc.CmdSetBreakpoint:
		s.breakpoints[ack.BreakpointID] = Breakpoint{
			ID:        ack.BreakpointID,
			File:      cmd.File,
			Line:      cmd.Line,
			Condition: cmd.Condition,
			HitCount:  cmd.HitCount,
			Enabled:   true,
		}
	case ipc.CmdClearBreakpoint:
		delete(s.breakpoints, ack.BreakpointID)
	case ipc.CmdEnableBreakpoint:
		if bp, ok := s.breakpoints[ack.BreakpointID]; ok {
			bp.Enabled = cmd.Enable
			s.breakpoints[ack.BreakpointID] = bp
		}
	}
}

// trackEvent folds an incoming event into the breakpoint/watch mirror:
// BreakpointHit bumps the matching breakpoint's hit counter, and
// ExpressionResult refreshes the watch keyed by its expression text.
func (s *Session) trackEvent(ev ipc.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case ipc.EventBreakpointHit:
		for id, bp := range s.breakpoints {
			if bp.File == ev.File && bp.Line == ev.Line {
				bp.TotalHits++
				s.breakpoints[id] = bp
			}
		}
	case ipc.EventExpressionResult:
		s.evalTick++
		w, ok := s.watches[ev.Expression]
		if !ok {
			w = &Watch{Expression: ev.Expression}
			s.watches[ev.Expression] = w
		}
		w.Rendering = ev.Rendering
		w.Tick = s.evalTick
	}
}

// Breakpoints returns a snapshot of the controller-side breakpoint mirror,
// ordered by id.
func (s *Session) Breakpoints() []Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Breakpoint, 0, len(s.breakpoints))
	for _, bp := range s.breakpoints {
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Watches returns a snapshot of the controller-side watch mirror.
func (s *Session) Watches() []Watch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Watch, 0, len(s.watches))
	for _, w := range s.watches {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expression < out[j].Expression })
	return out
}

// endLocked marks the session inactive and releases the single-session
// slot. Safe to call more than once.
func (s *Session) endLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false

	singleSessionMu.Lock()
	if singleSession == s {
		singleSession = nil
	}
	singleSessionMu.Unlock()
}

// Active reports whether the session is still attached.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stop sends a Quit command, waits for the read loop to observe the
// resulting Detached event (or the transport to close), and releases the
// transport. It is safe to call on an already-stopped session.
func (s *Session) Stop() error {
	if !s.Active() {
		return s.transport.Close()
	}
	_ = s.SendCommand(ipc.Command{Kind: ipc.CmdQuit})
	close(s.stopCh)
	<-s.doneCh
	return s.transport.Close()
}
