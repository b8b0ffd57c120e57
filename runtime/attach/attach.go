// Package attach wires the embedded debug runtime (package runtime) to a
// live IPC transport, so an instrumented program only has to call
// attach.FromEnv once at startup instead of hand-rolling a handshake,
// an event emitter, and a command reader loop. It reads the
// DBUG_ENABLED/DBUG_TRANSPORT/DBUG_ENDPOINT environment variables a
// controller process sets before launching the debuggee.
package attach

import (
	"fmt"
	"net"
	"os"

	"github.com/dbug-project/dbug/ipc"
	"github.com/dbug-project/dbug/ipc/shm"
	"github.com/dbug-project/dbug/ipc/ws"
	"github.com/dbug-project/dbug/runtime"
)

// signal file descriptor slots a controller passes via exec.Cmd.ExtraFiles
// when DBUG_TRANSPORT=shm: index 0 in ExtraFiles is fd 3, index 1 is fd 4.
const (
	eventsSignalFD = 3
	cmdsSignalFD   = 4
)

// transport is the minimal duplex frame carrier attach needs; both
// ipc/shm.Channel and ipc/ws.Tunnel satisfy it.
type transport interface {
	WriteFrame(kind ipc.FrameKind, payload interface{}) error
	ReadFrame() (ipc.FrameKind, []byte, error)
	Close() error
}

// Conn is a live attachment to a controller: it emits events over the
// configured transport and, once Serve is running, relays incoming
// commands to the runtime engine.
type Conn struct {
	events transport
	cmds   transport

	lastSuspended int64 // last TaskID seen in an outgoing BreakpointHit/StepPaused
}

// FromEnv inspects DBUG_ENABLED/DBUG_TRANSPORT/DBUG_ENDPOINT and, if
// debugging is enabled, dials the configured transport, performs the
// runtime-side handshake, and installs the resulting Conn as the engine's
// emitter via runtime.Init. It returns (nil, nil) when DBUG_ENABLED is
// unset, so an instrumented program can call it unconditionally.
func FromEnv() (*Conn, error) {
	if os.Getenv("DBUG_ENABLED") != "1" {
		return nil, nil
	}
	endpoint := os.Getenv("DBUG_ENDPOINT")
	if endpoint == "" {
		return nil, fmt.Errorf("attach: DBUG_ENABLED=1 but DBUG_ENDPOINT is unset")
	}
	kind := os.Getenv("DBUG_TRANSPORT")
	if kind == "" {
		kind = "shm"
	}
	session := os.Getenv("DBUG_SESSION")

	var c *Conn
	var err error
	switch kind {
	case "shm":
		c, err = dialShm(endpoint)
	case "ws":
		c, err = dialWS(endpoint)
	default:
		return nil, fmt.Errorf("attach: unsupported DBUG_TRANSPORT %q", kind)
	}
	if err != nil {
		return nil, err
	}

	if err := c.handshake(session); err != nil {
		c.Close()
		return nil, err
	}

	runtime.Init(c)
	go c.Serve()
	return c, nil
}

// dialShm opens the two file-backed rings a controller created at
// endpoint (a directory containing events.ring and cmds.ring) and wires
// the signal sockets the controller passed across exec as fd 3 and 4.
func dialShm(endpoint string) (*Conn, error) {
	events, err := shm.OpenRing(endpoint+"/events.ring", 0)
	if err != nil {
		return nil, fmt.Errorf("attach: open events ring: %w", err)
	}
	cmds, err := shm.OpenRing(endpoint+"/cmds.ring", 0)
	if err != nil {
		events.Close()
		return nil, fmt.Errorf("attach: open commands ring: %w", err)
	}

	eventsSig, err := fdConn(eventsSignalFD)
	if err != nil {
		events.Close()
		cmds.Close()
		return nil, fmt.Errorf("attach: events signal fd: %w", err)
	}
	cmdsSig, err := fdConn(cmdsSignalFD)
	if err != nil {
		events.Close()
		cmds.Close()
		return nil, fmt.Errorf("attach: commands signal fd: %w", err)
	}
	events.AttachSignal(eventsSig)
	cmds.AttachSignal(cmdsSig)

	return &Conn{events: events, cmds: cmds}, nil
}

func fdConn(fd int) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), "dbug-signal")
	conn, err := net.FileConn(f)
	f.Close()
	return conn, err
}

// dialWS dials the controller's websocket endpoint; the same tunnel
// carries both the event stream and the command/response stream, since a
// websocket connection is already full-duplex.
func dialWS(endpoint string) (*Conn, error) {
	tun, err := ws.Dial(endpoint)
	if err != nil {
		return nil, err
	}
	return &Conn{events: tun, cmds: tun}, nil
}

// handshake writes the runtime's Handshake and waits for the controller's
// reply, failing fast on a protocol version mismatch.
func (c *Conn) handshake(session string) error {
	if err := c.events.WriteFrame(ipc.FrameHandshake, ipc.Handshake{Version: ipc.ProtocolVersion, Session: session}); err != nil {
		return fmt.Errorf("attach: send handshake: %w", err)
	}
	kind, payload, err := c.cmds.ReadFrame()
	if err != nil {
		return fmt.Errorf("attach: read handshake reply: %w", err)
	}
	if kind != ipc.FrameHandshake {
		return fmt.Errorf("attach: expected handshake reply, got frame kind %d", kind)
	}
	reply, err := ipc.DecodeHandshake(payload)
	if err != nil {
		return fmt.Errorf("attach: decode handshake reply: %w", err)
	}
	if reply.Version != ipc.ProtocolVersion {
		return fmt.Errorf("attach: protocol version mismatch: runtime %d, controller %d", ipc.ProtocolVersion, reply.Version)
	}
	return nil
}

// Emit implements runtime/engine.Emitter by writing ev as a FrameEvent and
// remembering the task it suspended, so a later flow-control command
// without an explicit task id can still be routed correctly.
func (c *Conn) Emit(ev ipc.Event) error {
	if ev.Kind == ipc.EventBreakpointHit || ev.Kind == ipc.EventStepPaused {
		c.lastSuspended = ev.TaskID
	}
	return c.events.WriteFrame(ipc.FrameEvent, ev)
}

// Serve reads commands off the command channel until it closes, routing
// breakpoint-table mutations through runtime.ApplyControlNow (replying
// with an Ack) and everything else through runtime.HandleCommand for the
// most recently suspended task. Acks are written back on the events
// channel rather than the command channel: the command channel's sole
// writer is the controller, and the events channel's sole writer is this
// side, so each physical ring keeps exactly one writer no matter which
// transport backs it.
func (c *Conn) Serve() {
	for {
		kind, payload, err := c.cmds.ReadFrame()
		if err != nil {
			return
		}
		if kind != ipc.FrameCommand {
			continue
		}
		cmd, err := ipc.DecodeCommand(payload)
		if err != nil {
			continue
		}
		switch cmd.Kind {
		case ipc.CmdSetBreakpoint, ipc.CmdClearBreakpoint, ipc.CmdEnableBreakpoint:
			ack := runtime.ApplyControlNow(cmd)
			c.events.WriteFrame(ipc.FrameAck, ack)
		default:
			runtime.HandleCommand(c.lastSuspended, cmd)
		}
	}
}

// Close releases both transport connections.
func (c *Conn) Close() error {
	err1 := c.events.Close()
	var err2 error
	if c.cmds != c.events {
		err2 = c.cmds.Close()
	}
	if err1 != nil {
		return err1
	}
	return err2
}
