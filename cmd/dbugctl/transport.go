package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dbug-project/dbug/controller"
	"github.com/dbug-project/dbug/internal/dbugerr"
	"github.com/dbug-project/dbug/ipc"
	"github.com/dbug-project/dbug/ipc/shm"
	"github.com/dbug-project/dbug/ipc/ws"
)

// childLaunch carries everything run.go needs to exec the debuggee and
// connect a controller.Transport to it.
type childLaunch struct {
	transport  controller.Transport
	extraFiles []*os.File // shm only; nil for ws
	env        []string   // DBUG_TRANSPORT / DBUG_ENDPOINT, appended to the child's env

	// tunnelCh/errCh are set only for the ws transport, whose Transport
	// isn't available until the spawned debuggee dials back in; resolve
	// drains them after the child process starts.
	tunnelCh chan *ws.Tunnel
	errCh    chan error

	cleanup func()
}

// resolve blocks, if necessary, until the transport is actually usable.
// For shm the transport is ready the moment setupShmTransport returns; for
// ws it has to wait for the spawned debuggee's websocket upgrade.
func (cl *childLaunch) resolve(timeout time.Duration) error {
	if cl.transport != nil {
		return nil
	}
	select {
	case tun := <-cl.tunnelCh:
		cl.transport = tun
		return nil
	case err := <-cl.errCh:
		return dbugerr.Wrap(dbugerr.LaunchFailure, err, "accept websocket connection from debuggee")
	case <-time.After(timeout):
		return dbugerr.New(dbugerr.LaunchFailure, "timed out waiting for the debuggee to connect over websocket")
	}
}

// shmTransport wraps the two rings a session uses into the single
// WriteFrame/ReadFrame/Close shape controller.Session expects: commands
// (and the controller's own handshake) go out over cmds, which only the
// controller ever writes; events (and the runtime's handshake and acks)
// come in over events, which only the runtime ever writes. Keeping each
// physical ring single-writer avoids the two local offset counters on a
// shared mapping racing each other.
type shmTransport struct {
	events *shm.Channel
	cmds   *shm.Channel
}

func (t *shmTransport) WriteFrame(kind ipc.FrameKind, payload interface{}) error {
	return t.cmds.WriteFrame(kind, payload)
}

func (t *shmTransport) ReadFrame() (ipc.FrameKind, []byte, error) {
	return t.events.ReadFrame()
}

func (t *shmTransport) Close() error {
	err1 := t.events.Close()
	err2 := t.cmds.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// setupShmTransport creates a fresh session directory holding the two
// file-backed rings and two signal socket pairs runtime/attach expects,
// keeping the controller-side halves for itself and returning the
// child-side halves as inheritable files for exec.Cmd.ExtraFiles.
func setupShmTransport(ringSize int) (*childLaunch, error) {
	sessionDir, err := os.MkdirTemp("", "dbug-session-")
	if err != nil {
		return nil, dbugerr.Wrap(dbugerr.LaunchFailure, err, "create session directory")
	}

	events, err := shm.OpenRing(filepath.Join(sessionDir, "events.ring"), ringSize)
	if err != nil {
		os.RemoveAll(sessionDir)
		return nil, dbugerr.Wrap(dbugerr.LaunchFailure, err, "open events ring")
	}
	cmds, err := shm.OpenRing(filepath.Join(sessionDir, "cmds.ring"), ringSize)
	if err != nil {
		events.Close()
		os.RemoveAll(sessionDir)
		return nil, dbugerr.Wrap(dbugerr.LaunchFailure, err, "open commands ring")
	}

	eventsOurs, eventsTheirs, err := shm.NewSignalPair()
	if err != nil {
		events.Close()
		cmds.Close()
		os.RemoveAll(sessionDir)
		return nil, dbugerr.Wrap(dbugerr.LaunchFailure, err, "create events signal pair")
	}
	cmdsOurs, cmdsTheirs, err := shm.NewSignalPair()
	if err != nil {
		events.Close()
		cmds.Close()
		eventsOurs.Close()
		eventsTheirs.Close()
		os.RemoveAll(sessionDir)
		return nil, dbugerr.Wrap(dbugerr.LaunchFailure, err, "create commands signal pair")
	}
	events.AttachSignal(eventsOurs)
	cmds.AttachSignal(cmdsOurs)

	eventsFile, err := fileFromConn(eventsTheirs)
	if err != nil {
		return nil, dbugerr.Wrap(dbugerr.LaunchFailure, err, "export events signal fd")
	}
	cmdsFile, err := fileFromConn(cmdsTheirs)
	if err != nil {
		eventsFile.Close()
		return nil, dbugerr.Wrap(dbugerr.LaunchFailure, err, "export commands signal fd")
	}
	// The dup'd *os.File carries the fd forward across exec; the original
	// conn wrappers are no longer needed on this side.
	eventsTheirs.Close()
	cmdsTheirs.Close()

	transport := &shmTransport{events: events, cmds: cmds}
	return &childLaunch{
		transport:  transport,
		extraFiles: []*os.File{eventsFile, cmdsFile},
		env:        []string{"DBUG_TRANSPORT=shm", "DBUG_ENDPOINT=" + sessionDir},
		cleanup: func() {
			transport.Close()
			eventsFile.Close()
			cmdsFile.Close()
			os.RemoveAll(sessionDir)
		},
	}, nil
}

// fileFromConn extracts a duplicated, inheritable *os.File from one end
// of a Unix-domain socket pair, suitable for exec.Cmd.ExtraFiles.
func fileFromConn(conn net.Conn) (*os.File, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("transport: signal conn is %T, not *net.UnixConn", conn)
	}
	return uc.File()
}

// setupWSTransport starts a one-shot HTTP server on an ephemeral local
// port, accepts exactly one websocket upgrade from the spawned debuggee,
// and hands back the resulting Tunnel as the controller's transport.
func setupWSTransport() (*childLaunch, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, dbugerr.Wrap(dbugerr.LaunchFailure, err, "listen for websocket transport")
	}
	addr := ln.Addr().(*net.TCPAddr)
	endpoint := fmt.Sprintf("ws://127.0.0.1:%d/dbug", addr.Port)

	tunnelCh := make(chan *ws.Tunnel, 1)
	errCh := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/dbug", func(w http.ResponseWriter, r *http.Request) {
		tun, err := ws.Accept(w, r)
		if err != nil {
			errCh <- err
			return
		}
		tunnelCh <- tun
	})
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)

	return &childLaunch{
		env:      []string{"DBUG_TRANSPORT=ws", "DBUG_ENDPOINT=" + endpoint},
		tunnelCh: tunnelCh,
		errCh:    errCh,
		cleanup: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		},
	}, nil
}
