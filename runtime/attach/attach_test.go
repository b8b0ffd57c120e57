package attach

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbug-project/dbug/ipc"
	"github.com/dbug-project/dbug/ipc/shm"
	"github.com/dbug-project/dbug/runtime"
)

// pairedRings opens one events ring and one commands ring shared between a
// simulated runtime side (the Conn under test) and a simulated controller
// side (plain *shm.Channel values the test drives directly), mirroring
// ipc/shm's own round-trip test setup.
type pairedRings struct {
	runtimeEvents, controllerEvents *shm.Channel
	runtimeCmds, controllerCmds     *shm.Channel
}

func newPairedRings(t *testing.T) *pairedRings {
	t.Helper()
	dir := t.TempDir()

	runtimeEvents, err := shm.OpenRing(filepath.Join(dir, "events.ring"), 64*1024)
	require.NoError(t, err)
	controllerEvents, err := shm.OpenRing(filepath.Join(dir, "events.ring"), 64*1024)
	require.NoError(t, err)
	runtimeCmds, err := shm.OpenRing(filepath.Join(dir, "cmds.ring"), 64*1024)
	require.NoError(t, err)
	controllerCmds, err := shm.OpenRing(filepath.Join(dir, "cmds.ring"), 64*1024)
	require.NoError(t, err)

	eventsA, eventsB, err := shm.NewSignalPair()
	require.NoError(t, err)
	runtimeEvents.AttachSignal(eventsA)
	controllerEvents.AttachSignal(eventsB)

	cmdsA, cmdsB, err := shm.NewSignalPair()
	require.NoError(t, err)
	runtimeCmds.AttachSignal(cmdsA)
	controllerCmds.AttachSignal(cmdsB)

	p := &pairedRings{
		runtimeEvents:    runtimeEvents,
		controllerEvents: controllerEvents,
		runtimeCmds:      runtimeCmds,
		controllerCmds:   controllerCmds,
	}
	t.Cleanup(func() {
		runtimeEvents.Close()
		runtimeCmds.Close()
		controllerEvents.Close()
		controllerCmds.Close()
	})
	return p
}

func TestHandshakeSucceedsOnMatchingVersion(t *testing.T) {
	p := newPairedRings(t)
	c := &Conn{events: p.runtimeEvents, cmds: p.runtimeCmds}

	done := make(chan error, 1)
	go func() { done <- c.handshake("sess-1") }()

	kind, payload, err := p.controllerEvents.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, ipc.FrameHandshake, kind)
	hs, err := ipc.DecodeHandshake(payload)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", hs.Session)

	require.NoError(t, p.controllerCmds.WriteFrame(ipc.FrameHandshake, ipc.Handshake{Version: ipc.ProtocolVersion, Session: "sess-1"}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}
}

func TestHandshakeFailsOnVersionMismatch(t *testing.T) {
	p := newPairedRings(t)
	c := &Conn{events: p.runtimeEvents, cmds: p.runtimeCmds}

	done := make(chan error, 1)
	go func() { done <- c.handshake("sess-2") }()

	_, _, err := p.controllerEvents.ReadFrame()
	require.NoError(t, err)
	require.NoError(t, p.controllerCmds.WriteFrame(ipc.FrameHandshake, ipc.Handshake{Version: ipc.ProtocolVersion + 1, Session: "sess-2"}))

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}
}

func TestEmitTracksLastSuspendedTask(t *testing.T) {
	p := newPairedRings(t)
	c := &Conn{events: p.runtimeEvents, cmds: p.runtimeCmds}

	require.NoError(t, c.Emit(ipc.Event{Kind: ipc.EventFunctionEntered, TaskID: 7}))
	assert.Equal(t, int64(0), c.lastSuspended)

	require.NoError(t, c.Emit(ipc.Event{Kind: ipc.EventBreakpointHit, TaskID: 7, File: "main.go", Line: 10}))
	assert.Equal(t, int64(7), c.lastSuspended)

	kind, payload, err := p.controllerEvents.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, ipc.FrameEvent, kind)
	_, _, err = p.controllerEvents.ReadFrame()
	require.NoError(t, err)
	decoded, err := ipc.DecodeEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, ipc.EventFunctionEntered, decoded.Kind)
}

// fakeEmitter records every event handed to it without touching a real
// transport, so Serve's breakpoint-table routing can be tested without the
// handshake/ring plumbing.
type fakeEmitter struct {
	acks []ipc.Event
}

func (f *fakeEmitter) Emit(ev ipc.Event) error {
	f.acks = append(f.acks, ev)
	return nil
}

func TestServeRoutesBreakpointMutationsThroughApplyControlNow(t *testing.T) {
	p := newPairedRings(t)
	runtime.ResetForTest(&fakeEmitter{})
	defer runtime.Teardown()

	c := &Conn{events: p.runtimeEvents, cmds: p.runtimeCmds}
	go c.Serve()

	require.NoError(t, p.controllerCmds.WriteFrame(ipc.FrameCommand, ipc.Command{
		Kind: ipc.CmdSetBreakpoint,
		File: "main.go",
		Line: 42,
	}))

	kind, payload, err := p.controllerEvents.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, ipc.FrameAck, kind)
	ack, err := ipc.DecodeAck(payload)
	require.NoError(t, err)
	assert.True(t, ack.OK)
}

func TestCloseIsIdempotentForDistinctEventsAndCmds(t *testing.T) {
	p := newPairedRings(t)
	c := &Conn{events: p.runtimeEvents, cmds: p.runtimeCmds}
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
