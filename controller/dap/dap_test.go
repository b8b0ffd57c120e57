package dap

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"
	"testing"

	dapproto "github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbug-project/dbug/controller"
	"github.com/dbug-project/dbug/internal/logging"
	"github.com/dbug-project/dbug/ipc"
)

// fakeTransport is a minimal controller.Transport driven by test code.
type fakeTransport struct {
	mu      sync.Mutex
	inbound chan frame
}

type frame struct {
	kind    ipc.FrameKind
	payload interface{}
}

func newFakeTransport() *fakeTransport { return &fakeTransport{inbound: make(chan frame, 16)} }

func (f *fakeTransport) WriteFrame(kind ipc.FrameKind, payload interface{}) error {
	// Stand in for the runtime immediately acknowledging a control-plane
	// mutation, the way runtime/attach's ApplyControlNow does outside of a
	// suspension.
	if cmd, ok := payload.(ipc.Command); ok {
		switch cmd.Kind {
		case ipc.CmdSetBreakpoint:
			f.push(ipc.FrameAck, ipc.Ack{BreakpointID: 1, OK: true})
		case ipc.CmdClearBreakpoint, ipc.CmdEnableBreakpoint:
			f.push(ipc.FrameAck, ipc.Ack{BreakpointID: cmd.BreakpointID, OK: true})
		}
	}
	return nil
}

func (f *fakeTransport) ReadFrame() (ipc.FrameKind, []byte, error) {
	fr, ok := <-f.inbound
	if !ok {
		return 0, nil, io.EOF
	}
	body, err := json.Marshal(fr.payload)
	return fr.kind, body, err
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) push(kind ipc.FrameKind, payload interface{}) { f.inbound <- frame{kind, payload} }

func newTestSession(t *testing.T) (*controller.Session, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	tr.push(ipc.FrameHandshake, ipc.Handshake{Version: ipc.ProtocolVersion, Session: "t1"})
	log, err := logging.New(logging.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	sess, err := controller.Start(tr, "t1", "proj", "proj/.dbug/proj", 1234, func(ipc.Event) {}, log)
	require.NoError(t, err)
	// Only one session may be active per process; end this one so the
	// next test's Start succeeds.
	t.Cleanup(func() {
		tr.push(ipc.FrameEvent, ipc.Event{Kind: ipc.EventDetached, Reason: "test done"})
		sess.Stop()
	})
	return sess, tr
}

func newBufSession(sess *controller.Session) *session {
	var buf bytes.Buffer
	return &session{sess: sess, rw: bufio.NewReadWriter(bufio.NewReader(&buf), bufio.NewWriter(&buf)), sendQueue: make(chan dapproto.Message, 16), done: make(chan struct{}), stopped: make(chan struct{})}
}

func TestOnInitializeSendsCapabilitiesAndInitializedEvent(t *testing.T) {
	sess, _ := newTestSession(t)
	c := newBufSession(sess)

	require.NoError(t, c.onInitialize(&dapproto.InitializeRequest{Request: dapproto.Request{ProtocolMessage: dapproto.ProtocolMessage{Seq: 1}, Command: "initialize"}}))

	msg1 := <-c.sendQueue
	resp, ok := msg1.(*dapproto.InitializeResponse)
	require.True(t, ok)
	assert.True(t, resp.Body.SupportsConditionalBreakpoints)

	msg2 := <-c.sendQueue
	_, ok = msg2.(*dapproto.InitializedEvent)
	assert.True(t, ok)
}

func TestOnSetBreakpointsParsesConditionAndHitCount(t *testing.T) {
	sess, _ := newTestSession(t)
	c := newBufSession(sess)

	req := &dapproto.SetBreakpointsRequest{
		Request: dapproto.Request{ProtocolMessage: dapproto.ProtocolMessage{Seq: 2}, Command: "setBreakpoints"},
		Arguments: dapproto.SetBreakpointsArguments{
			Source:      dapproto.Source{Path: "/abs/main.glyph"},
			Breakpoints: []dapproto.SourceBreakpoint{{Line: 10, Condition: "i >= 3", HitCondition: "2"}},
		},
	}
	require.NoError(t, c.onSetBreakpoints(req))

	msg := <-c.sendQueue
	resp, ok := msg.(*dapproto.SetBreakpointsResponse)
	require.True(t, ok)
	require.Len(t, resp.Body.Breakpoints, 1)
	assert.True(t, resp.Body.Breakpoints[0].Verified)
	assert.Equal(t, 1, resp.Body.Breakpoints[0].Id)
}

func TestOnFlowCommandSendsCommandAndResponse(t *testing.T) {
	sess, _ := newTestSession(t)
	c := newBufSession(sess)

	req := &dapproto.ContinueRequest{Request: dapproto.Request{ProtocolMessage: dapproto.ProtocolMessage{Seq: 3}, Command: "continue"}}
	require.NoError(t, c.onFlowCommand(req, ipc.CmdContinue))

	msg := <-c.sendQueue
	_, ok := msg.(*dapproto.ContinueResponse)
	assert.True(t, ok)
}

func TestRelayBreakpointHitSendsStoppedEvent(t *testing.T) {
	sess, _ := newTestSession(t)
	c := newBufSession(sess)

	c.relayRuntimeEvent(ipc.Event{Kind: ipc.EventBreakpointHit, TaskID: 0, File: "main.glyph", Line: 5})

	msg := <-c.sendQueue
	ev, ok := msg.(*dapproto.StoppedEvent)
	require.True(t, ok)
	assert.Equal(t, "breakpoint", ev.Body.Reason)
}
