// Package ws implements an alternate IPC transport for debuggees that
// cannot share memory with the controller — a containerized or networked
// debuggee, for instance. Frames move as individual binary websocket
// messages instead of over the shared-memory ring; the same Frame/Event/
// Command encoding in package ipc is reused unchanged, so a controller
// front-end never has to know which transport is in play.
package ws

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dbug-project/dbug/ipc"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Tunnel wraps a single websocket connection carrying framed ipc
// records. It is safe for one concurrent writer and one concurrent
// reader, matching the rest of the transport layer.
type Tunnel struct {
	conn *websocket.Conn
}

// Accept upgrades an HTTP request to a websocket connection and returns a
// Tunnel over it. Intended to back an http.HandlerFunc registered at the
// controller's debug endpoint.
func Accept(w http.ResponseWriter, r *http.Request) (*Tunnel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: upgrade: %w", err)
	}
	return &Tunnel{conn: conn}, nil
}

// Dial connects to a controller's websocket endpoint from the debuggee
// side, set via the DBUG_TRANSPORT=ws / DBUG_ENDPOINT environment
// variables (see runtime/attach).
func Dial(url string) (*Tunnel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", url, err)
	}
	return &Tunnel{conn: conn}, nil
}

// WriteFrame sends one frame as a single binary websocket message.
func (t *Tunnel) WriteFrame(kind ipc.FrameKind, payload interface{}) error {
	var buf bytes.Buffer
	if err := ipc.WriteFrame(&buf, kind, payload); err != nil {
		return err
	}
	// The length prefix ipc.WriteFrame wrote is redundant over a
	// websocket, which already frames messages, but keeping it lets the
	// same decode helpers work across both transports.
	return t.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}

// ReadFrame blocks for the next binary websocket message and decodes its
// frame header.
func (t *Tunnel) ReadFrame() (ipc.FrameKind, []byte, error) {
	kind, data, err := t.conn.ReadMessage()
	if err != nil {
		return 0, nil, fmt.Errorf("ws: read: %w", err)
	}
	if kind != websocket.BinaryMessage {
		return 0, nil, fmt.Errorf("ws: unexpected websocket message type %d", kind)
	}
	if len(data) < 5 {
		return 0, nil, fmt.Errorf("ws: short frame (%d bytes)", len(data))
	}
	// Skip the 4-byte length prefix; the websocket message boundary
	// already delimits the frame.
	return ipc.FrameKind(data[4]), data[5:], nil
}

// SetDeadline arms read/write deadlines on the underlying connection, used
// by the controller to detect a debuggee that vanished without sending
// Detached.
func (t *Tunnel) SetDeadline(d time.Duration) error {
	deadline := time.Now().Add(d)
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	return t.conn.SetWriteDeadline(deadline)
}

// Close closes the underlying websocket connection.
func (t *Tunnel) Close() error {
	return t.conn.Close()
}
