package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// FrameKind tags what a frame's payload decodes as, so a single
// read/write pair can carry Handshake, Event, and Command records over one
// stream: payloads are self-describing structured records.
type FrameKind byte

const (
	FrameHandshake FrameKind = iota
	FrameEvent
	FrameCommand
	FrameAck
)

// WriteFrame writes a 4-byte little-endian length prefix followed by a
// one-byte kind discriminant and the JSON-encoded payload.
func WriteFrame(w io.Writer, kind FrameKind, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ipc: encode frame: %w", err)
	}
	full := make([]byte, 1+len(body))
	full[0] = byte(kind)
	copy(full[1:], body)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(full)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("ipc: write length prefix: %w", err)
	}
	if _, err := w.Write(full); err != nil {
		return fmt.Errorf("ipc: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and returns its kind and raw
// JSON payload bytes, leaving decoding of the specific record shape to the
// caller (who knows, from context, whether to expect an Event or a
// Command).
func ReadFrame(r *bufio.Reader) (FrameKind, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return 0, nil, fmt.Errorf("ipc: zero-length frame")
	}
	full := make([]byte, n)
	if _, err := io.ReadFull(r, full); err != nil {
		return 0, nil, err
	}
	return FrameKind(full[0]), full[1:], nil
}

// DecodeEvent decodes a FrameEvent payload.
func DecodeEvent(payload []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(payload, &e)
	return e, err
}

// DecodeCommand decodes a FrameCommand payload.
func DecodeCommand(payload []byte) (Command, error) {
	var c Command
	err := json.Unmarshal(payload, &c)
	return c, err
}

// DecodeHandshake decodes a FrameHandshake payload.
func DecodeHandshake(payload []byte) (Handshake, error) {
	var h Handshake
	err := json.Unmarshal(payload, &h)
	return h, err
}

// DecodeAck decodes a FrameAck payload.
func DecodeAck(payload []byte) (Ack, error) {
	var a Ack
	err := json.Unmarshal(payload, &a)
	return a, err
}
