// Package shm implements the canonical IPC transport: a memory-mapped
// ring buffer carries frame bytes between the debuggee and the
// controller, and a Unix-domain socket pair carries the blocking wakeup
// signal so a reader never has to poll the ring.
//
// Two independent Channels are used per session — one for the runtime's
// event stream, one for the controller's command/response stream — each
// backed by its own mapping and socket pair, matching the separate
// streams described for the wire protocol.
package shm

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/dbug-project/dbug/ipc"
)

// DefaultRingSize is used when a caller doesn't override it. Frames larger
// than the ring can ever hold fail to send; callers needing larger
// payloads (e.g. big expression renderings) should raise this at Channel
// construction.
const DefaultRingSize = 4 << 20 // 4 MiB

// Channel is one direction of the shared-memory transport: a ring buffer
// for frame bytes plus a signaling connection for wakeups. A Channel is
// safe for one writer and one reader to use concurrently, matching the
// single-producer/single-consumer shape of the protocol.
type Channel struct {
	ring     []byte
	file     *os.File
	writeOff uint64 // atomic, monotonic byte offset ever written
	readOff  uint64 // atomic, monotonic byte offset ever consumed

	sigConn net.Conn
	sigMu   sync.Mutex

	closeOnce sync.Once
}

// OpenRing maps (creating if necessary) a ring buffer backed by path,
// sized to size bytes. Two processes calling OpenRing on the same path
// share the mapping.
func OpenRing(path string, size int) (*Channel, error) {
	if size <= 0 {
		size = DefaultRingSize
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: truncate %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	return &Channel{ring: data, file: f}, nil
}

// AttachSignal wires a net.Conn (one end of a socketpair or a connected
// Unix-domain socket) as the channel's wakeup signal.
func (c *Channel) AttachSignal(conn net.Conn) {
	c.sigConn = conn
}

// NewSignalPair creates a connected pair of Unix-domain sockets for two
// Channels on the same host to signal each other across a fork/exec
// boundary, via SOCK_STREAM socketpair semantics.
func NewSignalPair() (a, b net.Conn, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("shm: socketpair: %w", err)
	}
	fa := os.NewFile(uintptr(fds[0]), "shm-sig-a")
	fb := os.NewFile(uintptr(fds[1]), "shm-sig-b")
	ca, err := net.FileConn(fa)
	if err != nil {
		fa.Close()
		fb.Close()
		return nil, nil, fmt.Errorf("shm: fileconn a: %w", err)
	}
	fa.Close()
	cb, err := net.FileConn(fb)
	if err != nil {
		ca.Close()
		fb.Close()
		return nil, nil, fmt.Errorf("shm: fileconn b: %w", err)
	}
	fb.Close()
	return ca, cb, nil
}

// WriteFrame appends one length-prefixed frame to the ring and pings the
// signal connection so a blocked reader wakes. The ring is treated as a
// flat append-only region sized generously enough that a debug session
// never wraps it in practice; WriteFrame returns an error rather than silently
// corrupting the mapping if it would.
func (c *Channel) WriteFrame(kind ipc.FrameKind, payload interface{}) error {
	var scratch []byte
	sw := &sliceWriter{buf: &scratch}
	if err := ipc.WriteFrame(sw, kind, payload); err != nil {
		return err
	}

	off := atomic.LoadUint64(&c.writeOff)
	if int(off)+len(scratch) > len(c.ring) {
		return fmt.Errorf("shm: ring exhausted (wrote %d of %d bytes)", off, len(c.ring))
	}
	copy(c.ring[off:], scratch)
	atomic.StoreUint64(&c.writeOff, off+uint64(len(scratch)))

	if c.sigConn != nil {
		c.sigMu.Lock()
		_, err := c.sigConn.Write([]byte{1})
		c.sigMu.Unlock()
		if err != nil {
			return fmt.Errorf("shm: signal write: %w", err)
		}
	}
	return nil
}

// ReadFrame blocks on the signal connection for a wakeup, then decodes the
// next frame that has been appended to the ring since the last read.
func (c *Channel) ReadFrame() (ipc.FrameKind, []byte, error) {
	if c.sigConn != nil {
		var ping [1]byte
		if _, err := c.sigConn.Read(ping[:]); err != nil {
			return 0, nil, fmt.Errorf("shm: signal read: %w", err)
		}
	}

	// writeOff only advances in the writing process's own Channel, so the
	// reader locates the next frame from its length prefix in the shared
	// mapping; every wakeup byte is sent after that frame was appended.
	readOff := atomic.LoadUint64(&c.readOff)
	if int(readOff)+4 > len(c.ring) {
		return 0, nil, fmt.Errorf("shm: ring corrupt: read offset past end")
	}
	n := binary.LittleEndian.Uint32(c.ring[readOff : readOff+4])
	if n == 0 {
		return 0, nil, fmt.Errorf("shm: woke with nothing new in ring (read=%d)", readOff)
	}
	start := readOff + 4
	end := start + uint64(n)
	if int(end) > len(c.ring) {
		return 0, nil, fmt.Errorf("shm: ring corrupt: frame length overruns mapping")
	}
	full := make([]byte, n)
	copy(full, c.ring[start:end])
	atomic.StoreUint64(&c.readOff, end)
	return ipc.FrameKind(full[0]), full[1:], nil
}

// Close unmaps the ring and closes the backing file and signal
// connection. Safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.sigConn != nil {
			c.sigConn.Close()
		}
		if c.ring != nil {
			err = unix.Munmap(c.ring)
		}
		if c.file != nil {
			c.file.Close()
			os.Remove(c.file.Name())
		}
	})
	return err
}

// sliceWriter is a minimal io.Writer over a growable byte slice, used to
// materialize one frame's bytes before copying them into the ring under
// the offset bookkeeping above.
type sliceWriter struct {
	buf *[]byte
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
