// Package rpc implements the minimal framed protocol multiplexed over peer
// and worker connections: PerformJob and ReportLoad, per spec.md §6. Field
// order in the message structs is the wire contract; the correlation id is
// part of the framing envelope, not the message, so it doesn't disturb that
// contract.
package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind identifies which message type follows a frame header.
type Kind uint8

const (
	// KindPerformJob asks the remote to run the given job and reply once done.
	KindPerformJob Kind = iota + 1
	// KindPerformJobReply is the empty acknowledgement to a PerformJob.
	KindPerformJobReply
	// KindPerformJobError carries a failure string back for a PerformJob.
	KindPerformJobError
	// KindReportLoad is a one-way, unreliable hint of current load.
	KindReportLoad
)

// PerformJob asks the remote to run this job locally. Field order is the
// wire contract.
type PerformJob struct {
	JobID int64
}

// ReportLoad is a one-way periodic hint of current load. Field order is the
// wire contract.
type ReportLoad struct {
	Load int32
}

// Frame is one decoded message read off a Conn: the framing envelope
// (Kind, CorrelationID) plus the still-encoded payload.
type Frame struct {
	Kind          Kind
	CorrelationID uint64
	Body          []byte
}

const maxFrameSize = 1 << 20 // 1 MiB; guards against a corrupt length prefix.

// frameHeaderSize is 4 bytes length + 1 byte kind + 8 bytes correlation id.
const frameHeaderSize = 13

// writeFrame writes one length-prefixed, kind-tagged, msgpack-encoded frame.
// Framing itself (length prefix + net.Conn) is plain stdlib; only the
// payload codec is a pack dependency (msgpack), see DESIGN.md.
func writeFrame(w io.Writer, kind Kind, corrID uint64, payload interface{}) error {
	var body []byte
	if payload != nil {
		b, err := msgpack.Marshal(payload)
		if err != nil {
			return fmt.Errorf("rpc: encode payload: %w", err)
		}
		body = b
	}

	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(body)))
	header[4] = byte(kind)
	binary.BigEndian.PutUint64(header[5:13], corrID)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("rpc: write header: %w", err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("rpc: write body: %w", err)
		}
	}
	return nil
}

// readFrame blocks until one frame has been fully read off r.
func readFrame(r io.Reader) (Frame, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}

	n := binary.BigEndian.Uint32(header[0:4])
	if n > maxFrameSize {
		return Frame{}, fmt.Errorf("rpc: frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	kind := Kind(header[4])
	corrID := binary.BigEndian.Uint64(header[5:13])

	var body []byte
	if n > 0 {
		body = make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Kind: kind, CorrelationID: corrID, Body: body}, nil
}

// Conn wraps a net.Conn with a mutex-guarded writer (one connection's frames
// may be written concurrently — a PerformJob call racing a periodic
// ReportLoad send) and a correlation-id counter for matching replies to
// requests.
type Conn struct {
	nc     net.Conn
	mu     sync.Mutex
	nextID uint64
}

// NewConn wraps an established network connection.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// NextCorrelationID returns a fresh correlation id for a new request.
func (c *Conn) NextCorrelationID() uint64 {
	return atomic.AddUint64(&c.nextID, 1)
}

// Write sends one frame, safe for concurrent callers.
func (c *Conn) Write(kind Kind, corrID uint64, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeFrame(c.nc, kind, corrID, payload)
}

// Read blocks for the next frame. Only one goroutine per Conn should call
// Read; callers typically run one read loop per connection and dispatch by
// CorrelationID.
func (c *Conn) Read() (Frame, error) {
	return readFrame(c.nc)
}

// Close closes the underlying network connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RemoteAddr reports the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// DecodePerformJob unmarshals a PerformJob payload.
func DecodePerformJob(body []byte) (PerformJob, error) {
	var m PerformJob
	if err := msgpack.Unmarshal(body, &m); err != nil {
		return PerformJob{}, fmt.Errorf("rpc: decode PerformJob: %w", err)
	}
	return m, nil
}

// DecodeReportLoad unmarshals a ReportLoad payload.
func DecodeReportLoad(body []byte) (ReportLoad, error) {
	var m ReportLoad
	if err := msgpack.Unmarshal(body, &m); err != nil {
		return ReportLoad{}, fmt.Errorf("rpc: decode ReportLoad: %w", err)
	}
	return m, nil
}
