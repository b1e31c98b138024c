// Package protocol implements the wire framing and the peer endpoint
// abstraction over one client connection.
//
// Each logical message is a self-delimited unit on the wire:
// [4-byte big-endian length][JSON payload]. A reader consumes whole frames
// regardless of how many transport reads that takes.
package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	pb "github.com/jmhart/confab/pkg/protocol/pb"
)

// MaxFrameSize is the maximum size of one framed message. Frames carry
// inline file payloads, so the cap is generous.
const MaxFrameSize = 64 << 20

// ErrMalformed marks a frame whose payload is not a valid message. The
// stream itself is still in sync; the caller may keep reading.
var ErrMalformed = errors.New("protocol: malformed message")

// Endpoint is a bidirectional message channel to one connected peer.
// Send is safe for concurrent use; Receive must have a single consumer
// at any time.
type Endpoint interface {
	Send(msg *pb.Message) error
	Receive() (*pb.Message, error)
	Close() error
}

// WriteMessage writes one length-prefixed JSON message to a writer.
func WriteMessage(w io.Writer, msg *pb.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("protocol: marshal: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("protocol: message too large: %d bytes", len(data))
	}

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(data))) //nolint:gosec // length bounds-checked above
	if _, err := w.Write(lenBuf); err != nil {
		return fmt.Errorf("protocol: write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("protocol: write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed JSON message from a reader.
// A frame with invalid JSON returns ErrMalformed; the stream remains
// readable. Length or transport failures are fatal to the stream.
func ReadMessage(r io.Reader) (*pb.Message, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, fmt.Errorf("protocol: read length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("protocol: message too large: %d bytes", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("protocol: read payload: %w", err)
	}

	msg := &pb.Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

// ConnEndpoint adapts a net.Conn into an Endpoint using the framed codec.
type ConnEndpoint struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex
}

// NewConnEndpoint wraps a stream connection in the framed codec.
func NewConnEndpoint(conn net.Conn) *ConnEndpoint {
	return &ConnEndpoint{
		conn: conn,
		r:    bufio.NewReader(conn),
	}
}

// Send writes one message. Concurrent senders are serialized so frames
// never interleave.
func (e *ConnEndpoint) Send(msg *pb.Message) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	return WriteMessage(e.conn, msg)
}

// Receive blocks until the next complete message arrives.
func (e *ConnEndpoint) Receive() (*pb.Message, error) {
	return ReadMessage(e.r)
}

// Close closes the underlying connection. Any blocked Receive returns
// with an error.
func (e *ConnEndpoint) Close() error {
	return e.conn.Close()
}

// RemoteAddr reports the peer address for logging.
func (e *ConnEndpoint) RemoteAddr() string {
	return e.conn.RemoteAddr().String()
}
