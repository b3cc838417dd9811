// Package transport implements the socket channel that carries wire
// messages between a producer and the host: a version handshake followed
// by a stream of (header, body) pairs framed per wire.Header.
package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/deflectio/pixelstream/wire"
)

// ProtocolVersion is written by the host immediately after accept and
// checked by the client before sending anything else. Bump it whenever a
// wire-incompatible change is made.
const ProtocolVersion int32 = 7

// ErrVersionMismatch is returned by Dial when the host speaks an older
// protocol than this client supports.
var ErrVersionMismatch = errors.New("transport: server protocol version unsupported")

// ErrClosed names the closed-connection condition. Send, Receive and
// HasMessage do not return it: on a closed connection they report the
// underlying net.Conn error instead.
var ErrClosed = errors.New("transport: connection closed")

// ErrTimeout is returned by Receive when no complete message arrives
// within the role's receive timeout.
var ErrTimeout = errors.New("transport: receive timeout")

// clientReceiveTimeout and serverReceiveTimeout bound how long a Receive
// call will wait for a complete message before giving up. They differ
// because a client blocked past its timeout simply retries, while a
// lingering server-side read guards against a half-open peer holding a
// worker hostage.
const (
	clientReceiveTimeout = 1 * time.Second
	serverReceiveTimeout = 3 * time.Second
)

// Conn wraps a TCP connection framed with wire.Header-prefixed messages.
// A Conn is not safe for concurrent Send or concurrent Receive calls (it
// has a single owner goroutine on each side, per the wire protocol's
// single-owner socket model); Send and Receive may, however, be called
// concurrently with each other.
type Conn struct {
	nc   net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	role role
}

type role int

const (
	roleClient role = iota
	roleServer
)

// Dial connects to addr, performs the version handshake, and returns a
// ready Conn. clientReceiveTimeout bounds the TCP connect and the handshake
// read; once established, Conn's own per-call timeouts apply.
func Dial(addr string) (*Conn, error) {
	nc, err := net.DialTimeout("tcp", addr, clientReceiveTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	c := &Conn{nc: nc, br: bufio.NewReader(nc), bw: bufio.NewWriter(nc), role: roleClient}

	if err := nc.SetReadDeadline(time.Now().Add(clientReceiveTimeout)); err != nil {
		nc.Close()
		return nil, err
	}
	var serverVersion int32
	if err := binary.Read(c.br, binary.LittleEndian, &serverVersion); err != nil {
		nc.Close()
		return nil, fmt.Errorf("transport: read server protocol version: %w", err)
	}
	if err := nc.SetReadDeadline(time.Time{}); err != nil {
		nc.Close()
		return nil, err
	}
	if serverVersion < ProtocolVersion {
		nc.Close()
		return nil, fmt.Errorf("%w: server=%d want>=%d", ErrVersionMismatch, serverVersion, ProtocolVersion)
	}

	return c, nil
}

// Accept wraps an already-accepted net.Conn, writing the host's protocol
// version as the first thing the client will read.
func Accept(nc net.Conn) (*Conn, error) {
	c := &Conn{nc: nc, br: bufio.NewReader(nc), bw: bufio.NewWriter(nc), role: roleServer}
	if err := binary.Write(c.bw, binary.LittleEndian, ProtocolVersion); err != nil {
		nc.Close()
		return nil, fmt.Errorf("transport: write protocol version: %w", err)
	}
	if err := c.bw.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("transport: flush protocol version: %w", err)
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RemoteAddr returns the address of the remote end of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// Send writes a header followed by body. body may be nil or empty when
// header.Size is 0.
func (c *Conn) Send(header wire.Header, body []byte) error {
	if err := header.Encode(c.bw); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := c.bw.Write(body); err != nil {
			return fmt.Errorf("transport: write body: %w", err)
		}
	}
	if err := c.bw.Flush(); err != nil {
		return fmt.Errorf("transport: flush: %w", err)
	}
	return nil
}

// Receive reads the next header and its body, blocking until either a
// full message arrives or the receive timeout elapses. The timeout
// differs by role: a client gives up sooner than a host does, so a
// producer notices a stalled link quickly while a host tolerates a
// briefly slow producer.
func (c *Conn) Receive() (wire.Header, []byte, error) {
	if err := c.nc.SetReadDeadline(time.Now().Add(c.timeout())); err != nil {
		return wire.Header{}, nil, err
	}
	defer c.nc.SetReadDeadline(time.Time{})

	header, err := wire.Decode(c.br)
	if err != nil {
		return wire.Header{}, nil, fmt.Errorf("transport: receive header: %w", wrapTimeout(err))
	}

	var body []byte
	if header.Size > 0 {
		body = make([]byte, header.Size)
		if _, err := io.ReadFull(c.br, body); err != nil {
			return wire.Header{}, nil, fmt.Errorf("transport: receive body: %w", wrapTimeout(err))
		}
	}

	if header.Type == wire.MessageQuit {
		c.nc.Close()
		return header, body, nil
	}

	return header, body, nil
}

// HasMessage reports whether a header plus at least minBodyBytes of body
// are already buffered, without blocking for more data. It briefly polls
// the socket to wake it up if no data has streamed in a while, mirroring
// a non-blocking peek.
func (c *Conn) HasMessage(minBodyBytes int) bool {
	if err := c.nc.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false
	}
	defer c.nc.SetReadDeadline(time.Time{})

	n, err := c.br.Peek(1)
	if len(n) == 0 && err != nil {
		return false
	}
	return c.br.Buffered() >= wire.HeaderSize+minBodyBytes
}

func (c *Conn) timeout() time.Duration {
	if c.role == roleServer {
		return serverReceiveTimeout
	}
	return clientReceiveTimeout
}

// wrapTimeout substitutes ErrTimeout for a net.Error reporting Timeout(),
// so callers can use errors.Is(err, ErrTimeout) instead of a type switch.
func wrapTimeout(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return err
}
