// Package transport turns a raw TCP stream into a per-channel encrypted,
// message-framed duplex (§4.C). Grounded on the teacher's
// `login/server.go` (`handleConnection`'s Init-packet-then-loop shape) and
// `login/state.go` (`ConnectionState` enum with `String()`), generalized
// from one fixed login protocol to four channels sharing one handshake
// shape with channel-specific Connect-record schemas.
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/moulars/moulars/internal/crypto"
)

// State is a connection's position in the handshake state machine (§4.C).
type State int

const (
	StatePreHandshake State = iota
	StateEncrypting
	StateEstablished
	StateClosing
)

func (s State) String() string {
	switch s {
	case StatePreHandshake:
		return "pre-handshake"
	case StateEncrypting:
		return "encrypting"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Conn is one channel's message-oriented duplex: a length-free, schema-
// driven (2-byte message id, body) framing (§4.C "Framing") over RC4'd (or,
// for the File channel, plaintext) bytes.
type Conn struct {
	raw   net.Conn
	r     *bufio.Reader
	w     *bufio.Writer
	state State

	readCipher  *crypto.StreamCipher // nil until StateEstablished, nil forever on the File channel
	writeCipher *crypto.StreamCipher
}

// NewConn wraps raw in a Conn with readCap-sized buffering (§5 "bounded
// read buffer").
func NewConn(raw net.Conn, readCap int) *Conn {
	return &Conn{
		raw:   raw,
		r:     bufio.NewReaderSize(raw, readCap),
		w:     bufio.NewWriter(raw),
		state: StatePreHandshake,
	}
}

// State reports the connection's handshake state.
func (c *Conn) State() State { return c.state }

// SetEstablished arms encryption with the derived per-direction keys and
// marks the connection ready for message traffic (§4.C: "thenceforth BOTH
// directions are RC4'd using the derived key"). Passing a nil readCipher
// and writeCipher leaves the connection in plaintext, the File channel's
// degenerate handshake (§4.C: "File channel uses a degenerate handshake
// with no encryption after Connect").
func (c *Conn) SetEstablished(readCipher, writeCipher *crypto.StreamCipher) {
	c.readCipher = readCipher
	c.writeCipher = writeCipher
	c.state = StateEstablished
}

// ReadHeader reads n raw (unencrypted) bytes — used for the plaintext
// channel-selector/Connect-record/NegotiateKey exchange that precedes
// encryption (§4.C Handshake).
func (c *Conn) ReadHeader(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, fmt.Errorf("reading handshake header: %w", err)
	}
	return buf, nil
}

// WriteHeader writes raw (unencrypted) bytes during the handshake and
// flushes immediately.
func (c *Conn) WriteHeader(buf []byte) error {
	if _, err := c.w.Write(buf); err != nil {
		return fmt.Errorf("writing handshake header: %w", err)
	}
	return c.w.Flush()
}

// ReadMessageID reads the 2-byte message id that starts every frame,
// decrypting it in place when a read cipher is armed (§4.C Framing).
// There is no self-delimiting length: the caller then reads the body with
// ReadBody or BodyReader, as the wire schema table (§4.D) for that id
// dictates.
func (c *Conn) ReadMessageID() (uint16, error) {
	var idBuf [2]byte
	if _, err := io.ReadFull(c.r, idBuf[:]); err != nil {
		return 0, err
	}
	if c.readCipher != nil {
		c.readCipher.XOR(idBuf[:])
	}
	return binary.LittleEndian.Uint16(idBuf[:]), nil
}

// ReadBody reads exactly n body bytes following a message id, decrypting
// in place.
func (c *Conn) ReadBody(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, fmt.Errorf("reading message body: %w", err)
	}
	if c.readCipher != nil {
		c.readCipher.XOR(buf)
	}
	return buf, nil
}

// bodyReader adapts a Conn to io.Reader for field-at-a-time decoding
// (codec.NewStreamReader): every Read fully fills its buffer (or fails)
// and decrypts it in place, mirroring ReadBody without a known total
// length up front.
type bodyReader struct{ c *Conn }

func (b bodyReader) Read(p []byte) (int, error) {
	n, err := io.ReadFull(b.c.r, p)
	if n > 0 && b.c.readCipher != nil {
		b.c.readCipher.XOR(p[:n])
	}
	return n, err
}

// BodyReader returns an io.Reader over this connection's message body,
// decrypting each field as it is pulled off the wire. Used to construct a
// codec.NewStreamReader for one message (§4.D: the schema, not an outer
// length, determines how many bytes make up the body).
func (c *Conn) BodyReader() io.Reader { return bodyReader{c} }

// WriteMessage encrypts (if a write cipher is armed) and writes one
// (message id, body) frame, then flushes.
func (c *Conn) WriteMessage(id uint16, body []byte) error {
	var idBuf [2]byte
	binary.LittleEndian.PutUint16(idBuf[:], id)
	if c.writeCipher != nil {
		c.writeCipher.XOR(idBuf[:])
	}
	if _, err := c.w.Write(idBuf[:]); err != nil {
		return fmt.Errorf("writing message id: %w", err)
	}

	if len(body) > 0 {
		enc := body
		if c.writeCipher != nil {
			enc = append([]byte(nil), body...)
			c.writeCipher.XOR(enc)
		}
		if _, err := c.w.Write(enc); err != nil {
			return fmt.Errorf("writing message body: %w", err)
		}
	}
	return c.w.Flush()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	c.state = StateClosing
	return c.raw.Close()
}

// RemoteAddr returns the peer address, for logging.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// SetReadDeadline arms the underlying connection's read deadline. Used by
// the listener to enforce §5's per-message liveness and §4.G's 30s
// chunk-ack timeout on an in-progress File download; a zero t clears the
// deadline.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.raw.SetReadDeadline(t)
}
