// Package file implements the File channel (§4.D "File (20)"): a build-id
// handshake, manifest request by name, and the 64 KiB chunked file download
// that streams a manifest's referenced cache entries to the patcher.
// Grounded on the teacher's `login/handler.go` opcode-switch dispatch
// shape, generalized to a channel whose handshake has no encryption (§4.C:
// "File channel uses a degenerate handshake with no encryption after
// Connect") and whose download is a request/ack loop instead of a single
// reply.
package file

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/moulars/moulars/internal/codec"
	"github.com/moulars/moulars/internal/constants"
	"github.com/moulars/moulars/internal/manifest"
	"github.com/moulars/moulars/internal/wireerr"
)

// Client message ids (§4.D "File (20)").
const (
	MsgPingRequest          = 0x00
	MsgBuildIdRequest       = 0x01
	MsgManifestRequest      = 0x02
	MsgFileDownloadRequest  = 0x03
	MsgFileDownloadChunkAck = 0x04
)

// Server reply ids.
const (
	MsgPingReply            = 0x00
	MsgBuildIdReply         = 0x01
	MsgManifestReply        = 0x02
	MsgFileDownloadChunk    = 0x03
	MsgFileDownloadComplete = 0x04
)

// ErrCode is the coded status a failed File request replies with.
type ErrCode uint8

const (
	ErrCodeSuccess ErrCode = iota
	ErrCodeBuildMismatch
	ErrCodeNotFound
	ErrCodeInternal
)

func codeFor(kind wireerr.Kind) ErrCode {
	switch kind {
	case wireerr.KindNotFound:
		return ErrCodeNotFound
	default:
		return ErrCodeInternal
	}
}

// Handler serves the File channel against one manifest.Engine. Stateless
// itself; per-connection download progress lives in Conn.
type Handler struct {
	manifest *manifest.Engine
	buildID  uint32
}

// NewHandler binds a File handler to the build id clients must present and
// the manifest engine their requests are served from.
func NewHandler(m *manifest.Engine, buildID uint32) *Handler {
	return &Handler{manifest: m, buildID: buildID}
}

// download tracks an in-progress chunked transfer for one connection.
type download struct {
	file   *os.File
	sent   int64
	size   int64
}

func (d *download) close() {
	if d != nil && d.file != nil {
		d.file.Close()
	}
}

// Conn is one File connection's download cursor. The File channel has no
// login state (§4.C: the build-id check stands in for authentication).
type Conn struct {
	active *download
}

// NewConn creates per-connection File state.
func NewConn() *Conn { return &Conn{} }

// Close releases any file handle an in-progress download is holding; the
// listener calls this on teardown (§5 Cancellation: "free any half-built
// manifest download").
func (c *Conn) Close() {
	c.active.close()
	c.active = nil
}

// Active reports whether a download is in flight, so the listener knows
// when to arm the 30s chunk-ack read deadline (§4.G).
func (c *Conn) Active() bool { return c.active != nil }

// HandlePacket dispatches one decoded File message. The File channel's
// download handler relies on the listener applying
// constants.FileChunkAckTimeout as the connection's read deadline whenever
// c.active != nil (§4.D "running acknowledgement"); HandlePacket itself is
// stateless about timing.
func (h *Handler) HandlePacket(ctx context.Context, c *Conn, msgID uint16, r *codec.Reader, buf *codec.Writer) (bool, error) {
	switch msgID {
	case MsgPingRequest:
		return h.handlePing(r, buf)
	case MsgBuildIdRequest:
		return h.handleBuildID(r, buf)
	case MsgManifestRequest:
		return h.handleManifestRequest(ctx, r, buf)
	case MsgFileDownloadRequest:
		return h.handleFileDownloadRequest(ctx, c, r, buf)
	case MsgFileDownloadChunkAck:
		return h.handleChunkAck(c, buf)
	default:
		return false, wireerr.New(wireerr.KindProtocol, "file.HandlePacket", fmt.Errorf("unknown message id 0x%04X", msgID))
	}
}

func (h *Handler) handlePing(r *codec.Reader, buf *codec.Writer) (bool, error) {
	payload, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "file.Ping", err)
	}
	buf.WriteUint16(MsgPingReply)
	buf.WriteUint32(payload)
	return true, nil
}

// handleBuildID answers the patcher's build-id check (§4.D "build id
// check"). A mismatch is reported in-band, not a connection close — the
// client decides whether to proceed or re-download its own updater.
func (h *Handler) handleBuildID(r *codec.Reader, buf *codec.Writer) (bool, error) {
	clientBuildID, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "file.BuildId", err)
	}

	buf.WriteUint16(MsgBuildIdReply)
	if clientBuildID != h.buildID {
		buf.WriteUint8(uint8(ErrCodeBuildMismatch))
	} else {
		buf.WriteUint8(uint8(ErrCodeSuccess))
	}
	buf.WriteUint32(h.buildID)
	return true, nil
}

// handleManifestRequest answers with one named manifest's wire-encoded
// bytes (§4.D "manifest request (by manifest name + build id)").
func (h *Handler) handleManifestRequest(ctx context.Context, r *codec.Reader, buf *codec.Writer) (bool, error) {
	name, err := r.ReadString16(true, 0)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "file.ManifestRequest", err)
	}
	clientBuildID, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "file.ManifestRequest", err)
	}
	if clientBuildID != h.buildID {
		buf.WriteUint16(MsgManifestReply)
		buf.WriteUint8(uint8(ErrCodeBuildMismatch))
		return true, nil
	}

	data, err := h.manifest.Manifest(ctx, name)
	if err != nil {
		buf.WriteUint16(MsgManifestReply)
		buf.WriteUint8(uint8(codeFor(wireerr.KindOf(err))))
		return true, nil
	}

	buf.WriteUint16(MsgManifestReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	buf.WriteBlob(data)
	return true, nil
}

// parseDownloadPath recovers the compressed-hash cache key a manifest's
// download_path field names (§4.G: "The download path is the
// compressed-hash-named file on disk").
func parseDownloadPath(downloadPath string) ([20]byte, error) {
	var hash [20]byte
	hexPart := strings.TrimSuffix(downloadPath, ".gz")
	raw, err := hex.DecodeString(hexPart)
	if err != nil || len(raw) != len(hash) {
		return hash, fmt.Errorf("malformed download path %q", downloadPath)
	}
	copy(hash[:], raw)
	return hash, nil
}

// handleFileDownloadRequest opens the requested cache file and sends its
// first chunk; subsequent chunks are driven by handleChunkAck (§4.D "file
// download (streaming, 64 KiB chunks with a running acknowledgement)").
func (h *Handler) handleFileDownloadRequest(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	downloadPath, err := r.ReadString16(true, 0)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "file.FileDownloadRequest", err)
	}

	c.Close()

	hash, err := parseDownloadPath(downloadPath)
	if err != nil {
		buf.WriteUint16(MsgFileDownloadChunk)
		buf.WriteUint8(uint8(ErrCodeNotFound))
		return true, nil
	}

	path, size, err := h.manifest.ResolveFile(ctx, hash)
	if err != nil {
		buf.WriteUint16(MsgFileDownloadChunk)
		buf.WriteUint8(uint8(codeFor(wireerr.KindOf(err))))
		return true, nil
	}

	f, err := os.Open(path)
	if err != nil {
		buf.WriteUint16(MsgFileDownloadChunk)
		buf.WriteUint8(uint8(ErrCodeInternal))
		return true, nil
	}

	c.active = &download{file: f, size: size}
	return h.sendNextChunk(c, buf)
}

// handleChunkAck advances an in-progress download by one chunk (§4.D
// "running acknowledgement" — the ack is itself the request for the next
// chunk).
func (h *Handler) handleChunkAck(c *Conn, buf *codec.Writer) (bool, error) {
	if c.active == nil {
		return false, wireerr.New(wireerr.KindProtocol, "file.FileDownloadChunkAck", fmt.Errorf("no download in progress"))
	}
	return h.sendNextChunk(c, buf)
}

func (h *Handler) sendNextChunk(c *Conn, buf *codec.Writer) (bool, error) {
	d := c.active
	if d.sent >= d.size {
		buf.WriteUint16(MsgFileDownloadComplete)
		buf.WriteUint8(uint8(ErrCodeSuccess))
		c.Close()
		return true, nil
	}

	chunk := make([]byte, constants.FileChunkSize)
	n, err := d.file.Read(chunk)
	if err != nil && err != io.EOF {
		c.Close()
		return false, wireerr.New(wireerr.KindIO, "file.sendNextChunk", err)
	}
	chunk = chunk[:n]
	d.sent += int64(n)

	buf.WriteUint16(MsgFileDownloadChunk)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	buf.WriteUint32(uint32(d.sent))
	buf.WriteUint32(uint32(d.size))
	buf.WriteBlob(chunk)
	return true, nil
}
