package listener

import (
	"context"
	"net"
	"time"

	"github.com/moulars/moulars/internal/constants"
	"github.com/moulars/moulars/internal/transport"
	"github.com/moulars/moulars/internal/wire/file"
	"github.com/moulars/moulars/internal/wireerr"
)

// serveFile drives the File channel (§4.D "File (20)"). §4.C: "File
// channel uses a degenerate handshake with no encryption after Connect" —
// the Connect record is still read (so framing stays aligned with the
// other three channels) but NegotiateKey never runs; tconn.SetEstablished
// is called with nil ciphers, leaving traffic in plaintext.
func (s *Server) serveFile(ctx context.Context, tconn *transport.Conn, remote net.Addr) {
	if s.handlers.File == nil {
		return
	}
	if _, err := transport.ReadConnectHeader(tconn); err != nil {
		logHandshakeFailure("file", remote, err)
		return
	}
	tconn.SetEstablished(nil, nil)

	c := file.NewConn()
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// §4.G: "An unacknowledged chunk for > 30 s closes the
		// connection." Only armed while a download is in flight; a File
		// connection idling between requests has no deadline.
		if c.Active() {
			_ = tconn.SetReadDeadline(time.Now().Add(constants.FileChunkAckTimeout * time.Second))
		} else {
			_ = tconn.SetReadDeadline(time.Time{})
		}

		id, r, err := readMessage(tconn)
		if err != nil {
			logLoopExit("file", remote, err)
			return
		}

		buf := newReplyBuf()
		ok, err := s.handlers.File.HandlePacket(ctx, c, id, r, buf)
		if err != nil {
			logHandlerError("file", remote, err)
			if wireerr.KindOf(err).Fatal() {
				buf.Put()
				return
			}
		}
		if sendErr := sendReply(tconn, buf); sendErr != nil {
			logLoopExit("file", remote, sendErr)
			return
		}
		if !ok {
			return
		}
	}
}
