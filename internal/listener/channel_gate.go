package listener

import (
	"context"
	"net"

	"github.com/moulars/moulars/internal/codec"
	"github.com/moulars/moulars/internal/transport"
	"github.com/moulars/moulars/internal/wireerr"
)

// serveGate drives the Gate channel (§4.D "Gate (22)"): handshake, then a
// plain request/reply loop with no per-connection state and no
// notification mailbox, so reads and writes share this one goroutine
// without needing an outbound queue.
func (s *Server) serveGate(ctx context.Context, tconn *transport.Conn, remote net.Addr) {
	if s.handlers.Gate == nil {
		return
	}
	if err := handshakeEncrypted(tconn, s.params.Gate, remote, "gate"); err != nil {
		logHandshakeFailure("gate", remote, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		id, _, err := readMessage(tconn)
		if err != nil {
			logLoopExit("gate", remote, err)
			return
		}

		buf := newReplyBuf()
		ok, err := s.handlers.Gate.HandlePacket(id, buf)
		if err != nil {
			logHandlerError("gate", remote, err)
			if wireerr.KindOf(err).Fatal() {
				buf.Put()
				return
			}
		}
		if sendErr := sendReply(tconn, buf); sendErr != nil {
			logLoopExit("gate", remote, sendErr)
			return
		}
		if !ok {
			return
		}
	}
}

// sendReply writes buf's accumulated bytes as one framed message (splitting
// the leading 2-byte id the handler wrote) and returns buf to the pool.
func sendReply(tconn *transport.Conn, buf *codec.Writer) error {
	defer buf.Put()
	if buf.Len() == 0 {
		return nil
	}
	id, body := splitReply(buf.Bytes())
	return tconn.WriteMessage(id, body)
}
