package listener

import (
	"context"
	"net"
	"sync"

	"github.com/moulars/moulars/internal/constants"
	"github.com/moulars/moulars/internal/transport"
	"github.com/moulars/moulars/internal/wire/auth"
	"github.com/moulars/moulars/internal/wireerr"
)

// serveAuth drives the Auth channel (§4.D "Auth (10)"): handshake, then a
// read goroutine (this one) and a write goroutine joined by a bounded
// outbound channel (§5: "one read task and one write task per connection
// ... joined by a bounded mpsc channel for outbound"). Direct replies and
// Vault notifications delivered through c.Mailbox both funnel through the
// same outbound channel, so the connection's two write sources never race
// on the socket.
func (s *Server) serveAuth(ctx context.Context, tconn *transport.Conn, remote net.Addr, connID uint64) {
	if s.handlers.Auth == nil {
		return
	}
	if err := handshakeEncrypted(tconn, s.params.Auth, remote, "auth"); err != nil {
		logHandshakeFailure("auth", remote, err)
		return
	}

	c := auth.NewConn(connID)
	loopCtx, cancel := context.WithCancel(ctx)

	outbound := make(chan []byte, constants.DefaultOutboundQueueSize)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		writeLoop(loopCtx, tconn, outbound, "auth", remote)
	}()
	go func() {
		defer wg.Done()
		drainAuthMailbox(loopCtx, c, outbound)
	}()

readLoop:
	for {
		id, r, err := readMessage(tconn)
		if err != nil {
			logLoopExit("auth", remote, err)
			break
		}

		buf := newReplyBuf()
		ok, err := s.handlers.Auth.HandlePacket(loopCtx, c, id, r, buf)
		if err != nil {
			logHandlerError("auth", remote, err)
			if wireerr.KindOf(err).Fatal() {
				buf.Put()
				break readLoop
			}
		}
		if buf.Len() > 0 {
			body := append([]byte(nil), buf.Bytes()...)
			buf.Put()
			select {
			case outbound <- body:
			case <-loopCtx.Done():
				break readLoop
			}
		} else {
			buf.Put()
		}
		if !ok {
			break
		}
	}

	cancel()
	if err := s.vault.Unsubscribe(ctx, c.Mailbox); err != nil {
		logLoopExit("auth", remote, err)
	}
	wg.Wait()
}

// drainAuthMailbox forwards every Vault notification queued for c's mailbox
// onto outbound, wire-encoded, until ctx is done.
func drainAuthMailbox(ctx context.Context, c *auth.Conn, outbound chan<- []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-c.Mailbox.C():
			select {
			case outbound <- auth.EncodeNotification(n):
			case <-ctx.Done():
				return
			}
		}
	}
}
