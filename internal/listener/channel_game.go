package listener

import (
	"context"
	"net"
	"sync"

	"github.com/moulars/moulars/internal/constants"
	"github.com/moulars/moulars/internal/transport"
	"github.com/moulars/moulars/internal/wire/game"
	"github.com/moulars/moulars/internal/wireerr"
)

// serveGame drives the Game channel (§4.D "Game (11)"): handshake, then the
// same read-goroutine/write-goroutine/mailbox-drain shape serveAuth uses,
// backed by age.ChanMailbox instead of vault.ChanMailbox.
func (s *Server) serveGame(ctx context.Context, tconn *transport.Conn, remote net.Addr, connID uint64) {
	if s.handlers.Game == nil {
		return
	}
	if err := handshakeEncrypted(tconn, s.params.Game, remote, "game"); err != nil {
		logHandshakeFailure("game", remote, err)
		return
	}

	c := game.NewConn(connID)
	loopCtx, cancel := context.WithCancel(ctx)

	outbound := make(chan []byte, constants.DefaultOutboundQueueSize)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		writeLoop(loopCtx, tconn, outbound, "game", remote)
	}()
	go func() {
		defer wg.Done()
		drainGameMailbox(loopCtx, c, outbound)
	}()

readLoop:
	for {
		id, r, err := readMessage(tconn)
		if err != nil {
			logLoopExit("game", remote, err)
			break
		}

		buf := newReplyBuf()
		ok, err := s.handlers.Game.HandlePacket(loopCtx, c, id, r, buf)
		if err != nil {
			logHandlerError("game", remote, err)
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
	s.handlers.Game.Cleanup(ctx, c)
	wg.Wait()
}

// drainGameMailbox forwards every age.Notification queued for c's mailbox
// onto outbound, wire-encoded, until ctx is done.
func drainGameMailbox(ctx context.Context, c *game.Conn, outbound chan<- []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-c.Mailbox.C():
			select {
			case outbound <- game.EncodeNotification(n):
			case <-ctx.Done():
				return
			}
		}
	}
}
