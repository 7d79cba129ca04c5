package listener

import (
	"context"
	"net"

	"github.com/moulars/moulars/internal/transport"
)

// writeLoop drains outbound, writing each queued message frame to tconn,
// until ctx is canceled or a write fails. Used by the Auth and Game
// channels, whose per-connection mailbox-drain goroutine and direct-reply
// read loop both funnel onto the same socket without racing (§5: "one read
// task and one write task per connection ... joined by a bounded mpsc
// channel for outbound").
func writeLoop(ctx context.Context, tconn *transport.Conn, outbound <-chan []byte, channel string, remote net.Addr) {
	for {
		select {
		case <-ctx.Done():
			return
		case body := <-outbound:
			id, payload := splitReply(body)
			if err := tconn.WriteMessage(id, payload); err != nil {
				logLoopExit(channel, remote, err)
				return
			}
		}
	}
}
