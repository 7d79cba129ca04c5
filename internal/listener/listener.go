// Package listener implements the Lobby listener & channel demux (§4.H): a
// single TCP listener that accepts every client connection regardless of
// which of the four wire channels it speaks, reads the 1-byte channel
// selector (§4.C), drives that channel's DH handshake, and then hands the
// connection off to a per-message read/write loop over the matching wire
// handler (internal/wire/{gate,auth,game,file}). Grounded on the teacher's
// `login.Server` (`acceptLoop`/`handleConnection`, `sync.WaitGroup`,
// context-cancellation teardown via a watcher goroutine) generalized from
// one fixed protocol accepted on its own listener to four channels
// multiplexed behind a single port (§6.5).
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moulars/moulars/internal/age"
	"github.com/moulars/moulars/internal/codec"
	"github.com/moulars/moulars/internal/config"
	"github.com/moulars/moulars/internal/constants"
	"github.com/moulars/moulars/internal/crypto"
	"github.com/moulars/moulars/internal/transport"
	"github.com/moulars/moulars/internal/vault"
	"github.com/moulars/moulars/internal/wire/auth"
	"github.com/moulars/moulars/internal/wire/file"
	"github.com/moulars/moulars/internal/wire/game"
	"github.com/moulars/moulars/internal/wire/gate"
	"github.com/moulars/moulars/internal/wireerr"
)

// ChannelParams bundles the three encrypted channels' DH parameters (§4.A:
// one (N, K) pair per channel, advertised with a distinct base g). The
// File channel has no entry — its handshake is degenerate (§4.C).
type ChannelParams struct {
	Gate *crypto.Params
	Auth *crypto.Params
	Game *crypto.Params
}

// Handlers bundles the four wire-schema handlers the demux dispatches to.
// File may be nil if the server runs with no file engine configured, in
// which case the File channel is rejected at the handshake.
type Handlers struct {
	Gate *gate.Handler
	Auth *auth.Handler
	Game *game.Handler
	File *file.Handler
}

// Server is the single TCP listener every client channel connects through
// (§6.5 "Single TCP listener ... multiplexes gate/auth/game/file by
// first-byte channel selector").
type Server struct {
	cfg      config.Config
	params   ChannelParams
	handlers Handlers
	vault    *vault.Store

	nextConnID atomic.Uint64

	mu       sync.Mutex
	listener net.Listener
}

// New wires a Server to its channel handlers, DH parameters, and the Vault
// store (needed directly, not just through the Auth handler, so the
// listener can unsubscribe a departing connection's mailbox — §5
// Cancellation: "unsubscribe from Vault, leave all age instances").
func New(cfg config.Config, params ChannelParams, handlers Handlers, v *vault.Store) *Server {
	return &Server{cfg: cfg, params: params, handlers: handlers, vault: v}
}

// Addr reports the bound address, or nil before Run/Serve starts listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the underlying listener, unblocking Accept in the running
// accept loop.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run binds cfg.Server.ListenAddress:ListenPort and serves until ctx is
// canceled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.ListenAddress, s.cfg.Server.ListenPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return wireerr.New(wireerr.KindIO, "listener.Run", fmt.Errorf("listening on %s: %w", addr, err))
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve runs the accept loop against an already-bound listener (used
// directly by tests, the way the teacher's login.Server.Serve is).
// Shutdown honors §5's grace window: once ctx is canceled, the listener
// stops accepting and Serve waits up to DefaultShutdownGrace for in-flight
// connections to drain before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listener: accepting connections", "address", ln.Addr())
		s.acceptLoop(ctx, &wg, ln)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	select {
	case <-done:
	case <-time.After(time.Duration(constants.DefaultShutdownGrace) * time.Second):
		slog.Warn("listener: shutdown grace window elapsed with connections still draining")
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, wg *sync.WaitGroup, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
				slog.Error("listener: accept failed", "err", err)
				continue
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection reads the channel selector and dispatches to the
// matching per-channel handshake+loop. Every error here is connection-
// scoped (§7: "a single misbehaving connection is always isolated") —
// nothing propagates back to acceptLoop.
func (s *Server) handleConnection(ctx context.Context, raw net.Conn) {
	remote := raw.RemoteAddr()
	defer raw.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			raw.Close()
		case <-done:
		}
	}()

	tconn := transport.NewConn(raw, constants.DefaultReadBufferCap)
	selBuf, err := tconn.ReadHeader(1)
	if err != nil {
		slog.Debug("listener: failed to read channel selector", "remote", remote, "err", err)
		return
	}

	connID := s.nextConnID.Add(1)

	switch selBuf[0] {
	case constants.ChannelGate:
		s.serveGate(connCtx, tconn, remote)
	case constants.ChannelAuth:
		s.serveAuth(connCtx, tconn, remote, connID)
	case constants.ChannelGame:
		s.serveGame(connCtx, tconn, remote, connID)
	case constants.ChannelFile:
		s.serveFile(connCtx, tconn, remote)
	default:
		slog.Warn("listener: unknown channel selector", "remote", remote, "selector", selBuf[0])
	}
}

// handshakeEncrypted performs the shared Connect/NegotiateKey exchange for
// the three encrypted channels (§4.C). The Connect record's body is left
// unparsed (as transport.ReadConnectHeader always has); only its presence
// and length matter here, since each channel's own build-id/version checks happen
// through its normal request messages instead.
func handshakeEncrypted(tconn *transport.Conn, params *crypto.Params, remote net.Addr, channel string) error {
	hdr, err := transport.ReadConnectHeader(tconn)
	if err != nil {
		return err
	}
	slog.Debug("listener: connect header read", "remote", remote, "channel", channel, "len", len(hdr.Raw))

	if err := transport.AdvertisePublicValue(tconn, params); err != nil {
		return err
	}
	return transport.NegotiateKey(tconn, params)
}

// readMessage pulls one (id, decrypting body reader) pair off tconn. The
// body reader decodes fields lazily and decrypts in place as they are
// pulled (§4.B, §4.C) — there is no outer frame length to pre-read.
func readMessage(tconn *transport.Conn) (uint16, *codec.Reader, error) {
	id, err := tconn.ReadMessageID()
	if err != nil {
		return 0, nil, wireerr.New(wireerr.KindIO, "listener.readMessage", err)
	}
	return id, codec.NewStreamReader(tconn.BodyReader()), nil
}

// newReplyBuf returns a pooled codec.Writer a handler writes its reply
// into. Safe to return to the pool once its bytes have been handed to
// Conn.WriteMessage, which copies (or the bufio.Writer beneath it copies)
// before this function's caller reuses it.
func newReplyBuf() *codec.Writer { return codec.Get() }

func logHandshakeFailure(channel string, remote net.Addr, err error) {
	slog.Debug("listener: handshake failed", "channel", channel, "remote", remote, "err", err)
}

func logLoopExit(channel string, remote net.Addr, err error) {
	slog.Debug("listener: connection closed", "channel", channel, "remote", remote, "err", err)
}

func logHandlerError(channel string, remote net.Addr, err error) {
	slog.Warn("listener: handler error", "channel", channel, "remote", remote, "kind", wireerr.KindOf(err), "err", err)
}

// splitReply pulls the 2-byte message id a handler wrote at the front of
// buf back off, so it can be handed to Conn.WriteMessage separately from
// the body (every HandlePacket implementation writes
// `buf.WriteUint16(msgID)` first, by convention — see e.g.
// auth.writeErrReply).
func splitReply(data []byte) (uint16, []byte) {
	if len(data) < 2 {
		return 0, nil
	}
	return uint16(data[0]) | uint16(data[1])<<8, data[2:]
}
