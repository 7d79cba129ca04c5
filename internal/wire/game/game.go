// Package game implements the Game channel (§4.D "Game (11)"): join age,
// leave age, plMessage propagation, game-manager message passthrough, and
// SDL state update, all delegating to the Age Instance Manager
// (internal/age). Grounded on the teacher's `login/handler.go` opcode
// switch shape, generalized the same way internal/wire/auth is — a shared
// stateless Handler plus a per-connection Conn carrying the one thing this
// channel owns that the manager does not: the outbound mailbox a joined
// connection is notified through.
package game

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/moulars/moulars/internal/age"
	"github.com/moulars/moulars/internal/codec"
	"github.com/moulars/moulars/internal/db"
	"github.com/moulars/moulars/internal/model"
	"github.com/moulars/moulars/internal/wireerr"
)

// Client message ids (§4.D "Game (11)").
const (
	MsgPingRequest           = 0x00
	MsgJoinAgeRequest        = 0x01
	MsgLeaveAgeRequest       = 0x02
	MsgPlMessageSend         = 0x03
	MsgRegisterLoadedObjects = 0x04
	MsgSDLStateUpdate        = 0x05
	MsgGameManagerMessage    = 0x06
)

// Server reply ids, mirroring each request id 1:1.
const (
	MsgPingReply               = 0x00
	MsgJoinAgeReply            = 0x01
	MsgLeaveAgeReply           = 0x02
	MsgPlMessageAck            = 0x03
	MsgRegisterLoadedObjectsAck = 0x04
	MsgSDLStateUpdateAck       = 0x05
	MsgGameManagerAck          = 0x06
)

// Notification ids a drained age.Mailbox is re-encoded to on the wire
// (§4.F: SDL push, plMessage forward, ownership handoff, member departure).
// Not produced by HandlePacket itself — the listener's write loop calls
// EncodeNotification when age.ChanMailbox.C() yields one of these, the
// same split HandlePacket/notification-drain shape the Auth channel uses
// for Vault fan-out.
const (
	MsgSDLPushNotify         = 0x10
	MsgPlMessageNotify       = 0x11
	MsgOwnershipChangedNotify = 0x12
	MsgMemberLeftNotify      = 0x13
)

// ErrCode is the coded status a failed Game request replies with instead
// of closing the connection (§7).
type ErrCode uint8

const (
	ErrCodeSuccess ErrCode = iota
	ErrCodeAuthFailed
	ErrCodeNotFound
	ErrCodeConflict
	ErrCodeBusy
	ErrCodeInternal
)

func codeFor(kind wireerr.Kind) ErrCode {
	switch kind {
	case wireerr.KindAuth:
		return ErrCodeAuthFailed
	case wireerr.KindNotFound:
		return ErrCodeNotFound
	case wireerr.KindConflict:
		return ErrCodeConflict
	case wireerr.KindBusy:
		return ErrCodeBusy
	default:
		return ErrCodeInternal
	}
}

func writeErrReply(buf *codec.Writer, msgID uint16, code ErrCode) {
	buf.WriteUint16(msgID)
	buf.WriteUint8(uint8(code))
}

func logAndCode(op string, err error) ErrCode {
	kind := wireerr.KindOf(err)
	slog.Warn("game: request failed", "op", op, "kind", kind, "err", err)
	return codeFor(kind)
}

// Handler processes Game channel packets against one Age Instance Manager.
// Stateless itself; per-connection membership lives in Conn.
type Handler struct {
	backend db.Backend
	ages    *age.Manager
}

// NewHandler wires a Game handler to its collaborators.
func NewHandler(backend db.Backend, ages *age.Manager) *Handler {
	return &Handler{backend: backend, ages: ages}
}

// Conn is one Game connection's membership state: at most one joined
// instance at a time, mirroring the teacher's one-character-per-connection
// shape. Mailbox is the handle age.Manager notifies instead of touching
// connection internals (§9).
type Conn struct {
	Mailbox *age.ChanMailbox

	instanceUUID [16]byte
	playerIdx    uint32
	joined       bool
}

// NewConn creates per-connection Game state with id used both as the age
// mailbox id and the connection's log identity.
func NewConn(id uint64) *Conn {
	return &Conn{Mailbox: age.NewChanMailbox(id, 256)}
}

// HandlePacket dispatches one decoded Game message.
func (h *Handler) HandlePacket(ctx context.Context, c *Conn, msgID uint16, r *codec.Reader, buf *codec.Writer) (bool, error) {
	switch msgID {
	case MsgPingRequest:
		return h.handlePing(r, buf)
	case MsgJoinAgeRequest:
		return h.handleJoinAge(ctx, c, r, buf)
	case MsgLeaveAgeRequest:
		return h.handleLeaveAge(ctx, c, buf)
	case MsgPlMessageSend:
		return h.handlePlMessage(ctx, c, r, buf)
	case MsgRegisterLoadedObjects:
		return h.handleRegisterLoadedObjects(ctx, c, r, buf)
	case MsgSDLStateUpdate:
		return h.handleSDLUpdate(ctx, c, r, buf)
	case MsgGameManagerMessage:
		return h.handleGameManagerMessage(ctx, c, r, buf)
	default:
		return false, wireerr.New(wireerr.KindProtocol, "game.HandlePacket", fmt.Errorf("unknown message id 0x%04X", msgID))
	}
}

func (h *Handler) handlePing(r *codec.Reader, buf *codec.Writer) (bool, error) {
	payload, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "game.Ping", err)
	}
	buf.WriteUint16(MsgPingReply)
	buf.WriteUint32(payload)
	return true, nil
}

func writeAgeState(buf *codec.Writer, descriptor, objectKey string, version uint32, blob []byte) {
	buf.WriteString16(descriptor, true)
	buf.WriteString16(objectKey, true)
	buf.WriteUint32(version)
	buf.WriteBlob(blob)
}

// handleJoinAge attaches this connection to the instance the Auth
// channel's age request already resolved, authenticating through
// age.Manager.Join and replying with the current SDL snapshot (§4.F Join:
// "push current SDL snapshot (global + per-object) to the joiner"). The
// Player-node/AgeInfo ownership check named in §4.F was already performed
// by the Vault layer and the Auth channel before handoff; this handler
// passes that verdict through as isAuthorized=true, the same
// already-authorized shape handleAgeRequest uses.
func (h *Handler) handleJoinAge(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	instanceUUID, err := r.ReadUUID()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "game.JoinAge", err)
	}
	playerIdx, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "game.JoinAge", err)
	}

	servers, err := h.backend.ServerList(ctx)
	if err != nil {
		writeErrReply(buf, MsgJoinAgeReply, logAndCode("JoinAge", err))
		return true, nil
	}
	srv, found := findServer(servers, instanceUUID)
	if !found {
		writeErrReply(buf, MsgJoinAgeReply, ErrCodeNotFound)
		return true, nil
	}

	snap, err := h.ages.Join(ctx, srv, playerIdx, c.Mailbox, true)
	if err != nil {
		writeErrReply(buf, MsgJoinAgeReply, logAndCode("JoinAge", err))
		return true, nil
	}
	c.instanceUUID = instanceUUID
	c.playerIdx = playerIdx
	c.joined = true

	buf.WriteUint16(MsgJoinAgeReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	buf.WriteUint32(uint32(len(snap.Global)))
	for _, g := range snap.Global {
		buf.WriteString16(g.Descriptor, true)
		buf.WriteBlob(g.Blob)
	}
	buf.WriteUint32(uint32(len(snap.Age)))
	for _, a := range snap.Age {
		writeAgeState(buf, a.Descriptor, a.ObjectKey, a.Version, a.Blob)
	}
	return true, nil
}

func findServer(servers []model.Server, instanceUUID [16]byte) (model.Server, bool) {
	for _, srv := range servers {
		if srv.InstanceUUID == instanceUUID {
			return srv, true
		}
	}
	return model.Server{}, false
}

// handleLeaveAge drops this connection from its joined instance (§4.F
// Leave). A connection that never joined gets NotFound rather than a
// protocol error — leaving twice is a harmless no-op from the client's
// point of view.
func (h *Handler) handleLeaveAge(ctx context.Context, c *Conn, buf *codec.Writer) (bool, error) {
	if !c.joined {
		writeErrReply(buf, MsgLeaveAgeReply, ErrCodeNotFound)
		return true, nil
	}

	err := h.ages.Leave(ctx, c.instanceUUID, c.playerIdx, nil)
	c.joined = false
	if err != nil {
		writeErrReply(buf, MsgLeaveAgeReply, logAndCode("LeaveAge", err))
		return true, nil
	}

	buf.WriteUint16(MsgLeaveAgeReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	return true, nil
}

// handlePlMessage forwards an opaque plMessage payload to the instance
// (§4.F Propagate plMessage). The server does not parse payload beyond
// the broadcast flag and receiver plKey list it reads here as the routing
// header.
func (h *Handler) handlePlMessage(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	if !c.joined {
		writeErrReply(buf, MsgPlMessageAck, ErrCodeConflict)
		return true, nil
	}

	broadcast, err := r.ReadUint8()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "game.PlMessage", err)
	}
	receiverCount, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "game.PlMessage", err)
	}
	receivers := make([][16]byte, receiverCount)
	for i := range receivers {
		receivers[i], err = r.ReadUUID()
		if err != nil {
			return false, wireerr.New(wireerr.KindProtocol, "game.PlMessage", err)
		}
	}
	payload, err := r.ReadBlob()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "game.PlMessage", err)
	}

	err = h.ages.PropagatePlMessage(ctx, c.instanceUUID, c.playerIdx, broadcast != 0, receivers, payload)
	if err != nil {
		writeErrReply(buf, MsgPlMessageAck, logAndCode("PlMessage", err))
		return true, nil
	}

	buf.WriteUint16(MsgPlMessageAck)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	return true, nil
}

// handleGameManagerMessage is the generic game-manager passthrough (§4.D
// "game manager messages"): opaque payload, same routing discipline as
// plMessage, reusing PropagatePlMessage since the manager draws no
// functional distinction between the two at the instance-membership
// level (§4.F names one propagation rule, not two).
func (h *Handler) handleGameManagerMessage(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	if !c.joined {
		writeErrReply(buf, MsgGameManagerAck, ErrCodeConflict)
		return true, nil
	}

	broadcast, err := r.ReadUint8()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "game.GameManagerMessage", err)
	}
	payload, err := r.ReadBlob()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "game.GameManagerMessage", err)
	}

	err = h.ages.PropagatePlMessage(ctx, c.instanceUUID, c.playerIdx, broadcast != 0, nil, payload)
	if err != nil {
		writeErrReply(buf, MsgGameManagerAck, logAndCode("GameManagerMessage", err))
		return true, nil
	}

	buf.WriteUint16(MsgGameManagerAck)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	return true, nil
}

// handleRegisterLoadedObjects records the plKeys this connection currently
// has loaded, the routing table plMessage targeting consults (§4.F
// Propagate: "forward only to the member whose loaded-object set contains
// that key").
func (h *Handler) handleRegisterLoadedObjects(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	if !c.joined {
		writeErrReply(buf, MsgRegisterLoadedObjectsAck, ErrCodeConflict)
		return true, nil
	}

	count, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "game.RegisterLoadedObjects", err)
	}
	keys := make([][16]byte, count)
	for i := range keys {
		keys[i], err = r.ReadUUID()
		if err != nil {
			return false, wireerr.New(wireerr.KindProtocol, "game.RegisterLoadedObjects", err)
		}
	}

	if err := h.ages.RegisterLoadedObjects(ctx, c.instanceUUID, c.playerIdx, keys); err != nil {
		writeErrReply(buf, MsgRegisterLoadedObjectsAck, logAndCode("RegisterLoadedObjects", err))
		return true, nil
	}

	buf.WriteUint16(MsgRegisterLoadedObjectsAck)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	return true, nil
}

// handleSDLUpdate merges and forwards a per-object SDL blob (§4.F "SDL
// update").
func (h *Handler) handleSDLUpdate(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	if !c.joined {
		writeErrReply(buf, MsgSDLStateUpdateAck, ErrCodeConflict)
		return true, nil
	}

	descriptor, err := r.ReadString16(true, 0)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "game.SDLUpdate", err)
	}
	objectKey, err := r.ReadString16(true, 0)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "game.SDLUpdate", err)
	}
	version, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "game.SDLUpdate", err)
	}
	blob, err := r.ReadBlob()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "game.SDLUpdate", err)
	}

	err = h.ages.UpdateSDL(ctx, c.instanceUUID, c.playerIdx, descriptor, objectKey, version, blob)
	if err != nil {
		writeErrReply(buf, MsgSDLStateUpdateAck, logAndCode("SDLUpdate", err))
		return true, nil
	}

	buf.WriteUint16(MsgSDLStateUpdateAck)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	return true, nil
}

// Cleanup drops c from its joined instance, if any, when the connection
// closes (§5 Cancellation: "leave all age instances"). Safe to call on a
// Conn that never joined.
func (h *Handler) Cleanup(ctx context.Context, c *Conn) {
	if !c.joined {
		return
	}
	if err := h.ages.Leave(ctx, c.instanceUUID, c.playerIdx, nil); err != nil {
		slog.Warn("game: cleanup leave failed", "err", err)
	}
	c.joined = false
}

// EncodeNotification re-encodes a drained age.Notification onto the wire
// (§4.F). Called by the connection's write loop whenever c.Mailbox.C()
// yields a value, outside of HandlePacket's request/reply flow — the same
// split auth.EncodeNotification uses for Vault fan-out.
func EncodeNotification(n age.Notification) []byte {
	buf := codec.NewWriter(64)
	switch n.Kind {
	case age.SDLPush:
		buf.WriteUint16(MsgSDLPushNotify)
		writeAgeState(buf, n.Descriptor, n.ObjectKey, n.Version, n.Blob)
	case age.PlMessage:
		buf.WriteUint16(MsgPlMessageNotify)
		buf.WriteUint32(n.SenderIdx)
		buf.WriteBlob(n.Payload)
	case age.OwnershipChanged:
		buf.WriteUint16(MsgOwnershipChangedNotify)
		buf.WriteUint32(n.PlayerIdx)
	case age.MemberLeft:
		buf.WriteUint16(MsgMemberLeftNotify)
		buf.WriteUint32(n.PlayerIdx)
	}
	return buf.Bytes()
}
