// Package auth implements the Auth channel (§4.D): login, account
// creation, the player list, every Vault operation a client can issue
// directly, score bookkeeping, the patcher's file list, secure data send,
// the public age list, and the age request that hands a client off to the
// Game channel. Grounded on the teacher's `login/handler.go`
// (`Handler.HandlePacket` opcode switch operating on a per-connection
// `*Client`, `closeFail` early-return shape) generalized from a single
// fixed login protocol to the richer Auth channel message set.
package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/moulars/moulars/internal/age"
	"github.com/moulars/moulars/internal/codec"
	"github.com/moulars/moulars/internal/config"
	"github.com/moulars/moulars/internal/db"
	"github.com/moulars/moulars/internal/session"
	"github.com/moulars/moulars/internal/vault"
	"github.com/moulars/moulars/internal/wireerr"
)

// Client message ids (§4.D "Auth (10)").
const (
	MsgPingRequest            = 0x00
	MsgAccountLoginRequest    = 0x01
	MsgAccountCreateRequest   = 0x02
	MsgPlayerListRequest      = 0x03
	MsgPlayerCreateRequest    = 0x04
	MsgPlayerDeleteRequest    = 0x05
	MsgVaultNodeFetch         = 0x10
	MsgVaultNodeFind          = 0x11
	MsgVaultNodeSave          = 0x12
	MsgVaultNodeCreate        = 0x13
	MsgVaultNodeAddRef        = 0x14
	MsgVaultNodeRemoveRef     = 0x15
	MsgVaultFetchTree         = 0x16
	MsgVaultSetSeen           = 0x17
	MsgFileListRequest        = 0x20
	MsgScoreGetRequest        = 0x30
	MsgScoreAddRequest        = 0x31
	MsgScoreSetRequest        = 0x32
	MsgSecureDataSend         = 0x40
	MsgPublicAgeListRequest   = 0x50
	MsgAgeRequest             = 0x51
)

// Server reply ids, mirroring each request id 1:1.
const (
	MsgPingReply              = 0x00
	MsgAccountLoginReply      = 0x01
	MsgAccountCreateReply     = 0x02
	MsgPlayerListReply        = 0x03
	MsgPlayerCreateReply      = 0x04
	MsgPlayerDeleteReply      = 0x05
	MsgVaultNodeFetched       = 0x10
	MsgVaultNodeFound         = 0x11
	MsgVaultNodeSaved         = 0x12
	MsgVaultNodeCreated       = 0x13
	MsgVaultRefAdded          = 0x14
	MsgVaultRefRemoved        = 0x15
	MsgVaultTreeFetched       = 0x16
	MsgVaultSeenSet           = 0x17
	MsgFileListReply          = 0x20
	MsgScoreReply             = 0x30
	MsgSecureDataReply        = 0x40
	MsgPublicAgeListReply     = 0x50
	MsgAgeReply               = 0x51
	// Vault notifications relayed from the Vault subscriber fan-out
	// (§4.E) reuse the Notify ids so a client's state-machine treats them
	// uniformly with a direct reply.
	MsgVaultNodeChangedNotify     = 0x60
	MsgVaultNodeAddedNotify       = 0x61
	MsgVaultNodeRemovedNotify     = 0x62
	MsgVaultNodeRefsFetchedNotify = 0x63
)

// ErrCode is the coded status a failed Auth request replies with instead
// of closing the connection (§7: Auth/NotFound/Conflict/Busy are
// non-fatal).
type ErrCode uint8

const (
	ErrCodeSuccess ErrCode = iota
	ErrCodeAuthFailed
	ErrCodeNotFound
	ErrCodeConflict
	ErrCodeBusy
	ErrCodeInternal
)

// codeFor maps a wireerr.Kind to the coded reply status (§7).
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

// ManifestLister answers the patcher's file list request (§4.D "file list
// for patcher") with the manifest category names the file engine can
// build download manifests for. Declared here, not imported from
// internal/manifest, so auth has no compile-time dependency on the file
// engine; a nil ManifestLister just means the patcher sees an empty list.
type ManifestLister interface {
	ManifestNames() []string
}

// Handler processes Auth channel packets. One Handler is shared by every
// Auth connection; per-connection state lives in Conn.
type Handler struct {
	backend  db.Backend
	vault    *vault.Store
	ages     *age.Manager
	sessions *session.Manager
	manifest ManifestLister
	cfg      config.Config
}

// NewHandler wires an Auth handler to its collaborators. manifest may be
// nil if the server runs without a file engine.
func NewHandler(backend db.Backend, v *vault.Store, ages *age.Manager, sessions *session.Manager, manifest ManifestLister, cfg config.Config) *Handler {
	return &Handler{backend: backend, vault: v, ages: ages, sessions: sessions, manifest: manifest, cfg: cfg}
}

// Conn is one Auth connection's login/session state, analogous to the
// teacher's `login.Client`.
type Conn struct {
	Mailbox *vault.ChanMailbox

	accountID [16]byte
	loggedIn  bool
	challenge []byte
}

// NewConn creates per-connection Auth state with id used both as the
// vault mailbox id and the connection's log identity.
func NewConn(id uint64) *Conn {
	return &Conn{Mailbox: vault.NewChanMailbox(id, 256)}
}

// HandlePacket dispatches one decoded Auth message, pulling fields
// directly off r (stream mode in production, slice mode in tests — see
// codec.Reader). ok=false closes the connection after the reply (or
// immediately, for a fatal protocol error with no reply written).
func (h *Handler) HandlePacket(ctx context.Context, c *Conn, msgID uint16, r *codec.Reader, buf *codec.Writer) (bool, error) {
	switch msgID {
	case MsgPingRequest:
		return h.handlePing(r, buf)
	case MsgAccountLoginRequest:
		return h.handleAccountLogin(ctx, c, r, buf)
	case MsgAccountCreateRequest:
		return h.handleAccountCreate(ctx, r, buf)
	case MsgPlayerListRequest:
		return h.handlePlayerList(ctx, c, buf)
	case MsgPlayerCreateRequest:
		return h.handlePlayerCreate(ctx, c, r, buf)
	case MsgPlayerDeleteRequest:
		return h.handlePlayerDelete(ctx, c, r, buf)
	case MsgVaultNodeFetch:
		return h.handleVaultNodeFetch(ctx, c, r, buf)
	case MsgVaultNodeFind:
		return h.handleVaultNodeFind(ctx, r, buf)
	case MsgVaultNodeSave:
		return h.handleVaultNodeSave(ctx, c, r, buf)
	case MsgVaultNodeCreate:
		return h.handleVaultNodeCreate(ctx, r, buf)
	case MsgVaultNodeAddRef:
		return h.handleVaultAddRef(ctx, c, r, buf)
	case MsgVaultNodeRemoveRef:
		return h.handleVaultRemoveRef(ctx, c, r, buf)
	case MsgVaultFetchTree:
		return h.handleVaultFetchTree(ctx, c, r, buf)
	case MsgVaultSetSeen:
		return h.handleVaultSetSeen(ctx, r, buf)
	case MsgFileListRequest:
		return h.handleFileListRequest(buf)
	case MsgScoreGetRequest:
		return h.handleScoreGet(ctx, r, buf)
	case MsgScoreAddRequest:
		return h.handleScoreAdd(ctx, r, buf)
	case MsgScoreSetRequest:
		return h.handleScoreSet(ctx, r, buf)
	case MsgSecureDataSend:
		return h.handleSecureDataSend(r, buf)
	case MsgPublicAgeListRequest:
		return h.handlePublicAgeList(ctx, buf)
	case MsgAgeRequest:
		return h.handleAgeRequest(ctx, c, r, buf)
	default:
		return false, wireerr.New(wireerr.KindProtocol, "auth.HandlePacket", fmt.Errorf("unknown message id 0x%04X", msgID))
	}
}

func (h *Handler) handlePing(r *codec.Reader, buf *codec.Writer) (bool, error) {
	payload, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.Ping", err)
	}
	buf.WriteUint16(MsgPingReply)
	buf.WriteUint32(payload)
	return true, nil
}

func writeErrReply(buf *codec.Writer, msgID uint16, code ErrCode) {
	buf.WriteUint16(msgID)
	buf.WriteUint8(uint8(code))
}

func logAndCode(op string, err error) ErrCode {
	kind := wireerr.KindOf(err)
	slog.Warn("auth: request failed", "op", op, "kind", kind, "err", err)
	return codeFor(kind)
}
