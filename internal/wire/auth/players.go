package auth

import (
	"context"

	"github.com/moulars/moulars/internal/codec"
	"github.com/moulars/moulars/internal/model"
	"github.com/moulars/moulars/internal/wireerr"
)

// handlePlayerList answers with every Player-type vault node idx owned by
// the logged-in account (§4.D "player list").
func (h *Handler) handlePlayerList(ctx context.Context, c *Conn, buf *codec.Writer) (bool, error) {
	if !c.loggedIn {
		writeErrReply(buf, MsgPlayerListReply, ErrCodeAuthFailed)
		return true, nil
	}

	idxs, err := h.backend.PlayerNodesFor(ctx, c.accountID)
	if err != nil {
		writeErrReply(buf, MsgPlayerListReply, logAndCode("PlayerList", err))
		return true, nil
	}

	buf.WriteUint16(MsgPlayerListReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	buf.WriteUint32(uint32(len(idxs)))
	for _, idx := range idxs {
		buf.WriteUint32(idx)
	}
	return true, nil
}

// accountPlayerListIdx returns the idx of the account's PlayerInfoList
// node, creating it on first use. Every Player node an account owns hangs
// off this node, so PlayerDelete has a parent to unlink from without a
// reverse-ref lookup the DB backend doesn't expose (§6.4 names `refs_of`
// as child-edges-of-idx only).
func (h *Handler) accountPlayerListIdx(ctx context.Context, accountID [16]byte) (uint32, error) {
	// NodeFind's template only constrains Fields-marked generic slots, not
	// CreatorUUID, so a Type-only FindNode over-matches across accounts;
	// filter by CreatorUUID ourselves.
	template := model.NewNode(model.NodeTypePlayerInfoList)
	candidates, err := h.vault.FindNode(ctx, template)
	if err != nil {
		return 0, err
	}
	for _, idx := range candidates {
		n, err := h.backend.NodeFetch(ctx, idx)
		if err == nil && n.CreatorUUID == accountID {
			return idx, nil
		}
	}

	template.CreatorUUID = accountID
	return h.vault.CreateNode(ctx, template)
}

// handlePlayerCreate creates a new Player vault node owned by the account
// and links it under the account's PlayerInfoList (§4.D "player ... create").
func (h *Handler) handlePlayerCreate(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	name, err := r.ReadString16(true, 0)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.PlayerCreate", err)
	}
	if !c.loggedIn {
		writeErrReply(buf, MsgPlayerCreateReply, ErrCodeAuthFailed)
		return true, nil
	}

	template := model.NewNode(model.NodeTypePlayer)
	template.SetIString(0, name)
	template.CreatorUUID = c.accountID

	idx, err := h.vault.CreateNode(ctx, template)
	if err != nil {
		writeErrReply(buf, MsgPlayerCreateReply, logAndCode("PlayerCreate", err))
		return true, nil
	}

	listIdx, err := h.accountPlayerListIdx(ctx, c.accountID)
	if err != nil {
		writeErrReply(buf, MsgPlayerCreateReply, logAndCode("PlayerCreate", err))
		return true, nil
	}
	if err := h.vault.AddRef(ctx, model.NodeRef{Parent: listIdx, Child: idx}, c.Mailbox); err != nil {
		writeErrReply(buf, MsgPlayerCreateReply, logAndCode("PlayerCreate", err))
		return true, nil
	}

	buf.WriteUint16(MsgPlayerCreateReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	buf.WriteUint32(idx)
	return true, nil
}

// handlePlayerDelete unlinks a Player node from the account's player list.
// The node itself is retained (Vault node idx is never reused, §3.2
// Invariant iii) — only the ownership edge is removed.
func (h *Handler) handlePlayerDelete(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	playerIdx, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.PlayerDelete", err)
	}
	if !c.loggedIn {
		writeErrReply(buf, MsgPlayerDeleteReply, ErrCodeAuthFailed)
		return true, nil
	}

	owned, err := h.backend.PlayerNodesFor(ctx, c.accountID)
	if err != nil {
		writeErrReply(buf, MsgPlayerDeleteReply, logAndCode("PlayerDelete", err))
		return true, nil
	}
	var owns bool
	for _, idx := range owned {
		if idx == playerIdx {
			owns = true
			break
		}
	}
	if !owns {
		writeErrReply(buf, MsgPlayerDeleteReply, ErrCodeAuthFailed)
		return true, nil
	}

	listIdx, err := h.accountPlayerListIdx(ctx, c.accountID)
	if err != nil {
		writeErrReply(buf, MsgPlayerDeleteReply, logAndCode("PlayerDelete", err))
		return true, nil
	}
	if err := h.vault.RemoveRef(ctx, listIdx, playerIdx, c.Mailbox); err != nil && wireerr.KindOf(err) != wireerr.KindNotFound {
		writeErrReply(buf, MsgPlayerDeleteReply, logAndCode("PlayerDelete", err))
		return true, nil
	}

	buf.WriteUint16(MsgPlayerDeleteReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	return true, nil
}
