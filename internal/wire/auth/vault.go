package auth

import (
	"context"

	"github.com/moulars/moulars/internal/codec"
	"github.com/moulars/moulars/internal/model"
	"github.com/moulars/moulars/internal/vault"
	"github.com/moulars/moulars/internal/wireerr"
)

// writeNode encodes n the way the client expects a vault node blob: idx,
// type and the field bitmap, then every field slot in declaration order
// whether or not its bit is set, so the client decodes the same shape
// regardless of which fields a template happened to populate.
func writeNode(buf *codec.Writer, n *model.Node) {
	buf.WriteUint32(n.Idx)
	buf.WriteInt32(int32(n.Type))
	buf.WriteUint64(uint64(n.Fields))
	buf.WriteUUID(n.CreatorUUID)
	buf.WriteUint32(n.CreatorIdx)
	for i := 0; i < 4; i++ {
		buf.WriteInt32(n.Int32[i])
	}
	for i := 0; i < 4; i++ {
		buf.WriteUint32(n.UInt32[i])
	}
	for i := 0; i < 4; i++ {
		buf.WriteUUID(n.UUID[i])
	}
	for i := 0; i < 6; i++ {
		buf.WriteString16(n.String[i], true)
	}
	for i := 0; i < 2; i++ {
		buf.WriteString16(n.IString[i], true)
	}
	for i := 0; i < 2; i++ {
		buf.WriteString16(n.Text[i], true)
	}
	for i := 0; i < 2; i++ {
		buf.WriteBlob(n.Blob[i])
	}
}

// readNodeTemplate decodes a client-supplied node template in the shape
// writeNode emits minus the leading idx, used by FetchNode/FindNode/SaveNode/CreateNode
// requests.
func readNodeTemplate(r *codec.Reader) (*model.Node, error) {
	n := &model.Node{}
	typ, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	n.Type = model.NodeType(typ)

	fields, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	n.Fields = model.Field(fields)

	n.CreatorUUID, err = r.ReadUUID()
	if err != nil {
		return nil, err
	}
	n.CreatorIdx, err = r.ReadUint32()
	if err != nil {
		return nil, err
	}
	for i := 0; i < 4; i++ {
		if n.Int32[i], err = r.ReadInt32(); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 4; i++ {
		if n.UInt32[i], err = r.ReadUint32(); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 4; i++ {
		if n.UUID[i], err = r.ReadUUID(); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 6; i++ {
		if n.String[i], err = r.ReadString16(true, 0); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 2; i++ {
		if n.IString[i], err = r.ReadString16(true, 0); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 2; i++ {
		if n.Text[i], err = r.ReadString16(true, 0); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 2; i++ {
		if n.Blob[i], err = r.ReadBlob(); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (h *Handler) handleVaultNodeFetch(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	idx, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.VaultNodeFetch", err)
	}

	n, err := h.vault.FetchNode(ctx, idx, c.Mailbox)
	if err != nil {
		writeErrReply(buf, MsgVaultNodeFetched, logAndCode("VaultNodeFetch", err))
		return true, nil
	}

	buf.WriteUint16(MsgVaultNodeFetched)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	writeNode(buf, n)
	return true, nil
}

func (h *Handler) handleVaultNodeFind(ctx context.Context, r *codec.Reader, buf *codec.Writer) (bool, error) {
	template, err := readNodeTemplate(r)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.VaultNodeFind", err)
	}

	idxs, err := h.vault.FindNode(ctx, template)
	if err != nil {
		writeErrReply(buf, MsgVaultNodeFound, logAndCode("VaultNodeFind", err))
		return true, nil
	}

	buf.WriteUint16(MsgVaultNodeFound)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	buf.WriteUint32(uint32(len(idxs)))
	for _, idx := range idxs {
		buf.WriteUint32(idx)
	}
	return true, nil
}

func (h *Handler) handleVaultNodeCreate(ctx context.Context, r *codec.Reader, buf *codec.Writer) (bool, error) {
	template, err := readNodeTemplate(r)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.VaultNodeCreate", err)
	}

	idx, err := h.vault.CreateNode(ctx, template)
	if err != nil {
		writeErrReply(buf, MsgVaultNodeCreated, logAndCode("VaultNodeCreate", err))
		return true, nil
	}

	buf.WriteUint16(MsgVaultNodeCreated)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	buf.WriteUint32(idx)
	return true, nil
}

func (h *Handler) handleVaultNodeSave(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	idx, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.VaultNodeSave", err)
	}
	changes, err := readNodeTemplate(r)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.VaultNodeSave", err)
	}

	if err := h.vault.SaveNode(ctx, idx, changes, c.Mailbox); err != nil {
		writeErrReply(buf, MsgVaultNodeSaved, logAndCode("VaultNodeSave", err))
		return true, nil
	}

	buf.WriteUint16(MsgVaultNodeSaved)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	return true, nil
}

func (h *Handler) handleVaultAddRef(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	ref, err := readRef(r)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.VaultNodeAddRef", err)
	}

	if err := h.vault.AddRef(ctx, ref, c.Mailbox); err != nil {
		writeErrReply(buf, MsgVaultRefAdded, logAndCode("VaultNodeAddRef", err))
		return true, nil
	}

	buf.WriteUint16(MsgVaultRefAdded)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	return true, nil
}

func (h *Handler) handleVaultRemoveRef(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	parent, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.VaultNodeRemoveRef", err)
	}
	child, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.VaultNodeRemoveRef", err)
	}

	if err := h.vault.RemoveRef(ctx, parent, child, c.Mailbox); err != nil {
		writeErrReply(buf, MsgVaultRefRemoved, logAndCode("VaultNodeRemoveRef", err))
		return true, nil
	}

	buf.WriteUint16(MsgVaultRefRemoved)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	return true, nil
}

func (h *Handler) handleVaultFetchTree(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	root, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.VaultFetchTree", err)
	}
	maxDepth, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.VaultFetchTree", err)
	}

	nodes, refs, err := h.vault.FetchTree(ctx, root, int(maxDepth), c.Mailbox)
	if err != nil {
		writeErrReply(buf, MsgVaultTreeFetched, logAndCode("VaultFetchTree", err))
		return true, nil
	}

	buf.WriteUint16(MsgVaultTreeFetched)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	buf.WriteUint32(uint32(len(nodes)))
	for _, n := range nodes {
		writeNode(buf, n)
	}
	buf.WriteUint32(uint32(len(refs)))
	for _, ref := range refs {
		writeRef(buf, ref)
	}
	return true, nil
}

func (h *Handler) handleVaultSetSeen(ctx context.Context, r *codec.Reader, buf *codec.Writer) (bool, error) {
	parent, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.VaultSetSeen", err)
	}
	child, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.VaultSetSeen", err)
	}
	value, err := r.ReadUint8()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.VaultSetSeen", err)
	}

	if err := h.vault.SetSeen(ctx, parent, child, value != 0); err != nil {
		writeErrReply(buf, MsgVaultSeenSet, logAndCode("VaultSetSeen", err))
		return true, nil
	}

	buf.WriteUint16(MsgVaultSeenSet)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	return true, nil
}

func readRef(r *codec.Reader) (model.NodeRef, error) {
	parent, err := r.ReadUint32()
	if err != nil {
		return model.NodeRef{}, err
	}
	child, err := r.ReadUint32()
	if err != nil {
		return model.NodeRef{}, err
	}
	hasOwner, err := r.ReadUint8()
	if err != nil {
		return model.NodeRef{}, err
	}
	owner, err := r.ReadUint32()
	if err != nil {
		return model.NodeRef{}, err
	}
	return model.NodeRef{Parent: parent, Child: child, Owner: owner, HasOwner: hasOwner != 0}, nil
}

func writeRef(buf *codec.Writer, ref model.NodeRef) {
	buf.WriteUint32(ref.Parent)
	buf.WriteUint32(ref.Child)
	if ref.HasOwner {
		buf.WriteUint8(1)
	} else {
		buf.WriteUint8(0)
	}
	buf.WriteUint32(ref.Owner)
}

// EncodeNotification re-encodes a drained vault.Notification onto the wire
// (§4.E) under the dedicated Notify ids (MsgVaultNodeChangedNotify through
// MsgVaultNodeRefsFetchedNotify, 0x60-0x63), not the direct reply ids.
// Called by the listener's write loop whenever a Conn's Mailbox yields a
// value, outside of HandlePacket's request/reply flow — the same split the
// Game channel's EncodeNotification documents.
func EncodeNotification(n vault.Notification) []byte {
	buf := codec.NewWriter(64)
	switch n.Kind {
	case vault.NodeChanged:
		buf.WriteUint16(MsgVaultNodeChangedNotify)
		buf.WriteUint32(n.Idx)
		if n.Node != nil {
			buf.WriteUint8(1)
			writeNode(buf, n.Node)
		} else {
			buf.WriteUint8(0)
		}
	case vault.NodeAdded:
		buf.WriteUint16(MsgVaultNodeAddedNotify)
		buf.WriteUint32(n.Idx)
		writeRef(buf, n.Ref)
	case vault.NodeRemoved:
		buf.WriteUint16(MsgVaultNodeRemovedNotify)
		buf.WriteUint32(n.Idx)
		writeRef(buf, n.Ref)
	case vault.NodeRefsFetched:
		buf.WriteUint16(MsgVaultNodeRefsFetchedNotify)
		buf.WriteUint32(n.Idx)
		buf.WriteUint32(uint32(len(n.Refs)))
		for _, ref := range n.Refs {
			writeRef(buf, ref)
		}
	}
	return buf.Bytes()
}
