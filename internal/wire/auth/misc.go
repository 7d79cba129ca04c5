package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/moulars/moulars/internal/codec"
	"github.com/moulars/moulars/internal/model"
	"github.com/moulars/moulars/internal/wireerr"
)

// handleFileListRequest answers the patcher with the manifest category
// names the file engine can build download manifests for (§4.D "file list
// for patcher"). A server running without a file engine (h.manifest nil)
// answers with an empty list rather than closing the connection.
func (h *Handler) handleFileListRequest(buf *codec.Writer) (bool, error) {
	var names []string
	if h.manifest != nil {
		names = h.manifest.ManifestNames()
	}

	buf.WriteUint16(MsgFileListReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	buf.WriteUint32(uint32(len(names)))
	for _, name := range names {
		buf.WriteString16(name, true)
	}
	return true, nil
}

func writeScore(buf *codec.Writer, s *model.Score) {
	buf.WriteUint32(s.ID)
	buf.WriteUint32(s.OwnerIdx)
	buf.WriteInt32(int32(s.Type))
	buf.WriteString16(s.Name, true)
	buf.WriteInt32(s.Points)
}

// handleScoreGet answers with the current value of one owner/type score
// (§3.1 Score, §6.4 score_get).
func (h *Handler) handleScoreGet(ctx context.Context, r *codec.Reader, buf *codec.Writer) (bool, error) {
	ownerIdx, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.ScoreGet", err)
	}
	typ, err := r.ReadInt32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.ScoreGet", err)
	}

	score, err := h.backend.ScoreGet(ctx, ownerIdx, model.ScoreType(typ))
	if err != nil {
		writeErrReply(buf, MsgScoreReply, logAndCode("ScoreGet", err))
		return true, nil
	}

	buf.WriteUint16(MsgScoreReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	writeScore(buf, score)
	return true, nil
}

// handleScoreAdd applies an atomic +/- delta to a named score, creating it
// on first use (§3.1 "Mutations are atomic add/set").
func (h *Handler) handleScoreAdd(ctx context.Context, r *codec.Reader, buf *codec.Writer) (bool, error) {
	ownerIdx, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.ScoreAdd", err)
	}
	typ, err := r.ReadInt32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.ScoreAdd", err)
	}
	name, err := r.ReadString16(true, 0)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.ScoreAdd", err)
	}
	delta, err := r.ReadInt32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.ScoreAdd", err)
	}

	score, err := h.backend.ScoreAdd(ctx, ownerIdx, model.ScoreType(typ), name, delta)
	if err != nil {
		writeErrReply(buf, MsgScoreReply, logAndCode("ScoreAdd", err))
		return true, nil
	}

	buf.WriteUint16(MsgScoreReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	writeScore(buf, score)
	return true, nil
}

// handleScoreSet overwrites a named score's point value (§3.1, §6.4
// score_set).
func (h *Handler) handleScoreSet(ctx context.Context, r *codec.Reader, buf *codec.Writer) (bool, error) {
	ownerIdx, err := r.ReadUint32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.ScoreSet", err)
	}
	typ, err := r.ReadInt32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.ScoreSet", err)
	}
	name, err := r.ReadString16(true, 0)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.ScoreSet", err)
	}
	points, err := r.ReadInt32()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.ScoreSet", err)
	}

	score, err := h.backend.ScoreSet(ctx, ownerIdx, model.ScoreType(typ), name, points)
	if err != nil {
		writeErrReply(buf, MsgScoreReply, logAndCode("ScoreSet", err))
		return true, nil
	}

	buf.WriteUint16(MsgScoreReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	writeScore(buf, score)
	return true, nil
}

// handleSecureDataSend accepts the patcher's encrypted .pak envelope.
// The transport already RC4'd the body in transit; this handler treats the
// payload as opaque bytes and only acknowledges receipt — the exact inner
// .pak record layout has no wire capture to ground it against (see
// DESIGN.md's Open Questions resolved).
func (h *Handler) handleSecureDataSend(r *codec.Reader, buf *codec.Writer) (bool, error) {
	_, err := r.ReadBlob()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.SecureDataSend", err)
	}

	buf.WriteUint16(MsgSecureDataReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	return true, nil
}

// handlePublicAgeList answers with every persistent (non-Temporary) Age
// instance currently known to the server (§4.D "public age list").
func (h *Handler) handlePublicAgeList(ctx context.Context, buf *codec.Writer) (bool, error) {
	servers, err := h.backend.ServerList(ctx)
	if err != nil {
		writeErrReply(buf, MsgPublicAgeListReply, logAndCode("PublicAgeList", err))
		return true, nil
	}

	var public []model.Server
	for _, srv := range servers {
		if !srv.Temporary {
			public = append(public, srv)
		}
	}

	buf.WriteUint16(MsgPublicAgeListReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	buf.WriteUint32(uint32(len(public)))
	for _, srv := range public {
		buf.WriteUUID(srv.InstanceUUID)
		buf.WriteString16(srv.AgeFilename, true)
		buf.WriteString16(srv.DisplayName, true)
	}
	return true, nil
}

// findServerByInstance returns the existing Server record for
// instanceUUID, if one has already been created.
func findServerByInstance(servers []model.Server, instanceUUID [16]byte) (model.Server, bool) {
	for _, srv := range servers {
		if srv.InstanceUUID == instanceUUID {
			return srv, true
		}
	}
	return model.Server{}, false
}

// gameHandoffTarget picks the Game channel host/port a joining client is
// handed off to. Instances are not sharded across game servers in this
// deployment shape (§6.5: one listener multiplexes every channel), so
// absent an explicit [[game_servers]] table the server's own advertised
// Game address is the only target; a configured table lets an instance
// stick deterministically to the same entry by instance uuid.
func gameHandoffTarget(h *Handler, instanceUUID [16]byte) (host string, port int) {
	if len(h.cfg.GameServers) == 0 {
		return h.cfg.Server.GameServerIP, h.cfg.Server.ListenPort
	}
	var sum byte
	for _, b := range instanceUUID {
		sum += b
	}
	entry := h.cfg.GameServers[int(sum)%len(h.cfg.GameServers)]
	return entry.Host, entry.Port
}

// handleAgeRequest resolves the Age instance a client wants to enter,
// creating its Vault-side SDL root and server row on first request, and
// hands the client off to a Game channel target (§4.D "age request (→ hand
// off to Game channel host/port for the chosen instance)"). The Age
// Instance Manager's membership Join happens on the Game connection
// itself (§4.F Join needs a live mailbox to notify, and the Auth
// connection is not the one that stays open for the session) — this
// handler only guarantees the server row the Game channel's join will
// look up by instanceUUID exists.
func (h *Handler) handleAgeRequest(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	ageFilename, err := r.ReadString16(true, 0)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.AgeRequest", err)
	}
	instanceUUID, err := r.ReadUUID()
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.AgeRequest", err)
	}
	// playerIdx travels with the request to match the wire layout but the
	// actual membership join happens on the Game connection, which reads
	// its own copy.
	if _, err := r.ReadUint32(); err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.AgeRequest", err)
	}

	servers, err := h.backend.ServerList(ctx)
	if err != nil {
		writeErrReply(buf, MsgAgeReply, logAndCode("AgeRequest", err))
		return true, nil
	}

	var zero [16]byte
	srv, found := findServerByInstance(servers, instanceUUID)
	if !found {
		if instanceUUID == zero {
			id, err := uuid.NewRandom()
			if err != nil {
				writeErrReply(buf, MsgAgeReply, logAndCode("AgeRequest", err))
				return true, nil
			}
			instanceUUID = [16]byte(id)
		}
		rootSDLIdx, err := h.vault.CreateNode(ctx, model.NewNode(model.NodeTypeSDL))
		if err != nil {
			writeErrReply(buf, MsgAgeReply, logAndCode("AgeRequest", err))
			return true, nil
		}
		srv = model.Server{
			InstanceUUID: instanceUUID,
			AgeFilename:  ageFilename,
			DisplayName:  ageFilename,
			RootSDLIdx:   rootSDLIdx,
			Temporary:    true,
		}
		if err := h.backend.ServerUpsert(ctx, srv); err != nil {
			writeErrReply(buf, MsgAgeReply, logAndCode("AgeRequest", err))
			return true, nil
		}
	}

	host, port := gameHandoffTarget(h, srv.InstanceUUID)

	buf.WriteUint16(MsgAgeReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	buf.WriteUUID(srv.InstanceUUID)
	buf.WriteUint32(srv.RootSDLIdx)
	buf.WriteString16(host, true)
	buf.WriteUint32(uint32(port))
	return true, nil
}
