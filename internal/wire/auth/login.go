package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/moulars/moulars/internal/codec"
	"github.com/moulars/moulars/internal/crypto"
	"github.com/moulars/moulars/internal/db"
	"github.com/moulars/moulars/internal/model"
	"github.com/moulars/moulars/internal/session"
	"github.com/moulars/moulars/internal/wireerr"
)

// handleAccountLogin verifies the §6.3 challenge/response and, on success,
// mints a handoff token the Game channel can later validate (mirrors the
// teacher's `handleRequestAuthLogin`: normalize, hash, compare, remember).
func (h *Handler) handleAccountLogin(ctx context.Context, c *Conn, r *codec.Reader, buf *codec.Writer) (bool, error) {
	name, err := r.ReadString16(true, 0)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.AccountLogin", err)
	}
	clientNonce, err := r.ReadBytes(sha1.Size)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.AccountLogin", err)
	}
	clientHash, err := r.ReadBytes(sha1.Size)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.AccountLogin", err)
	}

	name = crypto.NormalizeAccountName(name)
	if c.challenge == nil {
		c.challenge = newChallenge()
	}

	acc, err := h.backend.AccountLookup(ctx, name)
	if err != nil && err != db.ErrNotFound {
		writeErrReply(buf, MsgAccountLoginReply, logAndCode("AccountLogin", err))
		return true, nil
	}
	if acc == nil {
		if !h.cfg.AutoCreateAccounts {
			writeErrReply(buf, MsgAccountLoginReply, ErrCodeAuthFailed)
			return true, nil
		}
		writeErrReply(buf, MsgAccountLoginReply, ErrCodeNotFound)
		return true, nil
	}

	if acc.Flags.Has(model.AccountFlagBanned) {
		slog.Warn("auth: login for banned account", "account", name)
		writeErrReply(buf, MsgAccountLoginReply, ErrCodeAuthFailed)
		return true, nil
	}

	// The stored hash is itself a §6.3 seed; mix it with this
	// connection's challenge and the client's nonce and compare.
	var seed [sha1.Size]byte
	copy(seed[:], acc.PasswordHash)
	expected := crypto.LoginHash(seed, c.challenge, clientNonce)

	if subtle.ConstantTimeCompare(expected[:], clientHash) != 1 {
		slog.Warn("auth: wrong password", "account", name)
		writeErrReply(buf, MsgAccountLoginReply, ErrCodeAuthFailed)
		return true, nil
	}

	c.accountID = acc.ID
	c.loggedIn = true

	key := session.Key{ID1: randInt64(), ID2: randInt64()}
	h.sessions.Store(acc.ID, 0, key)

	buf.WriteUint16(MsgAccountLoginReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	buf.WriteUUID(acc.ID)
	buf.WriteUint32(uint32(acc.Flags))
	buf.WriteUint64(uint64(key.ID1))
	buf.WriteUint64(uint64(key.ID2))
	slog.Info("auth: login ok", "account", name)
	return true, nil
}

// handleAccountCreate provisions a new account when auto-create is
// disabled and an operator-issued creation flow is used instead.
func (h *Handler) handleAccountCreate(ctx context.Context, r *codec.Reader, buf *codec.Writer) (bool, error) {
	name, err := r.ReadString16(true, 0)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.AccountCreate", err)
	}
	password, err := r.ReadString16(true, 0)
	if err != nil {
		return false, wireerr.New(wireerr.KindProtocol, "auth.AccountCreate", err)
	}

	name = crypto.NormalizeAccountName(name)
	seed := crypto.LoginSeed(name, password)

	id, err := uuid.NewRandom()
	if err != nil {
		return false, wireerr.New(wireerr.KindIO, "auth.AccountCreate", err)
	}

	acc := &model.Account{
		ID:           [16]byte(id),
		Name:         name,
		PasswordHash: seed[:],
		Billing:      model.BillingFree,
		CreateTime:   time.Now(),
	}

	if err := h.backend.AccountCreate(ctx, acc); err != nil {
		writeErrReply(buf, MsgAccountCreateReply, logAndCode("AccountCreate", err))
		return true, nil
	}

	buf.WriteUint16(MsgAccountCreateReply)
	buf.WriteUint8(uint8(ErrCodeSuccess))
	buf.WriteUUID(acc.ID)
	slog.Info("auth: account created", "account", name)
	return true, nil
}

func newChallenge() []byte {
	b := make([]byte, sha1.Size)
	_, _ = rand.Read(b)
	return b
}

func randInt64() int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return int64(b[0]) | int64(b[1])<<8 | int64(b[2])<<16 | int64(b[3])<<24 |
		int64(b[4])<<32 | int64(b[5])<<40 | int64(b[6])<<48 | int64(b[7])<<56
}
