// Package session tracks the handoff token minted by a successful Auth
// channel login and consumed by the Game channel when a client's age
// request completes (§4.D: "age request (→ hand off to Game channel
// host/port for the chosen instance)"). Grounded on the teacher's
// `login.SessionManager` (`sync.Map`-backed store/validate/remove,
// account name as key), generalized from a cross-process login/game-server
// relay to an in-process auth/game channel handoff.
package session

import (
	"sync"
	"time"
)

// Key is the random token pair a client must echo back on the Game
// channel to prove it came through a successful Auth login, mirroring the
// teacher's `SessionKey`'s two-ID-pair shape.
type Key struct {
	ID1 int64
	ID2 int64
}

// info is the stored record for one account's most recent login.
type info struct {
	key        Key
	accountID  [16]byte
	playerIdx  uint32
	createdAt  time.Time
}

// Manager stores one active handoff token per account, thread-safe via
// sync.Map the way the teacher's SessionManager is.
type Manager struct {
	sessions sync.Map // map[[16]byte]*info
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{}
}

// Store records key as the current handoff token for accountID/playerIdx.
func (m *Manager) Store(accountID [16]byte, playerIdx uint32, key Key) {
	m.sessions.Store(accountID, &info{key: key, accountID: accountID, playerIdx: playerIdx, createdAt: time.Now()})
}

// Validate reports whether key matches the stored token for accountID and,
// if so, the player idx that logged in.
func (m *Manager) Validate(accountID [16]byte, key Key) (uint32, bool) {
	v, ok := m.sessions.Load(accountID)
	if !ok {
		return 0, false
	}
	rec := v.(*info)
	if rec.key != key {
		return 0, false
	}
	return rec.playerIdx, true
}

// Remove drops the stored token for accountID.
func (m *Manager) Remove(accountID [16]byte) {
	m.sessions.Delete(accountID)
}

// CleanExpired drops every session older than ttl.
func (m *Manager) CleanExpired(ttl time.Duration) {
	now := time.Now()
	m.sessions.Range(func(key, value any) bool {
		rec := value.(*info)
		if now.Sub(rec.createdAt) > ttl {
			m.sessions.Delete(key)
		}
		return true
	})
}
