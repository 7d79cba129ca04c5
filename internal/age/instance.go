package age

import (
	"time"

	"github.com/moulars/moulars/internal/model"
)

// member is one joined connection, tracked in arrival order for ownership
// handoff (§4.F "the next-joined member by arrival order inherits").
type member struct {
	playerIdx uint32
	mailbox   Mailbox
	joined    time.Time
	// loadedObjects is the member's loaded-object set, addressed plKeys are
	// routed only to members whose set contains the target key (§4.F
	// Propagate plMessage).
	loadedObjects map[[16]byte]struct{}
}

// sdlKey identifies one per-object SDL entry within an instance (§3.4).
type sdlKey struct {
	descriptor string
	objectKey  string
}

// instance is one live Age world instance (§4.F). Owned exclusively by the
// Manager actor goroutine — no field is touched from any other goroutine.
type instance struct {
	model.Server

	// members is ordered by join time; members[0] is the game-master
	// (§4.F Ownership handoff).
	members []*member

	dirty map[sdlKey]model.AgeState // staged SDL, flushed to backend on the manager's tick or on any Leave

	emptyTimer *time.Timer // grace-period destroy timer, armed when membership hits zero
}

func newInstance(srv model.Server) *instance {
	return &instance{
		Server: srv,
		dirty:  make(map[sdlKey]model.AgeState),
	}
}

func (i *instance) memberIndex(playerIdx uint32) int {
	for idx, m := range i.members {
		if m.playerIdx == playerIdx {
			return idx
		}
	}
	return -1
}

func (i *instance) isMember(playerIdx uint32) bool {
	return i.memberIndex(playerIdx) >= 0
}

func (i *instance) gameMaster() uint32 {
	if len(i.members) == 0 {
		return 0
	}
	return i.members[0].playerIdx
}

func (i *instance) otherMembers(exclude uint32) []*member {
	out := make([]*member, 0, len(i.members))
	for _, m := range i.members {
		if m.playerIdx != exclude {
			out = append(out, m)
		}
	}
	return out
}
