// Package age implements the Age Instance Manager (§4.F): lifecycle of
// world instances, SDL blob merge, membership, in-instance plMessage
// routing, and game-master ownership handoff. Structurally grounded on the
// teacher's instance manager (`internal/game/instance/manager.go`,
// `instance.go`, `template.go`) — same single-goroutine-owned
// map-of-instances shape the Vault uses (§5 "no shared locks on domain
// state"), with dungeon-instance semantics (cooldowns, level gates,
// player/template matching) replaced by Age-instance semantics (SDL merge,
// membership, ownership handoff).
package age

import "log/slog"

// NotificationKind tags the events an Age instance delivers to a member's
// mailbox.
type NotificationKind int

const (
	// SDLPush carries a snapshot or incremental SDL update for the member
	// to apply (§4.F Join: "push current SDL snapshot... to the joiner";
	// SDL update: merged blobs propagate to the rest of the instance).
	SDLPush NotificationKind = iota
	// PlMessage carries a forwarded plMessage payload (§4.F Propagate).
	PlMessage
	// OwnershipChanged reports a new game-master (§4.F Ownership handoff).
	OwnershipChanged
	// MemberLeft reports another member's departure.
	MemberLeft
)

func (k NotificationKind) String() string {
	switch k {
	case SDLPush:
		return "SDLPush"
	case PlMessage:
		return "PlMessage"
	case OwnershipChanged:
		return "OwnershipChanged"
	case MemberLeft:
		return "MemberLeft"
	default:
		return "Unknown"
	}
}

// Notification is one fan-out event delivered to a member's mailbox.
type Notification struct {
	Kind NotificationKind

	// SDLPush
	Descriptor string
	ObjectKey  string
	Version    uint32
	Blob       []byte

	// PlMessage
	SenderIdx uint32
	Payload   []byte

	// OwnershipChanged / MemberLeft
	PlayerIdx uint32
}

// Mailbox is the per-connection outbound handle the instance manager holds
// instead of connection internals, mirroring vault.Mailbox (§9: the Vault
// "holds only mailbox handles, never connection internals" — the same
// discipline applies here).
type Mailbox interface {
	Notify(n Notification)
	ID() uint64
}

// ChanMailbox is a Mailbox backed by a buffered Go channel.
type ChanMailbox struct {
	id uint64
	ch chan Notification
}

// NewChanMailbox creates a mailbox with the given id and outbound capacity.
func NewChanMailbox(id uint64, capacity int) *ChanMailbox {
	return &ChanMailbox{id: id, ch: make(chan Notification, capacity)}
}

func (m *ChanMailbox) ID() uint64 { return m.id }

// Notify is best-effort and non-blocking, the same "never stall the actor
// for one slow connection" discipline as vault.ChanMailbox.Notify.
func (m *ChanMailbox) Notify(n Notification) {
	select {
	case m.ch <- n:
	default:
		slog.Warn("age: dropping notification, mailbox full", "mailbox", m.id, "kind", n.Kind)
	}
}

// C returns the channel the connection's write goroutine drains.
func (m *ChanMailbox) C() <-chan Notification { return m.ch }
