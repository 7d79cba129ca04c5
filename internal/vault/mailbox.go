// Package vault implements the typed-node Vault store (§3.2-§3.3, §4.E): a
// single actor goroutine owning the node/ref graph and subscriber table, no
// mutex on domain state (§5, §9 "Subscription fan-out is message-passing"),
// communicating with callers over request/reply channels the way the
// teacher's login.Server hands work to its SessionManager, generalized
// from a mutex-guarded map (internal/game/instance/manager.go) to a single
// owning goroutine per spec.md §5's explicit instruction.
package vault

import (
	"log/slog"

	"github.com/moulars/moulars/internal/model"
)

// NotificationKind tags the four fan-out message types of §4.E.
type NotificationKind int

const (
	NodeChanged NotificationKind = iota
	NodeAdded
	NodeRemoved
	NodeRefsFetched
)

func (k NotificationKind) String() string {
	switch k {
	case NodeChanged:
		return "NodeChanged"
	case NodeAdded:
		return "NodeAdded"
	case NodeRemoved:
		return "NodeRemoved"
	case NodeRefsFetched:
		return "NodeRefsFetched"
	default:
		return "Unknown"
	}
}

// Notification is one fan-out event delivered to a subscriber's mailbox.
type Notification struct {
	Kind NotificationKind
	Idx  uint32
	Node *model.Node
	Ref  model.NodeRef
	Refs []model.NodeRef
}

// Mailbox is the per-connection outbound handle the Vault holds instead of
// any connection internals (§9): "Vault holds only mailbox handles, never
// connection internals."
type Mailbox interface {
	// Notify delivers n. Implementations must not block the Vault actor;
	// the wire layer's mailbox is a buffered channel drained by the
	// connection's own write goroutine.
	Notify(n Notification)

	// ID distinguishes mailboxes for subscriber-set membership and
	// "except the originator" exclusion (§4.E).
	ID() uint64
}

// ChanMailbox is a Mailbox backed by a buffered Go channel, the shape every
// wire-layer connection uses for its outbound queue (§5: "bounded outbound
// queue, default 256 messages/conn").
type ChanMailbox struct {
	id uint64
	ch chan Notification
}

// NewChanMailbox creates a mailbox with the given id and outbound capacity.
func NewChanMailbox(id uint64, capacity int) *ChanMailbox {
	return &ChanMailbox{id: id, ch: make(chan Notification, capacity)}
}

func (m *ChanMailbox) ID() uint64 { return m.id }

// Notify is best-effort and non-blocking (§4.E: "Delivery is best-effort in
// order per subscriber"): a full mailbox drops the notification rather
// than stalling the Vault actor for one slow connection.
func (m *ChanMailbox) Notify(n Notification) {
	select {
	case m.ch <- n:
	default:
		slog.Warn("vault: dropping notification, mailbox full", "mailbox", m.id, "kind", n.Kind)
	}
}

// C returns the channel the connection's write goroutine drains.
func (m *ChanMailbox) C() <-chan Notification { return m.ch }
