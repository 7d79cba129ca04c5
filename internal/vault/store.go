package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/moulars/moulars/internal/db"
	"github.com/moulars/moulars/internal/model"
	"github.com/moulars/moulars/internal/wireerr"
)

// Store is the Vault actor: one goroutine owns nodeCache, refsByParent, and
// subscribers; every call arrives as a request over reqCh (§5, §9). The
// backend persists every mutation synchronously before the in-memory state
// (and its subscribers) are updated, so a crash never leaves memory ahead
// of disk.
type Store struct {
	backend db.Backend
	reqCh   chan request

	nodeCache    map[uint32]*model.Node
	refsByParent map[uint32][]model.NodeRef
	subscribers  map[uint32]map[uint64]Mailbox

	// seen tracks the client-side "seen" marker per (parent, child) ref
	// (§4.D "vault operations ... set seen"). spec.md names the operation
	// but neither §3.3's NodeRef shape nor §6.4's backend interface
	// persists it, so it is kept in memory only, reset on restart — a
	// UI convenience flag, not durable state.
	seen map[refKey]bool
}

type refKey struct {
	parent uint32
	child  uint32
}

// request is the actor's single inbox message type; do is executed on the
// actor goroutine and must not block.
type request struct {
	do func()
}

// DefaultQueueDepth bounds the actor's inbox (§5 "bounded outbound queue,
// default 256 messages/conn" sizes the analogous vault inbox the same way).
const DefaultQueueDepth = 256

// New creates a Store backed by backend. Call Run in its own goroutine
// before issuing any requests.
func New(backend db.Backend) *Store {
	return &Store{
		backend:      backend,
		reqCh:        make(chan request, DefaultQueueDepth),
		nodeCache:    make(map[uint32]*model.Node),
		refsByParent: make(map[uint32][]model.NodeRef),
		subscribers:  make(map[uint32]map[uint64]Mailbox),
		seen:         make(map[refKey]bool),
	}
}

// Run is the actor loop. It returns when ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.reqCh:
			req.do()
		}
	}
}

// submit enqueues fn to run on the actor goroutine and blocks until either
// it completes or ctx is cancelled. A full inbox surfaces as Busy (§5, §7).
func (s *Store) submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	req := request{do: func() {
		fn()
		close(done)
	}}
	select {
	case s.reqCh <- req:
	case <-ctx.Done():
		return wireerr.New(wireerr.KindBusy, "vault.submit", ctx.Err())
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return wireerr.New(wireerr.KindBusy, "vault.submit", ctx.Err())
	}
}

func (s *Store) subscribe(idx uint32, mb Mailbox) {
	if mb == nil {
		return
	}
	set, ok := s.subscribers[idx]
	if !ok {
		set = make(map[uint64]Mailbox)
		s.subscribers[idx] = set
	}
	set[mb.ID()] = mb
}

// Unsubscribe drops mb from every node's subscriber set (§4.E: "A
// disconnect drops the subscription").
func (s *Store) Unsubscribe(ctx context.Context, mb Mailbox) error {
	return s.submit(ctx, func() {
		for idx, set := range s.subscribers {
			delete(set, mb.ID())
			if len(set) == 0 {
				delete(s.subscribers, idx)
			}
		}
	})
}

func (s *Store) notify(idx uint32, n Notification, exclude Mailbox) {
	var excludeID uint64
	hasExclude := exclude != nil
	if hasExclude {
		excludeID = exclude.ID()
	}
	for id, mb := range s.subscribers[idx] {
		if hasExclude && id == excludeID {
			continue
		}
		mb.Notify(n)
	}
}

// FetchNode returns node idx, subscribing mb (if non-nil) to future
// changes (§4.E FetchNode / "added on first FetchNode for that idx").
func (s *Store) FetchNode(ctx context.Context, idx uint32, mb Mailbox) (*model.Node, error) {
	var out *model.Node
	var outErr error
	err := s.submit(ctx, func() {
		n, ok := s.nodeCache[idx]
		if !ok {
			loaded, err := s.backend.NodeFetch(ctx, idx)
			if err != nil {
				if errors.Is(err, db.ErrNotFound) {
					outErr = ErrNotFound("FetchNode")
				} else {
					outErr = wireerr.New(wireerr.KindDBError, "FetchNode", err)
				}
				return
			}
			n = loaded
			s.nodeCache[idx] = n
		}
		s.subscribe(idx, mb)
		cp := *n
		out = &cp
	})
	if err != nil {
		return nil, err
	}
	return out, outErr
}

// CreateNode persists template and assigns it a fresh idx (§4.E
// CreateNode). idx 10000 is the first value CreateNode may hand out
// (§6.2, §8 Boundary).
func (s *Store) CreateNode(ctx context.Context, template *model.Node) (uint32, error) {
	var idx uint32
	var outErr error
	err := s.submit(ctx, func() {
		created, err := s.backend.NodeCreate(ctx, template)
		if err != nil {
			outErr = wireerr.New(wireerr.KindDBError, "CreateNode", err)
			return
		}
		n, err := s.backend.NodeFetch(ctx, created)
		if err != nil {
			outErr = wireerr.New(wireerr.KindDBError, "CreateNode", err)
			return
		}
		s.nodeCache[created] = n
		idx = created
	})
	if err != nil {
		return 0, err
	}
	return idx, outErr
}

// SaveNode applies changes' present fields to idx and notifies every
// subscriber except originator (§4.E SaveNode). An empty bitmap is a
// documented no-op (§8 "SaveNode with empty bitmap = no-op, no
// notification").
func (s *Store) SaveNode(ctx context.Context, idx uint32, changes *model.Node, originator Mailbox) error {
	if changes.Fields == 0 {
		return nil
	}
	var outErr error
	err := s.submit(ctx, func() {
		if err := s.backend.NodeSave(ctx, idx, changes); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				outErr = ErrNotFound("SaveNode")
			} else {
				outErr = wireerr.New(wireerr.KindDBError, "SaveNode", err)
			}
			return
		}
		n, err := s.backend.NodeFetch(ctx, idx)
		if err != nil {
			outErr = wireerr.New(wireerr.KindDBError, "SaveNode", err)
			return
		}
		s.nodeCache[idx] = n
		cp := *n
		s.notify(idx, Notification{Kind: NodeChanged, Idx: idx, Node: &cp}, originator)
	})
	if err != nil {
		return err
	}
	return outErr
}

// AddRef persists parent->child, detecting cycles via a DFS from child
// trying to reach parent before the edge is written (§4.E, §8 Invariant 4).
// Re-adding an existing edge is a no-op success (§8 idempotence law).
func (s *Store) AddRef(ctx context.Context, ref model.NodeRef, originator Mailbox) error {
	var outErr error
	err := s.submit(ctx, func() {
		if s.reaches(ctx, ref.Child, ref.Parent, make(map[uint32]bool)) {
			outErr = ErrCycleDetected("AddRef")
			return
		}
		if err := s.backend.RefAdd(ctx, ref); err != nil {
			if errors.Is(err, db.ErrAlreadyExists) {
				return // idempotent success (§8)
			}
			outErr = wireerr.New(wireerr.KindDBError, "AddRef", err)
			return
		}
		s.refsByParent[ref.Parent] = append(s.refsByParent[ref.Parent], ref)
		s.notify(ref.Parent, Notification{Kind: NodeAdded, Idx: ref.Parent, Ref: ref}, originator)
		s.notify(ref.Child, Notification{Kind: NodeAdded, Idx: ref.Child, Ref: ref}, originator)
	})
	if err != nil {
		return err
	}
	return outErr
}

// reaches reports whether a path from->to exists in the ref graph,
// querying the backend for any node not yet cached locally. visited
// prevents infinite loops on a graph that (incorrectly) already contains
// one, so a prior corruption can never hang the actor.
func (s *Store) reaches(ctx context.Context, from, to uint32, visited map[uint32]bool) bool {
	if from == to {
		return true
	}
	if visited[from] {
		return false
	}
	visited[from] = true

	children, ok := s.refsByParent[from]
	if !ok {
		loaded, err := s.backend.RefsOf(ctx, from)
		if err == nil {
			children = loaded
			s.refsByParent[from] = loaded
		}
	}
	for _, ref := range children {
		if s.reaches(ctx, ref.Child, to, visited) {
			return true
		}
	}
	return false
}

// RemoveRef deletes parent->child. Removing an absent edge is NotFound
// without side effect (§8 idempotence law).
func (s *Store) RemoveRef(ctx context.Context, parent, child uint32, originator Mailbox) error {
	var outErr error
	err := s.submit(ctx, func() {
		if err := s.backend.RefRemove(ctx, parent, child); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				outErr = ErrNotFound("RemoveRef")
			} else {
				outErr = wireerr.New(wireerr.KindDBError, "RemoveRef", err)
			}
			return
		}
		children := s.refsByParent[parent]
		var removed model.NodeRef
		for i, ref := range children {
			if ref.Child == child {
				removed = ref
				s.refsByParent[parent] = append(children[:i], children[i+1:]...)
				break
			}
		}
		s.notify(parent, Notification{Kind: NodeRemoved, Idx: parent, Ref: removed}, originator)
		s.notify(child, Notification{Kind: NodeRemoved, Idx: child, Ref: removed}, originator)
	})
	if err != nil {
		return err
	}
	return outErr
}

// FindNode returns every node idx exactly matching template's present
// fields (§4.E FindNode).
func (s *Store) FindNode(ctx context.Context, template *model.Node) ([]uint32, error) {
	var out []uint32
	var outErr error
	err := s.submit(ctx, func() {
		found, err := s.backend.NodeFind(ctx, template)
		if err != nil {
			outErr = wireerr.New(wireerr.KindDBError, "FindNode", err)
			return
		}
		out = found
	})
	if err != nil {
		return nil, err
	}
	return out, outErr
}

// FetchTree returns the de-duplicated node and edge set reachable from root
// within maxDepth hops, tolerating shared children (§3.3, §4.E FetchTree).
// A cycle encountered mid-walk is corruption (§3.3: "a depth-first
// traversal must terminate despite shared children; cycles are a
// corruption error").
func (s *Store) FetchTree(ctx context.Context, root uint32, maxDepth int, mb Mailbox) ([]*model.Node, []model.NodeRef, error) {
	var nodes []*model.Node
	var edges []model.NodeRef
	var outErr error

	err := s.submit(ctx, func() {
		seen := make(map[uint32]bool)
		path := make(map[uint32]bool)
		var walk func(idx uint32, depth int) error
		walk = func(idx uint32, depth int) error {
			if path[idx] {
				return fmt.Errorf("cycle at idx %d", idx)
			}
			if seen[idx] || depth > maxDepth {
				return nil
			}
			seen[idx] = true
			path[idx] = true
			defer delete(path, idx)

			n, ok := s.nodeCache[idx]
			if !ok {
				loaded, err := s.backend.NodeFetch(ctx, idx)
				if err != nil {
					if errors.Is(err, db.ErrNotFound) {
						return nil
					}
					return err
				}
				n = loaded
				s.nodeCache[idx] = n
			}
			cp := *n
			nodes = append(nodes, &cp)
			s.subscribe(idx, mb)

			children, ok := s.refsByParent[idx]
			if !ok {
				loaded, err := s.backend.RefsOf(ctx, idx)
				if err != nil {
					return err
				}
				children = loaded
				s.refsByParent[idx] = loaded
			}
			for _, ref := range children {
				edges = append(edges, ref)
				if err := walk(ref.Child, depth+1); err != nil {
					return err
				}
			}
			return nil
		}

		if err := walk(root, 0); err != nil {
			outErr = ErrCycleDetected("FetchTree")
			nodes, edges = nil, nil
		}
	})
	if err != nil {
		return nil, nil, err
	}
	if outErr != nil {
		return nil, nil, outErr
	}
	return nodes, edges, nil
}

// SetSeen records whether the client has acknowledged the parent->child
// ref, returning NotFound if no such edge exists (§4.D "set seen").
func (s *Store) SetSeen(ctx context.Context, parent, child uint32, value bool) error {
	var outErr error
	err := s.submit(ctx, func() {
		children, ok := s.refsByParent[parent]
		if !ok {
			loaded, err := s.backend.RefsOf(ctx, parent)
			if err != nil {
				outErr = wireerr.New(wireerr.KindDBError, "SetSeen", err)
				return
			}
			children = loaded
			s.refsByParent[parent] = loaded
		}
		found := false
		for _, ref := range children {
			if ref.Child == child {
				found = true
				break
			}
		}
		if !found {
			outErr = ErrNotFound("SetSeen")
			return
		}
		s.seen[refKey{parent, child}] = value
	})
	if err != nil {
		return err
	}
	return outErr
}
