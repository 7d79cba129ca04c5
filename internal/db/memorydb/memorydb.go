// Package memorydb implements db.Backend entirely in process memory. It
// backs db_type = "none" in config (§6.1) and every unit test in the
// repository that needs a Backend without a running SQL server — the
// teacher's pack has no in-memory repository to ground this on directly,
// but the shape (mutex-guarded maps, same method set as the SQL-backed
// implementations) follows the teacher's own repository-per-entity idiom
// collapsed onto maps instead of tables.
package memorydb

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/moulars/moulars/internal/constants"
	"github.com/moulars/moulars/internal/db"
	"github.com/moulars/moulars/internal/model"
)

type refKey struct{ parent, child uint32 }

type scoreKey struct {
	owner uint32
	typ   model.ScoreType
}

type ageKey struct {
	serverIdx  uint32
	descriptor string
	objectKey  string
}

// Backend is an in-memory db.Backend.
type Backend struct {
	mu sync.Mutex

	accountsByName map[string]*model.Account
	nodes          map[uint32]*model.Node
	nextIdx        uint32
	refs           map[refKey]model.NodeRef
	refsByParent   map[uint32][]uint32
	globalStates   map[string]model.GlobalState
	ageStates      map[ageKey]model.AgeState
	servers        map[[16]byte]model.Server
	scores         map[scoreKey]*model.Score
	nextScoreID    uint32
}

// New returns an empty in-memory Backend.
func New() *Backend {
	return &Backend{
		accountsByName: make(map[string]*model.Account),
		nodes:          make(map[uint32]*model.Node),
		nextIdx:        constants.NodeIdxFirstDynamic,
		refs:           make(map[refKey]model.NodeRef),
		refsByParent:   make(map[uint32][]uint32),
		globalStates:   make(map[string]model.GlobalState),
		ageStates:      make(map[ageKey]model.AgeState),
		servers:        make(map[[16]byte]model.Server),
		scores:         make(map[scoreKey]*model.Score),
	}
}

func (b *Backend) Close() error { return nil }

func (b *Backend) AccountLookup(_ context.Context, name string) (*model.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accountsByName[strings.ToLower(name)]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

func (b *Backend) AccountCreate(_ context.Context, acc *model.Account) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := strings.ToLower(acc.Name)
	if _, exists := b.accountsByName[key]; exists {
		return db.ErrConflict
	}
	cp := *acc
	if cp.CreateTime.IsZero() {
		cp.CreateTime = time.Now()
	}
	b.accountsByName[key] = &cp
	return nil
}

func (b *Backend) PlayerNodesFor(_ context.Context, accountID [16]byte) ([]uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []uint32
	for idx, n := range b.nodes {
		if n.Type == model.NodeTypePlayer && n.CreatorUUID == accountID {
			out = append(out, idx)
		}
	}
	return out, nil
}

func (b *Backend) NodeFetch(_ context.Context, idx uint32) (*model.Node, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[idx]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (b *Backend) NodeCreate(_ context.Context, template *model.Node) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.nextIdx
	b.nextIdx++
	cp := *template
	cp.Idx = idx
	now := time.Now()
	cp.CreateTime = now
	cp.ModifyTime = now
	b.nodes[idx] = &cp
	return idx, nil
}

func (b *Backend) NodeSave(_ context.Context, idx uint32, changes *model.Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[idx]
	if !ok {
		return db.ErrNotFound
	}
	if changes.Fields == 0 {
		return nil
	}
	applyFields(n, changes)
	n.ModifyTime = time.Now()
	return nil
}

// applyFields copies every field set in src's bitmap onto dst, OR-ing the
// bitmap so a partial SaveNode never clears fields it didn't touch.
func applyFields(dst, src *model.Node) {
	for i := 0; i < 4; i++ {
		bit := model.Field(1) << uint(i)
		if src.Fields&bit != 0 {
			dst.Int32[i] = src.Int32[i]
		}
	}
	for i := 0; i < 4; i++ {
		bit := model.FieldUInt32_0 << uint(i)
		if src.Fields&bit != 0 {
			dst.UInt32[i] = src.UInt32[i]
		}
	}
	for i := 0; i < 4; i++ {
		bit := model.FieldUUID_0 << uint(i)
		if src.Fields&bit != 0 {
			dst.UUID[i] = src.UUID[i]
		}
	}
	for i := 0; i < 6; i++ {
		bit := model.FieldString_0 << uint(i)
		if src.Fields&bit != 0 {
			dst.String[i] = src.String[i]
		}
	}
	for i := 0; i < 2; i++ {
		bit := model.FieldIString_0 << uint(i)
		if src.Fields&bit != 0 {
			dst.IString[i] = src.IString[i]
		}
	}
	for i := 0; i < 2; i++ {
		bit := model.FieldText_0 << uint(i)
		if src.Fields&bit != 0 {
			dst.Text[i] = src.Text[i]
		}
	}
	for i := 0; i < 2; i++ {
		bit := model.FieldBlob_0 << uint(i)
		if src.Fields&bit != 0 {
			dst.Blob[i] = src.Blob[i]
		}
	}
	dst.Fields |= src.Fields
}

func (b *Backend) NodeFind(_ context.Context, template *model.Node) ([]uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []uint32
	for idx, n := range b.nodes {
		if n.Matches(template) {
			out = append(out, idx)
		}
	}
	return out, nil
}

func (b *Backend) RefAdd(_ context.Context, ref model.NodeRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := refKey{ref.Parent, ref.Child}
	if _, exists := b.refs[key]; exists {
		return db.ErrAlreadyExists
	}
	b.refs[key] = ref
	b.refsByParent[ref.Parent] = append(b.refsByParent[ref.Parent], ref.Child)
	return nil
}

func (b *Backend) RefRemove(_ context.Context, parent, child uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := refKey{parent, child}
	if _, exists := b.refs[key]; !exists {
		return db.ErrNotFound
	}
	delete(b.refs, key)
	children := b.refsByParent[parent]
	for i, c := range children {
		if c == child {
			b.refsByParent[parent] = append(children[:i], children[i+1:]...)
			break
		}
	}
	return nil
}

func (b *Backend) RefsOf(_ context.Context, idx uint32) ([]model.NodeRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.NodeRef
	for _, child := range b.refsByParent[idx] {
		out = append(out, b.refs[refKey{idx, child}])
	}
	return out, nil
}

func (b *Backend) SDLGlobalGet(_ context.Context, descriptor string) (*model.GlobalState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.globalStates[descriptor]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &s, nil
}

func (b *Backend) SDLGlobalPut(_ context.Context, state model.GlobalState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.globalStates[state.Descriptor] = state
	return nil
}

func (b *Backend) SDLAgeGet(_ context.Context, serverIdx uint32, descriptor, objectKey string) (*model.AgeState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.ageStates[ageKey{serverIdx, descriptor, objectKey}]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &s, nil
}

func (b *Backend) SDLAgePut(_ context.Context, state model.AgeState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := ageKey{state.ServerIdx, state.Descriptor, state.ObjectKey}
	if existing, ok := b.ageStates[key]; ok && existing.Version > state.Version {
		return nil // highest version wins (§4.F), independent of arrival order
	}
	b.ageStates[key] = state
	return nil
}

func (b *Backend) SDLAgeList(_ context.Context, serverIdx uint32) ([]model.AgeState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.AgeState
	for key, state := range b.ageStates {
		if key.serverIdx == serverIdx {
			out = append(out, state)
		}
	}
	return out, nil
}

func (b *Backend) ServerUpsert(_ context.Context, srv model.Server) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.servers[srv.InstanceUUID] = srv
	return nil
}

func (b *Backend) ServerDelete(_ context.Context, instanceUUID [16]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.servers[instanceUUID]; !ok {
		return db.ErrNotFound
	}
	delete(b.servers, instanceUUID)
	return nil
}

func (b *Backend) ServerList(_ context.Context) ([]model.Server, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Server, 0, len(b.servers))
	for _, s := range b.servers {
		out = append(out, s)
	}
	return out, nil
}

func (b *Backend) ScoreAdd(_ context.Context, ownerIdx uint32, typ model.ScoreType, name string, delta int32) (*model.Score, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := scoreKey{ownerIdx, typ}
	s, ok := b.scores[key]
	if !ok {
		b.nextScoreID++
		s = &model.Score{ID: b.nextScoreID, OwnerIdx: ownerIdx, Type: typ, Name: name, CreateTime: time.Now()}
		b.scores[key] = s
	}
	s.Points += delta
	cp := *s
	return &cp, nil
}

func (b *Backend) ScoreGet(_ context.Context, ownerIdx uint32, typ model.ScoreType) (*model.Score, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.scores[scoreKey{ownerIdx, typ}]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (b *Backend) ScoreSet(_ context.Context, ownerIdx uint32, typ model.ScoreType, name string, points int32) (*model.Score, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := scoreKey{ownerIdx, typ}
	s, ok := b.scores[key]
	if !ok {
		b.nextScoreID++
		s = &model.Score{ID: b.nextScoreID, OwnerIdx: ownerIdx, Type: typ, CreateTime: time.Now()}
		b.scores[key] = s
	}
	s.Name = name
	s.Points = points
	cp := *s
	return &cp, nil
}
