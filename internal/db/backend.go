// Package db declares the persistence contract the Vault and Age Instance
// Manager are built against (§6.4), and the sentinel errors every backend
// implementation returns so callers can branch without a type switch over
// driver-specific errors — the same sentinel-error idiom the teacher repo
// uses for its repository layer, generalized from one interface per entity
// to one Backend interface covering accounts, nodes, refs, SDL, servers,
// and scores.
package db

import (
	"context"
	"errors"

	"github.com/moulars/moulars/internal/model"
)

var (
	// ErrNotFound is returned when a lookup by idx, name, or key misses.
	ErrNotFound = errors.New("db: not found")
	// ErrAlreadyExists is returned by RefAdd when the exact (parent, child)
	// edge already exists — §4.E treats this as a no-op success, not an
	// error, so Backend implementations return it only for callers that
	// need to distinguish; Store.AddRef absorbs it.
	ErrAlreadyExists = errors.New("db: already exists")
	// ErrConflict is returned on a stale SaveNode or duplicate unique key.
	ErrConflict = errors.New("db: conflict")
)

// Backend is the pluggable persistence contract consumed by the Vault and
// Age Instance Manager (§6.4). Every method is one transaction.
type Backend interface {
	AccountLookup(ctx context.Context, name string) (*model.Account, error)
	AccountCreate(ctx context.Context, acc *model.Account) error
	PlayerNodesFor(ctx context.Context, accountID [16]byte) ([]uint32, error)

	NodeFetch(ctx context.Context, idx uint32) (*model.Node, error)
	NodeCreate(ctx context.Context, template *model.Node) (uint32, error)
	NodeSave(ctx context.Context, idx uint32, changes *model.Node) error
	NodeFind(ctx context.Context, template *model.Node) ([]uint32, error)

	RefAdd(ctx context.Context, ref model.NodeRef) error
	RefRemove(ctx context.Context, parent, child uint32) error
	RefsOf(ctx context.Context, idx uint32) ([]model.NodeRef, error)

	SDLGlobalGet(ctx context.Context, descriptor string) (*model.GlobalState, error)
	SDLGlobalPut(ctx context.Context, state model.GlobalState) error
	SDLAgeGet(ctx context.Context, serverIdx uint32, descriptor, objectKey string) (*model.AgeState, error)
	SDLAgePut(ctx context.Context, state model.AgeState) error
	// SDLAgeList returns every persisted AgeState for serverIdx, the full
	// snapshot an Age Instance Manager pushes to a joining member (§4.F
	// Join: "push current SDL snapshot... to the joiner").
	SDLAgeList(ctx context.Context, serverIdx uint32) ([]model.AgeState, error)

	ServerUpsert(ctx context.Context, srv model.Server) error
	ServerDelete(ctx context.Context, instanceUUID [16]byte) error
	ServerList(ctx context.Context) ([]model.Server, error)

	ScoreAdd(ctx context.Context, ownerIdx uint32, typ model.ScoreType, name string, delta int32) (*model.Score, error)
	ScoreGet(ctx context.Context, ownerIdx uint32, typ model.ScoreType) (*model.Score, error)
	ScoreSet(ctx context.Context, ownerIdx uint32, typ model.ScoreType, name string, points int32) (*model.Score, error)

	Close() error
}
